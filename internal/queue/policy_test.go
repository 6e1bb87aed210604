package queue

import (
	"testing"

	"github.com/cuemby/zoe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicy(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
		wantTag string
	}{
		{name: "fifo", wantTag: "fifo"},
		{name: "", wantTag: "fifo"},
		{name: "size", wantTag: "size"},
		{name: "dynsize", wantTag: "dynsize"},
		{name: "bogus", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewPolicy(tc.name)
			if tc.wantErr {
				assert.Error(t, err)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantTag, p.Name())
		})
	}
}

func execWithSize(id string, size int64) *domain.Execution {
	e := domain.NewExecution(id, id, "user", nil)
	e.Size = size
	return e
}

func TestSizePolicySortsAscending(t *testing.T) {
	p, err := NewPolicy("size")
	require.NoError(t, err)

	pending := []*domain.Execution{
		execWithSize("e1", 100),
		execWithSize("e2", 10),
		execWithSize("e3", 50),
	}
	p.Sort(pending)

	got := []string{pending[0].ID, pending[1].ID, pending[2].ID}
	assert.Equal(t, []string{"e2", "e3", "e1"}, got)
}

func TestFIFOPolicyPreservesOrder(t *testing.T) {
	p, err := NewPolicy("fifo")
	require.NoError(t, err)

	pending := []*domain.Execution{
		execWithSize("e1", 100),
		execWithSize("e2", 10),
	}
	p.Sort(pending)

	assert.Equal(t, "e1", pending[0].ID)
	assert.Equal(t, "e2", pending[1].ID)
}

func TestDynsizePolicyDecaysAndResets(t *testing.T) {
	p, err := NewPolicy("dynsize")
	require.NoError(t, err)

	svc := &domain.Service{
		ResourceReservation: domain.ResourceReservation{
			Cores:  domain.ResourceRange{Min: 1, Max: 2},
			Memory: domain.ResourceRange{Min: 4, Max: 8},
		},
	}
	e := domain.NewExecution("e1", "e1", "user", []*domain.Service{svc})
	e.Size = 100 * 1024 * 1024 // 100 MiB
	e.LastTimeScheduled = 0

	// Never scheduled: Prepare is a no-op.
	p.Prepare([]*domain.Execution{e}, 1)
	assert.Equal(t, int64(100*1024*1024), e.Size)

	e.LastTimeScheduled = 0
	e.LastTimeScheduled = 1
	p.Prepare([]*domain.Execution{e}, 2) // 1s elapsed, decay 256 MiB -> goes negative

	assert.Equal(t, int64(4), e.Size) // cores.min(1) * memory.min(4)
}

func TestDynsizePolicyNoDecayWithoutElapsedTime(t *testing.T) {
	p, err := NewPolicy("dynsize")
	require.NoError(t, err)

	e := execWithSize("e1", 100)
	e.LastTimeScheduled = 10
	p.Prepare([]*domain.Execution{e}, 10)

	assert.Equal(t, int64(100), e.Size)
}
