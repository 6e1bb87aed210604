package backend

import (
	"context"
	"testing"

	"github.com/cuemby/zoe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oneNode() *domain.ClusterStats {
	return &domain.ClusterStats{
		Nodes: []*domain.NodeStats{
			{Name: "n1", MemoryTotal: 8 * 1024 * 1024 * 1024, CoresTotal: 4},
		},
	}
}

func TestStartEssentialOk(t *testing.T) {
	b := NewMemoryBackend(oneNode())
	svc := &domain.Service{ID: "s1", Essential: true, Description: domain.ServiceDescription{Image: "img"}}
	e := domain.NewExecution("e1", "e1", "u", []*domain.Service{svc})

	res, err := b.StartEssential(context.Background(), e, map[string]string{"s1": "n1"})
	require.NoError(t, err)
	assert.Equal(t, StartResultOk, res)
	assert.Equal(t, domain.BackendStart, svc.BackendStatus)
	assert.Equal(t, "n1", svc.BackendHost)
}

func TestStartEssentialRequeue(t *testing.T) {
	b := NewMemoryBackend(oneNode())
	b.SetImageFailureMode("bad-img", FailureRequeue)
	svc := &domain.Service{ID: "s1", Essential: true, Description: domain.ServiceDescription{Image: "bad-img"}}
	e := domain.NewExecution("e1", "e1", "u", []*domain.Service{svc})

	res, err := b.StartEssential(context.Background(), e, map[string]string{"s1": "n1"})
	require.NoError(t, err)
	assert.Equal(t, StartResultRequeue, res)
	assert.NotEqual(t, domain.BackendStart, svc.BackendStatus)
}

func TestStartEssentialFatalSetsExecutionError(t *testing.T) {
	b := NewMemoryBackend(oneNode())
	b.SetImageFailureMode("broken", FailureFatal)
	svc := &domain.Service{ID: "s1", Essential: true, Description: domain.ServiceDescription{Image: "broken"}}
	e := domain.NewExecution("e1", "e1", "u", []*domain.Service{svc})

	res, err := b.StartEssential(context.Background(), e, map[string]string{"s1": "n1"})
	assert.Error(t, err)
	assert.Equal(t, StartResultFatal, res)
	assert.Equal(t, domain.ExecutionError, e.Status)
}

func TestTerminateServiceIsIdempotent(t *testing.T) {
	b := NewMemoryBackend(oneNode())
	svc := &domain.Service{ID: "s1", Essential: true, Description: domain.ServiceDescription{Image: "img"}}
	e := domain.NewExecution("e1", "e1", "u", []*domain.Service{svc})
	_, _ = b.StartEssential(context.Background(), e, map[string]string{"s1": "n1"})

	require.NoError(t, b.TerminateService(context.Background(), svc))
	require.NoError(t, b.TerminateService(context.Background(), svc)) // second call: no panic, still ok
	assert.Equal(t, domain.BackendDestroy, svc.BackendStatus)
}

func TestUpdateServiceResourceLimitsRecordsValue(t *testing.T) {
	b := NewMemoryBackend(oneNode())
	svc := &domain.Service{ID: "s1"}
	require.NoError(t, b.UpdateServiceResourceLimits(context.Background(), svc, 2.5))

	cores, ok := b.CoresFor("s1")
	require.True(t, ok)
	assert.Equal(t, 2.5, cores)
}

func TestKillServiceReflectedInPlatformState(t *testing.T) {
	b := NewMemoryBackend(oneNode())
	svc := &domain.Service{ID: "s1", Essential: true, Description: domain.ServiceDescription{Image: "img"}}
	e := domain.NewExecution("e1", "e1", "u", []*domain.Service{svc})
	_, _ = b.StartEssential(context.Background(), e, map[string]string{"s1": "n1"})

	b.KillService("s1")

	snap, err := b.PlatformState(context.Background())
	require.NoError(t, err)
	found := false
	for _, n := range snap.Nodes {
		for _, s := range n.Services {
			if s.ID == "s1" {
				found = true
				assert.Equal(t, domain.BackendDie, s.BackendStatus)
			}
		}
	}
	assert.True(t, found)
}
