package rebalancer

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/zoe/internal/backend"
	"github.com/cuemby/zoe/internal/domain"
	"github.com/cuemby/zoe/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fourServicesOnOneNode() (*backend.MemoryBackend, []*domain.Service) {
	svcs := make([]*domain.Service, 4)
	node := &domain.NodeStats{
		Name:          "node-a",
		CoresTotal:    8,
		CoresReserved: 4,
		MemoryTotal:   16 << 30,
	}
	for i := range svcs {
		svcs[i] = &domain.Service{
			ID:                  "svc-" + string(rune('a'+i)),
			Essential:           true,
			BackendHost:         "node-a",
			BackendStatus:       domain.BackendStart,
			ResourceReservation: domain.ResourceReservation{Cores: domain.ResourceRange{Min: 1, Max: 1}},
		}
	}
	node.Services = svcs
	stats := &domain.ClusterStats{Nodes: []*domain.NodeStats{node}}
	return backend.NewMemoryBackend(stats), svcs
}

func TestCycleDistributesExtraCoresEqually(t *testing.T) {
	be, svcs := fourServicesOnOneNode()
	trigger := scheduler.NewEdgeTrigger()
	r := New(be, trigger)

	r.cycle()

	for _, s := range svcs {
		cores, ok := be.CoresFor(s.ID)
		require.True(t, ok)
		assert.Equal(t, 2.0, cores) // baseline 1 + (8-4)/4
	}
}

func TestCycleSkipsNodesWithNoRunningServices(t *testing.T) {
	node := &domain.NodeStats{Name: "idle-node", CoresTotal: 8, MemoryTotal: 16 << 30}
	stats := &domain.ClusterStats{Nodes: []*domain.NodeStats{node}}
	be := backend.NewMemoryBackend(stats)
	r := New(be, scheduler.NewEdgeTrigger())

	r.cycle() // must not panic or issue any limits
}

func TestCycleNeverExceedsCoresTotal(t *testing.T) {
	be, svcs := fourServicesOnOneNode()
	// Reserve everything: no extra should be handed out.
	ctx := context.Background()
	snap, err := be.PlatformState(ctx)
	require.NoError(t, err)
	snap.Nodes[0].CoresReserved = snap.Nodes[0].CoresTotal

	be2 := backend.NewMemoryBackend(snap)
	r := New(be2, scheduler.NewEdgeTrigger())
	r.cycle()

	for _, s := range svcs {
		cores, ok := be2.CoresFor(s.ID)
		require.True(t, ok)
		assert.Equal(t, 1.0, cores)
	}
}

func TestRunExitsOnStop(t *testing.T) {
	be, _ := fourServicesOnOneNode()
	trigger := scheduler.NewEdgeTrigger()
	r := New(be, trigger)

	r.Start()
	trigger.Set()

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rebalancer did not stop in time")
	}
}
