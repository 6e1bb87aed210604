// Package rebalancer implements the core-limit rebalancer: an independent
// goroutine that redistributes each node's unreserved CPU across its
// currently-running services. It never touches memory and never commits a
// placement decision; it only adjusts limits on services the scheduler has
// already started.
package rebalancer

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/cuemby/zoe/internal/backend"
	"github.com/cuemby/zoe/internal/domain"
	"github.com/cuemby/zoe/internal/metrics"
	"github.com/cuemby/zoe/internal/scheduler"
	"github.com/cuemby/zoe/internal/zoelog"
	"github.com/rs/zerolog"
)

// Rebalancer owns the one goroutine that recalculates core limits on every
// edge-triggered wake-up.
type Rebalancer struct {
	backend backend.Backend
	trigger *scheduler.EdgeTrigger
	logger  zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Rebalancer driven by trigger, the same EdgeTrigger
// instance the scheduler signals after every commit step and dead-service
// sweep.
func New(be backend.Backend, trigger *scheduler.EdgeTrigger) *Rebalancer {
	return &Rebalancer{
		backend: be,
		trigger: trigger,
		logger:  zoelog.Component("rebalancer"),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the rebalancer's loop goroutine.
func (r *Rebalancer) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runSupervised(r.run)
	}()
}

// Stop signals the loop to exit and waits for it.
func (r *Rebalancer) Stop() {
	close(r.stopCh)
	r.trigger.Set()
	r.wg.Wait()
}

// runSupervised is the same catch-and-retry wrapper the scheduler loop
// runs under: recover a panic, log it with a stack trace, and restart the
// body unless shutdown has been requested.
func (r *Rebalancer) runSupervised(body func()) {
	for {
		cleanExit := func() (clean bool) {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error().
						Interface("panic", rec).
						Str("stack", string(debug.Stack())).
						Msg("rebalancer loop panicked, restarting")
					clean = false
				}
			}()
			body()
			return true
		}()
		if cleanExit {
			return
		}
		select {
		case <-r.stopCh:
			return
		default:
		}
	}
}

// run blocks on the trigger (untimed) and runs one recalculation cycle per
// wake-up.
func (r *Rebalancer) run() {
	for {
		r.trigger.Clear()
		select {
		case <-r.stopCh:
			return
		case <-r.trigger.Chan():
		}

		select {
		case <-r.stopCh:
			return
		default:
		}

		r.cycle()
		r.trigger.Clear()
	}
}

// cycle is one pass over the current cluster snapshot (spec §4.4 step 2).
func (r *Rebalancer) cycle() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RebalanceDuration)

	ctx := context.Background()
	snapshot, err := r.backend.PlatformState(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("snapshot unavailable, skipping rebalance cycle")
		return
	}

	for _, node := range snapshot.Nodes {
		running := runningServicesOn(node)
		if len(running) == 0 {
			continue
		}

		var extra float64
		if node.CoresReserved < node.CoresTotal {
			extra = (node.CoresTotal - node.CoresReserved) / float64(len(running))
		}

		for _, svc := range running {
			cores := float64(svc.ResourceReservation.Cores.Min) + extra
			if err := r.backend.UpdateServiceResourceLimits(ctx, svc, cores); err != nil {
				r.logger.Error().Err(err).Str("service_id", svc.ID).Str("node", node.Name).
					Msg("update core limit failed")
				continue
			}
			metrics.CoresAssigned.Observe(cores)
		}
	}

	metrics.RebalanceEventsTotal.Inc()
}

// runningServicesOn returns the services backend-hosted on node with
// backend status start.
func runningServicesOn(node *domain.NodeStats) []*domain.Service {
	var out []*domain.Service
	for _, s := range node.Services {
		if s.BackendHost == node.Name && s.BackendStatus == domain.BackendStart {
			out = append(out, s)
		}
	}
	return out
}
