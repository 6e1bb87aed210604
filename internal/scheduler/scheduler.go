// Package scheduler implements the elastic scheduling core: the
// admission/placement loop, the dead-service detector, and the queue
// machinery the loop owns. The core-limit rebalancer is a sibling
// goroutine in package rebalancer, coordinated through the EdgeTrigger
// returned by Scheduler.CoreLimitTrigger.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cuemby/zoe/internal/backend"
	"github.com/cuemby/zoe/internal/domain"
	"github.com/cuemby/zoe/internal/metrics"
	"github.com/cuemby/zoe/internal/platform"
	"github.com/cuemby/zoe/internal/queue"
	"github.com/cuemby/zoe/internal/store"
	"github.com/cuemby/zoe/internal/zoelog"
	"github.com/rs/zerolog"
)

// SelfTriggerTimeout is the number of consecutive idle (timed-out) wake-ups
// after which the scheduler triggers itself, in case platform state has
// drifted without an external trigger.
const SelfTriggerTimeout = 60

// triggerWait is how long one wake-up blocks on the trigger before
// treating it as idle.
const triggerWait = 1 * time.Second

// Scheduler is the single owner of the pending/running execution queues. It
// drives one placement round per trigger and runs the dead-service
// detector at the start of every round.
type Scheduler struct {
	queue       *queue.ExecutionQueue
	backend     backend.Backend
	store       store.Store
	trigger     *CountingTrigger
	coreTrigger *EdgeTrigger
	logger      zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	asyncMu   sync.Mutex
	asyncDone []chan struct{}

	idleTicks int
}

// New constructs a Scheduler. policyName is validated immediately (an
// unsupported policy is a construction-time error, not a runtime surprise).
func New(st store.Store, be backend.Backend, policyName string) (*Scheduler, error) {
	p, err := queue.NewPolicy(policyName)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	return &Scheduler{
		queue:       queue.New(p),
		backend:     be,
		store:       st,
		trigger:     NewCountingTrigger(4096),
		coreTrigger: NewEdgeTrigger(),
		logger:      zoelog.Component("scheduler"),
		stopCh:      make(chan struct{}),
	}, nil
}

// CoreLimitTrigger returns the edge-triggered signal the core-limit
// rebalancer waits on. The scheduler sets it after every commit step;
// rebalancer.New takes the same instance so the two goroutines share it.
func (s *Scheduler) CoreLimitTrigger() *EdgeTrigger {
	return s.coreTrigger
}

// Incoming admits a new execution: persists it, enqueues it, and triggers
// a scheduling round.
func (s *Scheduler) Incoming(ctx context.Context, e *domain.Execution) error {
	e.InitLock()
	if _, err := s.store.InsertExecution(ctx, e); err != nil {
		return fmt.Errorf("scheduler: persist incoming execution: %w", err)
	}
	s.queue.Enqueue(e)
	s.trigger.Set()
	return nil
}

// Terminate removes e from whichever queue holds it, signals the rebalancer
// (placement has changed), and launches an asynchronous termination task.
// e's scheduling fields (LastTimeScheduled, Size) are left as they are. If
// e is in neither queue this logs an error and does nothing further.
func (s *Scheduler) Terminate(e *domain.Execution) {
	removedPending := s.queue.RemovePending(e)
	removedRunning := false
	if !removedPending {
		removedRunning = s.queue.RemoveRunning(e)
	}
	if !removedPending && !removedRunning {
		s.logger.Error().Str("execution_id", e.ID).Msg("terminate called on execution in neither queue")
		return
	}

	s.launchAsyncTermination(e)
}

// launchAsyncTermination signals the rebalancer and spawns the goroutine
// that blockingly acquires e's termination lock and tears it down via the
// backend. Split out from Terminate so the dead-service detector - which
// has already removed e from queueRunning itself, synchronously, before
// calling this - doesn't get rejected by Terminate's "which queue is e in"
// check.
func (s *Scheduler) launchAsyncTermination(e *domain.Execution) {
	s.coreTrigger.Set()

	done := make(chan struct{})
	s.asyncMu.Lock()
	s.asyncDone = append(s.asyncDone, done)
	s.asyncMu.Unlock()

	go func() {
		defer close(done)

		e.Lock()
		defer e.Unlock()

		ctx := context.Background()
		if err := s.backend.TerminateExecution(ctx, e); err != nil {
			s.logger.Error().Err(err).Str("execution_id", e.ID).Msg("async termination failed")
		}
		s.trigger.Set()
	}()
}

// Start launches the scheduler loop and pre-populates the running queue
// from any executions the store already has marked running (e.g. after a
// restart against a BoltStore).
func (s *Scheduler) Start(ctx context.Context) error {
	existing, err := s.store.FindExecutions(ctx, store.ExecutionFilter{Status: domain.ExecutionRunning})
	if err != nil {
		return fmt.Errorf("scheduler: load running executions: %w", err)
	}
	for _, e := range existing {
		e.InitLock()
		if e.AllServicesActive() {
			s.queue.PromoteToRunning(e)
		} else {
			s.queue.Enqueue(e)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSupervised(s.run)
	}()
	return nil
}

// Stop signals the loop to exit and waits for its current iteration to
// finish. In-flight async terminations are not waited for.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.trigger.Set()
	s.wg.Wait()
}

// runSupervised runs body, recovering panics and logging them with a stack
// trace. After a panic body is restarted unless stopCh has been closed; a
// clean return from body ends supervision. This is the catch-and-retry
// wrapper both long-running goroutines run under.
func (s *Scheduler) runSupervised(body func()) {
	for {
		cleanExit := func() (clean bool) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().
						Interface("panic", r).
						Str("stack", string(debug.Stack())).
						Msg("scheduler loop panicked, restarting")
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
		case <-s.stopCh:
			return
		default:
		}
	}
}

// run is the main wake-up loop (spec §4.3 step 1-4).
func (s *Scheduler) run() {
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.trigger.Chan():
			s.idleTicks = 0
			s.wake()
		case <-time.After(triggerWait):
			s.reapAsyncTerminations()
			s.idleTicks++
			if s.idleTicks >= SelfTriggerTimeout {
				s.idleTicks = 0
				s.trigger.Set()
			}
		}
	}
}

// wake runs one scheduling round: the dead-service sweep followed by the
// inner placement loop.
func (s *Scheduler) wake() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RoundDuration)

	s.checkDeadServices()

	if s.queue.PendingLen() == 0 {
		s.coreTrigger.Set()
		s.reportQueueDepth()
		return
	}

	iterations := 0
	for {
		iterations++
		more := s.innerRound()
		if !more {
			break
		}
	}
	metrics.InnerIterations.Observe(float64(iterations))
	s.reportQueueDepth()
}

func (s *Scheduler) reportQueueDepth() {
	metrics.QueueLength.Set(float64(s.queue.PendingLen()))
	metrics.RunningLength.Set(float64(s.queue.RunningLen()))
}

// reapAsyncTerminations removes completed termination goroutines from the
// tracking slice without blocking, the idle-path equivalent of the
// original's bounded join-and-requeue loop.
func (s *Scheduler) reapAsyncTerminations() {
	s.asyncMu.Lock()
	defer s.asyncMu.Unlock()

	live := s.asyncDone[:0]
	for _, done := range s.asyncDone {
		select {
		case <-done:
			// finished; drop it
		default:
			live = append(live, done)
		}
	}
	s.asyncDone = live
	metrics.TerminationThreadsInFlight.Set(float64(len(s.asyncDone)))
}

// requeue releases e's termination lock, stamps LastTimeScheduled, and
// sanity-checks that e is still pending.
func (s *Scheduler) requeue(e *domain.Execution, nowSeconds int64) {
	e.Unlock()
	e.LastTimeScheduled = nowSeconds
	if !s.queue.ContainsPending(e) {
		s.logger.Error().Str("execution_id", e.ID).Msg("requeue called on execution no longer pending")
	}
}

// popAll tries to acquire the termination lock of every pending execution
// without blocking. Executions whose lock is already held (someone else is
// tearing them down) or whose status is terminated are skipped this round;
// they remain in the queue untouched.
func (s *Scheduler) popAll(pending []*domain.Execution) []*domain.Execution {
	candidates := make([]*domain.Execution, 0, len(pending))
	for _, e := range pending {
		if !e.TryLock() {
			continue
		}
		if e.Status == domain.ExecutionTerminated {
			e.Unlock()
			continue
		}
		candidates = append(candidates, e)
	}
	return candidates
}

// innerRound performs one iteration of the placement loop (spec §4.3
// steps 4a-4j). It returns true if the round should repeat (more capacity
// may have been freed by elastic re-placement and the queue is not empty).
func (s *Scheduler) innerRound() bool {
	now := time.Now().Unix()

	pending := s.queue.PreparePending(now)
	candidates := s.popAll(pending)

	ctx := context.Background()
	snapshot, err := s.backend.PlatformState(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("platform snapshot unavailable, requeueing candidates")
		for _, c := range candidates {
			s.requeue(c, now)
		}
		return false
	}

	sim := platform.New(snapshot.Clone())
	var jobsToLaunch []*domain.Execution
	freeResources := sim.AggregatedFreeMemory()

	remaining := make([]*domain.Execution, 0, len(candidates))
	consumed := make(map[string]bool)

	for _, candidate := range candidates {
		jobsToLaunchCopy := append([]*domain.Execution{}, jobsToLaunch...)

		for _, j := range jobsToLaunch {
			sim.DeallocateElastic(j)
		}

		placeable := candidate.IsRunning()
		if !placeable {
			placeable = sim.AllocateEssential(candidate)
		}

		if placeable {
			jobsToLaunch = append(jobsToLaunch, candidate)
		}

		for _, j := range jobsToLaunch {
			sim.AllocateElastic(j)
		}

		currentFree := sim.AggregatedFreeMemory()
		if currentFree >= freeResources {
			// No progress: the last addition did not reduce free
			// memory. Revert and stop growing jobsToLaunch this round.
			jobsToLaunch = jobsToLaunchCopy
			remaining = append(remaining, candidate)
			break
		}
		freeResources = currentFree
	}

	placements := sim.GetServiceAllocation()

	for _, job := range jobsToLaunch {
		if s.commitJob(ctx, job, placements, now) {
			consumed[job.ID] = true
		}
	}

	// Any candidate not explicitly added to jobsToLaunch, and not already
	// queued for requeue by the no-progress break, is requeued here.
	for _, c := range candidates {
		if consumed[c.ID] {
			continue
		}
		alreadyQueued := false
		for _, r := range remaining {
			if r.ID == c.ID {
				alreadyQueued = true
				break
			}
		}
		if !alreadyQueued {
			remaining = append(remaining, c)
		}
	}

	s.coreTrigger.Set()
	for _, r := range remaining {
		s.requeue(r, now)
	}

	return s.queue.PendingLen() > 0 && len(jobsToLaunch) > 0
}

// commitJob performs step 4h for one job already decided placeable: start
// essential services (gating on ok/requeue/fatal), best-effort start
// elastic services, and promote to running if every service is active. The
// returned bool reports whether the job was fully handled here (dropped,
// requeued, or promoted) — false means the job is still pending with an
// incomplete placement and the caller must requeue it itself.
func (s *Scheduler) commitJob(ctx context.Context, job *domain.Execution, placements map[string]string, now int64) bool {
	if !job.EssentialServicesRunning() {
		result, err := s.backend.StartEssential(ctx, job, placements)
		metrics.StartEssentialTotal.WithLabelValues(string(result)).Inc()

		switch result {
		case backend.StartResultFatal:
			s.logger.Error().Err(err).Str("execution_id", job.ID).Msg("fatal start error, dropping execution")
			metrics.FatalTotal.Inc()
			s.queue.RemovePending(job)
			job.Unlock()
			return true
		case backend.StartResultRequeue:
			metrics.RequeueTotal.Inc()
			s.requeue(job, now)
			return true
		case backend.StartResultOk:
			job.Status = domain.ExecutionRunning
			if err := s.store.SetExecutionStatus(ctx, job.ID, domain.ExecutionRunning); err != nil {
				s.logger.Error().Err(err).Str("execution_id", job.ID).Msg("persist running status")
			}
		}
	}

	s.backend.StartElastic(ctx, job, placements)

	if job.AllServicesActive() {
		job.Unlock()
		s.queue.RemovePending(job)
		s.queue.PromoteToRunning(job)
		return true
	}
	return false
}

// checkDeadServices is the dead-service detector (spec §4.5). Two separate
// sweeps over the running queue prevent rescheduling an execution whose
// essential part is already gone: the essential-death sweep removes the
// execution from queueRunning synchronously, then launches its async
// termination directly, rather than going through Terminate's queue
// lookup a second time (the redesign decision recorded in DESIGN.md).
func (s *Scheduler) checkDeadServices() {
	ctx := context.Background()

	for _, e := range s.queue.RunningSnapshot() {
		dead := false
		for _, svc := range e.EssentialServices() {
			if svc.IsDead() {
				svc.Restarted()
				dead = true
				break
			}
		}
		if dead {
			e.Status = domain.ExecutionCleaningUp
			if err := s.store.SetExecutionStatus(ctx, e.ID, domain.ExecutionCleaningUp); err != nil {
				s.logger.Error().Err(err).Str("execution_id", e.ID).Msg("persist cleaning_up status")
			}
			s.queue.RemoveRunning(e)
			metrics.DeadEssentialTotal.Inc()
			s.launchAsyncTermination(e)
		}
	}

	for _, e := range s.queue.RunningSnapshot() {
		for _, svc := range e.ElasticServices() {
			if svc.IsDead() {
				if err := s.backend.TerminateService(ctx, svc); err != nil {
					s.logger.Error().Err(err).Str("service_id", svc.ID).Msg("terminate dead elastic service")
				}
				svc.Restarted()
				metrics.DeadElasticTotal.Inc()
				s.queue.MoveRunningToPending(e)
				break
			}
		}
	}
}

// Stats is the scheduler-statistics accessor consumed by the (out of
// scope) API layer.
type Stats struct {
	QueueLength             int
	RunningLength           int
	TerminationThreadsCount int
	Queue                   []string
	RunningQueue            []string
}

// Stats returns a snapshot of the scheduler's current state.
func (s *Scheduler) Stats() Stats {
	s.asyncMu.Lock()
	inFlight := len(s.asyncDone)
	s.asyncMu.Unlock()

	return Stats{
		QueueLength:             s.queue.PendingLen(),
		RunningLength:           s.queue.RunningLen(),
		TerminationThreadsCount: inFlight,
		Queue:                   s.queue.PendingIDs(),
		RunningQueue:            s.queue.RunningIDs(),
	}
}
