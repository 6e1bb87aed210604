// Package queue implements the scheduler's two ordered execution
// collections (pending and running) and the FIFO/SIZE/DYNSIZE ordering
// policies applied to the pending collection before each placement round.
package queue

import (
	"sync"

	"github.com/cuemby/zoe/internal/domain"
)

// ExecutionQueue holds the pending and running execution collections. It is
// safe for concurrent use: the scheduler loop is the sole mutator during a
// round, but Incoming/Terminate/stats reporting may be called from other
// goroutines between rounds.
type ExecutionQueue struct {
	mu     sync.Mutex
	policy Policy

	pending []*domain.Execution
	running []*domain.Execution
}

// New constructs an empty ExecutionQueue using the given policy.
func New(policy Policy) *ExecutionQueue {
	return &ExecutionQueue{policy: policy}
}

// Policy returns the queue's ordering policy.
func (q *ExecutionQueue) Policy() Policy {
	return q.policy
}

// Enqueue appends e to the pending collection. Used both by Incoming (new
// submissions) and by the dead-service detector (elastic re-scheduling).
func (q *ExecutionQueue) Enqueue(e *domain.Execution) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, e)
}

// PromoteToRunning moves e from pending to running. e must already have
// been removed from pending by the caller (the scheduler's commit step
// removes candidates from pending as it processes them, so this only
// appends to running).
func (q *ExecutionQueue) PromoteToRunning(e *domain.Execution) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = append(q.running, e)
}

// RemovePending removes e from the pending collection if present, by
// identity.
func (q *ExecutionQueue) RemovePending(e *domain.Execution) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return removeByID(&q.pending, e.ID)
}

// RemoveRunning removes e from the running collection if present, by
// identity.
func (q *ExecutionQueue) RemoveRunning(e *domain.Execution) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return removeByID(&q.running, e.ID)
}

// MoveRunningToPending moves e from running back to pending (used by the
// dead-service detector's elastic sweep).
func (q *ExecutionQueue) MoveRunningToPending(e *domain.Execution) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if removeByID(&q.running, e.ID) {
		q.pending = append(q.pending, e)
	}
}

// ContainsPending reports whether e is currently in the pending collection.
func (q *ExecutionQueue) ContainsPending(e *domain.Execution) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.pending {
		if p.ID == e.ID {
			return true
		}
	}
	return false
}

func removeByID(list *[]*domain.Execution, id string) bool {
	for i, e := range *list {
		if e.ID == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// PreparePending refreshes sizes (DYNSIZE only) and sorts the pending
// collection per policy, returning a snapshot slice for the round to
// iterate over. The snapshot is taken under the lock but the returned
// slice is independently owned.
func (q *ExecutionQueue) PreparePending(nowSeconds int64) []*domain.Execution {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.policy.Prepare(q.pending, nowSeconds)
	q.policy.Sort(q.pending)
	out := make([]*domain.Execution, len(q.pending))
	copy(out, q.pending)
	return out
}

// PendingLen returns the current size of the pending collection.
func (q *ExecutionQueue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// RunningLen returns the current size of the running collection.
func (q *ExecutionQueue) RunningLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}

// RunningSnapshot returns a shallow copy of the running collection, safe to
// range over without holding the lock.
func (q *ExecutionQueue) RunningSnapshot() []*domain.Execution {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*domain.Execution, len(q.running))
	copy(out, q.running)
	return out
}

// PendingIDs returns pending execution ids in current policy order, for
// stats reporting.
func (q *ExecutionQueue) PendingIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, len(q.pending))
	for i, e := range q.pending {
		ids[i] = e.ID
	}
	return ids
}

// RunningIDs returns running execution ids in insertion order, for stats
// reporting.
func (q *ExecutionQueue) RunningIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, len(q.running))
	for i, e := range q.running {
		ids[i] = e.ID
	}
	return ids
}
