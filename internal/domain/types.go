// Package domain holds the plain data model the scheduler reads and
// mutates: executions, the services they own, and the cluster capacity
// snapshots the simulated platform and the rebalancer work from.
package domain

import "time"

// ExecutionStatus is the lifecycle state of an Execution.
type ExecutionStatus string

const (
	ExecutionSubmitted     ExecutionStatus = "submitted"
	ExecutionScheduled     ExecutionStatus = "scheduled"
	ExecutionStarting      ExecutionStatus = "starting"
	ExecutionImageDownload ExecutionStatus = "image_download"
	ExecutionRunning       ExecutionStatus = "running"
	ExecutionCleaningUp    ExecutionStatus = "cleaning_up"
	ExecutionTerminated    ExecutionStatus = "terminated"
	ExecutionError         ExecutionStatus = "error"
)

// BackendStatus is what the backend driver reports for a single service.
type BackendStatus string

const (
	BackendUndefined BackendStatus = "undefined"
	BackendStart     BackendStatus = "start"
	BackendDie       BackendStatus = "die"
	BackendDestroy   BackendStatus = "destroy"
)

// ResourceRange is a {min, max} pair for one resource dimension.
type ResourceRange struct {
	Min int64
	Max int64
}

// ResourceReservation is the per-service resource ask. Cores are in whole
// CPU units; Memory is bytes.
type ResourceReservation struct {
	Cores  ResourceRange
	Memory ResourceRange
}

// Port is a container port a service optionally exposes.
type Port struct {
	Number  int
	Expose  bool
	Name    string
}

// Volume is a host-directory bind mount.
type Volume struct {
	Path      string
	MountPath string
	ReadOnly  bool
}

// ServiceDescription is the immutable template a Service was created from.
type ServiceDescription struct {
	Image        string
	Command      string
	Ports        []Port
	Volumes      []Volume
	Replicas     int
	Constraints  []string
}

// Service is one container within an Execution.
type Service struct {
	ID                  string
	ExecutionID         string
	Name                string
	DNSName             string
	Essential           bool
	Description         ServiceDescription
	ResourceReservation ResourceReservation

	BackendStatus BackendStatus
	BackendHost   string
	BackendID     string
	IPAddress     string
	ErrorMessage  string
}

// Restarted clears a die/destroy status back to start after the scheduler
// or the dead-service detector has taken corrective action.
func (s *Service) Restarted() {
	s.BackendStatus = BackendStart
	s.ErrorMessage = ""
}

// IsDead reports whether the backend has flagged this service as dead.
func (s *Service) IsDead() bool {
	return s.BackendStatus == BackendDie
}

// Execution is one user submission: a named bundle of services, some
// essential, some elastic.
type Execution struct {
	ID       string
	Name     string
	UserID   string
	Status   ExecutionStatus
	Services []*Service

	// Size is the policy-specific ordering scalar used by SIZE/DYNSIZE.
	Size int64

	// LastTimeScheduled is a wall-clock Unix-seconds timestamp (not a
	// monotonic clock), 0 if never attempted; used only by DYNSIZE aging.
	LastTimeScheduled int64

	// terminationLock is a 1-capacity channel acting as a per-execution
	// mutex: non-blocking acquire by the scheduler, blocking acquire by
	// the async terminator. nil until NewExecution initializes it.
	terminationLock chan struct{}
}

// NewExecution constructs an Execution in status submitted with an
// initialized termination lock.
func NewExecution(id, name, userID string, services []*Service) *Execution {
	for _, s := range services {
		s.ExecutionID = id
	}
	return &Execution{
		ID:              id,
		Name:            name,
		UserID:          userID,
		Status:          ExecutionSubmitted,
		Services:        services,
		terminationLock: make(chan struct{}, 1),
	}
}

// InitLock lazily initializes the termination lock. Needed after
// deserializing an Execution from a store, since the lock is an unexported
// channel and does not survive a JSON round-trip.
func (e *Execution) InitLock() {
	if e.terminationLock == nil {
		e.terminationLock = make(chan struct{}, 1)
	}
}

// TryLock attempts to acquire the termination lock without blocking. It
// reports whether the lock was acquired.
func (e *Execution) TryLock() bool {
	select {
	case e.terminationLock <- struct{}{}:
		return true
	default:
		return false
	}
}

// Lock blockingly acquires the termination lock; used only by the async
// termination task.
func (e *Execution) Lock() {
	e.terminationLock <- struct{}{}
}

// Unlock releases the termination lock. Unlocking a lock that is not held
// is a programmer error and panics, matching the discipline of a regular
// mutex.
func (e *Execution) Unlock() {
	select {
	case <-e.terminationLock:
	default:
		panic("domain: Unlock of unheld execution termination lock")
	}
}

// IsActive reports whether status is any non-terminal state.
func (e *Execution) IsActive() bool {
	switch e.Status {
	case ExecutionTerminated, ExecutionError:
		return false
	default:
		return true
	}
}

// IsRunning reports whether the execution has reached the running state.
func (e *Execution) IsRunning() bool {
	return e.Status == ExecutionRunning
}

// EssentialServicesRunning reports whether every essential service has
// reached backend status start.
func (e *Execution) EssentialServicesRunning() bool {
	for _, s := range e.Services {
		if s.Essential && s.BackendStatus != BackendStart {
			return false
		}
	}
	return true
}

// AllServicesActive reports whether every service (essential and elastic)
// has reached backend status start.
func (e *Execution) AllServicesActive() bool {
	for _, s := range e.Services {
		if s.BackendStatus != BackendStart {
			return false
		}
	}
	return true
}

// EssentialServices returns the subset of Services marked essential.
func (e *Execution) EssentialServices() []*Service {
	var out []*Service
	for _, s := range e.Services {
		if s.Essential {
			out = append(out, s)
		}
	}
	return out
}

// ElasticServices returns the subset of Services not marked essential.
func (e *Execution) ElasticServices() []*Service {
	var out []*Service
	for _, s := range e.Services {
		if !s.Essential {
			out = append(out, s)
		}
	}
	return out
}

// TotalReservations sums min/max cores and memory across every service.
func (e *Execution) TotalReservations() ResourceReservation {
	var total ResourceReservation
	for _, s := range e.Services {
		total.Cores.Min += s.ResourceReservation.Cores.Min
		total.Cores.Max += s.ResourceReservation.Cores.Max
		total.Memory.Min += s.ResourceReservation.Memory.Min
		total.Memory.Max += s.ResourceReservation.Memory.Max
	}
	return total
}

// NodeStats is one node's capacity snapshot.
type NodeStats struct {
	Name           string
	CoresTotal     float64
	CoresReserved  float64
	MemoryTotal    int64
	MemoryReserved int64
	Services       []*Service
}

// MemoryFree is the node's unreserved memory.
func (n *NodeStats) MemoryFree() int64 {
	return n.MemoryTotal - n.MemoryReserved
}

// CoresFree is the node's unreserved CPU.
func (n *NodeStats) CoresFree() float64 {
	return n.CoresTotal - n.CoresReserved
}

// ClusterStats is a point-in-time, immutable-once-observed snapshot of the
// whole cluster. Observed is set by the backend driver when it produced the
// snapshot and is informational only.
type ClusterStats struct {
	Nodes    []*NodeStats
	Observed time.Time
}

// Clone returns a deep copy safe for a SimulatedPlatform to mutate. Per the
// scheduler's invariant, the simulator must never hold a pointer into a
// live, backend-owned snapshot.
func (c *ClusterStats) Clone() *ClusterStats {
	clone := &ClusterStats{Observed: c.Observed}
	clone.Nodes = make([]*NodeStats, len(c.Nodes))
	for i, n := range c.Nodes {
		nc := *n
		nc.Services = make([]*Service, len(n.Services))
		for j, s := range n.Services {
			sc := *s
			nc.Services[j] = &sc
		}
		clone.Nodes[i] = &nc
	}
	return clone
}
