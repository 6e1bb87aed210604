package backend

import (
	"context"
	"sync"

	"github.com/cuemby/zoe/internal/domain"
	"github.com/cuemby/zoe/internal/zoelog"
	"github.com/rs/zerolog"
)

// FailureMode configures how MemoryBackend reacts when it is asked to start
// a service whose image matches a configured key. It exists so the
// scheduler's own test suite can drive the requeue/fatal paths
// deterministically, the way the original backend did by raising
// ZoeStartExecutionRetryException / ZoeStartExecutionFatalException from
// inside spawn_service.
type FailureMode int

const (
	FailureNone FailureMode = iota
	FailureRequeue
	FailureFatal
)

// MemoryBackend is a deterministic, in-process Backend implementation. It
// owns all of its state as struct fields - no package-level singletons,
// per the redesign guidance that replaced the original driver's module
// globals with an explicit handle.
type MemoryBackend struct {
	mu     sync.Mutex
	logger zerolog.Logger

	stats *domain.ClusterStats

	// imageFailureMode lets tests force a particular image to fail
	// StartEssential with a given outcome.
	imageFailureMode map[string]FailureMode

	// coreLimits records the last cores value UpdateServiceResourceLimits
	// issued per service id, so tests (and the rebalancer's own tests)
	// can assert on what was applied.
	coreLimits map[string]float64
}

// NewMemoryBackend constructs a MemoryBackend seeded with an initial
// cluster snapshot. The snapshot is cloned; callers keep ownership of the
// value they passed in.
func NewMemoryBackend(stats *domain.ClusterStats) *MemoryBackend {
	return &MemoryBackend{
		logger:           zoelog.Component("backend"),
		stats:            stats.Clone(),
		imageFailureMode: make(map[string]FailureMode),
		coreLimits:       make(map[string]float64),
	}
}

// SetImageFailureMode configures StartEssential to fail with mode whenever
// it is asked to start a service whose image equals image.
func (b *MemoryBackend) SetImageFailureMode(image string, mode FailureMode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.imageFailureMode[image] = mode
}

// CoresFor returns the last core limit UpdateServiceResourceLimits issued
// for serviceID, for assertions in tests.
func (b *MemoryBackend) CoresFor(serviceID string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.coreLimits[serviceID]
	return v, ok
}

// KillService marks a service dead in the backend's view of the world, the
// way a real driver would report a container exit. The next PlatformState
// snapshot reflects it.
func (b *MemoryBackend) KillService(serviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, n := range b.stats.Nodes {
		for _, s := range n.Services {
			if s.ID == serviceID {
				s.BackendStatus = domain.BackendDie
				return
			}
		}
	}
}

func (b *MemoryBackend) PlatformState(ctx context.Context) (*domain.ClusterStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats.Clone(), nil
}

func (b *MemoryBackend) StartEssential(ctx context.Context, e *domain.Execution, placements map[string]string) (StartResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range e.EssentialServices() {
		switch b.imageFailureMode[s.Description.Image] {
		case FailureRequeue:
			b.logger.Warn().Str("execution_id", e.ID).Str("service_id", s.ID).Msg("not enough resources, requeueing")
			return StartResultRequeue, nil
		case FailureFatal:
			e.Status = domain.ExecutionError
			s.ErrorMessage = "fatal: misconfigured service"
			b.logger.Error().Str("execution_id", e.ID).Str("service_id", s.ID).Msg("fatal start error")
			return StartResultFatal, &ErrStartExecutionFatal{Reason: s.ErrorMessage}
		}
	}

	for _, s := range e.EssentialServices() {
		b.commitPlacement(s, placements[s.ID])
	}
	return StartResultOk, nil
}

func (b *MemoryBackend) StartElastic(ctx context.Context, e *domain.Execution, placements map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range e.ElasticServices() {
		node, ok := placements[s.ID]
		if !ok {
			continue
		}
		if b.imageFailureMode[s.Description.Image] != FailureNone {
			b.logger.Warn().Str("service_id", s.ID).Msg("elastic start failed, leaving unplaced")
			continue
		}
		b.commitPlacement(s, node)
	}
}

func (b *MemoryBackend) commitPlacement(s *domain.Service, node string) {
	s.BackendHost = node
	s.BackendStatus = domain.BackendStart
	s.ErrorMessage = ""
	for _, n := range b.stats.Nodes {
		if n.Name != node {
			continue
		}
		if !containsService(n.Services, s.ID) {
			n.Services = append(n.Services, s)
			n.MemoryReserved += s.ResourceReservation.Memory.Min
			n.CoresReserved += float64(s.ResourceReservation.Cores.Min)
		}
		return
	}
}

func containsService(services []*domain.Service, id string) bool {
	for _, s := range services {
		if s.ID == id {
			return true
		}
	}
	return false
}

func (b *MemoryBackend) TerminateService(ctx context.Context, s *domain.Service) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, n := range b.stats.Nodes {
		for i, existing := range n.Services {
			if existing.ID != s.ID {
				continue
			}
			n.MemoryReserved -= existing.ResourceReservation.Memory.Min
			n.CoresReserved -= float64(existing.ResourceReservation.Cores.Min)
			n.Services = append(n.Services[:i], n.Services[i+1:]...)
			break
		}
	}
	s.BackendStatus = domain.BackendDestroy
	return nil
}

func (b *MemoryBackend) TerminateExecution(ctx context.Context, e *domain.Execution) error {
	for _, s := range e.Services {
		if err := b.TerminateService(ctx, s); err != nil {
			return err
		}
	}
	e.Status = domain.ExecutionTerminated
	return nil
}

func (b *MemoryBackend) UpdateServiceResourceLimits(ctx context.Context, s *domain.Service, cores float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.coreLimits[s.ID] = cores
	return nil
}
