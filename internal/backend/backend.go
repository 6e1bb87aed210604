// Package backend defines the driver contract the scheduler calls to turn
// placement decisions into real container operations, plus an in-memory
// reference implementation used by tests and local runs. No real container
// runtime driver (Kubernetes, Swarm, containerd) is implemented here; that
// is explicitly out of scope.
package backend

import (
	"context"
	"errors"

	"github.com/cuemby/zoe/internal/domain"
)

// StartResult is the outcome of StartEssential.
type StartResult string

const (
	StartResultOk      StartResult = "ok"
	StartResultRequeue StartResult = "requeue"
	StartResultFatal   StartResult = "fatal"
)

// ErrNotEnoughResources is the transient capacity error a backend raises
// when it discovers at commit time that a placement no longer fits.
// StartEssential reports that case as StartResultRequeue; the scheduler acts
// on the StartResult, not on this error.
var ErrNotEnoughResources = errors.New("backend: not enough resources to satisfy reservation")

// ErrStartExecutionFatal wraps an unrecoverable misconfiguration or backend
// failure. StartEssential returns it together with StartResultFatal; the
// backend must have already set the execution's status to error before
// returning this.
type ErrStartExecutionFatal struct {
	Reason string
}

func (e *ErrStartExecutionFatal) Error() string {
	return "backend: fatal start error: " + e.Reason
}

// ErrSnapshotUnavailable is returned by PlatformState when the backend
// cannot currently produce a self-consistent snapshot.
var ErrSnapshotUnavailable = errors.New("backend: platform snapshot unavailable")

// Backend is the scheduler-facing driver contract (spec §4.6).
type Backend interface {
	// PlatformState returns the current cluster snapshot, or
	// ErrSnapshotUnavailable.
	PlatformState(ctx context.Context) (*domain.ClusterStats, error)

	// StartEssential creates containers for every essential service of e
	// at the given placements (service id -> node name). The backend must
	// set e.Status = domain.ExecutionError before returning StartResultFatal.
	StartEssential(ctx context.Context, e *domain.Execution, placements map[string]string) (StartResult, error)

	// StartElastic best-effort creates elastic services. Per-service
	// failures are swallowed here and surface later via BackendStatus.
	StartElastic(ctx context.Context, e *domain.Execution, placements map[string]string)

	// TerminateService and TerminateExecution are idempotent teardown
	// operations.
	TerminateService(ctx context.Context, s *domain.Service) error
	TerminateExecution(ctx context.Context, e *domain.Execution) error

	// UpdateServiceResourceLimits adjusts a running service's CPU share.
	// Never called with memory; the rebalancer only ever touches cores.
	UpdateServiceResourceLimits(ctx context.Context, s *domain.Service, cores float64) error
}
