// Package store defines the state-store interface the scheduler reads and
// writes executions and services through, plus two implementations: an
// in-memory MemStore (used by tests and the default zoed run mode) and a
// BoltStore backed by a single bbolt file. Neither implements clustering or
// replication - durable multi-node persistence is out of scope.
package store

import (
	"context"
	"errors"

	"github.com/cuemby/zoe/internal/domain"
)

// ErrNotFound is returned by Get* when no row matches the given id.
var ErrNotFound = errors.New("store: not found")

// ExecutionFilter selects executions. Zero-value fields are wildcards.
type ExecutionFilter struct {
	ID     string
	Status domain.ExecutionStatus
	UserID string
}

// ServiceFilter selects services. Zero-value fields are wildcards.
type ServiceFilter struct {
	ID            string
	ExecutionID   string
	BackendHost   string
	BackendStatus domain.BackendStatus
}

// Store is the scheduler-facing persistence interface (spec §6). The
// scheduler reads and writes status fields but does not own transactions
// beyond single-row updates.
type Store interface {
	FindExecutions(ctx context.Context, f ExecutionFilter) ([]*domain.Execution, error)
	GetExecution(ctx context.Context, id string) (*domain.Execution, error)
	InsertExecution(ctx context.Context, e *domain.Execution) (string, error)
	SetExecutionStatus(ctx context.Context, id string, status domain.ExecutionStatus) error
	DeleteExecution(ctx context.Context, id string) error

	FindServices(ctx context.Context, f ServiceFilter) ([]*domain.Service, error)
}

func matchExecution(e *domain.Execution, f ExecutionFilter) bool {
	if f.ID != "" && e.ID != f.ID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	return true
}

func matchService(s *domain.Service, f ServiceFilter) bool {
	if f.ID != "" && s.ID != f.ID {
		return false
	}
	if f.ExecutionID != "" && s.ExecutionID != f.ExecutionID {
		return false
	}
	if f.BackendHost != "" && s.BackendHost != f.BackendHost {
		return false
	}
	if f.BackendStatus != "" && s.BackendStatus != f.BackendStatus {
		return false
	}
	return true
}
