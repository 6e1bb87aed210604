package store

import (
	"context"
	"sync"

	"github.com/cuemby/zoe/internal/domain"
	"github.com/google/uuid"
)

// MemStore is a map-backed Store, guarded by a single mutex. It is the
// default store for tests and for zoed runs that don't need the executions
// to survive a restart.
type MemStore struct {
	mu         sync.RWMutex
	executions map[string]*domain.Execution
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{executions: make(map[string]*domain.Execution)}
}

func (m *MemStore) FindExecutions(ctx context.Context, f ExecutionFilter) ([]*domain.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Execution
	for _, e := range m.executions {
		if matchExecution(e, f) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemStore) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (m *MemStore) InsertExecution(ctx context.Context, e *domain.Execution) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m.executions[e.ID] = e
	return e.ID, nil
}

func (m *MemStore) SetExecutionStatus(ctx context.Context, id string, status domain.ExecutionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	return nil
}

func (m *MemStore) DeleteExecution(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.executions[id]; !ok {
		return ErrNotFound
	}
	delete(m.executions, id)
	return nil
}

func (m *MemStore) FindServices(ctx context.Context, f ServiceFilter) ([]*domain.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Service
	for _, e := range m.executions {
		for _, s := range e.Services {
			if matchService(s, f) {
				out = append(out, s)
			}
		}
	}
	return out, nil
}
