package store

import (
	"context"
	"testing"

	"github.com/cuemby/zoe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	e := domain.NewExecution("", "demo", "alice", []*domain.Service{
		{ID: "s1", Essential: true},
	})

	id, err := s.InsertExecution(ctx, e)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetExecution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)
	assert.Equal(t, domain.ExecutionSubmitted, got.Status)

	require.NoError(t, s.SetExecutionStatus(ctx, id, domain.ExecutionRunning))
	got, err = s.GetExecution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionRunning, got.Status)

	found, err := s.FindExecutions(ctx, ExecutionFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	svcs, err := s.FindServices(ctx, ServiceFilter{ExecutionID: id})
	require.NoError(t, err)
	assert.Len(t, svcs, 1)

	require.NoError(t, s.DeleteExecution(ctx, id))
	_, err = s.GetExecution(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreContract(t *testing.T) {
	runStoreContract(t, NewMemStore())
}

func TestBoltStoreContract(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	runStoreContract(t, s)
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)

	e := domain.NewExecution("", "persisted", "bob", nil)
	id, err := s.InsertExecution(context.Background(), e)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetExecution(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Name)
}
