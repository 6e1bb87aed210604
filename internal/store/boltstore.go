package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/zoe/internal/domain"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketExecutions = []byte("executions")

// BoltStore is a Store backed by a single bbolt file, one bucket,
// JSON-encoded values keyed by execution id. It gives the state-store
// interface a concrete, persistent implementation without building a
// clustering or migration layer - durable multi-node persistence stays out
// of scope.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a bbolt database under
// dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "zoe.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketExecutions)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) FindExecutions(ctx context.Context, f ExecutionFilter) ([]*domain.Execution, error) {
	var out []*domain.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		return b.ForEach(func(k, v []byte) error {
			e, err := decodeExecution(v)
			if err != nil {
				return err
			}
			if matchExecution(e, f) {
				out = append(out, e)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	var e *domain.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		decoded, err := decodeExecution(data)
		if err != nil {
			return err
		}
		e = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *BoltStore) InsertExecution(ctx context.Context, e *domain.Execution) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("store: encode execution: %w", err)
		}
		return b.Put([]byte(e.ID), data)
	})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

func (s *BoltStore) SetExecutionStatus(ctx context.Context, id string, status domain.ExecutionStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		e, err := decodeExecution(data)
		if err != nil {
			return err
		}
		e.Status = status
		encoded, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("store: encode execution: %w", err)
		}
		return b.Put([]byte(id), encoded)
	})
}

func (s *BoltStore) DeleteExecution(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) FindServices(ctx context.Context, f ServiceFilter) ([]*domain.Service, error) {
	var out []*domain.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		return b.ForEach(func(k, v []byte) error {
			e, err := decodeExecution(v)
			if err != nil {
				return err
			}
			for _, svc := range e.Services {
				if matchService(svc, f) {
					out = append(out, svc)
				}
			}
			return nil
		})
	})
	return out, err
}

func decodeExecution(data []byte) (*domain.Execution, error) {
	var e domain.Execution
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("store: decode execution: %w", err)
	}
	e.InitLock()
	return &e, nil
}
