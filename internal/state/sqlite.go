package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/storage"
	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

// SQLStore is the WAL-backed Store. Each Set or Delete is one
// transaction updating the current-value row and appending a history row
// atomically; WAL mode keeps concurrent readers safe, including readers
// in other processes.
type SQLStore struct {
	backend storage.Backend
}

// NewSQLStore wraps a storage backend as a checkpoint store.
func NewSQLStore(backend storage.Backend) *SQLStore {
	return &SQLStore{backend: backend}
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	entry, err := s.backend.GetState(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading state %q: %w", key, err)
	}
	return entry.Value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.backend.SetState(ctx, key, value); err != nil {
		return fmt.Errorf("writing state %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) (bool, error) {
	return s.backend.DeleteState(ctx, key)
}

func (s *SQLStore) All(ctx context.Context) (map[string]string, error) {
	entries, err := s.backend.AllState(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}

func (s *SQLStore) History(ctx context.Context, key string, limit int) ([]*models.StateHistoryEntry, error) {
	return s.backend.StateHistory(ctx, key, limit)
}

// Close is a no-op; the shared backend is owned by the registry.
func (s *SQLStore) Close() error { return nil }
