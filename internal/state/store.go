// Package state provides the durable checkpoint store used by
// collectors to track progress. Two interchangeable implementations
// exist: a WAL-backed SQLite store and a single-document file store.
package state

import (
	"context"

	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

// Store is the caller-facing checkpoint API. Both implementations are
// last-write-wins per key and mirror every mutation into history.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores a value, recording an INSERT or UPDATE history row.
	Set(ctx context.Context, key, value string) error
	// Delete removes a key. Returns false when nothing was stored.
	Delete(ctx context.Context, key string) (bool, error)
	// All returns the full current key/value map.
	All(ctx context.Context) (map[string]string, error)
	// History returns the most recent mutations for a key, newest first.
	History(ctx context.Context, key string, limit int) ([]*models.StateHistoryEntry, error)
	// Close releases underlying resources.
	Close() error
}
