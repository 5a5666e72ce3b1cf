package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

// Locker serializes document access across processes.
type Locker interface {
	Lock() error
	Unlock() error
}

// maxFileHistory caps the history kept inside the document.
const maxFileHistory = 1000

type fileEntry struct {
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type fileHistoryRow struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

type fileDoc struct {
	Entries map[string]fileEntry `json:"entries"`
	History []fileHistoryRow     `json:"history"`
}

// FileStore is the file-backed Store: one serialized JSON document
// guarded by an OS advisory lock. Every mutation first copies the
// current file to a .backup sibling, then writes the new document via
// temp-file-plus-rename. Corrupted primaries fall back to the backup,
// then to an empty document; reads never fail on corruption alone.
type FileStore struct {
	path   string
	locker Locker
	logger zerolog.Logger

	mu sync.Mutex
}

// NewFileStore creates a FileStore persisting to path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	return &FileStore{
		path:   path,
		locker: newLocker(path + ".lock"),
		logger: log.With().Str("component", "state").Str("path", path).Logger(),
	}, nil
}

func (s *FileStore) backupPath() string { return s.path + ".backup" }

// load reads the document, recovering from corruption: primary, then
// backup (with a warning), then an empty document (with a warning).
func (s *FileStore) load() *fileDoc {
	if doc, err := readDoc(s.path); err == nil {
		return doc
	} else if !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Msg("state file unreadable, falling back to backup")
		if doc, berr := readDoc(s.backupPath()); berr == nil {
			return doc
		} else if !os.IsNotExist(berr) {
			s.logger.Warn().Err(berr).Msg("state backup unreadable, starting empty")
		} else {
			s.logger.Warn().Msg("no state backup present, starting empty")
		}
	}
	return &fileDoc{Entries: make(map[string]fileEntry)}
}

func readDoc(path string) (*fileDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc fileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing state document: %w", err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]fileEntry)
	}
	return &doc, nil
}

// save backs up the current file and atomically replaces it.
func (s *FileStore) save(doc *fileDoc) error {
	// Bound history growth before persisting.
	if len(doc.History) > maxFileHistory {
		doc.History = doc.History[len(doc.History)-maxFileHistory:]
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.backupPath()); err != nil {
			return fmt.Errorf("writing state backup: %w", err)
		}
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing state document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}

// withLock runs fn holding both the process mutex and the file lock.
func (s *FileStore) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.locker.Lock(); err != nil {
		return err
	}
	defer s.locker.Unlock() //nolint:errcheck
	return fn()
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	var value string
	var ok bool
	err := s.withLock(func() error {
		doc := s.load()
		e, found := doc.Entries[key]
		value, ok = e.Value, found
		return nil
	})
	return value, ok, err
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	return s.withLock(func() error {
		doc := s.load()
		now := time.Now().UTC()
		op := models.StateInsert
		e, found := doc.Entries[key]
		if found {
			op = models.StateUpdate
			e.Value = value
			e.UpdatedAt = now
		} else {
			e = fileEntry{Value: value, CreatedAt: now, UpdatedAt: now}
		}
		doc.Entries[key] = e
		doc.History = append(doc.History, fileHistoryRow{
			Key: key, Value: value, Operation: string(op), Timestamp: now,
		})
		return s.save(doc)
	})
}

func (s *FileStore) Delete(_ context.Context, key string) (bool, error) {
	var deleted bool
	err := s.withLock(func() error {
		doc := s.load()
		if _, found := doc.Entries[key]; !found {
			return nil
		}
		delete(doc.Entries, key)
		doc.History = append(doc.History, fileHistoryRow{
			Key: key, Operation: string(models.StateDelete), Timestamp: time.Now().UTC(),
		})
		deleted = true
		return s.save(doc)
	})
	return deleted, err
}

func (s *FileStore) All(_ context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := s.withLock(func() error {
		doc := s.load()
		for k, e := range doc.Entries {
			out[k] = e.Value
		}
		return nil
	})
	return out, err
}

func (s *FileStore) History(_ context.Context, key string, limit int) ([]*models.StateHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []*models.StateHistoryEntry
	err := s.withLock(func() error {
		doc := s.load()
		for i := len(doc.History) - 1; i >= 0 && len(entries) < limit; i-- {
			row := doc.History[i]
			if row.Key != key {
				continue
			}
			entries = append(entries, &models.StateHistoryEntry{
				ID:        int64(i + 1),
				Key:       row.Key,
				Value:     row.Value,
				Op:        models.StateOp(row.Operation),
				Timestamp: row.Timestamp,
			})
		}
		return nil
	})
	return entries, err
}

// Clear removes every key, recording one CLEAR history row.
func (s *FileStore) Clear(_ context.Context) error {
	return s.withLock(func() error {
		doc := s.load()
		doc.Entries = make(map[string]fileEntry)
		doc.History = append(doc.History, fileHistoryRow{
			Operation: string(models.StateClear), Timestamp: time.Now().UTC(),
		})
		return s.save(doc)
	})
}

func (s *FileStore) Close() error { return nil }
