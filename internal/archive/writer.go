// Package archive implements the partitioned, crash-safe append log:
// one JSONL file per (source, day) plus a manifest describing it.
package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

const (
	dataFileName     = "data.jsonl"
	manifestFileName = "manifest.json"
	datePartition    = "2006-01-02"
)

// ErrNotSerializable rejects a batch containing any record that cannot
// be marshaled. Nothing touches disk in that case.
var ErrNotSerializable = errors.New("record not serializable")

var (
	appendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aicos_archive_appends_total",
		Help: "Total archive append operations by source and outcome.",
	}, []string{"source", "outcome"})

	recordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aicos_archive_records_total",
		Help: "Total records appended to the archive by source.",
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(appendsTotal, recordsTotal)
}

// Writer appends structured records to per-source daily partitions. The
// read-concatenate-write sequence for one source is serialized by a
// per-source lock; different sources never contend.
type Writer struct {
	root   string
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// renameFile is swapped in tests to force rename failures.
	renameFile func(oldpath, newpath string) error
	// clock is swapped in tests for stable partition dates.
	clock func() time.Time
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(root string) *Writer {
	return &Writer{
		root:       root,
		logger:     log.With().Str("component", "archive").Logger(),
		locks:      make(map[string]*sync.Mutex),
		renameFile: os.Rename,
		clock:      time.Now,
	}
}

// sourceLock returns the mutex serializing appends for one source.
func (w *Writer) sourceLock(source string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[source]
	if !ok {
		l = &sync.Mutex{}
		w.locks[source] = l
	}
	return l
}

// Append validates, serializes and durably appends a batch of records to
// the partition for date (zero date means today). The batch is
// all-or-nothing: a single non-serializable record rejects the whole
// call before any I/O, and an I/O failure leaves the previous partition
// content untouched.
func (w *Writer) Append(source string, records []map[string]any, date time.Time) error {
	if source == "" {
		return errors.New("archive source must not be empty")
	}
	if len(records) == 0 {
		return nil
	}
	if date.IsZero() {
		date = w.clock()
	}

	// Serialize everything up front; reject the batch on any failure.
	// The archive timestamp is stamped on a shallow copy so callers get
	// their maps back untouched, rejected batch or not.
	now := w.clock().UTC().Format(time.RFC3339Nano)
	var batch bytes.Buffer
	for i, rec := range records {
		if _, ok := rec["archived_at"]; !ok {
			stamped := make(map[string]any, len(rec)+1)
			for k, v := range rec {
				stamped[k] = v
			}
			stamped["archived_at"] = now
			rec = stamped
		}
		line, err := json.Marshal(rec)
		if err != nil {
			appendsTotal.WithLabelValues(source, "rejected").Inc()
			return fmt.Errorf("%w: record %d: %v", ErrNotSerializable, i, err)
		}
		batch.Write(line)
		batch.WriteByte('\n')
	}

	lock := w.sourceLock(source)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(w.root, source, date.UTC().Format(datePartition))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		appendsTotal.WithLabelValues(source, "error").Inc()
		return fmt.Errorf("creating partition dir: %w", err)
	}
	target := filepath.Join(dir, dataFileName)

	existing, err := os.ReadFile(target)
	if err != nil && !os.IsNotExist(err) {
		appendsTotal.WithLabelValues(source, "error").Inc()
		return fmt.Errorf("reading partition: %w", err)
	}

	full := make([]byte, 0, len(existing)+batch.Len())
	full = append(full, existing...)
	full = append(full, batch.Bytes()...)

	if err := w.writeAtomic(dir, target, full); err != nil {
		appendsTotal.WithLabelValues(source, "error").Inc()
		return fmt.Errorf("writing partition: %w", err)
	}

	appendsTotal.WithLabelValues(source, "ok").Inc()
	recordsTotal.WithLabelValues(source).Add(float64(len(records)))

	// Manifest failure does not fail the append; data is durable.
	if err := w.updateManifest(source, dir, target); err != nil {
		w.logger.Warn().Err(err).Str("source", source).Msg("manifest update failed")
	}
	return nil
}

// writeAtomic writes data to a temp file in dir, flushes it to stable
// storage, then renames it over target. The target is never observed in
// a half-written state, even under interruption mid-write.
func (w *Writer) writeAtomic(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("setting temp file mode: %w", err)
	}
	if err := w.renameFile(tmpName, target); err != nil {
		return fmt.Errorf("renaming over partition: %w", err)
	}
	return nil
}

// updateManifest recomputes the manifest from the physical partition
// file and rewrites it with the same atomic technique.
func (w *Writer) updateManifest(source, dir, target string) error {
	data, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("rereading partition: %w", err)
	}
	m := models.Manifest{
		Source:      source,
		RecordCount: bytes.Count(data, []byte{'\n'}),
		FileSize:    int64(len(data)),
		LastWrite:   w.clock().UTC(),
		Format:      "jsonl",
		Encoding:    "utf-8",
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing manifest: %w", err)
	}
	return w.writeAtomic(dir, filepath.Join(dir, manifestFileName), append(raw, '\n'))
}

// Manifest reads the manifest for a (source, date) partition.
func (w *Writer) Manifest(source string, date time.Time) (*models.Manifest, error) {
	if date.IsZero() {
		date = w.clock()
	}
	path := filepath.Join(w.root, source, date.UTC().Format(datePartition), manifestFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m models.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// ReadPartition returns the decoded records of a (source, date)
// partition, newest write order preserved.
func (w *Writer) ReadPartition(source string, date time.Time) ([]map[string]any, error) {
	if date.IsZero() {
		date = w.clock()
	}
	path := filepath.Join(w.root, source, date.UTC().Format(datePartition), dataFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading partition: %w", err)
	}
	var records []map[string]any
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parsing partition line: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Sources lists source directories present under the archive root.
func (w *Writer) Sources() ([]string, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var sources []string
	for _, e := range entries {
		if e.IsDir() {
			sources = append(sources, e.Name())
		}
	}
	return sources, nil
}
