package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

// SQLiteBackend is a Backend backed by a single SQLite database in WAL
// mode. One shared handle, internally synchronized; safe for concurrent
// use from multiple goroutines and tolerant of a concurrent external
// reader thanks to the write-ahead log.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if needed) the database at path,
// enables WAL, and applies migrations.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// Single writer handle; WAL still allows an external reader.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA synchronous=NORMAL`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// timeFormat keeps timestamps lexically sortable and round-trippable.
const timeFormat = time.RFC3339Nano

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- Encrypted credentials ---

func (s *SQLiteBackend) PutEncryptedKey(ctx context.Context, rec *EncryptedRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	meta := rec.Metadata
	if meta == "" {
		meta = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO encrypted_keys (key_id, encrypted_data, salt, created_at, updated_at, key_type, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (key_id) DO UPDATE
		 SET encrypted_data = excluded.encrypted_data,
		     salt = excluded.salt,
		     updated_at = excluded.updated_at,
		     key_type = excluded.key_type,
		     metadata = excluded.metadata`,
		rec.KeyID, rec.EncryptedData, rec.Salt,
		encodeTime(rec.CreatedAt), encodeTime(rec.UpdatedAt), rec.KeyType, meta,
	)
	if err != nil {
		return fmt.Errorf("upserting encrypted key: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) GetEncryptedKey(ctx context.Context, keyID string) (*EncryptedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key_id, encrypted_data, salt, created_at, updated_at, key_type, metadata
		 FROM encrypted_keys WHERE key_id = ?`,
		keyID,
	)
	var rec EncryptedRecord
	var created, updated string
	err := row.Scan(&rec.KeyID, &rec.EncryptedData, &rec.Salt, &created, &updated, &rec.KeyType, &rec.Metadata)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading encrypted key: %w", err)
	}
	rec.CreatedAt = decodeTime(created)
	rec.UpdatedAt = decodeTime(updated)
	return &rec, nil
}

func (s *SQLiteBackend) DeleteEncryptedKey(ctx context.Context, keyID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM encrypted_keys WHERE key_id = ?`, keyID)
	if err != nil {
		return false, fmt.Errorf("deleting encrypted key: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteBackend) ListEncryptedKeys(ctx context.Context) ([]*EncryptedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key_id, salt, created_at, updated_at, key_type, metadata
		 FROM encrypted_keys ORDER BY key_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing encrypted keys: %w", err)
	}
	defer rows.Close()

	var recs []*EncryptedRecord
	for rows.Next() {
		var rec EncryptedRecord
		var created, updated string
		if err := rows.Scan(&rec.KeyID, &rec.Salt, &created, &updated, &rec.KeyType, &rec.Metadata); err != nil {
			return nil, err
		}
		rec.CreatedAt = decodeTime(created)
		rec.UpdatedAt = decodeTime(updated)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteBackend) LogAccess(ctx context.Context, keyID, action, user string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_log (key_id, action, timestamp, user) VALUES (?, ?, ?, ?)`,
		keyID, action, encodeTime(time.Now()), user,
	)
	if err != nil {
		return fmt.Errorf("writing access log: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) QueryAccessLog(ctx context.Context, keyID string, limit int) ([]*AccessLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key_id, action, timestamp, user
		 FROM access_log WHERE key_id = ? ORDER BY id DESC LIMIT ?`,
		keyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying access log: %w", err)
	}
	defer rows.Close()

	var entries []*AccessLogEntry
	for rows.Next() {
		var e AccessLogEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.KeyID, &e.Action, &ts, &e.User); err != nil {
			return nil, err
		}
		e.Timestamp = decodeTime(ts)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- Collector state ---

// SetState upserts the current value and appends a history row in one
// transaction. Returns whether the mutation was an insert or an update.
func (s *SQLiteBackend) SetState(ctx context.Context, key, value string) (models.StateOp, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning state tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM state WHERE key = ?`, key,
	).Scan(&exists); err != nil {
		return "", fmt.Errorf("checking state key: %w", err)
	}

	now := encodeTime(time.Now())
	op := models.StateInsert
	if exists > 0 {
		op = models.StateUpdate
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO state (key, value, updated_at, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("upserting state: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO state_history (key, value, operation, timestamp) VALUES (?, ?, ?, ?)`,
		key, value, string(op), now,
	)
	if err != nil {
		return "", fmt.Errorf("appending state history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing state tx: %w", err)
	}
	return op, nil
}

func (s *SQLiteBackend) GetState(ctx context.Context, key string) (*models.StateEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at, created_at FROM state WHERE key = ?`, key,
	)
	var e models.StateEntry
	var updated, created string
	if err := row.Scan(&e.Key, &e.Value, &updated, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}
	e.UpdatedAt = decodeTime(updated)
	e.CreatedAt = decodeTime(created)
	return &e, nil
}

func (s *SQLiteBackend) DeleteState(ctx context.Context, key string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning state tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("deleting state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO state_history (key, value, operation, timestamp) VALUES (?, '', ?, ?)`,
		key, string(models.StateDelete), encodeTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("appending state history: %w", err)
	}
	return true, tx.Commit()
}

func (s *SQLiteBackend) AllState(ctx context.Context) ([]*models.StateEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at, created_at FROM state ORDER BY key`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing state: %w", err)
	}
	defer rows.Close()

	var entries []*models.StateEntry
	for rows.Next() {
		var e models.StateEntry
		var updated, created string
		if err := rows.Scan(&e.Key, &e.Value, &updated, &created); err != nil {
			return nil, err
		}
		e.UpdatedAt = decodeTime(updated)
		e.CreatedAt = decodeTime(created)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *SQLiteBackend) StateHistory(ctx context.Context, key string, limit int) ([]*models.StateHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, value, operation, timestamp
		 FROM state_history WHERE key = ? ORDER BY id DESC LIMIT ?`,
		key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	var entries []*models.StateHistoryEntry
	for rows.Next() {
		var e models.StateHistoryEntry
		var op, ts string
		if err := rows.Scan(&e.ID, &e.Key, &e.Value, &op, &ts); err != nil {
			return nil, err
		}
		e.Op = models.StateOp(op)
		e.Timestamp = decodeTime(ts)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// PruneStateHistory keeps the newest keepPerKey rows per key and deletes
// the rest. Bounds history growth; invoked by the retention janitor.
func (s *SQLiteBackend) PruneStateHistory(ctx context.Context, keepPerKey int) (int64, error) {
	if keepPerKey <= 0 {
		keepPerKey = 1000
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM state_history
		 WHERE id NOT IN (
		     SELECT id FROM state_history sh
		     WHERE sh.key = state_history.key
		     ORDER BY id DESC LIMIT ?
		 )`,
		keepPerKey,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- Audit sink ---

func (s *SQLiteBackend) WriteAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	ctxJSON, err := json.Marshal(event.Context)
	if err != nil {
		ctxJSON = []byte("{}")
	}
	success := 0
	if event.Success {
		success = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (event_id, timestamp, event_type, level, actor, team_id, channel_id, success, context)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, encodeTime(event.Timestamp), string(event.Type), int(event.Level),
		event.Actor, event.TeamID, event.ChannelID, success, string(ctxJSON),
	)
	if err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) QueryAuditEvents(ctx context.Context, filter AuditFilter) ([]*models.AuditEvent, error) {
	var query strings.Builder
	query.WriteString(`SELECT event_id, timestamp, event_type, level, actor, team_id, channel_id, success, context
		 FROM audit_events WHERE level >= ?`)
	args := []any{int(filter.MinLevel)}
	if filter.Type != "" {
		query.WriteString(` AND event_type = ?`)
		args = append(args, string(filter.Type))
	}
	if filter.Actor != "" {
		query.WriteString(` AND actor = ?`)
		args = append(args, filter.Actor)
	}
	if filter.Since != nil {
		query.WriteString(` AND timestamp >= ?`)
		args = append(args, encodeTime(*filter.Since))
	}
	query.WriteString(` ORDER BY id DESC`)
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query.WriteString(` LIMIT ?`)
	args = append(args, limit)
	if filter.Offset > 0 {
		query.WriteString(` OFFSET ?`)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var ts, typ, ctxJSON string
		var level, success int
		if err := rows.Scan(&e.ID, &ts, &typ, &level, &e.Actor, &e.TeamID, &e.ChannelID, &success, &ctxJSON); err != nil {
			return nil, err
		}
		e.Timestamp = decodeTime(ts)
		e.Type = models.EventType(typ)
		e.Level = models.SecurityLevel(level)
		e.Success = success == 1
		json.Unmarshal([]byte(ctxJSON), &e.Context) //nolint:errcheck
		events = append(events, &e)
	}
	return events, rows.Err()
}
