package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

func newTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "core.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestEncryptedKeyRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	rec := &EncryptedRecord{
		KeyID:         "production/svc-1",
		EncryptedData: []byte{0x01, 0x02, 0x03},
		Salt:          []byte{0xaa, 0xbb},
		KeyType:       "api_key",
		Metadata:      `{"environment":"production"}`,
	}
	if err := b.PutEncryptedKey(ctx, rec); err != nil {
		t.Fatalf("PutEncryptedKey failed: %v", err)
	}

	got, err := b.GetEncryptedKey(ctx, "production/svc-1")
	if err != nil {
		t.Fatalf("GetEncryptedKey failed: %v", err)
	}
	if string(got.EncryptedData) != string(rec.EncryptedData) {
		t.Error("encrypted data mismatch")
	}
	if string(got.Salt) != string(rec.Salt) {
		t.Error("salt mismatch")
	}
	if got.KeyType != "api_key" || got.Metadata != rec.Metadata {
		t.Errorf("fields mismatch: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}
}

func TestEncryptedKeyUpsertPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	first := &EncryptedRecord{KeyID: "k", EncryptedData: []byte{1}, KeyType: "api_key"}
	if err := b.PutEncryptedKey(ctx, first); err != nil {
		t.Fatal(err)
	}
	created := first.CreatedAt

	time.Sleep(2 * time.Millisecond)
	second := &EncryptedRecord{KeyID: "k", EncryptedData: []byte{2}, KeyType: "api_key", CreatedAt: created}
	if err := b.PutEncryptedKey(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := b.GetEncryptedKey(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if got.EncryptedData[0] != 2 {
		t.Error("upsert did not replace data")
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Errorf("updated_at %v should advance past created_at %v", got.UpdatedAt, got.CreatedAt)
	}
}

func TestGetEncryptedKeyMissing(t *testing.T) {
	b := newTestBackend(t)
	if _, err := b.GetEncryptedKey(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteEncryptedKey(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	b.PutEncryptedKey(ctx, &EncryptedRecord{KeyID: "k", EncryptedData: []byte{1}, KeyType: "api_key"})
	deleted, err := b.DeleteEncryptedKey(ctx, "k")
	if err != nil || !deleted {
		t.Fatalf("DeleteEncryptedKey = (%v, %v)", deleted, err)
	}
	deleted, err = b.DeleteEncryptedKey(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if deleted {
		t.Error("second delete should report false")
	}
}

func TestListEncryptedKeysOmitsCiphertext(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	b.PutEncryptedKey(ctx, &EncryptedRecord{KeyID: "a", EncryptedData: []byte{1}, Salt: []byte{9}, KeyType: "api_key"})
	b.PutEncryptedKey(ctx, &EncryptedRecord{KeyID: "b", EncryptedData: []byte{2}, KeyType: "oauth"})

	recs, err := b.ListEncryptedKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	for _, rec := range recs {
		if len(rec.EncryptedData) != 0 {
			t.Error("list must not return ciphertext")
		}
	}
	if len(recs[0].Salt) == 0 {
		t.Error("salt presence should be visible in listings")
	}
}

func TestAccessLog(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	for _, action := range []string{"store", "retrieve", "retrieve"} {
		if err := b.LogAccess(ctx, "production/svc-1", action, "core"); err != nil {
			t.Fatal(err)
		}
	}
	b.LogAccess(ctx, "production/other", "store", "core")

	entries, err := b.QueryAccessLog(ctx, "production/svc-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Action != "retrieve" || entries[2].Action != "store" {
		t.Error("entries should be newest first")
	}

	limited, _ := b.QueryAccessLog(ctx, "production/svc-1", 2)
	if len(limited) != 2 {
		t.Errorf("limit ignored: got %d", len(limited))
	}
}

func TestStateLifecycle(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	op, err := b.SetState(ctx, "cursor", "C1")
	if err != nil {
		t.Fatal(err)
	}
	if op != models.StateInsert {
		t.Errorf("first set op = %v, want insert", op)
	}

	op, err = b.SetState(ctx, "cursor", "C2")
	if err != nil {
		t.Fatal(err)
	}
	if op != models.StateUpdate {
		t.Errorf("second set op = %v, want update", op)
	}

	e, err := b.GetState(ctx, "cursor")
	if err != nil {
		t.Fatal(err)
	}
	if e.Value != "C2" {
		t.Errorf("value = %q, want C2", e.Value)
	}

	deleted, err := b.DeleteState(ctx, "cursor")
	if err != nil || !deleted {
		t.Fatalf("DeleteState = (%v, %v)", deleted, err)
	}
	if _, err := b.GetState(ctx, "cursor"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	history, err := b.StateHistory(ctx, "cursor", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("got %d history rows, want 3", len(history))
	}
	wantOps := []models.StateOp{models.StateDelete, models.StateUpdate, models.StateInsert}
	for i, h := range history {
		if h.Op != wantOps[i] {
			t.Errorf("history[%d].Op = %v, want %v", i, h.Op, wantOps[i])
		}
	}
}

func TestDeleteStateMissingWritesNoHistory(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	deleted, err := b.DeleteState(ctx, "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if deleted {
		t.Error("missing key should report false")
	}
	history, _ := b.StateHistory(ctx, "ghost", 10)
	if len(history) != 0 {
		t.Errorf("no-op delete wrote %d history rows", len(history))
	}
}

func TestAllState(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	b.SetState(ctx, "b", "2")
	b.SetState(ctx, "a", "1")

	entries, err := b.AllState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Key != "a" || entries[1].Key != "b" {
		t.Errorf("AllState = %+v", entries)
	}
}

func TestPruneStateHistory(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	for i := 0; i < 20; i++ {
		if _, err := b.SetState(ctx, "busy", "v"); err != nil {
			t.Fatal(err)
		}
	}
	b.SetState(ctx, "calm", "v")

	pruned, err := b.PruneStateHistory(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 15 {
		t.Errorf("pruned %d rows, want 15", pruned)
	}

	busy, _ := b.StateHistory(ctx, "busy", 100)
	if len(busy) != 5 {
		t.Errorf("busy key retains %d rows, want 5", len(busy))
	}
	calm, _ := b.StateHistory(ctx, "calm", 100)
	if len(calm) != 1 {
		t.Errorf("calm key lost history: %d rows", len(calm))
	}
}

func TestAuditEventSink(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	events := []*models.AuditEvent{
		{ID: "e1", Timestamp: time.Now().Add(-time.Hour), Type: models.EventCredentialAccess,
			Level: models.LevelInfo, Actor: "vault", Success: true},
		{ID: "e2", Timestamp: time.Now(), Type: models.EventPermissionCheck,
			Level: models.LevelWarning, Actor: "engine", Success: false,
			Context: map[string]any{"missing_count": 1}},
		{ID: "e3", Timestamp: time.Now(), Type: models.EventPermissionCheck,
			Level: models.LevelCritical, Actor: "engine", Success: false},
	}
	for _, e := range events {
		if err := b.WriteAuditEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	all, err := b.QueryAuditEvents(ctx, AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	// Newest insert first
	if all[0].ID != "e3" {
		t.Errorf("first event = %s, want e3", all[0].ID)
	}

	warnings, _ := b.QueryAuditEvents(ctx, AuditFilter{MinLevel: models.LevelWarning})
	if len(warnings) != 2 {
		t.Errorf("level filter: got %d, want 2", len(warnings))
	}

	byActor, _ := b.QueryAuditEvents(ctx, AuditFilter{Actor: "vault"})
	if len(byActor) != 1 || byActor[0].Success != true {
		t.Errorf("actor filter: %+v", byActor)
	}

	byType, _ := b.QueryAuditEvents(ctx, AuditFilter{Type: models.EventPermissionCheck})
	if len(byType) != 2 {
		t.Errorf("type filter: got %d, want 2", len(byType))
	}

	since := time.Now().Add(-30 * time.Minute)
	recent, _ := b.QueryAuditEvents(ctx, AuditFilter{Since: &since})
	if len(recent) != 2 {
		t.Errorf("since filter: got %d, want 2", len(recent))
	}

	var e2 *models.AuditEvent
	for _, e := range all {
		if e.ID == "e2" {
			e2 = e
		}
	}
	if e2 == nil || e2.Context["missing_count"] != float64(1) {
		t.Errorf("context not round-tripped: %+v", e2)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.db")
	ctx := context.Background()

	b, err := NewSQLiteBackend(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	b.SetState(ctx, "k", "v")
	b.Close()

	// Reopening applies migrations again without error or data loss
	b2, err := NewSQLiteBackend(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer b2.Close()
	e, err := b2.GetState(ctx, "k")
	if err != nil || e.Value != "v" {
		t.Errorf("data lost across reopen: %v %v", e, err)
	}
}
