package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

var testDate = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestAppendAndRead(t *testing.T) {
	w := NewWriter(t.TempDir())

	records := []map[string]any{
		{"type": "message", "text": "hello"},
		{"type": "message", "text": "world"},
	}
	if err := w.Append("slack", records, testDate); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := w.ReadPartition("slack", testDate)
	if err != nil {
		t.Fatalf("ReadPartition failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0]["text"] != "hello" || got[1]["text"] != "world" {
		t.Errorf("records out of order: %v", got)
	}
	// Every record is stamped at archive time
	for i, rec := range got {
		if _, ok := rec["archived_at"]; !ok {
			t.Errorf("record %d missing archived_at", i)
		}
	}
}

func TestAppendPreservesCallerTimestamp(t *testing.T) {
	w := NewWriter(t.TempDir())
	if err := w.Append("slack", []map[string]any{
		{"text": "x", "archived_at": "2020-01-01T00:00:00Z"},
	}, testDate); err != nil {
		t.Fatal(err)
	}
	got, _ := w.ReadPartition("slack", testDate)
	if got[0]["archived_at"] != "2020-01-01T00:00:00Z" {
		t.Errorf("caller-provided archived_at overwritten: %v", got[0]["archived_at"])
	}
}

func TestAppendLeavesCallerRecordsUntouched(t *testing.T) {
	w := NewWriter(t.TempDir())

	records := []map[string]any{{"text": "x"}, {"text": "y"}}
	if err := w.Append("slack", records, testDate); err != nil {
		t.Fatal(err)
	}
	for i, rec := range records {
		if _, ok := rec["archived_at"]; ok {
			t.Errorf("record %d mutated by successful append", i)
		}
	}

	// A batch rejected midway must not leave earlier records stamped.
	rejected := []map[string]any{{"ok": true}, {"bad": make(chan int)}}
	if err := w.Append("slack", rejected, testDate); !errors.Is(err, ErrNotSerializable) {
		t.Fatalf("expected ErrNotSerializable, got %v", err)
	}
	if _, ok := rejected[0]["archived_at"]; ok {
		t.Error("rejected batch mutated caller record")
	}
}

func TestPartitionLayout(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)
	if err := w.Append("calendar", []map[string]any{{"a": 1}}, testDate); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(root, "calendar", "2025-06-15", "data.jsonl")); err != nil {
		t.Errorf("data file not at expected path: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "calendar", "2025-06-15", "manifest.json")); err != nil {
		t.Errorf("manifest not at expected path: %v", err)
	}
}

func TestManifestConsistency(t *testing.T) {
	w := NewWriter(t.TempDir())

	if err := w.Append("slack", []map[string]any{{"n": 1}, {"n": 2}}, testDate); err != nil {
		t.Fatal(err)
	}
	if err := w.Append("slack", []map[string]any{{"n": 3}}, testDate); err != nil {
		t.Fatal(err)
	}

	m, err := w.Manifest("slack", testDate)
	if err != nil {
		t.Fatalf("Manifest failed: %v", err)
	}
	if m.RecordCount != 3 {
		t.Errorf("record_count = %d, want 3", m.RecordCount)
	}
	if m.Source != "slack" || m.Format != "jsonl" || m.Encoding != "utf-8" {
		t.Errorf("manifest fields wrong: %+v", m)
	}

	records, _ := w.ReadPartition("slack", testDate)
	if len(records) != m.RecordCount {
		t.Errorf("manifest count %d != physical count %d", m.RecordCount, len(records))
	}
}

func TestRejectsUnserializableBatch(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)

	err := w.Append("slack", []map[string]any{
		{"ok": true},
		{"bad": make(chan int)},
	}, testDate)
	if !errors.Is(err, ErrNotSerializable) {
		t.Fatalf("expected ErrNotSerializable, got %v", err)
	}

	// Nothing reached disk
	if _, err := os.Stat(filepath.Join(root, "slack")); !os.IsNotExist(err) {
		t.Error("rejected batch must not create partition files")
	}
}

func TestRenameFailureLeavesPartitionIntact(t *testing.T) {
	w := NewWriter(t.TempDir())
	if err := w.Append("slack", []map[string]any{{"n": 1}}, testDate); err != nil {
		t.Fatal(err)
	}

	w.renameFile = func(oldpath, newpath string) error {
		return errors.New("disk full")
	}
	if err := w.Append("slack", []map[string]any{{"n": 2}}, testDate); err == nil {
		t.Fatal("expected append to fail")
	}

	w.renameFile = os.Rename
	records, err := w.ReadPartition("slack", testDate)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0]["n"] != float64(1) {
		t.Errorf("previous content damaged: %v", records)
	}
}

func TestConcurrentAppends(t *testing.T) {
	w := NewWriter(t.TempDir())

	const writers = 5
	const perWriter = 100
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				rec := map[string]any{"writer": id, "seq": j}
				if err := w.Append("slack", []map[string]any{rec}, testDate); err != nil {
					t.Errorf("append writer=%d seq=%d: %v", id, j, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	records, err := w.ReadPartition("slack", testDate)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != writers*perWriter {
		t.Errorf("got %d records, want %d", len(records), writers*perWriter)
	}

	m, err := w.Manifest("slack", testDate)
	if err != nil {
		t.Fatal(err)
	}
	if m.RecordCount != writers*perWriter {
		t.Errorf("manifest count %d, want %d", m.RecordCount, writers*perWriter)
	}
}

func TestSources(t *testing.T) {
	w := NewWriter(t.TempDir())
	for _, src := range []string{"slack", "calendar", "drive"} {
		if err := w.Append(src, []map[string]any{{"a": 1}}, testDate); err != nil {
			t.Fatal(err)
		}
	}
	sources, err := w.Sources()
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 3 {
		t.Errorf("got %d sources, want 3: %v", len(sources), sources)
	}
}

func TestEmptyBatchIsNoop(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)
	if err := w.Append("slack", nil, testDate); err != nil {
		t.Fatalf("empty batch should succeed: %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Error("empty batch must not touch disk")
	}
}

func TestAppendRequiresSource(t *testing.T) {
	w := NewWriter(t.TempDir())
	if err := w.Append("", []map[string]any{{"a": 1}}, testDate); err == nil {
		t.Error("empty source should be rejected")
	}
}

func TestDistinctDaysPartitionSeparately(t *testing.T) {
	w := NewWriter(t.TempDir())
	day2 := testDate.Add(24 * time.Hour)

	if err := w.Append("slack", []map[string]any{{"d": 1}}, testDate); err != nil {
		t.Fatal(err)
	}
	if err := w.Append("slack", []map[string]any{{"d": 2}}, day2); err != nil {
		t.Fatal(err)
	}

	for i, day := range []time.Time{testDate, day2} {
		records, err := w.ReadPartition("slack", day)
		if err != nil {
			t.Fatalf("day %d: %v", i, err)
		}
		if len(records) != 1 {
			t.Errorf("day %d: got %d records, want 1", i, len(records))
		}
		if records[0]["d"] != float64(i+1) {
			t.Errorf("day %d holds %v", i, records[0]["d"])
		}
	}
}

func BenchmarkAppend(b *testing.B) {
	w := NewWriter(b.TempDir())
	rec := []map[string]any{{"type": "message", "text": "benchmark payload"}}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := w.Append(fmt.Sprintf("src-%d", i%4), rec, testDate); err != nil {
			b.Fatal(err)
		}
	}
}
