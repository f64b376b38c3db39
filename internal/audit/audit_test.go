package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit", "audit.db")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log, path
}

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	log, path := openTestLog(t)

	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	first := &Entry{MAC: "AA", Fields: map[string]any{"warmingSwitch1": true}, Result: "success", Attempts: 1, CreatedAt: base}
	second := &Entry{MAC: "AA", Fields: map[string]any{"windSwitch": false}, Result: "command_failed", Error: "http 500", Attempts: 1, CreatedAt: base.Add(time.Minute)}
	for _, e := range []*Entry{first, second} {
		if err := log.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if !strings.HasPrefix(first.ID, "cmd-") {
		t.Fatalf("expected generated id, got %q", first.ID)
	}

	entries, err := log.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != second.ID {
		t.Fatalf("expected newest first, got %s", entries[0].ID)
	}
	if entries[0].Error != "http 500" || entries[1].Error != "" {
		t.Fatalf("unexpected error columns: %q %q", entries[0].Error, entries[1].Error)
	}
	if entries[1].Fields["warmingSwitch1"] != true {
		t.Fatalf("unexpected fields: %v", entries[1].Fields)
	}
	if !entries[1].CreatedAt.Equal(base) {
		t.Fatalf("unexpected created_at: %s", entries[1].CreatedAt)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 database file, got %v", info.Mode().Perm())
	}
}

func TestRecentLimit(t *testing.T) {
	ctx := context.Background()
	log, _ := openTestLog(t)
	for i := 0; i < 3; i++ {
		if err := log.Record(ctx, &Entry{MAC: "AA", Fields: map[string]any{}, Result: "success", Attempts: 1}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	entries, err := log.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	_, path := openTestLog(t)
	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = again.Close()
}

func seedAges(t *testing.T, log *Log, ages ...time.Duration) {
	t.Helper()
	now := time.Now()
	for _, age := range ages {
		entry := &Entry{MAC: "AA", Fields: map[string]any{}, Result: "success", Attempts: 1, CreatedAt: now.Add(-age)}
		if err := log.Record(context.Background(), entry); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	log, _ := openTestLog(t)
	seedAges(t, log, 72*time.Hour, 49*time.Hour, time.Hour, 0)

	removed, err := log.Prune(ctx, time.Now().Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 rows removed, got %d", removed)
	}
	entries, err := log.Recent(ctx, 10)
	if err != nil || len(entries) != 2 {
		t.Fatalf("expected 2 remaining, got %d %v", len(entries), err)
	}
}

func TestPrunerRunsOnStart(t *testing.T) {
	log, _ := openTestLog(t)
	seedAges(t, log, 10*24*time.Hour, time.Minute)

	pruner, err := StartPruner(log, 24*time.Hour, time.Hour, nil)
	if err != nil {
		t.Fatalf("StartPruner: %v", err)
	}
	defer pruner.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for {
		entries, err := log.Recent(context.Background(), 10)
		if err == nil && len(entries) == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("pruner did not run: %d entries, %v", len(entries), err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStartPrunerRejectsZeroRetention(t *testing.T) {
	log, _ := openTestLog(t)
	if _, err := StartPruner(log, 0, time.Hour, nil); err == nil {
		t.Fatalf("expected error for zero retention")
	}
}
