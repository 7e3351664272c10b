package store

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"mdpipe/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBatchWriterWritesPushedSnapshots(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "state.db")

	w := New(dbPath, 100, 20*time.Millisecond, testLogger())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap := types.StateSnapshot{
		Schema:     types.SchemaMarketStateV1,
		Exchange:   types.Binance,
		Instrument: "ETHUSDT",
		TsMs:       1700000000000,
		Mid:        100.5,
		Spread:     0.1,
	}
	if err := w.Push(snap); err != nil {
		t.Fatalf("Push: %v", err)
	}

	w.Stop() // drains and flushes remaining queue before returning

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open for verification: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM market_state WHERE instrument = ?", "ETHUSDT").Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
}

// TestQueueDropsOldestWhenFull exercises the bounded-queue policy directly
// (white-box, same package) without involving the writer goroutine, since
// the policy lives entirely in Push's locked section.
func TestQueueDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	w := &BatchWriter{queueDepth: 2, running: true, logger: testLogger()}

	for i := 0; i < 5; i++ {
		if err := w.Push(types.StateSnapshot{TsMs: int64(i)}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	if len(w.queue) != 2 {
		t.Fatalf("queue length = %d, want 2 (bounded at queueDepth)", len(w.queue))
	}
	if w.queue[len(w.queue)-1].TsMs != 4 {
		t.Errorf("last queued ts = %d, want 4 (most recent push survives)", w.queue[len(w.queue)-1].TsMs)
	}
	if w.queue[0].TsMs != 3 {
		t.Errorf("oldest surviving ts = %d, want 3", w.queue[0].TsMs)
	}
}

func TestPushAfterStopReturnsError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "state.db")

	w := New(dbPath, 10, 50*time.Millisecond, testLogger())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop()

	if err := w.Push(types.StateSnapshot{}); err != ErrNotRunning {
		t.Errorf("Push after Stop = %v, want ErrNotRunning", err)
	}
}

func TestStartFailsOnUnwritablePath(t *testing.T) {
	t.Parallel()

	w := New("/nonexistent-dir/state.db", 10, time.Second, testLogger())
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Fatal("expected Start to fail for an unwritable path")
	}
}
