package reconciler

import (
	"path/filepath"
	"testing"

	"mdpipe/pkg/types"
)

func TestFundingDedupeKeyFormat(t *testing.T) {
	t.Parallel()

	key := FundingDedupeKey(1000, "ETHUSDT", dec("1.5"), "USDT")
	want := "1000|ETHUSDT|1.5|USDT"
	if key != want {
		t.Errorf("key = %q, want %q", key, want)
	}
}

func TestFundingLedgerAppendIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "funding.jsonl")

	l, err := OpenFundingLedger(path)
	if err != nil {
		t.Fatalf("OpenFundingLedger: %v", err)
	}

	rec := types.FundingRecord{
		TsMs:     1000,
		Category: "linear",
		Symbol:   "ETHUSDT",
		FundID:   FundingDedupeKey(1000, "ETHUSDT", dec("1.5"), "USDT"),
		Funding:  dec("1.5"),
		Currency: "USDT",
	}

	ok, err := l.Append(rec)
	if err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if !ok {
		t.Fatal("expected first Append to succeed")
	}

	ok, err = l.Append(rec)
	if err != nil {
		t.Fatalf("second Append: %v", err)
	}
	if ok {
		t.Error("second Append with the same fundId should be a no-op")
	}

	// Re-opening rehydrates the dedup set from disk.
	l2, err := OpenFundingLedger(path)
	if err != nil {
		t.Fatalf("re-open: %v", err)
	}
	if ok, _ := l2.Append(rec); ok {
		t.Error("append after reopen should still be deduped")
	}
}

func TestSumTradesWindow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "trades.jsonl")

	r, err := New(ledgerPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Reconcile("spot", "ETHUSDT", s5Execs()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	// Both close events fall at ts_ms=3000 (the closing fill's timestamp).
	summary, err := SumTradesWindow(ledgerPath, "ETHUSDT", 0, 3000)
	if err != nil {
		t.Fatalf("SumTradesWindow: %v", err)
	}
	if summary.CloseEvents != 2 {
		t.Errorf("close_events = %d, want 2", summary.CloseEvents)
	}
	if !summary.GrossRealized.Equal(dec("25")) {
		t.Errorf("gross_realized = %v, want 25", summary.GrossRealized)
	}

	narrow, err := SumTradesWindow(ledgerPath, "ETHUSDT", 3000, 3000)
	if err != nil {
		t.Fatalf("SumTradesWindow (exclusive start): %v", err)
	}
	if narrow.CloseEvents != 0 {
		t.Errorf("exclusive-start window close_events = %d, want 0", narrow.CloseEvents)
	}
}

func TestSumExecFeesWindow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "execs.jsonl")
	writeLines(t, path, []string{
		`{"ts_ms":1000,"category":"spot","symbol":"ETHUSDT","execId":"a","orderId":"o","side":"Buy","execPrice":"100","execQty":"1","execFee":"0.1","execType":"Trade"}`,
		`{"ts_ms":2000,"category":"spot","symbol":"ETHUSDT","execId":"b","orderId":"o","side":"Buy","execPrice":"100","execQty":"1","execFee":"0.2","execType":"Trade"}`,
	})

	sum, err := SumExecFeesWindow(path, "ETHUSDT", 0, 2000)
	if err != nil {
		t.Fatalf("SumExecFeesWindow: %v", err)
	}
	if !sum.Equal(dec("0.3")) {
		t.Errorf("sum = %v, want 0.3", sum)
	}
}
