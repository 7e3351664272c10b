package live

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mdpipe/internal/config"
	"mdpipe/internal/reconciler"
	"mdpipe/internal/risk"
	"mdpipe/pkg/types"
)

type fakeSubmitter struct {
	calls int
	fail  bool
}

func (f *fakeSubmitter) Submit(ctx context.Context, order Order) (types.ExecutionRecord, error) {
	f.calls++
	if f.fail {
		return types.ExecutionRecord{}, context.DeadlineExceeded
	}
	return types.ExecutionRecord{
		TsMs:      types.FlexInt64(int64(f.calls) * 1000),
		Category:  order.Category,
		Symbol:    order.Symbol,
		ExecID:    "exec-" + order.Symbol,
		OrderID:   "order-" + order.Symbol,
		Side:      order.Side,
		ExecPrice: decimal.NewFromInt(100),
		ExecQty:   order.Qty,
		ExecFee:   decimal.Zero,
		ExecType:  "Trade",
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snap(mid, r1 float64) types.StateSnapshot {
	return types.StateSnapshot{
		Schema:     types.SchemaMarketStateV1,
		Exchange:   types.Binance,
		Instrument: "ETHUSDT",
		Mid:        mid,
		R1:         r1,
	}
}

func TestOnSnapshotSubmitsAndAppendsOnDirectionChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "executions.jsonl")
	sub := &fakeSubmitter{}
	r := New(sub, nil, ledgerPath, 100, testLogger())

	if err := r.OnSnapshot(context.Background(), snap(100, 0.01)); err != nil {
		t.Fatalf("OnSnapshot: %v", err)
	}
	if sub.calls != 1 {
		t.Fatalf("calls = %d, want 1", sub.calls)
	}

	execs, err := reconciler.ReadExecutions(ledgerPath, "spot", "ETHUSDT")
	if err != nil {
		t.Fatalf("ReadExecutions: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("ledger has %d records, want 1", len(execs))
	}
}

func TestOnSnapshotHoldsWithoutResubmittingSameDirection(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "executions.jsonl")
	sub := &fakeSubmitter{}
	r := New(sub, nil, ledgerPath, 100, testLogger())

	if err := r.OnSnapshot(context.Background(), snap(100, 0.01)); err != nil {
		t.Fatalf("first OnSnapshot: %v", err)
	}
	if err := r.OnSnapshot(context.Background(), snap(101, 0.02)); err != nil {
		t.Fatalf("second OnSnapshot: %v", err)
	}

	if sub.calls != 1 {
		t.Errorf("calls = %d, want 1 (same direction should not resubmit)", sub.calls)
	}
}

func TestOnSnapshotSkipsWhenKillSwitchActive(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "executions.jsonl")
	sub := &fakeSubmitter{}

	rm := risk.NewManager(config.RiskConfig{MaxPositionPerKeyUSD: 1}, testLogger())
	r := New(sub, rm, ledgerPath, 100, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rm.Run(ctx)

	// Force a breach so the kill switch engages.
	rm.Report(risk.PositionReport{
		Key:         types.MarketKey{Exchange: types.Binance, Instrument: "ETHUSDT"},
		ExposureUSD: 1000,
	})

	deadline := time.Now().Add(2 * time.Second)
	for !rm.IsKillSwitchActive() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !rm.IsKillSwitchActive() {
		t.Fatal("kill switch did not engage within the deadline")
	}

	if err := r.OnSnapshot(context.Background(), snap(100, 0.01)); err != nil {
		t.Fatalf("OnSnapshot: %v", err)
	}
	if sub.calls != 0 {
		t.Errorf("calls = %d, want 0 while kill switch is active", sub.calls)
	}
}
