package snapshot

import (
	"testing"

	"github.com/shopspring/decimal"

	"mdpipe/internal/aggregator"
	"mdpipe/internal/book"
	"mdpipe/pkg/types"
)

func TestBuildSnapshotMapsEntryFields(t *testing.T) {
	t.Parallel()

	ob := book.New()
	ob.ApplySnapshot(
		[]types.PriceLevel{{Price: decimal.NewFromFloat(100), Qty: decimal.NewFromFloat(1)}},
		[]types.PriceLevel{{Price: decimal.NewFromFloat(101), Qty: decimal.NewFromFloat(2)}},
	)

	entry := aggregator.Entry{
		Key: types.MarketKey{Exchange: types.Binance, Instrument: "ETHUSDT"},
		State: types.StateVector{
			Mid: 100.5, Spread: 1, R1: 0.01, R5: 0.02, R10: 0.03,
			Imbalance: 0.1, CrossExSignal: 0,
			BidVol: [5]float64{1, 0, 0, 0, 0},
			AskVol: [5]float64{2, 0, 0, 0, 0},
		},
		Quote: types.Quote{Bid: 100, Ask: 101},
		Book:  ob,
	}

	snap := buildSnapshot(entry, 12345)

	if snap.Schema != types.SchemaMarketStateV1 {
		t.Errorf("schema = %q", snap.Schema)
	}
	if snap.TsMs != 12345 {
		t.Errorf("ts_ms = %d, want 12345 (wall clock, not quote time)", snap.TsMs)
	}
	if snap.BidLevels != 1 || snap.AskLevels != 1 {
		t.Errorf("levels = (%d,%d), want (1,1)", snap.BidLevels, snap.AskLevels)
	}
	if snap.Mid != 100.5 || snap.Spread != 1 {
		t.Errorf("mid/spread = (%v,%v), want (100.5,1)", snap.Mid, snap.Spread)
	}
	if snap.CrossExSignal != 0 {
		t.Errorf("cross_ex_signal = %v, want 0", snap.CrossExSignal)
	}
}
