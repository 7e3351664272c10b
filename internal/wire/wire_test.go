package wire

import (
	"encoding/json"
	"testing"

	"mdpipe/pkg/types"
)

func sampleSnapshot() types.StateSnapshot {
	return types.StateSnapshot{
		Schema:     types.SchemaMarketStateV1,
		Exchange:   types.Binance,
		Instrument: "ETHUSDT",
		TsMs:       1700000000123,
		BidLevels:  5,
		AskLevels:  4,
		Bid:        3163.10,
		Ask:        3163.20,
		Mid:        3163.15,
		Spread:     0.10,
		R1:         0.0012,
		R5:         0.0045,
		R10:        0.0089,
		Imbalance:  0.23456789,
		BidVol:     [5]float64{1, 2, 3, 0, 0},
		AskVol:     [5]float64{4, 5, 0, 0, 0},
	}
}

// TestRoundTrip is property 7: encode → decode → encode produces a
// byte-identical second encoding.
func TestRoundTrip(t *testing.T) {
	t.Parallel()

	s := sampleSnapshot()
	first, err := Encode(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, ok := Decode(first)
	if !ok {
		t.Fatal("decode returned ok=false")
	}

	second, err := Encode(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}

	if string(first) != string(second) {
		t.Errorf("round trip mismatch:\nfirst:  %s\nsecond: %s", first, second)
	}
}

func TestEncodeProducesExpectedSchema(t *testing.T) {
	t.Parallel()

	data, err := Encode(sampleSnapshot())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"schema", "exchange", "instrument", "ts_ms", "book_meta", "top_of_book", "returns", "depth", "features"} {
		if _, ok := generic[field]; !ok {
			t.Errorf("missing field %q", field)
		}
	}
	if generic["schema"] != types.SchemaMarketStateV1 {
		t.Errorf("schema = %v, want %v", generic["schema"], types.SchemaMarketStateV1)
	}
}

func TestDecodeAcceptsNumericStrings(t *testing.T) {
	t.Parallel()

	raw := `{
		"schema": "market_state_v1",
		"exchange": "bybit",
		"instrument": "BTCUSDT",
		"ts_ms": 1700000000000,
		"book_meta": {"bid_levels": 1, "ask_levels": 1},
		"top_of_book": {"bid": "100.00000000", "ask": "101.00000000", "mid": "100.50000000", "spread": "1.00000000"},
		"returns": {"r1": "0.00000000", "r5": "0.00000000", "r10": "0.00000000"},
		"depth": {"bid_vol": ["1.00000000",0,0,0,0], "ask_vol": [0,0,0,0,0]},
		"features": {"imbalance": "0.50000000"}
	}`

	snap, ok := Decode([]byte(raw))
	if !ok {
		t.Fatal("decode returned ok=false for numeric-string payload")
	}
	if snap.Bid != 100.0 {
		t.Errorf("bid = %v, want 100.0", snap.Bid)
	}
	if snap.Imbalance != 0.5 {
		t.Errorf("imbalance = %v, want 0.5", snap.Imbalance)
	}
}

func TestDecodeRejectsWrongSchema(t *testing.T) {
	t.Parallel()

	_, ok := Decode([]byte(`{"schema":"something_else"}`))
	if ok {
		t.Error("decode should reject a mismatched schema tag")
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	_, ok := Decode([]byte(`not json`))
	if ok {
		t.Error("decode should reject malformed JSON")
	}
}

func TestTopicFormat(t *testing.T) {
	t.Parallel()

	got := Topic("state.", types.Binance, "ETHUSDT")
	want := "state.binance.ETHUSDT"
	if got != want {
		t.Errorf("Topic = %q, want %q", got, want)
	}
}
