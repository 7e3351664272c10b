package subscriber

import (
	"io"
	"log/slog"
	"testing"

	"mdpipe/internal/wire"
	"mdpipe/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeAndDispatchInvokesHandlerOnValidFrame(t *testing.T) {
	t.Parallel()

	snap := types.StateSnapshot{
		Schema:     types.SchemaMarketStateV1,
		Exchange:   types.Bybit,
		Instrument: "ETHUSDT",
		TsMs:       42,
		Mid:        100,
	}
	data, err := wire.Encode(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var got types.StateSnapshot
	called := false
	decodeAndDispatch(data, func(s types.StateSnapshot) {
		called = true
		got = s
	}, testLogger())

	if !called {
		t.Fatal("expected handler to be invoked")
	}
	if got.Instrument != "ETHUSDT" || got.TsMs != 42 {
		t.Errorf("got %+v, want instrument ETHUSDT ts_ms 42", got)
	}
}

func TestDecodeAndDispatchDropsMalformedFrameSilently(t *testing.T) {
	t.Parallel()

	called := false
	decodeAndDispatch([]byte("not json"), func(types.StateSnapshot) {
		called = true
	}, testLogger())

	if called {
		t.Error("handler should not be invoked for a malformed frame")
	}
}

func TestDecodeAndDispatchDropsSchemaMismatchSilently(t *testing.T) {
	t.Parallel()

	called := false
	decodeAndDispatch([]byte(`{"schema":"other_v1"}`), func(types.StateSnapshot) {
		called = true
	}, testLogger())

	if called {
		t.Error("handler should not be invoked for a schema mismatch")
	}
}
