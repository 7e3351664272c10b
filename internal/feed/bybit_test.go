package feed

import (
	"testing"

	"github.com/shopspring/decimal"

	"mdpipe/internal/book"
	"mdpipe/pkg/types"
)

func TestBybitSubscribeDepthSnapsToTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want int
	}{
		{1, 1}, {2, 50}, {50, 50}, {100, 200}, {200, 200}, {1000, 1000},
	}
	for _, tt := range tests {
		if got := bybitSubscribeDepth(tt.in); got != tt.want {
			t.Errorf("bybitSubscribeDepth(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBybitDispatchTickerEmitsQuote(t *testing.T) {
	t.Parallel()

	var lastQuote types.Quote
	f := NewBybitFeed("ETHUSDT", 50, func(q types.Quote, _ *book.Book) {
		lastQuote = q
	}, testLogger())

	f.dispatch([]byte(`{"topic":"tickers.ETHUSDT","data":{"lastPrice":"3163.25","bid1Price":"3163.10","ask1Price":"3163.20"}}`))

	if lastQuote.Spot != 3163.25 || lastQuote.Bid != 3163.10 || lastQuote.Ask != 3163.20 {
		t.Errorf("quote = %+v, want spot=3163.25 bid=3163.10 ask=3163.20", lastQuote)
	}
}

func TestBybitDispatchTickerDataAsArray(t *testing.T) {
	t.Parallel()

	var lastQuote types.Quote
	f := NewBybitFeed("ETHUSDT", 50, func(q types.Quote, _ *book.Book) {
		lastQuote = q
	}, testLogger())

	f.dispatch([]byte(`{"topic":"tickers.ETHUSDT","data":[{"lastPrice":3163.25}]}`))
	if lastQuote.Spot != 3163.25 {
		t.Errorf("spot = %v, want 3163.25 (numeric, not string)", lastQuote.Spot)
	}
}

func TestBybitDispatchOrderbookSnapshotThenDelta(t *testing.T) {
	t.Parallel()

	var ob *book.Book
	f := NewBybitFeed("ETHUSDT", 50, func(q types.Quote, b *book.Book) {
		ob = b
	}, testLogger())

	f.dispatch([]byte(`{"topic":"orderbook.50.ETHUSDT","type":"snapshot","data":{"b":[["100","1"],["99","2"]],"a":[["101","3"]]}}`))
	if ob == nil {
		t.Fatal("orderbook frame must emit a quote")
	}
	if f.book.BidLevels() != 2 {
		t.Fatalf("bid levels = %d, want 2", f.book.BidLevels())
	}

	f.dispatch([]byte(`{"topic":"orderbook.50.ETHUSDT","type":"delta","data":{"b":[["100","0"],["98","5"]],"a":[]}}`))
	if f.book.BidLevels() != 2 {
		t.Errorf("bid levels after delta = %d, want 2 (99 kept, 100 removed, 98 added)", f.book.BidLevels())
	}
	if got := f.book.BestBid(); !got.Equal(decimal.NewFromInt(99)) {
		t.Errorf("best bid = %s, want 99", got)
	}
}
