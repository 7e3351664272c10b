package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"mdpipe/internal/book"
	"mdpipe/pkg/types"
)

const bybitHost = "wss://stream.bybit.com/v5/public/spot"

// bybitSubscribeDepth snaps a requested book depth to one of Bybit's
// supported orderbook stream levels (1, 50, 200, 1000).
func bybitSubscribeDepth(depth int) int {
	switch {
	case depth <= 1:
		return 1
	case depth <= 50:
		return 50
	case depth <= 200:
		return 200
	default:
		return 1000
	}
}

// BybitFeed is the (bybit, instrument) adapter.
type BybitFeed struct {
	instrument  string
	depth       int
	subDepth    int
	orderTopic  string
	tickerTopic string
	book        *book.Book
	onQuote     OnQuote
	logger      *slog.Logger
	rest        *RESTBootstrapper

	spot, bid, ask float64
}

// NewBybitFeed creates an adapter for one Bybit instrument, owning its own
// order book.
func NewBybitFeed(instrument string, depth int, onQuote OnQuote, logger *slog.Logger) *BybitFeed {
	subDepth := bybitSubscribeDepth(depth)
	return &BybitFeed{
		instrument:  instrument,
		depth:       depth,
		subDepth:    subDepth,
		orderTopic:  fmt.Sprintf("orderbook.%d.%s", subDepth, instrument),
		tickerTopic: "tickers." + instrument,
		book:        book.New(),
		onQuote:     onQuote,
		logger:      logger.With("component", "feed.bybit", "instrument", instrument),
		rest:        NewRESTBootstrapper(),
	}
}

// Run connects and maintains the Bybit stream with auto-reconnect.
func (f *BybitFeed) Run(ctx context.Context) error {
	return runWithBackoff(ctx, f.logger, f.connectAndRead)
}

type bybitSubscribeMsg struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func (f *BybitFeed) connectAndRead(ctx context.Context) error {
	conn, err := dial(ctx, bybitHost)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub := bybitSubscribeMsg{
		Op:   "subscribe",
		Args: []string{f.orderTopic, f.tickerTopic},
	}
	if err := writeJSON(conn, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("bybit feed connected")

	restLimit := f.subDepth
	if restLimit > 200 {
		restLimit = 200 // REST orderbook endpoint caps out below the 1000-level ws stream
	}
	if bids, asks, err := f.rest.BybitDepth(ctx, f.instrument, restLimit); err != nil {
		f.logger.Warn("bybit depth bootstrap failed, waiting for first ws snapshot", "error", err)
	} else {
		f.book.ApplySnapshot(bids, asks)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

type bybitEnvelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

// dispatch decodes one frame by its topic field. Ticker frames update the
// cached spot/bid/ask and emit a quote. Orderbook frames apply a snapshot
// or delta to the book depending on the message's "type" field (default
// "snapshot") and then emit a quote carrying the cached spot/bid/ask.
func (f *BybitFeed) dispatch(data []byte) {
	var env bybitEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Topic == "" {
		return
	}

	switch env.Topic {
	case f.tickerTopic:
		f.handleTicker(env.Data)
	case f.orderTopic:
		f.handleOrderbook(env.Data, env.Type)
	}
}

func (f *BybitFeed) handleTicker(data json.RawMessage) {
	obj := firstObject(data)
	if obj == nil {
		return
	}

	if raw, ok := obj["lastPrice"]; ok {
		f.spot = numberOrStringToFloat(raw)
	}
	if raw, ok := obj["bid1Price"]; ok {
		f.bid = numberOrStringToFloat(raw)
	} else if f.bid == 0 {
		f.bid = decimalToFloat(f.book.BestBid())
	}
	if raw, ok := obj["ask1Price"]; ok {
		f.ask = numberOrStringToFloat(raw)
	} else if f.ask == 0 {
		f.ask = decimalToFloat(f.book.BestAsk())
	}

	if f.onQuote == nil {
		return
	}
	q := types.Quote{
		Exchange:   types.Bybit,
		Instrument: f.instrument,
		Bid:        f.bid,
		Ask:        f.ask,
		Spot:       f.spot,
		TsMs:       time.Now().UnixMilli(),
	}
	f.onQuote(q, f.book)
}

func (f *BybitFeed) handleOrderbook(data json.RawMessage, msgType string) {
	obj := firstObject(data)
	if obj == nil {
		return
	}

	var bidsRaw, asksRaw []json.RawMessage
	if raw, ok := obj["b"]; ok {
		json.Unmarshal(raw, &bidsRaw)
	}
	if raw, ok := obj["a"]; ok {
		json.Unmarshal(raw, &asksRaw)
	}

	bids := decodeLevelsFlexible(bidsRaw)
	asks := decodeLevelsFlexible(asksRaw)

	if msgType == "" || msgType == "snapshot" {
		f.book.ApplySnapshot(bids, asks)
	} else {
		f.book.ApplyDelta(bids, asks)
	}

	if f.onQuote == nil {
		return
	}
	f.onQuote(types.Quote{
		Exchange:   types.Bybit,
		Instrument: f.instrument,
		Bid:        f.bid,
		Ask:        f.ask,
		Spot:       f.spot,
		TsMs:       time.Now().UnixMilli(),
	}, f.book)
}

// firstObject accepts Bybit's "data may be an object or a one-element
// array" ambiguity and returns the single object either way.
func firstObject(data json.RawMessage) map[string]json.RawMessage {
	var obj map[string]json.RawMessage
	if json.Unmarshal(data, &obj) == nil && len(obj) > 0 {
		return obj
	}
	var arr []map[string]json.RawMessage
	if json.Unmarshal(data, &arr) == nil && len(arr) > 0 {
		return arr[0]
	}
	return nil
}

func decimalToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
