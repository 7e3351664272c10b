package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mdpipe/internal/book"
	"mdpipe/pkg/types"
)

const (
	binanceHost = "wss://stream.binance.com:9443/ws"
)

// binanceSubscribeDepth snaps a requested book depth to one of Binance's
// partial-depth stream levels (5, 10, 20), matching the original feed's
// subscription rule.
func binanceSubscribeDepth(depth int) int {
	switch {
	case depth <= 5:
		return 5
	case depth <= 10:
		return 10
	default:
		return 20
	}
}

// BinanceFeed is the (binance, instrument) adapter.
type BinanceFeed struct {
	instrument string
	depth      int
	book       *book.Book
	onQuote    OnQuote
	logger     *slog.Logger
	rest       *RESTBootstrapper

	spot, bestBid, bestAsk string
}

// NewBinanceFeed creates an adapter for one Binance instrument, owning its
// own order book.
func NewBinanceFeed(instrument string, depth int, onQuote OnQuote, logger *slog.Logger) *BinanceFeed {
	return &BinanceFeed{
		instrument: instrument,
		depth:      depth,
		book:       book.New(),
		onQuote:    onQuote,
		logger:     logger.With("component", "feed.binance", "instrument", instrument),
		rest:       NewRESTBootstrapper(),
	}
}

// Run connects and maintains the Binance stream with auto-reconnect.
func (f *BinanceFeed) Run(ctx context.Context) error {
	return runWithBackoff(ctx, f.logger, f.connectAndRead)
}

type binanceSubscribeMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

func (f *BinanceFeed) connectAndRead(ctx context.Context) error {
	symLower := strings.ToLower(f.instrument)
	subDepth := binanceSubscribeDepth(f.depth)

	conn, err := dial(ctx, binanceHost)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub := binanceSubscribeMsg{
		Method: "SUBSCRIBE",
		Params: []string{
			symLower + "@ticker",
			fmt.Sprintf("%s@depth%d@100ms", symLower, subDepth),
			symLower + "@bookTicker",
		},
		ID: 1,
	}
	if err := writeJSON(conn, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("binance feed connected")

	if bids, asks, err := f.rest.BinanceDepth(ctx, f.instrument, subDepth); err != nil {
		f.logger.Warn("binance depth bootstrap failed, waiting for first delta snapshot", "error", err)
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

// dispatch decodes one frame and updates cached state / the order book per
// the Binance dispatch rules: a 24hrTicker event updates spot; a scalar
// bid/ask pair with no event type (bookTicker) updates the top of book; a
// depthUpdate event or a lastUpdateId+bids+asks payload (REST-shaped depth
// snapshot) rebuilds the book as a fresh snapshot. Every well-formed frame
// emits a quote using the latest cached values, regardless of which branch
// matched.
func (f *BinanceFeed) dispatch(data []byte) {
	// First pass: detect top-level array-typed vs scalar-typed b/a so we
	// don't try to unmarshal a depthUpdate's arrays into string fields.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		f.logger.Debug("ignoring malformed frame")
		return
	}

	var eventType string
	if raw, ok := probe["e"]; ok {
		json.Unmarshal(raw, &eventType)
	}

	switch eventType {
	case "24hrTicker":
		if raw, ok := probe["c"]; ok {
			var s string
			if json.Unmarshal(raw, &s) == nil && s != "" {
				f.spot = s
			}
		}

	case "depthUpdate":
		f.applyLevels(probe)

	case "":
		if bRaw, hasB := probe["b"]; hasB {
			if aRaw, hasA := probe["a"]; hasA {
				var bStr string
				if json.Unmarshal(bRaw, &bStr) == nil && bStr != "" {
					f.bestBid = bStr
				}
				var aStr string
				if json.Unmarshal(aRaw, &aStr) == nil && aStr != "" {
					f.bestAsk = aStr
				}
			}
		}
		if _, hasLU := probe["lastUpdateId"]; hasLU {
			f.applyLevels(probe)
		}
	}

	f.emit()
}

func (f *BinanceFeed) applyLevels(probe map[string]json.RawMessage) {
	var bidsRaw, asksRaw []json.RawMessage
	if raw, ok := probe["b"]; ok {
		json.Unmarshal(raw, &bidsRaw)
	}
	if raw, ok := probe["bids"]; ok {
		json.Unmarshal(raw, &bidsRaw)
	}
	if raw, ok := probe["a"]; ok {
		json.Unmarshal(raw, &asksRaw)
	}
	if raw, ok := probe["asks"]; ok {
		json.Unmarshal(raw, &asksRaw)
	}

	if bidsRaw == nil && asksRaw == nil {
		return
	}
	f.book.ApplySnapshot(decodeLevels(bidsRaw), decodeLevels(asksRaw))
}

func (f *BinanceFeed) emit() {
	if f.onQuote == nil {
		return
	}
	q := types.Quote{
		Exchange:   types.Binance,
		Instrument: f.instrument,
		Bid:        atofOrZero(f.bestBid),
		Ask:        atofOrZero(f.bestAsk),
		Spot:       atofOrZero(f.spot),
		TsMs:       time.Now().UnixMilli(),
	}
	f.onQuote(q, f.book)
}
