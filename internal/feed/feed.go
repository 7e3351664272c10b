// Package feed implements one websocket adapter per (exchange, instrument)
// pair. Each adapter owns a single TLS websocket connection and one
// internal/book.Book, decodes exchange-specific frames per the dispatch
// rules below, and invokes an injected OnQuote callback on every frame —
// the same connect/read-loop/backoff shape as the teacher's
// internal/exchange.WSFeed, generalized from one venue to two.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"mdpipe/internal/book"
	"mdpipe/pkg/types"
)

const (
	initialBackoff   = time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// OnQuote is invoked on every decoded frame with the current quote and a
// reference to the adapter's own order book. The callback must not retain
// ob beyond the call — it is mutated in place by the next frame.
type OnQuote func(q types.Quote, ob *book.Book)

// Adapter is one (exchange, instrument) websocket feed.
type Adapter interface {
	// Run connects and maintains the connection with auto-reconnect,
	// blocking until ctx is cancelled.
	Run(ctx context.Context) error
}

// runWithBackoff drives connect in a loop with exponential backoff and
// jitter (1s → 30s cap), exactly matching the teacher's WSFeed.Run.
func runWithBackoff(ctx context.Context, logger *slog.Logger, connect func(ctx context.Context) error) error {
	backoff := initialBackoff

	for {
		err := connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Warn("feed disconnected, reconnecting", "error", err, "backoff", backoff)

		jittered := backoff + time.Duration(float64(backoff)*0.25*jitterFraction())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// jitterFraction returns a small pseudo-random fraction in [0,1) derived
// from the wall clock, avoiding a dependency on math/rand seeding for what
// is purely a thundering-herd smoother on reconnect timing.
func jitterFraction() float64 {
	ns := time.Now().UnixNano()
	return float64(ns%1000) / 1000.0
}

func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}
