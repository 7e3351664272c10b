// Package subscriber reads StateSnapshots back off the bus for
// downstream consumers (paper and live trading harnesses). Grounded on
// the same autovant execution service's nc.Subscribe callback style, it
// filters by topic prefix rather than a single exact subject so one
// subscriber can follow every (exchange, instrument) key at once.
package subscriber

import (
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"mdpipe/internal/wire"
	"mdpipe/pkg/types"
)

// Handler is invoked for every snapshot that decodes successfully.
// Malformed or schema-mismatched payloads are dropped silently — per the
// publisher/subscriber's tolerant "no record" contract, a bad frame is
// never treated as an error that could halt the consumer.
type Handler func(s types.StateSnapshot)

// Subscriber owns a NATS subscription scoped to one topic prefix.
type Subscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// Subscribe connects to url and subscribes to prefix+">" (every subject
// under the prefix), invoking handler for each decodable snapshot.
func Subscribe(url, prefix string, handler Handler, logger *slog.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to bus at %s: %w", url, err)
	}
	logger = logger.With("component", "subscriber")

	sub, err := nc.Subscribe(prefix+">", func(msg *nats.Msg) {
		decodeAndDispatch(msg.Data, handler, logger)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to %s>: %w", prefix, err)
	}

	return &Subscriber{nc: nc, sub: sub, logger: logger}, nil
}

func decodeAndDispatch(data []byte, handler Handler, logger *slog.Logger) {
	snap, ok := wire.Decode(data)
	if !ok {
		logger.Debug("dropping undecodable snapshot frame", "bytes", len(data))
		return
	}
	handler(snap)
}

// Close unsubscribes and closes the bus connection.
func (s *Subscriber) Close() {
	s.sub.Unsubscribe()
	s.nc.Close()
}
