// Package publisher fans out StateSnapshots to the shared bus. It plays
// the role of the original's ZeroMQ PUB socket; grounded on the NATS
// wiring in the autovant execution service (nats.Connect + nc.Publish),
// it substitutes a NATS subject per (exchange, instrument) key for a PUB
// topic string, keeping the same "never block the sampling loop" contract
// with its own bounded, non-blocking send queue.
package publisher

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"mdpipe/internal/wire"
	"mdpipe/pkg/types"
)

// Publisher owns one NATS connection and a single background sender
// goroutine draining a bounded queue. Publish never blocks the caller:
// when the queue is full, the new message is silently dropped and
// counted, distinct from the batch writer's drop-oldest policy — a
// publish lagging behind is stale and not worth keeping at all.
type Publisher struct {
	nc          *nats.Conn
	topicPrefix string
	logger      *slog.Logger

	queue chan queuedMsg

	mu      sync.Mutex
	dropped uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type queuedMsg struct {
	subject string
	data    []byte
}

// New dials the bus and starts the sender goroutine. url is a NATS
// server URL (e.g. "nats://localhost:4222"); topicPrefix matches
// config.PublisherConfig.TopicPrefix (default "state.").
func New(url, topicPrefix string, queueDepth int, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to bus at %s: %w", url, err)
	}

	p := &Publisher{
		nc:          nc,
		topicPrefix: topicPrefix,
		logger:      logger.With("component", "publisher"),
		queue:       make(chan queuedMsg, queueDepth),
		stopCh:      make(chan struct{}),
	}

	p.wg.Add(1)
	go p.sendLoop()
	return p, nil
}

// Publish encodes s and enqueues it for send on its (exchange,
// instrument) subject. It never blocks: a full queue drops the message.
func (p *Publisher) Publish(s types.StateSnapshot) {
	data, err := wire.Encode(s)
	if err != nil {
		p.logger.Error("encode snapshot for publish", "error", err, "instrument", s.Instrument)
		return
	}
	subject := wire.Topic(p.topicPrefix, s.Exchange, s.Instrument)

	select {
	case p.queue <- queuedMsg{subject: subject, data: data}:
	default:
		p.mu.Lock()
		p.dropped++
		n := p.dropped
		p.mu.Unlock()
		if n%100 == 1 {
			p.logger.Warn("publisher queue full, dropping snapshot", "subject", subject, "dropped_total", n)
		}
	}
}

// Dropped returns the cumulative count of snapshots dropped for a full queue.
func (p *Publisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Publisher) sendLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case m := <-p.queue:
			if err := p.nc.Publish(m.subject, m.data); err != nil {
				p.logger.Error("publish failed", "subject", m.subject, "error", err)
			}
		}
	}
}

// Close stops the sender goroutine and closes the bus connection.
func (p *Publisher) Close() {
	close(p.stopCh)
	p.wg.Wait()
	p.nc.Close()
}
