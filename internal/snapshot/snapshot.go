// Package snapshot runs the fixed-interval sampling loop that ties the
// aggregator, wire encoder, publisher and batch writer together: at each
// tick it copies the aggregator's state, stamps a StateSnapshot with the
// current wall-clock time, publishes it, and enqueues it for durable
// storage. It sleeps on an absolute deadline rather than a relative
// interval, so processing time shorter than the interval never lets the
// cadence drift — the Go expression of the original's
// sleep_until(t0 + interval).
package snapshot

import (
	"context"
	"log/slog"
	"time"

	"mdpipe/internal/aggregator"
	"mdpipe/internal/publisher"
	"mdpipe/internal/store"
	"mdpipe/pkg/types"
)

// Loop owns the aggregator read side and fans each tick's entries out to
// the publisher and the batch writer.
type Loop struct {
	agg      *aggregator.Aggregator
	pub      *publisher.Publisher
	writer   *store.BatchWriter
	interval time.Duration
	logger   *slog.Logger
}

// New creates a snapshot Loop. interval is the fixed tick period
// (config's orderBookPollFrequencyInMs).
func New(agg *aggregator.Aggregator, pub *publisher.Publisher, writer *store.BatchWriter, interval time.Duration, logger *slog.Logger) *Loop {
	return &Loop{
		agg:      agg,
		pub:      pub,
		writer:   writer,
		interval: interval,
		logger:   logger.With("component", "snapshot.loop"),
	}
}

// Run ticks until ctx is canceled. Each tick is stamped with an absolute
// deadline computed from the previous tick, so a tick that finishes within
// the interval never delays the next one's nominal start time. A tick that
// overruns the next deadline resets it to now+interval instead.
func (l *Loop) Run(ctx context.Context) {
	deadline := time.Now().Add(l.interval)

	for {
		timer := time.NewTimer(time.Until(deadline))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		l.tick()
		deadline = deadline.Add(l.interval)
		if time.Now().After(deadline) {
			// processing overran one or more intervals: resync instead of
			// firing a burst of already-late ticks back to back.
			deadline = time.Now().Add(l.interval)
		}
	}
}

func (l *Loop) tick() {
	nowMs := time.Now().UnixMilli()
	for _, entry := range l.agg.CopyAll() {
		snap := buildSnapshot(entry, nowMs)
		l.pub.Publish(snap)
		if err := l.writer.Push(snap); err != nil {
			l.logger.Error("push snapshot to batch writer", "error", err, "instrument", entry.Key.Instrument)
		}
	}
}

func buildSnapshot(entry aggregator.Entry, nowMs int64) types.StateSnapshot {
	sv := entry.State
	return types.StateSnapshot{
		Schema:        types.SchemaMarketStateV1,
		Exchange:      entry.Key.Exchange,
		Instrument:    entry.Key.Instrument,
		TsMs:          nowMs,
		BidLevels:     entry.Book.BidLevels(),
		AskLevels:     entry.Book.AskLevels(),
		Bid:           entry.Quote.Bid,
		Ask:           entry.Quote.Ask,
		Mid:           sv.Mid,
		Spread:        sv.Spread,
		R1:            sv.R1,
		R5:            sv.R5,
		R10:           sv.R10,
		Imbalance:     sv.Imbalance,
		CrossExSignal: sv.CrossExSignal,
		BidVol:        sv.BidVol,
		AskVol:        sv.AskVol,
	}
}
