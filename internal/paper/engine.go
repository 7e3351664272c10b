package paper

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mdpipe/pkg/types"
)

// Engine drives the paper-trading harness's sizing rule: go long when r1
// is positive, go short when r1 is negative, hold through a flat tick.
// A directional flip closes the existing position at the snapshot's mid
// and immediately opens the opposite one at a fixed USD notional.
type Engine struct {
	store  *Store
	logger *slog.Logger

	mu        sync.Mutex
	positions map[types.MarketKey]Position
	notional  decimal.Decimal
}

// New creates an Engine backed by store, sizing every flip at
// notionalUSD.
func New(store *Store, notionalUSD float64, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		logger:    logger.With("component", "paper.engine"),
		positions: make(map[types.MarketKey]Position),
		notional:  decimal.NewFromFloat(notionalUSD),
	}
}

// OnSnapshot applies the sizing rule for one StateSnapshot and persists
// the resulting position.
func (e *Engine) OnSnapshot(s types.StateSnapshot) error {
	key := types.MarketKey{Exchange: s.Exchange, Instrument: s.Instrument}
	mid := decimal.NewFromFloat(s.Mid)
	if !mid.IsPositive() {
		return nil
	}

	e.mu.Lock()
	pos, ok := e.positions[key]
	e.mu.Unlock()
	if !ok {
		loaded, err := e.store.Load(key)
		if err != nil {
			return err
		}
		pos = loaded
	}

	switch {
	case s.R1 > 0:
		pos = e.ensureDirection(pos, key, mid, true)
	case s.R1 < 0:
		pos = e.ensureDirection(pos, key, mid, false)
	}
	pos.LastUpdated = time.Now()

	e.mu.Lock()
	e.positions[key] = pos
	e.mu.Unlock()

	return e.store.Save(key, pos)
}

// ensureDirection flips pos into the direction r1 calls for, realizing
// PnL on any existing opposite-side position before opening the new one.
// A position already held in the requested direction is left untouched.
func (e *Engine) ensureDirection(pos Position, key types.MarketKey, mid decimal.Decimal, wantLong bool) Position {
	isLong := pos.Qty.IsPositive()
	isShort := pos.Qty.IsNegative()

	if (wantLong && isLong) || (!wantLong && isShort) {
		return pos // already positioned correctly, hold
	}

	if !pos.Qty.IsZero() {
		realized := pos.Qty.Mul(mid.Sub(pos.AvgEntryPrice))
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		e.logger.Info("paper position flipped", "exchange", key.Exchange, "instrument", key.Instrument, "realized", realized.String())
	}

	qty := e.notional.Div(mid)
	if !wantLong {
		qty = qty.Neg()
	}
	pos.Qty = qty
	pos.AvgEntryPrice = mid
	return pos
}

// Position returns the in-memory cached position for key, if any.
func (e *Engine) Position(key types.MarketKey) (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[key]
	return pos, ok
}
