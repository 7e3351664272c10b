// Package live routes the live trading harness's order decisions to an
// exchange and appends resulting fills to the executions ledger that the
// reconciler folds into realized PnL. Exchange order-signing and REST
// submission are explicitly out of scope (see spec.md's Non-goals): the
// boundary is the injected OrderSubmitter interface, the same seam the
// teacher's engine uses for its own exchange client dependency.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mdpipe/internal/risk"
	"mdpipe/pkg/types"
)

// Order is a request to buy or sell qty of symbol at market.
type Order struct {
	Category string
	Symbol   string
	Side     types.Side
	Qty      decimal.Decimal
}

// OrderSubmitter is the exchange boundary: given an Order it returns the
// resulting fill as an ExecutionRecord, or an error if the order could
// not be placed. Real implementations sign and submit a REST request;
// this package never does so itself.
type OrderSubmitter interface {
	Submit(ctx context.Context, order Order) (types.ExecutionRecord, error)
}

// Router consumes StateSnapshots, applies the same r1-sign sizing rule
// as the paper engine, and — unless the risk gate's kill switch is
// engaged — submits an order and appends the resulting fill to the
// executions ledger.
type Router struct {
	submitter      OrderSubmitter
	risk           *risk.Manager
	execLedgerPath string
	notional       decimal.Decimal
	logger         *slog.Logger

	mu       sync.Mutex
	lastSide map[types.MarketKey]types.Side
}

// New creates a Router. notionalUSD sizes every order placed.
func New(submitter OrderSubmitter, riskMgr *risk.Manager, execLedgerPath string, notionalUSD float64, logger *slog.Logger) *Router {
	return &Router{
		submitter:      submitter,
		risk:           riskMgr,
		execLedgerPath: execLedgerPath,
		notional:       decimal.NewFromFloat(notionalUSD),
		logger:         logger.With("component", "live.router"),
		lastSide:       make(map[types.MarketKey]types.Side),
	}
}

// OnSnapshot evaluates one StateSnapshot. It is a no-op when the risk
// gate's kill switch is engaged, when r1 is flat, or when the desired
// side matches the side last routed for this key.
func (r *Router) OnSnapshot(ctx context.Context, s types.StateSnapshot) error {
	if r.risk != nil && r.risk.IsKillSwitchActive() {
		r.logger.Warn("kill switch active, skipping order", "instrument", s.Instrument)
		return nil
	}

	var side types.Side
	switch {
	case s.R1 > 0:
		side = types.Buy
	case s.R1 < 0:
		side = types.Sell
	default:
		return nil
	}

	key := types.MarketKey{Exchange: s.Exchange, Instrument: s.Instrument}
	r.mu.Lock()
	last, seen := r.lastSide[key]
	r.mu.Unlock()
	if seen && last == side {
		return nil
	}

	mid := decimal.NewFromFloat(s.Mid)
	if !mid.IsPositive() {
		return nil
	}
	qty := r.notional.Div(mid)

	order := Order{Category: "spot", Symbol: s.Instrument, Side: side, Qty: qty}
	exec, err := r.submitter.Submit(ctx, order)
	if err != nil {
		return fmt.Errorf("submit order for %s: %w", s.Instrument, err)
	}

	if err := appendExecution(r.execLedgerPath, exec); err != nil {
		return fmt.Errorf("append execution for %s: %w", s.Instrument, err)
	}

	r.mu.Lock()
	r.lastSide[key] = side
	r.mu.Unlock()

	if r.risk != nil {
		exposure, _ := qty.Mul(mid).Float64()
		r.risk.Report(risk.PositionReport{
			Key:         key,
			ExposureUSD: exposure,
			MidPrice:    s.Mid,
			Timestamp:   time.Now(),
		})
	}

	return nil
}

// appendExecution appends one ExecutionRecord as a line to the
// executions ledger, creating the file if needed.
func appendExecution(path string, rec types.ExecutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open executions ledger for append: %w", err)
	}
	defer f.Close()

	_, err = f.Write(append(data, '\n'))
	return err
}
