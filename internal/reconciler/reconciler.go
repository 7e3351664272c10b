package reconciler

import (
	"fmt"

	"github.com/shopspring/decimal"

	"mdpipe/pkg/types"
)

// lotEpsilon is the remaining-qty threshold below which an open lot is
// considered fully closed, matching the original's 1e-12 cutoff.
var lotEpsilon = decimal.New(1, -12)

// Reconciler folds a symbol's executions into its open FIFO lots and
// emits TradeEvents for every close, skipping any tradeId already
// present in the trades ledger.
type Reconciler struct {
	ledger *TradeLedger
}

// New opens (or creates) the trades ledger at tradesLedgerPath and
// hydrates its dedup set.
func New(tradesLedgerPath string) (*Reconciler, error) {
	l, err := OpenTradeLedger(tradesLedgerPath)
	if err != nil {
		return nil, err
	}
	return &Reconciler{ledger: l}, nil
}

// Result summarizes one reconciliation pass.
type Result struct {
	Events         []types.TradeEvent
	ClosedEvents   int
	DuplicatesSeen int
	OpenLots       []types.Lot
}

// Reconcile replays execs (already filtered and ordered by ReadExecutions)
// through the FIFO matcher and appends every newly-closed trade event to
// the trades ledger. Re-running with the same execs against the same
// ledger appends zero new events.
func (r *Reconciler) Reconcile(category, symbol string, execs []types.ExecutionRecord) (Result, error) {
	var lots []types.Lot
	var res Result

	for _, fill := range execs {
		closed, err := r.applyFill(category, symbol, fill, &lots)
		if err != nil {
			return res, err
		}
		for _, c := range closed {
			if c.appended {
				res.Events = append(res.Events, c.event)
				res.ClosedEvents++
			} else {
				res.DuplicatesSeen++
			}
		}
	}

	res.OpenLots = lots
	return res, nil
}

type closeOutcome struct {
	event    types.TradeEvent
	appended bool
}

// applyFill matches fill FIFO against the opposite-side open lots,
// emitting a TradeEvent per partial or full close, then opens a new lot
// on fill's own side for any unmatched remainder.
func (r *Reconciler) applyFill(category, symbol string, fill types.ExecutionRecord, lots *[]types.Lot) ([]closeOutcome, error) {
	if !fill.ExecQty.IsPositive() || !fill.ExecPrice.IsPositive() {
		return nil, nil
	}

	qOrig := fill.ExecQty
	remaining := fill.ExecQty
	var opposite types.LotSide
	var own types.LotSide

	switch fill.Side {
	case types.Buy:
		opposite, own = types.Short, types.Long
	case types.Sell:
		opposite, own = types.Long, types.Short
	default:
		return nil, nil
	}

	var outcomes []closeOutcome

	kept := (*lots)[:0]
	i := 0
	for i < len(*lots) && remaining.IsPositive() {
		lot := (*lots)[i]
		if lot.Side != opposite {
			kept = append(kept, lot)
			i++
			continue
		}

		closeQty := decimal.Min(remaining, lot.Qty)
		if !closeQty.IsPositive() {
			kept = append(kept, lot)
			i++
			continue
		}

		openPx := lot.Price
		closePx := fill.ExecPrice

		var gross decimal.Decimal
		if opposite == types.Long {
			gross = closePx.Sub(openPx).Mul(closeQty)
		} else {
			gross = openPx.Sub(closePx).Mul(closeQty)
		}

		feeCloseAlloc := decimal.Zero
		if !fill.ExecFee.IsZero() && qOrig.IsPositive() {
			feeCloseAlloc = fill.ExecFee.Mul(closeQty).Div(qOrig)
		}
		feeOpenAlloc := decimal.Zero
		if !lot.FeeRem.IsZero() && lot.Qty.IsPositive() {
			feeOpenAlloc = lot.FeeRem.Mul(closeQty).Div(lot.Qty)
		}
		net := gross.Sub(feeCloseAlloc).Sub(feeOpenAlloc)

		tradeID := makeTradeID(fill.ExecID, lot.ExecID, symbol, closeQty, openPx, closePx, int64(fill.TsMs))
		ev := types.TradeEvent{
			TradeID:       tradeID,
			TsMs:          fill.TsMs,
			Category:      category,
			Symbol:        symbol,
			CloseExecID:   fill.ExecID,
			OpenExecID:    lot.ExecID,
			SideClosed:    opposite,
			Qty:           closeQty,
			OpenPrice:     openPx,
			ClosePrice:    closePx,
			GrossRealized: gross,
			FeeCloseAlloc: feeCloseAlloc,
			FeeOpenAlloc:  feeOpenAlloc,
			NetRealized:   net,
		}

		appended, err := r.ledger.Append(ev)
		if err != nil {
			return nil, fmt.Errorf("append trade event: %w", err)
		}
		outcomes = append(outcomes, closeOutcome{event: ev, appended: appended})

		lot.FeeRem = lot.FeeRem.Sub(feeOpenAlloc)
		lot.Qty = lot.Qty.Sub(closeQty)
		remaining = remaining.Sub(closeQty)

		if lot.Qty.LessThanOrEqual(lotEpsilon) {
			i++ // lot fully closed, drop it
		} else {
			kept = append(kept, lot)
			i++
		}
	}
	kept = append(kept, (*lots)[i:]...)
	*lots = kept

	if remaining.GreaterThan(lotEpsilon) {
		feeRem := decimal.Zero
		if !fill.ExecFee.IsZero() && qOrig.IsPositive() {
			feeRem = fill.ExecFee.Mul(remaining).Div(qOrig)
		}
		*lots = append(*lots, types.Lot{
			Side:   own,
			Qty:    remaining,
			Price:  fill.ExecPrice,
			ExecID: fill.ExecID,
			TsMs:   int64(fill.TsMs),
			FeeRem: feeRem,
		})
	}

	return outcomes, nil
}

// makeTradeID builds the deterministic tradeId: a pipe-joined string of
// close_execId, open_execId, symbol, and the fixed-precision qty/prices,
// matching the original's "%.10f" formatting so identical fills always
// produce an identical id.
func makeTradeID(closeExecID, openExecID, symbol string, qty, openPx, closePx decimal.Decimal, tsMs int64) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d",
		closeExecID, openExecID, symbol,
		qty.StringFixed(10), openPx.StringFixed(10), closePx.StringFixed(10), tsMs,
	)
}
