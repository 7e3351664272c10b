// Package types defines the shared vocabulary for the market-data pipeline:
// market keys, quotes, order book snapshots, derived feature vectors, and
// the execution/trade ledger records consumed by the reconciler. It has no
// dependency on internal packages so any layer may import it.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Exchange identifies a supported venue.
type Exchange string

const (
	Binance Exchange = "binance"
	Bybit   Exchange = "bybit"
)

// Side is the fill direction reported by an exchange execution.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// MarketKey identifies one (exchange, instrument) stream. Equality and
// hashing are by both fields, which Go gives for free to a comparable
// struct used as a map key.
type MarketKey struct {
	Exchange   Exchange
	Instrument string
}

// PriceLevel is a single (price, quantity) pair as it arrives on the wire.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// Quote is the latest top-of-book + last-trade view emitted by a feed
// adapter on every decoded frame.
type Quote struct {
	Exchange   Exchange
	Instrument string
	Bid        float64
	Ask        float64
	Spot       float64 // last traded price
	TsMs       int64   // local wall-clock timestamp, milliseconds
}

// StateVector is the per-key derived feature set, mutated only by the
// aggregator under its single mutex.
type StateVector struct {
	Mid           float64
	Spread        float64
	R1, R5, R10   float64
	Imbalance     float64
	CrossExSignal float64
	BidVol        [5]float64
	AskVol        [5]float64
}

// StateSnapshot is the record pushed to the wire and to the batch writer.
// All fields are finite; quantities are non-negative.
type StateSnapshot struct {
	Schema        string
	Exchange      Exchange
	Instrument    string
	TsMs          int64
	BidLevels     int
	AskLevels     int
	Bid, Ask      float64
	Mid, Spread   float64
	R1, R5, R10   float64
	Imbalance     float64
	CrossExSignal float64
	BidVol        [5]float64
	AskVol        [5]float64
}

// SchemaMarketStateV1 is the wire schema tag for StateSnapshot.
const SchemaMarketStateV1 = "market_state_v1"

// FlexInt64 decodes a JSON field that may arrive as either a number or a
// numeric string, matching the executions/funding ledger's "ts_ms (int or
// numeric string)" contract and the subscriber's tolerant-decode contract.
type FlexInt64 int64

// UnmarshalJSON accepts a bare JSON number or a quoted numeric string.
func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("flex int64 %q: %w", s, err)
	}
	*f = FlexInt64(v)
	return nil
}

// MarshalJSON always emits a bare JSON number.
func (f FlexInt64) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(f))
}

// ExecutionRecord is one fill as produced by the exchange / execution
// layer and consumed by the reconciler. Only ExecType == "Trade" records
// participate in realized-PnL matching.
type ExecutionRecord struct {
	TsMs      FlexInt64       `json:"ts_ms"`
	Category  string          `json:"category"`
	Symbol    string          `json:"symbol"`
	ExecID    string          `json:"execId"`
	OrderID   string          `json:"orderId"`
	Side      Side            `json:"side"`
	ExecPrice decimal.Decimal `json:"execPrice"`
	ExecQty   decimal.Decimal `json:"execQty"`
	ExecFee   decimal.Decimal `json:"execFee"`
	ExecType  string          `json:"execType"`
}

// FundingRecord is one funding settlement as read from the funding ledger.
type FundingRecord struct {
	TsMs     FlexInt64       `json:"ts_ms"`
	Category string          `json:"category"`
	Symbol   string          `json:"symbol"`
	FundID   string          `json:"fundId,omitempty"`
	Funding  decimal.Decimal `json:"funding"`
	Currency string          `json:"currency"`
}

// LotSide is the direction of an open FIFO inventory lot.
type LotSide string

const (
	Long  LotSide = "LONG"
	Short LotSide = "SHORT"
)

// Lot is an open FIFO inventory entry awaiting a closing fill.
type Lot struct {
	Side   LotSide
	Qty    decimal.Decimal
	Price  decimal.Decimal
	ExecID string // opening execId
	TsMs   int64  // opening timestamp
	FeeRem decimal.Decimal
}

// TradeEvent is a closed FIFO round-trip written to the trades ledger.
type TradeEvent struct {
	TradeID       string          `json:"tradeId"`
	TsMs          FlexInt64       `json:"ts_ms"`
	Category      string          `json:"category"`
	Symbol        string          `json:"symbol"`
	CloseExecID   string          `json:"close_execId"`
	OpenExecID    string          `json:"open_execId"`
	SideClosed    LotSide         `json:"side_closed"`
	Qty           decimal.Decimal `json:"qty"`
	OpenPrice     decimal.Decimal `json:"open_price"`
	ClosePrice    decimal.Decimal `json:"close_price"`
	GrossRealized decimal.Decimal `json:"gross_realized"`
	FeeCloseAlloc decimal.Decimal `json:"fee_close_alloc"`
	FeeOpenAlloc  decimal.Decimal `json:"fee_open_alloc"`
	NetRealized   decimal.Decimal `json:"net_realized"`
}
