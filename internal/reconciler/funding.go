package reconciler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"mdpipe/pkg/types"
)

// FundingLedger owns the funding ledger file and its in-memory dedup set
// of fundIds, hydrated at open time the same way TradeLedger hydrates
// tradeIds.
type FundingLedger struct {
	path string
	seen map[string]struct{}
}

// OpenFundingLedger hydrates the dedup set from any existing ledger file.
func OpenFundingLedger(path string) (*FundingLedger, error) {
	seen := make(map[string]struct{})

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FundingLedger{path: path, seen: seen}, nil
		}
		return nil, fmt.Errorf("open funding ledger %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.FundingRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.FundID != "" {
			seen[rec.FundID] = struct{}{}
		}
	}
	return &FundingLedger{path: path, seen: seen}, nil
}

// FundingDedupeKey builds the deterministic fallback dedupe key
// `ts|symbol|funding|currency` used when a funding record carries no
// native settlement id.
func FundingDedupeKey(tsMs int64, symbol string, funding decimal.Decimal, currency string) string {
	return strconv.FormatInt(tsMs, 10) + "|" + symbol + "|" + funding.String() + "|" + currency
}

// Append writes rec to the ledger unless its FundID has already been
// seen, in which case it is a no-op that returns false.
func (l *FundingLedger) Append(rec types.FundingRecord) (bool, error) {
	if rec.FundID == "" {
		return false, fmt.Errorf("funding record missing fundId")
	}
	if _, ok := l.seen[rec.FundID]; ok {
		return false, nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal funding record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("open funding ledger for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return false, fmt.Errorf("append funding record: %w", err)
	}

	l.seen[rec.FundID] = struct{}{}
	return true, nil
}

// WindowSummary is the result of an aggregation query over a ledger.
type WindowSummary struct {
	GrossRealized decimal.Decimal
	NetRealized   decimal.Decimal
	CloseEvents   int
}

// SumTradesWindow sums gross/net realized PnL and counts close events for
// symbol within (startMs, endMs], reading the trades ledger directly —
// an all-time sum is SumTradesWindow(path, symbol, 0, math.MaxInt64).
func SumTradesWindow(path, symbol string, startMs, endMs int64) (WindowSummary, error) {
	trades, err := ReadAllTrades(path)
	if err != nil {
		return WindowSummary{}, err
	}

	var out WindowSummary
	out.GrossRealized = decimal.Zero
	out.NetRealized = decimal.Zero
	for _, ev := range trades {
		if ev.Symbol != symbol {
			continue
		}
		ts := int64(ev.TsMs)
		if ts <= startMs || ts > endMs {
			continue
		}
		out.GrossRealized = out.GrossRealized.Add(ev.GrossRealized)
		out.NetRealized = out.NetRealized.Add(ev.NetRealized)
		out.CloseEvents++
	}
	return out, nil
}

// SumExecFeesWindow sums execFee over (startMs, endMs] for symbol,
// reading the executions ledger directly.
func SumExecFeesWindow(path, symbol string, startMs, endMs int64) (decimal.Decimal, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("open executions ledger %s: %w", path, err)
	}
	defer f.Close()

	sum := decimal.Zero
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.ExecutionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Symbol != symbol {
			continue
		}
		ts := int64(rec.TsMs)
		if ts <= startMs || ts > endMs {
			continue
		}
		sum = sum.Add(rec.ExecFee)
	}
	return sum, sc.Err()
}

// SumFundingWindow sums funding settlements over (startMs, endMs] for
// symbol, reading the funding ledger directly.
func SumFundingWindow(path, symbol string, startMs, endMs int64) (decimal.Decimal, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("open funding ledger %s: %w", path, err)
	}
	defer f.Close()

	sum := decimal.Zero
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.FundingRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Symbol != symbol {
			continue
		}
		ts := int64(rec.TsMs)
		if ts <= startMs || ts > endMs {
			continue
		}
		sum = sum.Add(rec.Funding)
	}
	return sum, sc.Err()
}
