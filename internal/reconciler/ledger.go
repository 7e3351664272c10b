// Package reconciler folds an append-only executions ledger into an
// idempotent trades ledger of realized FIFO round-trips, grounded on the
// lot-matching and ledger-file logic in original_source/place_order's
// reconciliation routines. Ledgers are JSON-lines files; this file holds
// the executions reader and the trade ledger's line-oriented read/append
// helpers (the funding ledger's live in funding.go).
package reconciler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"mdpipe/pkg/types"
)

// ReadExecutions reads the executions ledger, keeps only records for the
// given (category, symbol) with execType == "Trade", and returns them
// sorted by (ts_ms ascending, execId lexicographic) to impose the total
// order the matcher requires.
func ReadExecutions(path, category, symbol string) ([]types.ExecutionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open executions ledger %s: %w", path, err)
	}
	defer f.Close()

	var out []types.ExecutionRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.ExecutionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // malformed line, skip per the original's try/catch-and-continue
		}
		if rec.Category != category || rec.Symbol != symbol {
			continue
		}
		if rec.ExecType != "Trade" {
			continue
		}
		if rec.ExecID == "" || rec.Side == "" {
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan executions ledger: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TsMs != out[j].TsMs {
			return out[i].TsMs < out[j].TsMs
		}
		return out[i].ExecID < out[j].ExecID
	})
	return out, nil
}

// TradeLedger owns the trades ledger file and the in-memory set of
// tradeIds already written to it, hydrated once at open time so repeated
// reconciler runs append zero duplicate trade events.
type TradeLedger struct {
	path string
	seen map[string]struct{}
}

// OpenTradeLedger hydrates the dedup set from any existing ledger file.
func OpenTradeLedger(path string) (*TradeLedger, error) {
	seen := make(map[string]struct{})

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &TradeLedger{path: path, seen: seen}, nil
		}
		return nil, fmt.Errorf("open trades ledger %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev types.TradeEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if ev.TradeID != "" {
			seen[ev.TradeID] = struct{}{}
		}
	}
	return &TradeLedger{path: path, seen: seen}, nil
}

// Seen reports whether tradeId has already been written to the ledger.
func (l *TradeLedger) Seen(tradeID string) bool {
	_, ok := l.seen[tradeID]
	return ok
}

// Append writes ev to the ledger and records its tradeId, unless it is
// already present — in which case Append is a no-op that returns false.
func (l *TradeLedger) Append(ev types.TradeEvent) (bool, error) {
	if ev.TradeID == "" {
		return false, fmt.Errorf("trade event missing tradeId")
	}
	if l.Seen(ev.TradeID) {
		return false, nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("marshal trade event: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("open trades ledger for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return false, fmt.Errorf("append trade event: %w", err)
	}

	l.seen[ev.TradeID] = struct{}{}
	return true, nil
}

// ReadAllTrades reads every TradeEvent in the ledger, in file order.
func ReadAllTrades(path string) ([]types.TradeEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open trades ledger %s: %w", path, err)
	}
	defer f.Close()

	var out []types.TradeEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev types.TradeEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}
