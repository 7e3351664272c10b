// Package book maintains a single exchange's L2 order book: two ordered
// price→quantity ladders, bids descending and asks ascending.
//
// A Book is owned exclusively by one feed goroutine and is not safe for
// concurrent use — the aggregator takes its own copy (via Clone) under
// its own lock before handing a reference to the sampling loop, the same
// way the teacher's market.Book exposes RWMutex-guarded readers instead
// of exposing its internal maps directly.
package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"mdpipe/pkg/types"
)

// Side selects which ladder to read in TopN.
type Side int

const (
	Bid Side = iota
	Ask
)

// Book is an ordered depth ladder per side, keyed by decimal price for
// exact equality under repeated updates (floats collapse distinct ticks).
// Iteration order is maintained lazily: a level mutation only invalidates
// a cached sorted key slice, which TopN/BestBid/BestAsk rebuild on demand.
// This is the "sorted array with lazy deletion" the spec calls out as an
// acceptable substitute for a balanced tree.
type Book struct {
	bids      map[string]types.PriceLevel
	asks      map[string]types.PriceLevel
	bidKeys   []string // cached sort of bids.keys, descending price
	askKeys   []string // cached sort of asks.keys, ascending price
	bidsDirty bool
	asksDirty bool
}

// New creates an empty order book.
func New() *Book {
	return &Book{
		bids: make(map[string]types.PriceLevel),
		asks: make(map[string]types.PriceLevel),
	}
}

// ApplySnapshot atomically clears both sides and inserts only
// strictly-positive levels. Duplicate prices within the batch collapse to
// the last value supplied (map assignment order == slice order).
func (b *Book) ApplySnapshot(bids, asks []types.PriceLevel) {
	b.bids = make(map[string]types.PriceLevel, len(bids))
	b.asks = make(map[string]types.PriceLevel, len(asks))

	for _, lvl := range bids {
		if lvl.Qty.IsPositive() {
			b.bids[lvl.Price.String()] = lvl
		}
	}
	for _, lvl := range asks {
		if lvl.Qty.IsPositive() {
			b.asks[lvl.Price.String()] = lvl
		}
	}
	b.bidsDirty = true
	b.asksDirty = true
}

// ApplyDelta merges per-level updates on top of the existing book: a
// quantity ≤ 0 removes the level, a quantity > 0 overwrites it.
func (b *Book) ApplyDelta(bids, asks []types.PriceLevel) {
	for _, lvl := range bids {
		key := lvl.Price.String()
		if !lvl.Qty.IsPositive() {
			delete(b.bids, key)
		} else {
			b.bids[key] = lvl
		}
	}
	for _, lvl := range asks {
		key := lvl.Price.String()
		if !lvl.Qty.IsPositive() {
			delete(b.asks, key)
		} else {
			b.asks[key] = lvl
		}
	}
	b.bidsDirty = true
	b.asksDirty = true
}

// BestBid returns the highest bid price, or zero if the book has no bids.
func (b *Book) BestBid() decimal.Decimal {
	b.resortBids()
	if len(b.bidKeys) == 0 {
		return decimal.Zero
	}
	return b.bids[b.bidKeys[0]].Price
}

// BestAsk returns the lowest ask price, or zero if the book has no asks.
func (b *Book) BestAsk() decimal.Decimal {
	b.resortAsks()
	if len(b.askKeys) == 0 {
		return decimal.Zero
	}
	return b.asks[b.askKeys[0]].Price
}

// TopN returns up to n levels on the given side in price priority order
// (best first). It never returns more levels than the book has.
func (b *Book) TopN(side Side, n int) []types.PriceLevel {
	var keys []string
	var levels map[string]types.PriceLevel

	switch side {
	case Bid:
		b.resortBids()
		keys, levels = b.bidKeys, b.bids
	case Ask:
		b.resortAsks()
		keys, levels = b.askKeys, b.asks
	}

	if n > len(keys) {
		n = len(keys)
	}
	out := make([]types.PriceLevel, n)
	for i := 0; i < n; i++ {
		out[i] = levels[keys[i]]
	}
	return out
}

// BidLevels returns the number of distinct bid prices currently stored.
func (b *Book) BidLevels() int { return len(b.bids) }

// AskLevels returns the number of distinct ask prices currently stored.
func (b *Book) AskLevels() int { return len(b.asks) }

// Clone returns a deep copy safe for another goroutine to read, matching
// the teacher's pattern of handing the snapshot loop a stable view
// without it sharing the feed goroutine's mutable maps.
func (b *Book) Clone() *Book {
	out := New()
	for k, v := range b.bids {
		out.bids[k] = v
	}
	for k, v := range b.asks {
		out.asks[k] = v
	}
	out.bidsDirty = true
	out.asksDirty = true
	return out
}

func (b *Book) resortBids() {
	if !b.bidsDirty {
		return
	}
	b.bidKeys = make([]string, 0, len(b.bids))
	for k := range b.bids {
		b.bidKeys = append(b.bidKeys, k)
	}
	sort.Slice(b.bidKeys, func(i, j int) bool {
		return b.bids[b.bidKeys[i]].Price.GreaterThan(b.bids[b.bidKeys[j]].Price)
	})
	b.bidsDirty = false
}

func (b *Book) resortAsks() {
	if !b.asksDirty {
		return
	}
	b.askKeys = make([]string, 0, len(b.asks))
	for k := range b.asks {
		b.askKeys = append(b.askKeys, k)
	}
	sort.Slice(b.askKeys, func(i, j int) bool {
		return b.asks[b.askKeys[i]].Price.LessThan(b.asks[b.askKeys[j]].Price)
	})
	b.asksDirty = false
}
