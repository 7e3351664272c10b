// Package aggregator fans N feed adapters' quotes into one shared state
// map: a StateVector (mid, spread, returns, top-5 depth, imbalance) per
// (exchange, instrument) key, read out by an independent sampling loop.
// The whole map is guarded by a single mutex, exactly as the teacher's
// internal/market.Book guards its own book snapshots — writers (feed
// goroutines) and the one reader (the sampler) both hold the lock for
// their full critical section, and the reader releases it immediately
// after copying rather than holding it across any I/O.
package aggregator

import (
	"math"
	"sync"

	"mdpipe/internal/book"
	"mdpipe/pkg/types"
)

// historyEvictionMs bounds how long a mid-price sample is retained for
// return computation — matches the original feed's 15-second window,
// generous enough that an r10 lookup never runs dry under normal cadence.
const historyEvictionMs = 15000

const imbalanceEpsilon = 1e-9

type historyPoint struct {
	tsMs int64
	mid  float64
}

// Aggregator is the single-mutex fan-in point for all feed adapters.
type Aggregator struct {
	mu        sync.Mutex
	state     map[types.MarketKey]types.StateVector
	history   map[types.MarketKey][]historyPoint
	lastQuote map[types.MarketKey]types.Quote
	lastBook  map[types.MarketKey]*book.Book
}

// New creates an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{
		state:     make(map[types.MarketKey]types.StateVector),
		history:   make(map[types.MarketKey][]historyPoint),
		lastQuote: make(map[types.MarketKey]types.Quote),
		lastBook:  make(map[types.MarketKey]*book.Book),
	}
}

// OnQuote is the callback installed on every feed adapter. It updates
// mid/spread, evicts stale history, recomputes r1/r5/r10, refreshes the
// top-5 depth vectors and imbalance, and caches the latest quote and book
// for the sampling loop — all under one critical section.
func (a *Aggregator) OnQuote(exchange types.Exchange, q types.Quote, ob *book.Book) {
	key := types.MarketKey{Exchange: exchange, Instrument: q.Instrument}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastQuote[key] = q
	a.lastBook[key] = ob.Clone()

	mid := 0.5 * (q.Bid + q.Ask)
	spread := q.Ask - q.Bid

	hist := append(a.history[key], historyPoint{tsMs: q.TsMs, mid: mid})
	hist = evictOlderThan(hist, q.TsMs, historyEvictionMs)
	a.history[key] = hist

	sv := a.state[key]
	sv.Mid = mid
	sv.Spread = spread
	sv.R1, sv.R5, sv.R10 = computeReturns(hist, q.TsMs, mid)

	sv.BidVol = topNVolumes(ob, book.Bid)
	sv.AskVol = topNVolumes(ob, book.Ask)
	sv.Imbalance = computeImbalance(sv.BidVol, sv.AskVol)
	sv.CrossExSignal = 0.0 // structural placeholder; no cross-exchange correlation engine

	a.state[key] = sv
}

// evictOlderThan drops leading samples older than now-windowMs, matching
// the original's pop-from-front-while-too-old loop.
func evictOlderThan(hist []historyPoint, now int64, windowMs int64) []historyPoint {
	i := 0
	for i < len(hist) && now-hist[i].tsMs > windowMs {
		i++
	}
	if i == 0 {
		return hist
	}
	return append(hist[:0:0], hist[i:]...)
}

// computeReturns reverse-scans history for the first sample at least 1s,
// 5s, 10s old, returning ln(mid/sample) for each, or 0 if no sample is
// that old yet.
func computeReturns(hist []historyPoint, nowMs int64, mid float64) (r1, r5, r10 float64) {
	var found1, found5, found10 bool
	for i := len(hist) - 1; i >= 0; i-- {
		dt := float64(nowMs-hist[i].tsMs) / 1000.0
		if dt >= 1.0 && !found1 {
			r1 = math.Log(mid / hist[i].mid)
			found1 = true
		}
		if dt >= 5.0 && !found5 {
			r5 = math.Log(mid / hist[i].mid)
			found5 = true
		}
		if dt >= 10.0 && !found10 {
			r10 = math.Log(mid / hist[i].mid)
			found10 = true
		}
	}
	return r1, r5, r10
}

// topNVolumes reads up to 5 levels from ob and zero-pads the remainder —
// the book itself never pads (TopN returns exactly what it has); padding
// to a fixed-width feature vector is the aggregator's responsibility.
func topNVolumes(ob *book.Book, side book.Side) [5]float64 {
	var out [5]float64
	levels := ob.TopN(side, 5)
	for i, lvl := range levels {
		f, _ := lvl.Qty.Float64()
		out[i] = f
	}
	return out
}

func computeImbalance(bidVol, askVol [5]float64) float64 {
	var bidSum, askSum float64
	for i := 0; i < 5; i++ {
		bidSum += bidVol[i]
		askSum += askVol[i]
	}
	return (bidSum - askSum) / (bidSum + askSum + imbalanceEpsilon)
}

// Entry is one key's state as handed to the sampling loop.
type Entry struct {
	Key   types.MarketKey
	State types.StateVector
	Quote types.Quote
	Book  *book.Book
}

// CopyAll takes a short-lived lock, copies the state/quote/book maps, and
// returns immediately — the snapshot loop does all further work (encoding,
// publishing, durable writes) outside the lock.
func (a *Aggregator) CopyAll() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Entry, 0, len(a.state))
	for key, sv := range a.state {
		q, hasQuote := a.lastQuote[key]
		ob, hasBook := a.lastBook[key]
		if !hasQuote || !hasBook {
			continue
		}
		out = append(out, Entry{Key: key, State: sv, Quote: q, Book: ob})
	}
	return out
}
