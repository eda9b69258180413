// Package book maintains a synchronized in-process mirror of every
// (venue, market) order book, derives the snapshot and liquidity metrics
// on every update, and notifies a callback the instant a book's mid price
// changes.
//
// One mutex per (venue, market) key serializes reads and writes to that
// key only; different keys proceed fully in parallel. The mutex is
// created lazily on first touch.
package book

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dex-orderbook-aggregator/internal/history"
	"dex-orderbook-aggregator/internal/liquidity"
	"dex-orderbook-aggregator/pkg/bookdata"
)

// TickCallback is invoked once per (venue, market) whenever the derived
// mid price changes from the previously published value. It is always
// called from the Store's own dispatcher goroutine, never from inside
// the per-key critical section that produced the change, so a slow or
// blocked subscriber can never stall an Update call. Ticks are queued
// (up to 1024 pending); when the queue is full a tick is dropped rather
// than making Update wait.
type TickCallback func(venue bookdata.Venue, market string, mid decimal.Decimal, ts time.Time)

type key struct {
	venue  bookdata.Venue
	market string
}

func (k key) String() string {
	return string(k.venue) + "/" + k.market
}

type entry struct {
	bids map[string]bookdata.Level
	asks map[string]bookdata.Level

	initialized      bool
	snapshot         bookdata.Snapshot
	metrics          bookdata.LiquidityMetrics
	lastPublishedMid *decimal.Decimal
}

type tickEvent struct {
	venue  bookdata.Venue
	market string
	mid    decimal.Decimal
	ts     time.Time
}

// Store holds every tracked (venue, market) book.
type Store struct {
	logger *slog.Logger
	sizes  []decimal.Decimal
	hist   *history.Tracker

	mapMu sync.Mutex
	locks map[key]*sync.Mutex
	data  map[key]*entry

	tickCh   chan tickEvent
	onTick   TickCallback
	tickOnce sync.Once
}

// NewStore constructs a Store. sizes is the fixed liquidity ladder;
// hist receives every derived mid-price sample; onTick fires on mid
// change (may be nil to disable tick notifications).
func NewStore(logger *slog.Logger, sizes []decimal.Decimal, hist *history.Tracker, onTick TickCallback) *Store {
	s := &Store{
		logger: logger,
		sizes:  sizes,
		hist:   hist,
		locks:  make(map[key]*sync.Mutex),
		data:   make(map[key]*entry),
		tickCh: make(chan tickEvent, 1024),
		onTick: onTick,
	}
	go s.dispatchTicks()
	return s
}

func (s *Store) lockFor(k key) *sync.Mutex {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}

func (s *Store) entryFor(k key) *entry {
	e, ok := s.data[k]
	if !ok {
		e = &entry{
			bids: make(map[string]bookdata.Level),
			asks: make(map[string]bookdata.Level),
		}
		s.data[k] = e
	}
	return e
}

// Update applies an incoming book event. A snapshot event (or the first
// event ever seen for this key) replaces the book outright; otherwise
// each level is applied as a diff, where a zero or negative size removes
// the level.
func (s *Store) Update(u bookdata.BookUpdate) {
	k := key{venue: u.Venue, market: u.Market}
	lock := s.lockFor(k)
	lock.Lock()
	defer lock.Unlock()

	s.mapMu.Lock()
	e := s.entryFor(k)
	s.mapMu.Unlock()

	if u.IsSnapshot || !e.initialized {
		e.bids = levelsToMap(u.Bids)
		e.asks = levelsToMap(u.Asks)
		e.initialized = true
	} else {
		applyDiff(e.bids, u.Bids)
		applyDiff(e.asks, u.Asks)
	}

	snapshot := deriveSnapshot(u.Venue, u.Market, e, u.Timestamp)
	e.snapshot = snapshot
	e.metrics = bookdata.LiquidityMetrics{
		Venue:     u.Venue,
		Market:    u.Market,
		Timestamp: u.Timestamp,
		Metrics:   liquidity.Calculate(snapshot, s.sizes),
	}

	s.logCrossedBook(u.Venue, u.Market, snapshot)

	if snapshot.Mid == nil {
		return
	}
	mid := *snapshot.Mid

	if s.hist != nil {
		s.hist.Append(k.String(), bookdata.PricePoint{
			TimestampSeconds: float64(u.Timestamp.UnixNano()) / 1e9,
			Mid:              mid,
		})
	}

	if e.lastPublishedMid == nil || !e.lastPublishedMid.Equal(mid) {
		published := mid
		e.lastPublishedMid = &published
		s.enqueueTick(u.Venue, u.Market, mid, u.Timestamp)
	}
}

func (s *Store) logCrossedBook(venue bookdata.Venue, market string, snap bookdata.Snapshot) {
	bid, hasBid := snap.BestBid()
	ask, hasAsk := snap.BestAsk()
	if hasBid && hasAsk && bid.Price.GreaterThanOrEqual(ask.Price) {
		s.logger.Warn("crossed book", "venue", venue, "market", market,
			"best_bid", bid.Price.String(), "best_ask", ask.Price.String())
	}
}

func (s *Store) enqueueTick(venue bookdata.Venue, market string, mid decimal.Decimal, ts time.Time) {
	if s.onTick == nil {
		return
	}
	select {
	case s.tickCh <- tickEvent{venue: venue, market: market, mid: mid, ts: ts}:
	default:
		s.logger.Warn("tick queue full, dropping tick", "venue", venue, "market", market)
	}
}

func (s *Store) dispatchTicks() {
	for evt := range s.tickCh {
		s.onTick(evt.venue, evt.market, evt.mid, evt.ts)
	}
}

// GetSnapshot returns the current derived snapshot for (venue, market).
func (s *Store) GetSnapshot(venue bookdata.Venue, market string) (bookdata.Snapshot, bool) {
	k := key{venue: venue, market: market}
	lock := s.lockFor(k)
	lock.Lock()
	defer lock.Unlock()

	s.mapMu.Lock()
	e, ok := s.data[k]
	s.mapMu.Unlock()
	if !ok || !e.initialized {
		return bookdata.Snapshot{}, false
	}
	return e.snapshot, true
}

// GetMetrics returns the current liquidity ladder for (venue, market).
func (s *Store) GetMetrics(venue bookdata.Venue, market string) (bookdata.LiquidityMetrics, bool) {
	k := key{venue: venue, market: market}
	lock := s.lockFor(k)
	lock.Lock()
	defer lock.Unlock()

	s.mapMu.Lock()
	e, ok := s.data[k]
	s.mapMu.Unlock()
	if !ok || !e.initialized {
		return bookdata.LiquidityMetrics{}, false
	}
	return e.metrics, true
}

// TrackedMarkets returns every (venue, market) pair with an initialized
// book.
func (s *Store) TrackedMarkets() []struct {
	Venue  bookdata.Venue
	Market string
} {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	out := make([]struct {
		Venue  bookdata.Venue
		Market string
	}, 0, len(s.data))
	for k, e := range s.data {
		if e.initialized {
			out = append(out, struct {
				Venue  bookdata.Venue
				Market string
			}{Venue: k.venue, Market: k.market})
		}
	}
	return out
}

func levelsToMap(levels []bookdata.Level) map[string]bookdata.Level {
	out := make(map[string]bookdata.Level, len(levels))
	for _, l := range levels {
		out[l.Price.String()] = l
	}
	return out
}

func applyDiff(dst map[string]bookdata.Level, levels []bookdata.Level) {
	for _, l := range levels {
		priceKey := l.Price.String()
		if l.Size.Sign() <= 0 {
			delete(dst, priceKey)
			continue
		}
		dst[priceKey] = l
	}
}

func deriveSnapshot(venue bookdata.Venue, market string, e *entry, ts time.Time) bookdata.Snapshot {
	bids := sortedLevels(e.bids, true)
	asks := sortedLevels(e.asks, false)

	snap := bookdata.Snapshot{
		Venue:     venue,
		Market:    market,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
	}

	if len(bids) == 0 || len(asks) == 0 {
		return snap
	}

	bestBid := bids[0].Price
	bestAsk := asks[0].Price

	mid := bestBid.Add(bestAsk).Div(decimal.NewFromInt(2))
	spread := bestAsk.Sub(bestBid)

	snap.Mid = &mid
	snap.Spread = &spread

	if mid.Sign() > 0 {
		spreadBps := spread.Div(mid).Mul(decimal.NewFromInt(10000))
		snap.SpreadBps = &spreadBps
	}

	return snap
}

func sortedLevels(levels map[string]bookdata.Level, descending bool) []bookdata.Level {
	out := make([]bookdata.Level, 0, len(levels))
	for _, l := range levels {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// Stats returns aggregate store statistics for the /stats endpoint.
func (s *Store) Stats(historySeconds int) map[string]any {
	s.mapMu.Lock()
	tracked := 0
	for _, e := range s.data {
		if e.initialized {
			tracked++
		}
	}
	s.mapMu.Unlock()

	totalPoints := 0
	if s.hist != nil {
		totalPoints = s.hist.Count()
	}

	return map[string]any{
		"tracked_markets":       tracked,
		"total_price_points":    totalPoints,
		"price_history_seconds": historySeconds,
	}
}
