// Package bookdata holds the shared vocabulary types passed between the
// upstream adapters, the book store, the liquidity engine, and the
// broadcaster.
package bookdata

import (
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies a source exchange.
type Venue string

const (
	VenueHyperliquid Venue = "hyperliquid"
	VenueLighter     Venue = "lighter"
)

// Level is a single price/size pair in an order book.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookUpdate is the common event shape every upstream adapter emits into
// the book store. IsSnapshot marks a full top-of-book replace; otherwise
// Bids/Asks are incremental deltas where a zero or negative Size removes
// the level.
type BookUpdate struct {
	Venue      Venue
	Market     string
	Bids       []Level
	Asks       []Level
	Timestamp  time.Time
	IsSnapshot bool
}

// Snapshot is the book store's derived view of one (venue, market) book.
// Mid, Spread, and SpreadBps are nil whenever either side is empty.
type Snapshot struct {
	Venue     Venue
	Market    string
	Bids      []Level
	Asks      []Level
	Mid       *decimal.Decimal
	Spread    *decimal.Decimal
	SpreadBps *decimal.Decimal
	Timestamp time.Time
}

// BestBid returns the highest bid level, or false if there are none.
func (s Snapshot) BestBid() (Level, bool) {
	if len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask level, or false if there are none.
func (s Snapshot) BestAsk() (Level, bool) {
	if len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// LiquidityMetric is the cost of executing a one-sided market order of a
// fixed USD notional against one side of a book.
type LiquidityMetric struct {
	SizeUSD     decimal.Decimal
	TotalCost   decimal.Decimal
	AvgPrice    decimal.Decimal
	SlippageBps decimal.Decimal
	LevelsUsed  int
	Feasible    bool
}

// LiquidityMetricPair bundles the buy-side and sell-side metric for one
// ladder size.
type LiquidityMetricPair struct {
	Buy  LiquidityMetric
	Sell LiquidityMetric
}

// LiquidityMetrics is the full ladder for one (venue, market) book, keyed
// by the ladder size rendered as a decimal string (e.g. "1000").
type LiquidityMetrics struct {
	Venue     Venue
	Market    string
	Timestamp time.Time
	Metrics   map[string]LiquidityMetricPair
}

// PricePoint is a single (timestamp, mid) sample retained in a market's
// rolling price history.
type PricePoint struct {
	TimestampSeconds float64
	Mid              decimal.Decimal
}
