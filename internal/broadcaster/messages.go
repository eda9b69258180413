// Package broadcaster fans out book snapshots, liquidity metrics, and
// price ticks to subscribing WebSocket clients, filtered to the symbols
// each client has asked for.
package broadcaster

import (
	"time"

	"github.com/shopspring/decimal"

	"dex-orderbook-aggregator/pkg/bookdata"
)

const (
	twoDP = 2
	// maxWireLevels caps the number of levels per side sent to clients.
	// Venue depth (Hyperliquid's n_levels, Lighter's REST snapshot depth)
	// is configurable well past this; the wire contract is fixed at 20.
	maxWireLevels = 20
)

// levelWire is a single book level on the wire. Price/Size are plain
// JSON numbers: shopspring/decimal's default MarshalJSON quotes its
// output, so these go out pre-converted to float64 rather than as
// decimal.Decimal fields.
type levelWire struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

func levelsWire(levels []bookdata.Level) []levelWire {
	if len(levels) > maxWireLevels {
		levels = levels[:maxWireLevels]
	}
	out := make([]levelWire, len(levels))
	for i, l := range levels {
		out[i] = levelWire{Price: toFloat64(l.Price), Size: toFloat64(l.Size)}
	}
	return out
}

// orderBookUpdateMessage mirrors a full derived book snapshot, truncated
// to the top 20 levels per side.
type orderBookUpdateMessage struct {
	Type      string      `json:"type"`
	Exchange  string      `json:"exchange"`
	Market    string      `json:"market"`
	Bids      []levelWire `json:"bids"`
	Asks      []levelWire `json:"asks"`
	Mid       *float64    `json:"mid,omitempty"`
	Spread    *float64    `json:"spread,omitempty"`
	SpreadBps *float64    `json:"spread_bps,omitempty"`
	Timestamp float64     `json:"timestamp"`
}

func newOrderBookUpdateMessage(exchange, market string, snap bookdata.Snapshot) orderBookUpdateMessage {
	return orderBookUpdateMessage{
		Type:      "orderbook_update",
		Exchange:  exchange,
		Market:    market,
		Bids:      levelsWire(snap.Bids),
		Asks:      levelsWire(snap.Asks),
		Mid:       toFloat64Ptr(snap.Mid),
		Spread:    toFloat64Ptr(snap.Spread),
		SpreadBps: toFloat64Ptr(snap.SpreadBps),
		Timestamp: epochSeconds(snap.Timestamp),
	}
}

func toFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func toFloat64Ptr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := toFloat64(*d)
	return &f
}

// formattedMetricPair is the simplified per-size view sent to clients,
// each field rounded to 2 decimal places.
type formattedMetricPair struct {
	BuyCost         float64 `json:"buy_cost"`
	BuyAvgPrice     float64 `json:"buy_avg_price"`
	BuySlippageBps  float64 `json:"buy_slippage_bps"`
	SellProceeds    float64 `json:"sell_proceeds"`
	SellAvgPrice    float64 `json:"sell_avg_price"`
	SellSlippageBps float64 `json:"sell_slippage_bps"`
}

func formatMetricPair(pair bookdata.LiquidityMetricPair) formattedMetricPair {
	round := func(d decimal.Decimal) float64 {
		f, _ := d.Round(twoDP).Float64()
		return f
	}
	return formattedMetricPair{
		BuyCost:         round(pair.Buy.TotalCost),
		BuyAvgPrice:     round(pair.Buy.AvgPrice),
		BuySlippageBps:  round(pair.Buy.SlippageBps),
		SellProceeds:    round(pair.Sell.TotalCost),
		SellAvgPrice:    round(pair.Sell.AvgPrice),
		SellSlippageBps: round(pair.Sell.SlippageBps),
	}
}

// liquidityMetricsMessage mirrors the full ladder for one book.
type liquidityMetricsMessage struct {
	Type      string                          `json:"type"`
	Exchange  string                          `json:"exchange"`
	Market    string                          `json:"market"`
	Metrics   map[string]formattedMetricPair `json:"metrics"`
	Timestamp float64                         `json:"timestamp"`
}

func newLiquidityMetricsMessage(exchange, market string, m bookdata.LiquidityMetrics) liquidityMetricsMessage {
	out := make(map[string]formattedMetricPair, len(m.Metrics))
	for size, pair := range m.Metrics {
		out[size] = formatMetricPair(pair)
	}
	return liquidityMetricsMessage{
		Type:      "liquidity_metrics",
		Exchange:  exchange,
		Market:    market,
		Metrics:   out,
		Timestamp: epochSeconds(m.Timestamp),
	}
}

// priceUpdateMessage is sent immediately whenever a book's mid changes,
// independent of the broadcast cadence.
type priceUpdateMessage struct {
	Type      string  `json:"type"`
	Exchange  string  `json:"exchange"`
	Market    string  `json:"market"`
	Price     float64 `json:"price"`
	Timestamp float64 `json:"timestamp"`
}

func newPriceUpdateMessage(exchange, market string, mid decimal.Decimal, ts time.Time) priceUpdateMessage {
	return priceUpdateMessage{
		Type:      "price_update",
		Exchange:  exchange,
		Market:    market,
		Price:     toFloat64(mid),
		Timestamp: epochSeconds(ts),
	}
}

// subscriptionMessage is the client->server frame requesting a symbol set
// change.
type subscriptionMessage struct {
	Action  string   `json:"action"`
	Markets []string `json:"markets"`
}

type pongMessage struct {
	Type string `json:"type"`
}

type pingMessage struct {
	Type string `json:"type"`
}

func epochSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
