// Package liquidity computes execution-cost metrics for an order book: for
// a fixed ladder of USD notional sizes, how much a market buy or sell of
// that size would cost and how far it would move the price.
package liquidity

import (
	"fmt"

	"github.com/shopspring/decimal"

	"dex-orderbook-aggregator/pkg/bookdata"
)

var feasibilityEpsilon = decimal.NewFromFloat(0.01)
var bps = decimal.NewFromInt(10000)

// Calculate walks both sides of snapshot for every size and returns the
// full ladder keyed by the integer USD size rendered as a string.
//
// If the snapshot has no mid price (either side empty), Calculate returns
// an empty map — there is no reference price to measure slippage against.
func Calculate(snapshot bookdata.Snapshot, sizes []decimal.Decimal) map[string]bookdata.LiquidityMetricPair {
	if snapshot.Mid == nil {
		return map[string]bookdata.LiquidityMetricPair{}
	}
	mid := *snapshot.Mid

	out := make(map[string]bookdata.LiquidityMetricPair, len(sizes))
	for _, size := range sizes {
		buy := walk(snapshot.Asks, size, mid, true)
		sell := walk(snapshot.Bids, size, mid, false)
		out[formatSize(size)] = bookdata.LiquidityMetricPair{Buy: buy, Sell: sell}
	}
	return out
}

func formatSize(size decimal.Decimal) string {
	return size.StringFixed(0)
}

// walk consumes levels from best to worst until remainingUSD is exhausted
// or levels run out. isBuy controls the slippage sign: a buy's average
// price should exceed mid, a sell's should fall short of it.
func walk(levels []bookdata.Level, sizeUSD, mid decimal.Decimal, isBuy bool) bookdata.LiquidityMetric {
	if len(levels) == 0 {
		return bookdata.LiquidityMetric{
			SizeUSD:     sizeUSD,
			TotalCost:   decimal.Zero,
			AvgPrice:    decimal.Zero,
			SlippageBps: decimal.Zero,
			LevelsUsed:  0,
			Feasible:    false,
		}
	}

	remaining := sizeUSD
	totalCost := decimal.Zero
	totalBase := decimal.Zero
	levelsUsed := 0

	for _, level := range levels {
		if remaining.Sign() <= 0 {
			break
		}

		levelUSD := level.Price.Mul(level.Size)

		if levelUSD.GreaterThanOrEqual(remaining) {
			baseUnits := remaining.Div(level.Price)
			totalCost = totalCost.Add(remaining)
			totalBase = totalBase.Add(baseUnits)
			levelsUsed++
			remaining = decimal.Zero
			break
		}

		totalCost = totalCost.Add(levelUSD)
		totalBase = totalBase.Add(level.Size)
		remaining = remaining.Sub(levelUSD)
		levelsUsed++
	}

	feasible := remaining.LessThanOrEqual(feasibilityEpsilon)

	avgPrice := decimal.Zero
	slippageBps := decimal.Zero
	if totalBase.Sign() > 0 {
		avgPrice = totalCost.Div(totalBase)
		if mid.Sign() > 0 {
			var slippage decimal.Decimal
			if isBuy {
				slippage = avgPrice.Sub(mid)
			} else {
				slippage = mid.Sub(avgPrice)
			}
			slippageBps = slippage.Div(mid).Mul(bps)
		}
	}

	// An infeasible ladder size still reports the actual partial-fill
	// VWAP and slippage rather than an inflated value — the shortfall is
	// visible in Feasible, not faked into SlippageBps.

	return bookdata.LiquidityMetric{
		SizeUSD:     sizeUSD,
		TotalCost:   totalCost,
		AvgPrice:    avgPrice,
		SlippageBps: slippageBps,
		LevelsUsed:  levelsUsed,
		Feasible:    feasible,
	}
}

// DefaultSizes parses a list of float64 USD sizes (as loaded from config)
// into decimals, keeping the order they were given in.
func DefaultSizes(sizesUSD []float64) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, 0, len(sizesUSD))
	for _, f := range sizesUSD {
		d := decimal.NewFromFloat(f)
		if d.Sign() <= 0 {
			return nil, fmt.Errorf("liquidity ladder size must be > 0, got %v", f)
		}
		out = append(out, d)
	}
	return out, nil
}
