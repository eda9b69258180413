package liquidity

import (
	"testing"

	"github.com/shopspring/decimal"

	"dex-orderbook-aggregator/pkg/bookdata"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func lvl(price, size string) bookdata.Level {
	return bookdata.Level{Price: d(price), Size: d(size)}
}

func snapshotWithAsks(mid string, asks ...bookdata.Level) bookdata.Snapshot {
	m := d(mid)
	return bookdata.Snapshot{
		Bids: []bookdata.Level{{Price: d("99"), Size: d("1")}},
		Asks: asks,
		Mid:  &m,
	}
}

func TestCalculateBuyCostSmall(t *testing.T) {
	t.Parallel()

	snap := snapshotWithAsks("100.5", lvl("101", "1"), lvl("102", "3"))
	metrics := Calculate(snap, []decimal.Decimal{decimal.NewFromInt(50)})

	buy := metrics["50"].Buy
	if !buy.TotalCost.Equal(d("50")) {
		t.Errorf("total_cost = %v, want 50.00", buy.TotalCost)
	}
	if !buy.AvgPrice.Round(8).Equal(d("101")) {
		t.Errorf("avg_price = %v, want 101", buy.AvgPrice)
	}
	if buy.LevelsUsed != 1 {
		t.Errorf("levels_used = %d, want 1", buy.LevelsUsed)
	}
	if !buy.Feasible {
		t.Error("expected feasible=true")
	}
	wantBps := d("49.75")
	if buy.SlippageBps.Round(2).Cmp(wantBps) != 0 {
		t.Errorf("slippage_bps = %v, want ~49.75", buy.SlippageBps)
	}
	wantBase := d("0.4950")
	if buy.TotalCost.Div(buy.AvgPrice).Round(4).Cmp(wantBase) != 0 {
		t.Errorf("base units = %v, want ~0.4950", buy.TotalCost.Div(buy.AvgPrice))
	}
}

func TestCalculateBuyCostTwoLevels(t *testing.T) {
	t.Parallel()

	snap := snapshotWithAsks("100.5", lvl("101", "1"), lvl("102", "3"))
	metrics := Calculate(snap, []decimal.Decimal{decimal.NewFromInt(200)})

	buy := metrics["200"].Buy
	if buy.LevelsUsed != 2 {
		t.Errorf("levels_used = %d, want 2", buy.LevelsUsed)
	}
	if !buy.Feasible {
		t.Error("expected feasible=true")
	}
	// 200 / (101/101 + 99/102) = 200 / 1.97058... = 101.4925...
	wantAvg := d("101.493")
	if buy.AvgPrice.Round(3).Cmp(wantAvg) != 0 {
		t.Errorf("avg_price = %v, want ~101.493", buy.AvgPrice)
	}
}

func TestCalculateInfeasibleReportsActualPartialFill(t *testing.T) {
	t.Parallel()

	snap := snapshotWithAsks("100.5", lvl("101", "1"))
	metrics := Calculate(snap, []decimal.Decimal{decimal.NewFromInt(500)})

	buy := metrics["500"].Buy
	if buy.Feasible {
		t.Error("expected feasible=false")
	}
	if !buy.TotalCost.Equal(d("101")) {
		t.Errorf("total_cost = %v, want 101", buy.TotalCost)
	}
	if !buy.AvgPrice.Equal(d("101")) {
		t.Errorf("avg_price = %v, want 101 (not inflated)", buy.AvgPrice)
	}
	if buy.LevelsUsed != 1 {
		t.Errorf("levels_used = %d, want 1", buy.LevelsUsed)
	}
}

func TestCalculateEmptySideIsInfeasible(t *testing.T) {
	t.Parallel()

	mid := d("100")
	snap := bookdata.Snapshot{Mid: &mid}
	metrics := Calculate(snap, []decimal.Decimal{decimal.NewFromInt(1000)})

	buy := metrics["1000"].Buy
	if buy.Feasible {
		t.Error("expected feasible=false for an empty ask side")
	}
	if buy.LevelsUsed != 0 {
		t.Errorf("levels_used = %d, want 0", buy.LevelsUsed)
	}
}

func TestCalculateNoMidReturnsEmptyLadder(t *testing.T) {
	t.Parallel()

	snap := bookdata.Snapshot{}
	metrics := Calculate(snap, []decimal.Decimal{decimal.NewFromInt(1000)})
	if len(metrics) != 0 {
		t.Errorf("expected empty ladder with no mid, got %d entries", len(metrics))
	}
}

func TestSellSideSlippageSign(t *testing.T) {
	t.Parallel()

	mid := d("100.5")
	snap := bookdata.Snapshot{
		Bids: []bookdata.Level{lvl("100", "1")},
		Asks: []bookdata.Level{lvl("101", "1")},
		Mid:  &mid,
	}
	metrics := Calculate(snap, []decimal.Decimal{decimal.NewFromInt(50)})
	sell := metrics["50"].Sell
	if !sell.AvgPrice.Equal(d("100")) {
		t.Errorf("sell avg_price = %v, want 100", sell.AvgPrice)
	}
	if sell.SlippageBps.Sign() <= 0 {
		t.Errorf("expected positive slippage_bps for a sell below mid, got %v", sell.SlippageBps)
	}
}
