package exchange

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLighterChannelIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		channel string
		want    int
		wantErr bool
	}{
		{name: "colon response channel", channel: "order_book:3", want: 3},
		{name: "zero index", channel: "order_book:0", want: 0},
		{name: "slash form is not a response channel", channel: "order_book/3", wantErr: true},
		{name: "missing index", channel: "order_book", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseLighterChannelIndex(tt.channel)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for channel %q", tt.channel)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("index = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestToLighterWireLevels(t *testing.T) {
	t.Parallel()

	wire := []lighterLevelWire{
		{Price: "101.5", Size: "2.25"},
		{Price: "102.0", Size: "1"},
	}

	levels, err := toLighterWireLevels(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if !levels[0].Price.Equal(decimal.RequireFromString("101.5")) {
		t.Errorf("price = %v, want 101.5", levels[0].Price)
	}
	if !levels[0].Size.Equal(decimal.RequireFromString("2.25")) {
		t.Errorf("size = %v, want 2.25", levels[0].Size)
	}
}

func TestToLighterWireLevelsInvalidPrice(t *testing.T) {
	t.Parallel()

	_, err := toLighterWireLevels([]lighterLevelWire{{Price: "not-a-number", Size: "1"}})
	if err == nil {
		t.Error("expected error for unparseable price")
	}
}

func TestLighterMarketKey(t *testing.T) {
	t.Parallel()
	if got := lighterMarketKey(0); got != "market_0" {
		t.Errorf("lighterMarketKey(0) = %q, want market_0", got)
	}
	if got := lighterMarketKey(2); got != "market_2" {
		t.Errorf("lighterMarketKey(2) = %q, want market_2", got)
	}
}

func TestHandleMessageParsesNestedOrderBook(t *testing.T) {
	t.Parallel()

	a := NewLighterAdapter("wss://example.invalid/stream", 0, 0, nil, 20, 100, 0, testLogger())
	a.subs[3] = true

	raw := []byte(`{
		"type": "update/order_book",
		"channel": "order_book:3",
		"order_book": {
			"code": 0,
			"offset": 123456,
			"bids": [{"price": "101.5", "size": "2.25"}],
			"asks": [{"price": "102.0", "size": "1"}]
		}
	}`)

	a.handleMessage(raw)

	select {
	case u := <-a.Updates():
		if u.Market != "market_3" {
			t.Errorf("market = %q, want market_3", u.Market)
		}
		if len(u.Bids) != 1 || !u.Bids[0].Price.Equal(decimal.RequireFromString("101.5")) {
			t.Fatalf("bids = %+v, want one level at 101.5", u.Bids)
		}
		if len(u.Asks) != 1 || !u.Asks[0].Price.Equal(decimal.RequireFromString("102.0")) {
			t.Fatalf("asks = %+v, want one level at 102.0", u.Asks)
		}
		if u.IsSnapshot {
			t.Error("expected an incremental diff, not a snapshot")
		}
	default:
		t.Fatal("expected handleMessage to emit a book update")
	}
}

func TestHandleMessageIgnoresUntrackedMarket(t *testing.T) {
	t.Parallel()

	a := NewLighterAdapter("wss://example.invalid/stream", 0, 0, nil, 20, 100, 0, testLogger())

	raw := []byte(`{
		"type": "update/order_book",
		"channel": "order_book:9",
		"order_book": {"offset": 1, "bids": [], "asks": []}
	}`)
	a.handleMessage(raw)

	select {
	case u := <-a.Updates():
		t.Fatalf("expected no update for untracked market, got %+v", u)
	default:
	}
}

func TestNewLighterAdapterStartsWithNoSubscriptions(t *testing.T) {
	t.Parallel()

	a := NewLighterAdapter("wss://example.invalid/stream", 0, 0, nil, 20, 100, 0, testLogger())
	if len(a.subs) != 0 {
		t.Errorf("expected no subscriptions on a fresh adapter, got %d", len(a.subs))
	}
	stats := a.Stats()
	if stats.Connected {
		t.Error("expected a fresh adapter to report disconnected")
	}
}
