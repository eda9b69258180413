package book

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dex-orderbook-aggregator/internal/history"
	"dex-orderbook-aggregator/pkg/bookdata"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func lvl(price, size string) bookdata.Level {
	return bookdata.Level{Price: dec(price), Size: dec(size)}
}

func defaultSizes() []decimal.Decimal {
	return []decimal.Decimal{decimal.NewFromInt(1000)}
}

func TestStoreSnapshotDerivesMidSpread(t *testing.T) {
	t.Parallel()
	s := NewStore(testLogger(), defaultSizes(), nil, nil)

	s.Update(bookdata.BookUpdate{
		Venue:      bookdata.VenueHyperliquid,
		Market:     "ETH",
		Bids:       []bookdata.Level{lvl("100.0", "1")},
		Asks:       []bookdata.Level{lvl("101.0", "1")},
		Timestamp:  time.Now(),
		IsSnapshot: true,
	})

	snap, ok := s.GetSnapshot(bookdata.VenueHyperliquid, "ETH")
	if !ok {
		t.Fatal("expected snapshot")
	}
	if snap.Mid == nil || !snap.Mid.Equal(dec("100.5")) {
		t.Errorf("mid = %v, want 100.5", snap.Mid)
	}
	if snap.Spread == nil || !snap.Spread.Equal(dec("1.0")) {
		t.Errorf("spread = %v, want 1.0", snap.Spread)
	}
	wantBps := dec("99.50248756218905472636815920398")
	if snap.SpreadBps == nil || !snap.SpreadBps.Round(2).Equal(wantBps.Round(2)) {
		t.Errorf("spread_bps = %v, want ~99.5", snap.SpreadBps)
	}
}

func TestStoreEmptySideHasNilDerivedValues(t *testing.T) {
	t.Parallel()
	s := NewStore(testLogger(), defaultSizes(), nil, nil)

	s.Update(bookdata.BookUpdate{
		Venue:      bookdata.VenueHyperliquid,
		Market:     "ETH",
		Bids:       []bookdata.Level{lvl("100.0", "1")},
		Asks:       nil,
		Timestamp:  time.Now(),
		IsSnapshot: true,
	})

	snap, ok := s.GetSnapshot(bookdata.VenueHyperliquid, "ETH")
	if !ok {
		t.Fatal("expected snapshot")
	}
	if snap.Mid != nil || snap.Spread != nil || snap.SpreadBps != nil {
		t.Errorf("expected nil derived values with one-sided book, got mid=%v spread=%v bps=%v", snap.Mid, snap.Spread, snap.SpreadBps)
	}
}

func TestStoreDiffAppliesIncrementalChanges(t *testing.T) {
	t.Parallel()
	s := NewStore(testLogger(), defaultSizes(), nil, nil)

	s.Update(bookdata.BookUpdate{
		Venue:      bookdata.VenueLighter,
		Market:     "market_0",
		Bids:       []bookdata.Level{lvl("100.0", "1"), lvl("99.0", "2")},
		Asks:       []bookdata.Level{lvl("101.0", "1")},
		Timestamp:  time.Now(),
		IsSnapshot: true,
	})

	// Diff: remove the 100.0 bid, add a new 100.5 bid.
	s.Update(bookdata.BookUpdate{
		Venue:      bookdata.VenueLighter,
		Market:     "market_0",
		Bids:       []bookdata.Level{lvl("100.0", "0"), lvl("100.5", "3")},
		Asks:       nil,
		Timestamp:  time.Now(),
		IsSnapshot: false,
	})

	snap, ok := s.GetSnapshot(bookdata.VenueLighter, "market_0")
	if !ok {
		t.Fatal("expected snapshot")
	}
	if len(snap.Bids) != 2 {
		t.Fatalf("expected 2 bids after diff, got %d: %+v", len(snap.Bids), snap.Bids)
	}
	if !snap.Bids[0].Price.Equal(dec("100.5")) {
		t.Errorf("best bid = %v, want 100.5", snap.Bids[0].Price)
	}
	if !snap.Bids[1].Price.Equal(dec("99.0")) {
		t.Errorf("second bid = %v, want 99.0", snap.Bids[1].Price)
	}
}

func TestStoreDiffOnUninitializedBookBehavesAsInitialize(t *testing.T) {
	t.Parallel()
	s := NewStore(testLogger(), defaultSizes(), nil, nil)

	s.Update(bookdata.BookUpdate{
		Venue:      bookdata.VenueLighter,
		Market:     "market_1",
		Bids:       []bookdata.Level{lvl("50.0", "1")},
		Asks:       []bookdata.Level{lvl("51.0", "1")},
		Timestamp:  time.Now(),
		IsSnapshot: false,
	})

	snap, ok := s.GetSnapshot(bookdata.VenueLighter, "market_1")
	if !ok {
		t.Fatal("expected a diff to a fresh book to initialize it")
	}
	if len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Errorf("expected one level per side, got bids=%d asks=%d", len(snap.Bids), len(snap.Asks))
	}
}

func TestStoreTickFiresOnceOnMidChange(t *testing.T) {
	t.Parallel()

	ticks := make(chan decimal.Decimal, 10)
	s := NewStore(testLogger(), defaultSizes(), history.NewTracker(3600), func(venue bookdata.Venue, market string, mid decimal.Decimal, ts time.Time) {
		ticks <- mid
	})

	s.Update(bookdata.BookUpdate{
		Venue:      bookdata.VenueHyperliquid,
		Market:     "BTC",
		Bids:       []bookdata.Level{lvl("100.0", "1")},
		Asks:       []bookdata.Level{lvl("102.0", "1")},
		Timestamp:  time.Now(),
		IsSnapshot: true,
	})

	// Same mid (101.0) again — must not tick a second time.
	s.Update(bookdata.BookUpdate{
		Venue:      bookdata.VenueHyperliquid,
		Market:     "BTC",
		Bids:       []bookdata.Level{lvl("100.5", "1")},
		Asks:       []bookdata.Level{lvl("101.5", "1")},
		Timestamp:  time.Now(),
		IsSnapshot: true,
	})

	// Different mid — must tick again.
	s.Update(bookdata.BookUpdate{
		Venue:      bookdata.VenueHyperliquid,
		Market:     "BTC",
		Bids:       []bookdata.Level{lvl("103.0", "1")},
		Asks:       []bookdata.Level{lvl("105.0", "1")},
		Timestamp:  time.Now(),
		IsSnapshot: true,
	})

	deadline := time.After(time.Second)
	got := []decimal.Decimal{}
	for len(got) < 2 {
		select {
		case mid := <-ticks:
			got = append(got, mid)
		case <-deadline:
			t.Fatalf("timed out waiting for ticks, got %v", got)
		}
	}

	select {
	case extra := <-ticks:
		t.Fatalf("unexpected extra tick: %v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	if !got[0].Equal(dec("101")) {
		t.Errorf("first tick = %v, want 101", got[0])
	}
	if !got[1].Equal(dec("104")) {
		t.Errorf("second tick = %v, want 104", got[1])
	}
}

func TestStoreIndependentKeysDoNotInterfere(t *testing.T) {
	t.Parallel()
	s := NewStore(testLogger(), defaultSizes(), nil, nil)

	s.Update(bookdata.BookUpdate{
		Venue: bookdata.VenueHyperliquid, Market: "ETH",
		Bids: []bookdata.Level{lvl("10", "1")}, Asks: []bookdata.Level{lvl("11", "1")},
		Timestamp: time.Now(), IsSnapshot: true,
	})
	s.Update(bookdata.BookUpdate{
		Venue: bookdata.VenueLighter, Market: "market_0",
		Bids: []bookdata.Level{lvl("20", "1")}, Asks: []bookdata.Level{lvl("21", "1")},
		Timestamp: time.Now(), IsSnapshot: true,
	})

	hSnap, ok := s.GetSnapshot(bookdata.VenueHyperliquid, "ETH")
	if !ok || !hSnap.Mid.Equal(dec("10.5")) {
		t.Errorf("hyperliquid ETH mid wrong: %+v", hSnap)
	}
	lSnap, ok := s.GetSnapshot(bookdata.VenueLighter, "market_0")
	if !ok || !lSnap.Mid.Equal(dec("20.5")) {
		t.Errorf("lighter market_0 mid wrong: %+v", lSnap)
	}
}
