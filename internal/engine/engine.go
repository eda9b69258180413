// Package engine is the central orchestrator of the orderbook aggregator.
//
// It wires together all subsystems:
//
//  1. Two venue adapters (Hyperliquid, Lighter) stream raw book updates.
//  2. Engine drains both adapters' update channels into a shared book
//     Store, which derives snapshots and liquidity metrics per market.
//  3. The broadcaster Hub fans the derived state out to connected
//     clients at a fixed cadence, plus an immediate push on mid change.
//  4. A client's first subscribe to a symbol is what opens the upstream
//     venue subscription — Engine implements broadcaster.UpstreamSubscriber
//     so the Hub can ask for that without knowing about adapters directly.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dex-orderbook-aggregator/internal/api"
	"dex-orderbook-aggregator/internal/book"
	"dex-orderbook-aggregator/internal/broadcaster"
	"dex-orderbook-aggregator/internal/config"
	"dex-orderbook-aggregator/internal/exchange"
	"dex-orderbook-aggregator/internal/history"
	"dex-orderbook-aggregator/internal/liquidity"
	"dex-orderbook-aggregator/pkg/bookdata"
)

// Engine orchestrates all components of the aggregator: both venue
// adapters, the book store, and the broadcaster hub. It owns the
// lifecycle of every background goroutine.
type Engine struct {
	cfg config.Config

	hl *exchange.HyperliquidAdapter
	lt *exchange.LighterAdapter

	store *book.Store
	hub   *broadcaster.Hub

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the adapters, the book store, and the broadcaster hub, and
// constructs (without starting) the Engine.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	sizes, err := liquidity.DefaultSizes(cfg.Liquidity.SizesUSD)
	if err != nil {
		return nil, fmt.Errorf("liquidity sizes: %w", err)
	}

	hl := exchange.NewHyperliquidAdapter(cfg.Hyperliquid.WSURL, cfg.Hyperliquid.NLevels, cfg.Hyperliquid.ReadTimeout, logger)

	rest := exchange.NewLighterRESTClient(cfg.Lighter.RESTBaseURL, cfg.Lighter.RESTTimeout, cfg.Lighter.RESTRateLimitPerSec)
	lt := exchange.NewLighterAdapter(
		cfg.Lighter.WSURL,
		cfg.Lighter.ReconnectDelay,
		cfg.Lighter.ReadTimeout,
		rest,
		cfg.Lighter.RESTSnapshotDepth,
		cfg.Lighter.RESTSnapshotLimit,
		cfg.Lighter.RESTRefreshInterval,
		logger,
	)

	hist := history.NewTracker(float64(cfg.History.RetentionSeconds))

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:    cfg,
		hl:     hl,
		lt:     lt,
		logger: logger.With("component", "engine"),
		ctx:    ctx,
		cancel: cancel,
	}

	// The store's TickCallback needs the hub, and the hub needs the
	// store; break the cycle by forwarding through e.hub, which is set
	// right after.
	e.store = book.NewStore(logger, sizes, hist, func(venue bookdata.Venue, market string, mid decimal.Decimal, ts time.Time) {
		if e.hub != nil {
			e.hub.HandleTick(venue, market, mid, ts)
		}
	})
	e.hub = broadcaster.NewHub(e.store, e, cfg.Markets.LighterMarketMap, cfg.Broadcast.FrequencyHz, cfg.Broadcast.PingInterval, cfg.Broadcast.ReadTimeout, logger)

	return e, nil
}

// Hub returns the broadcaster hub, for wiring into the HTTP server.
func (e *Engine) Hub() *broadcaster.Hub { return e.hub }

// Store returns the book store, for wiring into the HTTP server.
func (e *Engine) Store() *book.Store { return e.store }

// Start launches both venue adapters and the goroutines that drain
// their update channels into the book store.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.hl.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("hyperliquid adapter stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.lt.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("lighter adapter stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.drain(e.hl.Updates())
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.drain(e.lt.Updates())
	}()

	return nil
}

func (e *Engine) drain(updates <-chan bookdata.BookUpdate) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case u := <-updates:
			e.store.Update(u)
		}
	}
}

// Stop cancels every goroutine and waits for them to exit.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()
	e.wg.Wait()
	e.logger.Info("shutdown complete")
}

// SubscribeHyperliquid opens the l2Book subscription for symbol. Called
// by the broadcaster hub whenever a client first subscribes to symbol;
// the adapter ignores repeat calls for a symbol it already tracks.
func (e *Engine) SubscribeHyperliquid(ctx context.Context, symbol string) error {
	return e.hl.Subscribe(ctx, symbol)
}

// SubscribeLighter opens the order_book subscription for marketIndex.
func (e *Engine) SubscribeLighter(ctx context.Context, marketIndex int) error {
	return e.lt.Subscribe(ctx, marketIndex)
}

// HyperliquidStats reports the Hyperliquid adapter's connection health
// for the /stats endpoint.
func (e *Engine) HyperliquidStats() api.ConnectionStats {
	s := e.hl.Stats()
	return api.ConnectionStats{
		Exchange:         string(bookdata.VenueHyperliquid),
		Connected:        s.Connected,
		LastUpdate:       s.LastUpdate,
		MessagesReceived: s.MessagesReceived,
		Errors:           s.Errors,
	}
}

// LighterStats reports the Lighter adapter's connection health for the
// /stats endpoint.
func (e *Engine) LighterStats() api.ConnectionStats {
	s := e.lt.Stats()
	return api.ConnectionStats{
		Exchange:         string(bookdata.VenueLighter),
		Connected:        s.Connected,
		LastUpdate:       s.LastUpdate,
		MessagesReceived: s.MessagesReceived,
		Errors:           s.Errors,
	}
}
