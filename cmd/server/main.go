// DEX Orderbook Aggregator — aggregates live order-book data from
// Hyperliquid and Lighter across a fixed set of markets (ETH, BTC, SOL),
// derives liquidity and execution-cost metrics from a fixed notional
// ladder, and streams the result to any number of WebSocket clients.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts engine and server, waits for SIGINT/SIGTERM
//	engine/engine.go         — orchestrator: wires venue adapters into the book store and broadcaster hub
//	exchange/hyperliquid.go  — Hyperliquid l2Book WebSocket adapter, auto-reconnect with backoff
//	exchange/lighter.go      — Lighter order_book WebSocket adapter plus periodic REST re-snapshot
//	exchange/lighter_rest.go — REST client for Lighter's orderBookOrders endpoint
//	book/store.go            — synchronized in-process book mirror, derives snapshots + metrics
//	liquidity/engine.go      — walks the order book to cost out a fixed USD notional ladder
//	history/history.go       — bounded rolling mid-price series per market
//	broadcaster/hub.go       — fans out book state to subscribed WebSocket clients
//	api/server.go            — HTTP surface: health, stats, markets, assets, and the /ws upgrade
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"dex-orderbook-aggregator/internal/api"
	"dex-orderbook-aggregator/internal/config"
	"dex-orderbook-aggregator/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("DEX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	apiServer := api.NewServer(cfg.Server, eng.Store(), eng.Hub(), eng, cfg.History.RetentionSeconds, cfg.Markets.AvailableAssets, logger)

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	hubCtx, cancelHub := context.WithCancel(context.Background())
	go func() {
		if err := apiServer.Start(hubCtx); err != nil {
			logger.Error("api server failed", "error", err)
		}
	}()

	logger.Info("dex orderbook aggregator started",
		"addr", cfg.Server.Addr,
		"assets", cfg.Markets.AvailableAssets,
		"broadcast_hz", cfg.Broadcast.FrequencyHz,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancelHub()
	if err := apiServer.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
