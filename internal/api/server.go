// Package api exposes the HTTP surface: health, stats, the tracked-market
// and configured-asset listings, and the /ws upgrade into the broadcaster
// hub.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"dex-orderbook-aggregator/internal/book"
	"dex-orderbook-aggregator/internal/broadcaster"
	"dex-orderbook-aggregator/internal/config"
)

// StatsProvider supplies the per-venue connection health counters shown
// on /stats. Implemented by the orchestrating engine.
type StatsProvider interface {
	HyperliquidStats() ConnectionStats
	LighterStats() ConnectionStats
}

// Server runs the HTTP/WebSocket API.
type Server struct {
	cfg      config.ServerConfig
	store    *book.Store
	hub      *broadcaster.Hub
	stats    StatsProvider
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the mux and constructs the HTTP server. historySeconds
// and assets feed the /stats and /assets responses respectively.
func NewServer(cfg config.ServerConfig, store *book.Store, hub *broadcaster.Hub, stats StatsProvider, historySeconds int, assets []string, logger *slog.Logger) *Server {
	handlers := NewHandlers(store, hub, stats, cfg, historySeconds, assets, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/", handlers.HandleHealth)
	mux.HandleFunc("/stats", handlers.HandleStats)
	mux.HandleFunc("/markets", handlers.HandleMarkets)
	mux.HandleFunc("/assets", handlers.HandleAssets)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		store:    store,
		hub:      hub,
		stats:    stats,
		handlers: handlers,
		server:   httpServer,
		logger:   logger.With("component", "api-server"),
	}
}

// Start runs the broadcaster hub and HTTP server. Blocks until the
// server stops.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.logger.Info("server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info("stopping server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
