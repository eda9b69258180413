package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"dex-orderbook-aggregator/internal/book"
	"dex-orderbook-aggregator/internal/broadcaster"
	"dex-orderbook-aggregator/internal/config"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	store          *book.Store
	hub            *broadcaster.Hub
	stats          StatsProvider
	cfg            config.ServerConfig
	historySeconds int
	assets         []string
	logger         *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(store *book.Store, hub *broadcaster.Hub, stats StatsProvider, cfg config.ServerConfig, historySeconds int, assets []string, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:          store,
		hub:            hub,
		stats:          stats,
		cfg:            cfg,
		historySeconds: historySeconds,
		assets:         assets,
		logger:         logger.With("component", "api-handlers"),
	}
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, healthResponse{
		Status:    "ok",
		Service:   "DEX Orderbook Aggregator",
		Timestamp: time.Now(),
	})
}

// HandleStats returns aggregate orderbook manager and per-venue
// connection stats plus the current client count.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, statsResponse{
		OrderbookManager: h.store.Stats(h.historySeconds),
		Exchanges: map[string]ConnectionStats{
			"hyperliquid": h.stats.HyperliquidStats(),
			"lighter":     h.stats.LighterStats(),
		},
		ConnectedClients: h.hub.ClientCount(),
	})
}

// HandleMarkets lists every (exchange, market) pair the store currently
// tracks an initialized book for.
func (h *Handlers) HandleMarkets(w http.ResponseWriter, r *http.Request) {
	tracked := h.store.TrackedMarkets()
	entries := make([]marketEntry, 0, len(tracked))
	for _, tm := range tracked {
		entries = append(entries, marketEntry{Exchange: string(tm.Venue), Market: tm.Market})
	}
	writeJSON(w, h.logger, marketsResponse{Markets: entries, Count: len(entries)})
}

// HandleAssets lists the fixed symbol set clients may subscribe to.
func (h *Handlers) HandleAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, assetsResponse{Assets: h.assets, Count: len(h.assets)})
}

// HandleWebSocket upgrades the connection and registers a new
// broadcaster client.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.cfg.AllowedOrigins, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	broadcaster.NewClient(h.hub, conn, h.logger)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func isOriginAllowed(origin string, allowedOrigins []string, reqHost string) bool {
	if origin == "" {
		// Non-browser clients often omit Origin; keep this path functional.
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" {
				return true
			}
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
