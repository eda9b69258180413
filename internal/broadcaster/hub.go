package broadcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"dex-orderbook-aggregator/internal/book"
	"dex-orderbook-aggregator/pkg/bookdata"
)

// UpstreamSubscriber opens a venue subscription the first time any client
// asks for a symbol. Implemented by the orchestrating engine, which owns
// both venue adapters and the symbol-to-market-index table.
type UpstreamSubscriber interface {
	SubscribeHyperliquid(ctx context.Context, symbol string) error
	SubscribeLighter(ctx context.Context, marketIndex int) error
}

// Hub fans out book state to every connected client, filtered to the
// symbols each one has subscribed to. A cadence loop pushes book+metrics
// at a fixed frequency; HandleTick pushes a price_update the instant a
// book's mid changes, independent of that cadence.
type Hub struct {
	store    *book.Store
	upstream UpstreamSubscriber

	marketMap  map[string]int    // symbol -> lighter market index
	reverseMap map[string]string // market_<idx> -> symbol

	frequencyHz  float64
	pingInterval time.Duration
	readTimeout  time.Duration

	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	logger *slog.Logger
}

// NewHub constructs a Hub. marketMap is the Lighter symbol table from
// config (markets.lighter_market_map).
func NewHub(store *book.Store, upstream UpstreamSubscriber, marketMap map[string]int, frequencyHz float64, pingInterval, readTimeout time.Duration, logger *slog.Logger) *Hub {
	reverse := make(map[string]string, len(marketMap))
	for symbol, idx := range marketMap {
		reverse[fmt.Sprintf("market_%d", idx)] = symbol
	}

	return &Hub{
		store:        store,
		upstream:     upstream,
		marketMap:    marketMap,
		reverseMap:   reverse,
		frequencyHz:  frequencyHz,
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		logger:       logger.With("component", "broadcaster"),
	}
}

// Run drives client registration, the heartbeat loop, and the broadcast
// cadence loop. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	go h.runRegistry(ctx)
	go h.runHeartbeat(ctx)
	h.runCadence(ctx)
}

func (h *Hub) runRegistry(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", "client_id", c.ID(), "count", count)
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", "client_id", c.ID(), "count", count)
		}
	}
}

func (h *Hub) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.RLock()
			for c := range h.clients {
				c.sendJSON(pingMessage{Type: "ping"})
			}
			h.mu.RUnlock()
		}
	}
}

// runCadence pushes book+metrics updates at frequencyHz using a token
// bucket limiter rather than a fixed ticker, so a GC pause or slow
// iteration over many markets never compounds into a faster-than-intended
// broadcast burst on catch-up.
func (h *Hub) runCadence(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Limit(h.frequencyHz), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		for _, tm := range h.store.TrackedMarkets() {
			h.broadcastMarket(tm.Venue, tm.Market)
		}
	}
}

func (h *Hub) broadcastMarket(venue bookdata.Venue, market string) {
	snap, ok := h.store.GetSnapshot(venue, market)
	if !ok {
		return
	}
	metrics, ok := h.store.GetMetrics(venue, market)
	if !ok {
		return
	}

	exchange, symbol := h.clientFacing(venue, market)
	bookMsg := newOrderBookUpdateMessage(exchange, symbol, snap)
	metricsMsg := newLiquidityMetricsMessage(exchange, symbol, metrics)

	h.sendToSubscribed(symbol, bookMsg)
	h.sendToSubscribed(symbol, metricsMsg)
}

// HandleTick is the book store's TickCallback. It fires once per mid
// change, decoupled from the store's own lock by the store's dispatcher
// goroutine, so it is always safe to do client I/O from here.
func (h *Hub) HandleTick(venue bookdata.Venue, market string, mid decimal.Decimal, ts time.Time) {
	exchange, symbol := h.clientFacing(venue, market)
	h.sendToSubscribed(symbol, newPriceUpdateMessage(exchange, symbol, mid, ts))
}

func (h *Hub) sendToSubscribed(symbol string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.IsSubscribed(symbol) {
			c.trySend(data)
		}
	}
}

// clientFacing maps an internal (venue, market) key to the exchange name
// and symbol a client subscribes by. Hyperliquid's internal market key is
// already the symbol; Lighter's is the raw market_<idx> form translated
// via the configured symbol table.
func (h *Hub) clientFacing(venue bookdata.Venue, market string) (exchange, symbol string) {
	exchange = string(venue)
	if venue != bookdata.VenueLighter {
		return exchange, market
	}
	if sym, ok := h.reverseMap[market]; ok {
		return exchange, sym
	}
	return exchange, market
}

// Subscribe adds symbol to client's set, opens the upstream subscription
// on first ask, and immediately emits the current snapshot/metrics for
// any venue that already has one (mirrors the original's
// "send-on-subscribe-if-available" behavior rather than waiting for the
// next cadence tick).
func (h *Hub) Subscribe(client *Client, symbol string) {
	if !client.subscribe(symbol) {
		return
	}

	ctx := context.Background()
	if err := h.upstream.SubscribeHyperliquid(ctx, symbol); err != nil {
		h.logger.Warn("failed to open hyperliquid subscription", "symbol", symbol, "error", err)
	}
	if idx, ok := h.marketMap[symbol]; ok {
		if err := h.upstream.SubscribeLighter(ctx, idx); err != nil {
			h.logger.Warn("failed to open lighter subscription", "symbol", symbol, "error", err)
		}
	}

	h.emitInitial(client, bookdata.VenueHyperliquid, symbol, symbol)
	if idx, ok := h.marketMap[symbol]; ok {
		h.emitInitial(client, bookdata.VenueLighter, fmt.Sprintf("market_%d", idx), symbol)
	}
}

func (h *Hub) emitInitial(client *Client, venue bookdata.Venue, internalMarket, symbol string) {
	snap, ok := h.store.GetSnapshot(venue, internalMarket)
	if !ok {
		return
	}
	exchange := string(venue)
	client.sendJSON(newOrderBookUpdateMessage(exchange, symbol, snap))

	if metrics, ok := h.store.GetMetrics(venue, internalMarket); ok {
		client.sendJSON(newLiquidityMetricsMessage(exchange, symbol, metrics))
	}
}

// Unsubscribe only removes the client's local interest; there is no
// upstream "unsubscribe" call to make, since both venues' clients keep
// every opened subscription alive for the process lifetime.
func (h *Hub) Unsubscribe(client *Client, symbol string) {
	client.unsubscribe(symbol)
}

// ClientCount returns the number of currently connected clients, exposed
// on the /stats endpoint.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
