// lighter.go implements the WebSocket + REST adapter for the Lighter
// venue. Unlike Hyperliquid, Lighter only streams incremental diffs over
// the socket: a market's book must first be seeded with a deep REST
// snapshot, and the wire uses two different spellings of the same
// channel — a subscribe request goes out as "order_book/<idx>" but the
// venue replies on "order_book:<idx>".
//
// Lighter's reconnect delay is a flat 5s retry (not exponential), matching
// the upstream client this adapter's wire handling is modeled on. A
// separate loop re-snapshots every subscribed market over REST every few
// seconds so a missed diff can never wedge the book permanently.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"dex-orderbook-aggregator/pkg/bookdata"
)

const (
	ltWriteTimeout = 10 * time.Second
	ltUpdateBuffer = 256
)

// LighterStats mirrors the venue's connection health counters exposed on
// the /stats endpoint.
type LighterStats struct {
	Connected        bool
	LastUpdate       time.Time
	MessagesReceived int
	Errors           int
}

// lighterMarketKey is the internal market identifier used for Lighter
// books throughout the store and history tracker. Translation to the
// human-readable symbol (ETH, BTC, ...) happens only at the broadcaster
// boundary, mirroring how the original keeps the raw venue market index
// internally and only maps it to a symbol when addressing a client.
func lighterMarketKey(marketIndex int) string {
	return fmt.Sprintf("market_%d", marketIndex)
}

// LighterAdapter maintains the Lighter order_book WebSocket stream plus
// the REST client used for initial and periodic deep snapshots.
type LighterAdapter struct {
	url            string
	reconnectDelay time.Duration
	readTimeout    time.Duration
	rest           *LighterRESTClient
	restDepth      int
	restLimit      int
	restInterval   time.Duration

	conn   *websocket.Conn
	connMu sync.Mutex

	subMu sync.RWMutex
	subs  map[int]bool // subscribed market indices

	updates chan bookdata.BookUpdate

	statsMu sync.Mutex
	stats   LighterStats

	logger *slog.Logger
}

// NewLighterAdapter constructs a Lighter adapter. rest is the REST client
// used both for the subscribe-time initial snapshot and the periodic
// re-snapshot loop.
func NewLighterAdapter(url string, reconnectDelay, readTimeout time.Duration, rest *LighterRESTClient, restDepth, restLimit int, restInterval time.Duration, logger *slog.Logger) *LighterAdapter {
	return &LighterAdapter{
		url:            url,
		reconnectDelay: reconnectDelay,
		readTimeout:    readTimeout,
		rest:           rest,
		restDepth:      restDepth,
		restLimit:      restLimit,
		restInterval:   restInterval,
		subs:           make(map[int]bool),
		updates:        make(chan bookdata.BookUpdate, ltUpdateBuffer),
		logger:         logger.With("component", "lighter"),
	}
}

// Updates returns the channel of book events, both initial/periodic REST
// snapshots and incremental WS diffs.
func (a *LighterAdapter) Updates() <-chan bookdata.BookUpdate { return a.updates }

// Stats returns a snapshot of connection health counters.
func (a *LighterAdapter) Stats() LighterStats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return a.stats
}

// Run connects the WebSocket stream and the periodic REST refresh loop.
// Blocks until ctx is cancelled.
func (a *LighterAdapter) Run(ctx context.Context) error {
	go a.runPeriodicRefresh(ctx)
	return a.runWS(ctx)
}

func (a *LighterAdapter) runWS(ctx context.Context) error {
	for {
		err := a.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		a.setConnected(false)
		a.logger.Warn("lighter websocket disconnected, reconnecting", "error", err, "delay", a.reconnectDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.reconnectDelay):
		}
	}
}

// Subscribe fetches an initial deep REST snapshot for marketIndex, then
// opens (or replays) the WS diff subscription. Grounded on the original
// client's subscribe_lighter: REST first, WS second.
func (a *LighterAdapter) Subscribe(ctx context.Context, marketIndex int) error {
	a.subMu.Lock()
	already := a.subs[marketIndex]
	a.subs[marketIndex] = true
	a.subMu.Unlock()

	if already {
		return nil
	}

	if err := a.fetchSnapshot(ctx, marketIndex); err != nil {
		a.logger.Warn("initial lighter rest snapshot failed", "market_index", marketIndex, "error", err)
	}

	if err := a.writeSubscribe(marketIndex); err != nil {
		a.logger.Debug("deferring lighter subscribe until connected", "market_index", marketIndex, "error", err)
	}
	return nil
}

func (a *LighterAdapter) fetchSnapshot(ctx context.Context, marketIndex int) error {
	bids, asks, err := a.rest.GetOrderBookOrders(ctx, marketIndex, a.restLimit, a.restDepth)
	if err != nil {
		return err
	}
	market := lighterMarketKey(marketIndex)
	a.logger.Debug("lighter rest snapshot fetched", "market", market, "bids", len(bids), "asks", len(asks))
	a.emit(bookdata.BookUpdate{
		Venue:      bookdata.VenueLighter,
		Market:     market,
		Bids:       bids,
		Asks:       asks,
		Timestamp:  time.Now(),
		IsSnapshot: true,
	})
	return nil
}

// runPeriodicRefresh re-fetches every subscribed market's deep book over
// REST on a fixed cadence, independent of the WS diff stream. A single
// cycle's failure is logged and skipped; the stream itself is unaffected.
func (a *LighterAdapter) runPeriodicRefresh(ctx context.Context) {
	ticker := time.NewTicker(a.restInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.subMu.RLock()
			indices := make([]int, 0, len(a.subs))
			for idx := range a.subs {
				indices = append(indices, idx)
			}
			a.subMu.RUnlock()

			for _, idx := range indices {
				if err := a.fetchSnapshot(ctx, idx); err != nil {
					a.logger.Warn("periodic lighter rest refresh failed, skipping cycle for market", "market", lighterMarketKey(idx), "error", err)
				}
			}
		}
	}
}

func (a *LighterAdapter) writeSubscribe(marketIndex int) error {
	msg := map[string]any{
		"type":    "subscribe",
		"channel": fmt.Sprintf("order_book/%d", marketIndex),
	}
	return a.writeJSON(msg)
}

func (a *LighterAdapter) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()

	defer func() {
		a.connMu.Lock()
		conn.Close()
		a.conn = nil
		a.connMu.Unlock()
	}()

	if err := a.resubscribeAll(); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	a.setConnected(true)
	a.logger.Info("lighter websocket connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(a.readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		a.handleMessage(msg)
	}
}

func (a *LighterAdapter) resubscribeAll() error {
	a.subMu.RLock()
	indices := make([]int, 0, len(a.subs))
	for idx := range a.subs {
		indices = append(indices, idx)
	}
	a.subMu.RUnlock()

	for _, idx := range indices {
		if err := a.writeSubscribe(idx); err != nil {
			return err
		}
	}
	return nil
}

type lighterLevelWire struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type lighterOrderBookWire struct {
	Code   int                `json:"code"`
	Offset int64              `json:"offset"`
	Bids   []lighterLevelWire `json:"bids"`
	Asks   []lighterLevelWire `json:"asks"`
}

type lighterWireMessage struct {
	Type      string               `json:"type"`
	Channel   string               `json:"channel"`
	OrderBook lighterOrderBookWire `json:"order_book"`
}

// handleMessage dispatches an inbound frame. Responses arrive on the
// colon-separated channel form (order_book:<idx>) even though the
// subscribe request used the slash form.
func (a *LighterAdapter) handleMessage(raw []byte) {
	var msg lighterWireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		a.logger.Debug("ignoring non-json lighter message")
		return
	}

	if msg.Type != "update/order_book" && !strings.HasPrefix(msg.Channel, "order_book:") {
		return
	}

	marketIndex, err := parseLighterChannelIndex(msg.Channel)
	if err != nil {
		a.logger.Warn("failed to parse lighter channel", "channel", msg.Channel, "error", err)
		a.recordError()
		return
	}

	a.subMu.RLock()
	tracked := a.subs[marketIndex]
	a.subMu.RUnlock()
	if !tracked {
		return
	}

	bids, err := toLighterWireLevels(msg.OrderBook.Bids)
	if err != nil {
		a.logger.Warn("failed to parse lighter bid levels, dropping frame", "error", err)
		a.recordError()
		return
	}
	asks, err := toLighterWireLevels(msg.OrderBook.Asks)
	if err != nil {
		a.logger.Warn("failed to parse lighter ask levels, dropping frame", "error", err)
		a.recordError()
		return
	}

	// offset is a sequence counter, not a wall-clock timestamp; stamp with
	// receipt time instead of treating it as epoch milliseconds.
	a.emit(bookdata.BookUpdate{
		Venue:      bookdata.VenueLighter,
		Market:     lighterMarketKey(marketIndex),
		Bids:       bids,
		Asks:       asks,
		Timestamp:  time.Now(),
		IsSnapshot: false,
	})
}

func parseLighterChannelIndex(channel string) (int, error) {
	parts := strings.SplitN(channel, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed channel %q", channel)
	}
	return strconv.Atoi(parts[1])
}

func toLighterWireLevels(wire []lighterLevelWire) ([]bookdata.Level, error) {
	out := make([]bookdata.Level, 0, len(wire))
	for _, w := range wire {
		price, err := decimal.NewFromString(w.Price)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", w.Price, err)
		}
		size, err := decimal.NewFromString(w.Size)
		if err != nil {
			return nil, fmt.Errorf("parse size %q: %w", w.Size, err)
		}
		out = append(out, bookdata.Level{Price: price, Size: size})
	}
	return out, nil
}

func (a *LighterAdapter) emit(update bookdata.BookUpdate) {
	select {
	case a.updates <- update:
	default:
		a.logger.Warn("update channel full, dropping frame", "market", update.Market)
	}

	a.statsMu.Lock()
	a.stats.MessagesReceived++
	a.stats.LastUpdate = time.Now()
	a.statsMu.Unlock()
}

func (a *LighterAdapter) setConnected(connected bool) {
	a.statsMu.Lock()
	a.stats.Connected = connected
	a.statsMu.Unlock()
}

func (a *LighterAdapter) recordError() {
	a.statsMu.Lock()
	a.stats.Errors++
	a.statsMu.Unlock()
}

func (a *LighterAdapter) writeJSON(v any) error {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("lighter websocket not connected")
	}
	a.conn.SetWriteDeadline(time.Now().Add(ltWriteTimeout))
	return a.conn.WriteJSON(v)
}
