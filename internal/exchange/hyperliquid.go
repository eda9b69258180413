// hyperliquid.go implements the WebSocket adapter for the Hyperliquid
// venue. Hyperliquid streams l2Book frames as full top-of-book snapshots
// — every frame replaces the book outright, there is no diff stream to
// apply.
//
// The connection auto-reconnects with exponential backoff (1s → 30s max)
// and replays every active subscription on reconnect. A rolling read
// deadline (configurable, default 90s) detects a silently dead server.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"dex-orderbook-aggregator/pkg/bookdata"
)

const (
	hlMaxReconnectWait = 30 * time.Second
	hlWriteTimeout     = 10 * time.Second
	hlUpdateBuffer     = 256
)

// HyperliquidStats mirrors the venue's connection health counters exposed
// on the /stats endpoint.
type HyperliquidStats struct {
	Connected        bool
	LastUpdate       time.Time
	MessagesReceived int
	Errors           int
}

// HyperliquidAdapter maintains the Hyperliquid l2Book WebSocket connection.
type HyperliquidAdapter struct {
	url         string
	nLevels     int
	readTimeout time.Duration

	conn   *websocket.Conn
	connMu sync.Mutex

	subMu sync.RWMutex
	subs  map[string]bool // coin symbols

	updates chan bookdata.BookUpdate

	statsMu sync.Mutex
	stats   HyperliquidStats

	logger *slog.Logger
}

// NewHyperliquidAdapter constructs an adapter for the given venue URL.
func NewHyperliquidAdapter(url string, nLevels int, readTimeout time.Duration, logger *slog.Logger) *HyperliquidAdapter {
	return &HyperliquidAdapter{
		url:         url,
		nLevels:     nLevels,
		readTimeout: readTimeout,
		subs:        make(map[string]bool),
		updates:     make(chan bookdata.BookUpdate, hlUpdateBuffer),
		logger:      logger.With("component", "hyperliquid"),
	}
}

// Updates returns the channel of book snapshot events.
func (a *HyperliquidAdapter) Updates() <-chan bookdata.BookUpdate { return a.updates }

// Stats returns a snapshot of connection health counters.
func (a *HyperliquidAdapter) Stats() HyperliquidStats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return a.stats
}

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (a *HyperliquidAdapter) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := a.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		a.setConnected(false)
		a.logger.Warn("hyperliquid websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > hlMaxReconnectWait {
			backoff = hlMaxReconnectWait
		}
	}
}

// Subscribe adds a coin symbol to the l2Book subscription and sends the
// subscribe frame immediately (if connected).
func (a *HyperliquidAdapter) Subscribe(ctx context.Context, coin string) error {
	a.subMu.Lock()
	alreadySubscribed := a.subs[coin]
	a.subs[coin] = true
	a.subMu.Unlock()

	if alreadySubscribed {
		return nil
	}

	// If the socket isn't up yet, the subscription still lands via
	// resubscribeAll once connectAndRead finishes dialing.
	if err := a.writeSubscribe(coin); err != nil {
		a.logger.Debug("deferring subscribe until connected", "coin", coin, "error", err)
	}
	return nil
}

func (a *HyperliquidAdapter) writeSubscribe(coin string) error {
	msg := map[string]any{
		"method": "subscribe",
		"subscription": map[string]any{
			"type":    "l2Book",
			"coin":    coin,
			"nLevels": a.nLevels,
		},
	}
	return a.writeJSON(msg)
}

func (a *HyperliquidAdapter) connectAndRead(ctx context.Context) error {
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
	a.logger.Info("hyperliquid websocket connected")

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

func (a *HyperliquidAdapter) resubscribeAll() error {
	a.subMu.RLock()
	coins := make([]string, 0, len(a.subs))
	for coin := range a.subs {
		coins = append(coins, coin)
	}
	a.subMu.RUnlock()

	for _, coin := range coins {
		if err := a.writeSubscribe(coin); err != nil {
			return err
		}
	}
	return nil
}

type hlEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type hlBookData struct {
	Coin   string            `json:"coin"`
	Levels [2][]hlLevelWire  `json:"levels"`
	Time   int64             `json:"time"`
}

// hlLevelWire decodes a Hyperliquid book level, which may arrive as
// either {"px":str,"sz":str,"n":int} or the bare tuple [px, sz, n].
type hlLevelWire struct {
	Px string
	Sz string
}

func (l *hlLevelWire) UnmarshalJSON(data []byte) error {
	var obj struct {
		Px string `json:"px"`
		Sz string `json:"sz"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Px != "" {
		l.Px, l.Sz = obj.Px, obj.Sz
		return nil
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil || len(tuple) < 2 {
		return fmt.Errorf("unexpected hyperliquid level shape: %s", data)
	}
	if err := json.Unmarshal(tuple[0], &l.Px); err != nil {
		// px may be given unquoted in the tuple form
		var f float64
		if err := json.Unmarshal(tuple[0], &f); err != nil {
			return err
		}
		l.Px = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if err := json.Unmarshal(tuple[1], &l.Sz); err != nil {
		var f float64
		if err := json.Unmarshal(tuple[1], &f); err != nil {
			return err
		}
		l.Sz = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return nil
}

func (a *HyperliquidAdapter) handleMessage(raw []byte) {
	var env hlEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		a.logger.Debug("ignoring non-json hyperliquid message")
		return
	}

	if env.Channel != "l2Book" {
		return
	}

	var book hlBookData
	if err := json.Unmarshal(env.Data, &book); err != nil {
		a.logger.Warn("failed to parse l2Book frame, dropping", "error", err)
		a.recordError()
		return
	}

	bids, err := toLevels(book.Levels[0])
	if err != nil {
		a.logger.Warn("failed to parse bid levels, dropping frame", "error", err)
		a.recordError()
		return
	}
	asks, err := toLevels(book.Levels[1])
	if err != nil {
		a.logger.Warn("failed to parse ask levels, dropping frame", "error", err)
		a.recordError()
		return
	}

	update := bookdata.BookUpdate{
		Venue:      bookdata.VenueHyperliquid,
		Market:     book.Coin,
		Bids:       bids,
		Asks:       asks,
		Timestamp:  time.UnixMilli(book.Time),
		IsSnapshot: true,
	}

	select {
	case a.updates <- update:
	default:
		a.logger.Warn("update channel full, dropping frame", "coin", book.Coin)
	}

	a.statsMu.Lock()
	a.stats.MessagesReceived++
	a.stats.LastUpdate = time.Now()
	a.statsMu.Unlock()
}

func toLevels(wire []hlLevelWire) ([]bookdata.Level, error) {
	out := make([]bookdata.Level, 0, len(wire))
	for _, w := range wire {
		price, err := decimal.NewFromString(w.Px)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", w.Px, err)
		}
		size, err := decimal.NewFromString(w.Sz)
		if err != nil {
			return nil, fmt.Errorf("parse size %q: %w", w.Sz, err)
		}
		out = append(out, bookdata.Level{Price: price, Size: size})
	}
	return out, nil
}

func (a *HyperliquidAdapter) setConnected(connected bool) {
	a.statsMu.Lock()
	a.stats.Connected = connected
	a.statsMu.Unlock()
}

func (a *HyperliquidAdapter) recordError() {
	a.statsMu.Lock()
	a.stats.Errors++
	a.statsMu.Unlock()
}

func (a *HyperliquidAdapter) writeJSON(v any) error {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("hyperliquid websocket not connected")
	}
	a.conn.SetWriteDeadline(time.Now().Add(hlWriteTimeout))
	return a.conn.WriteJSON(v)
}
