package broadcaster

import (
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 256 * 1024
)

// Client is one connected downstream subscriber. Each client tracks its
// own symbol set; the hub filters every broadcast against it.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	subsMu sync.RWMutex
	subs   map[string]bool
}

// NewClient registers conn with hub and starts its read/write pumps.
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	c := &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		subs:   make(map[string]bool),
		logger: logger.With("component", "ws-client", "client_id", id),
	}

	hub.register <- c
	go c.writePump()
	go c.readPump()
	return c
}

// ID returns the client's correlation ID for logging.
func (c *Client) ID() string { return c.id }

// IsSubscribed reports whether the client currently wants updates for
// symbol.
func (c *Client) IsSubscribed(symbol string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subs[symbol]
}

func (c *Client) subscribe(symbol string) bool {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if c.subs[symbol] {
		return false
	}
	c.subs[symbol] = true
	return true
}

func (c *Client) unsubscribe(symbol string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	delete(c.subs, symbol)
}

// trySend enqueues a frame for delivery, dropping the client if its send
// buffer is full rather than letting one slow client stall the cadence
// loop for everyone else.
func (c *Client) trySend(payload []byte) {
	if !c.tryEnqueue(payload) {
		c.logger.Warn("client send buffer full, disconnecting")
		c.hub.unregister <- c
	}
}

// tryEnqueue attempts a non-blocking hand-off to writePump, the sole
// writer of the connection. It reports whether the frame was queued.
func (c *Client) tryEnqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to marshal message", "error", err)
		return
	}
	c.trySend(data)
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump handles client-initiated subscribe/unsubscribe/ping frames.
// The read deadline is rolled forward on every receive. When nothing
// arrives within the hub's configured read timeout, a ping is sent as a
// liveness probe; the client is only dropped if that probe can't be
// queued, not merely because the deadline elapsed.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.readTimeout))

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				data, marshalErr := json.Marshal(pingMessage{Type: "ping"})
				if marshalErr != nil || !c.tryEnqueue(data) {
					c.logger.Warn("client connection dead, liveness ping failed", "error", err)
					return
				}
				c.conn.SetReadDeadline(time.Now().Add(c.hub.readTimeout))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.hub.readTimeout))
		c.handleInbound(raw)
	}
}

func isTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}

func (c *Client) handleInbound(raw []byte) {
	var env struct {
		Action string `json:"action"`
		Type   string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Debug("ignoring non-json client message")
		return
	}

	switch {
	case env.Action == "subscribe" || env.Action == "unsubscribe":
		var msg subscriptionMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("malformed subscription message", "error", err)
			return
		}
		for _, symbol := range msg.Markets {
			if env.Action == "subscribe" {
				c.hub.Subscribe(c, symbol)
			} else {
				c.hub.Unsubscribe(c, symbol)
			}
		}
	case env.Action == "ping" || env.Type == "ping":
		c.sendJSON(pongMessage{Type: "pong"})
	default:
		c.logger.Debug("ignoring unrecognized client message", "action", env.Action, "type", env.Type)
	}
}
