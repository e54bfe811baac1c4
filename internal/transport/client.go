// Package transport is the real-time WebSocket surface (§4.F), generalizing
// the teacher's single global Server/Client readPump/writePump pair
// (cmd/server/main.go) into one Hub driving many independently-scheduled
// LiveSessions, each client owning a bounded outbound queue with the
// drop-oldest-non-critical backpressure policy spec.md §4.F requires.
package transport

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mudengine/internal/session"
)

const (
	maxOutboundQueue = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 54 * time.Second
)

// criticalFrameTypes names the outbound frame types that must never be
// dropped by the backpressure policy (§4.F: "role change, kick, snapshot").
var criticalFrameTypes = map[string]bool{
	"snapshot":           true,
	"player_role_changed": true,
	"player_kicked":       true,
}

// Client is one connected real-time channel, implementing
// session.ClientHandle against a live WebSocket connection.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	hub    *Hub
	code   string

	mu     sync.Mutex
	queue  []session.Frame
	closed bool
	wake   chan struct{}
}

func newClient(conn *websocket.Conn, hub *Hub, code, userID string) *Client {
	return &Client{
		id:     uuid.New().String(),
		userID: userID,
		conn:   conn,
		hub:    hub,
		code:   code,
		wake:   make(chan struct{}, 1),
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// Send enqueues a frame, applying the bounded-queue backpressure policy:
// if full, drop the oldest non-critical pending frame first; if only
// critical frames remain and the queue is still full, disconnect the
// client and record a slow_consumer audit entry (§4.F).
func (c *Client) Send(f session.Frame) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if len(c.queue) >= maxOutboundQueue {
		if !c.dropOldestNonCritical() {
			c.mu.Unlock()
			c.hub.disconnectSlowConsumer(c)
			return
		}
	}
	c.queue = append(c.queue, f)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// dropOldestNonCritical removes the oldest queued frame whose type is not
// in criticalFrameTypes. Caller holds c.mu.
func (c *Client) dropOldestNonCritical() bool {
	for i, f := range c.queue {
		if !criticalFrameTypes[f.Type] {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Client) drain() []session.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

// Close marks the client closed and shuts down its connection; further
// Send calls are no-ops (§4.F cancellation: "closing the channel cancels
// both the read and write tasks promptly").
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.conn.Close()

	// Wake writePump so it notices the close now rather than at its next
	// ping tick.
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readPump decodes inbound frames and dispatches them to the hub's session
// loop for this connection's session, validating shape before any state
// effect (§4.F).
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("transport: websocket read error for %s: %v", c.id, err)
			}
			return
		}

		var in inboundFrame
		if err := json.Unmarshal(raw, &in); err != nil {
			c.Send(session.Frame{Type: "error", Data: map[string]string{"code": "bad_frame", "message": "could not decode frame"}})
			continue
		}
		c.hub.dispatch(c, in)
	}
}

// writePump flushes queued frames to the connection, coalescing everything
// queued since the last wake, and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.wake:
			frames := c.drain()
			for _, f := range frames {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteJSON(f); err != nil {
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}

		if c.isClosed() {
			return
		}
	}
}

// inboundFrame is the wire shape of a client->server message (§6): type
// drawn from the closed inbound set, opaque data, optional echo fields.
type inboundFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	ClientID  string          `json:"client_id,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

var inboundFrameTypes = map[string]bool{
	"register": true, "ping": true, "table_request": true, "sprite_update": true,
	"create_entity": true, "move_entity": true, "delete_entity": true, "update_entity": true,
	"character_save": true, "character_load": true, "fog_update": true, "chat": true, "dice_roll": true,
}
