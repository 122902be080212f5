// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package hub keeps the WebSocket clients in sync with the device state.

Every connection receives the full state as its first message, and again after
every merge into the state store. The hub is a state.Observer, so nobody needs to
trigger a broadcast by hand.

Each connection has its own writer goroutine and a bounded outbox. A connection
which cannot keep up, or whose write fails, is closed; its read loop then removes
it from the hub. A failing connection never delays the others.

Clients may send commands on the same connection:

	{"command": true, "device": "fan", "value": true}

Any other message is logged and ignored.
*/
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/relabs-tech/espgate/core/logger"
	"github.com/relabs-tech/espgate/core/metrics"
	"github.com/relabs-tech/espgate/iot/control"
	"github.com/relabs-tech/espgate/iot/state"
)

// Defaults for the Builder
const (
	DefaultOutboxSize   = 16
	DefaultWriteTimeout = 10 * time.Second
)

// Builder is a builder helper for the Hub
type Builder struct {
	// Controller is mandatory. Its store is the state that gets broadcast.
	Controller *control.Controller
	// OutboxSize is the number of messages a connection may lag behind
	OutboxSize int
	// WriteTimeout bounds a single websocket write
	WriteTimeout time.Duration
}

// Hub is the set of open WebSocket connections
type Hub struct {
	controller   *control.Controller
	store        *state.Store
	outboxSize   int
	writeTimeout time.Duration
	upgrader     websocket.Upgrader

	mu          sync.Mutex
	connections map[*Connection]struct{}
}

// MustNewHub creates a new hub
func MustNewHub(b *Builder) *Hub {
	if b.Controller == nil {
		panic("Controller is missing")
	}
	h := &Hub{
		controller:   b.Controller,
		store:        b.Controller.Store(),
		outboxSize:   b.OutboxSize,
		writeTimeout: b.WriteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		connections: make(map[*Connection]struct{}),
	}
	if h.outboxSize <= 0 {
		h.outboxSize = DefaultOutboxSize
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = DefaultWriteTimeout
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered the request
		logger.FromContext(r.Context()).WithError(err).Errorln("websocket upgrade failed")
		return
	}
	c := h.Register(ws)
	ctx, rlog := logger.ContextWithLoggerIdentity(r.Context(), "ws:"+c.id)
	rlog.Infoln("client connected from", r.RemoteAddr)
	h.readLoop(ctx, c)
	rlog.Infoln("client disconnected")
}

// Register adds ws to the hub. The current state is queued as first message
// before any broadcast can reach the connection.
func (h *Hub) Register(ws *websocket.Conn) *Connection {
	c := newConnection(ws, h.outboxSize, h.writeTimeout)

	h.mu.Lock()
	payload, err := h.store.Get().JSON()
	if err == nil {
		c.send(payload)
	}
	h.connections[c] = struct{}{}
	h.mu.Unlock()

	if err != nil {
		logger.Default().WithError(err).Errorln("cannot serialize state")
	}
	metrics.WebSocketConnections.Inc()
	go c.writeLoop()
	return c
}

// Unregister removes c from the hub and closes it. It is safe to call more than once.
func (h *Hub) Unregister(c *Connection) {
	h.mu.Lock()
	_, ok := h.connections[c]
	delete(h.connections, c)
	h.mu.Unlock()

	if ok {
		metrics.WebSocketConnections.Dec()
	}
	c.close()
}

// Count returns the number of registered connections
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// BroadcastCurrentState queues the current state to every open connection.
// The state is serialized once, under the hub lock, so all connections see
// the snapshots in the same order.
func (h *Hub) BroadcastCurrentState(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	payload, err := h.store.Get().JSON()
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot serialize state")
		return
	}
	metrics.Broadcasts.Inc()
	for c := range h.connections {
		if !c.IsOpen() {
			continue
		}
		if !c.send(payload) {
			logger.FromContext(ctx).Warnf("websocket client %s cannot keep up, closing it", c.id)
			metrics.SendFailures.WithLabelValues("outbox_full").Inc()
			c.close()
		}
	}
}

// StateChanged implements state.Observer
func (h *Hub) StateChanged(ctx context.Context, s state.DeviceState) {
	h.BroadcastCurrentState(ctx)
}

// Close closes all connections. Their read loops unregister them.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.connections {
		c.closeWithMessage(websocket.CloseGoingAway, "server shutdown")
	}
}

func (h *Hub) readLoop(ctx context.Context, c *Connection) {
	defer h.Unregister(c)
	rlog := logger.FromContext(ctx)
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && c.IsOpen() {
				rlog.WithError(err).Warnln("websocket read failed")
			}
			return
		}
		h.handleMessage(ctx, message)
	}
}

func (h *Hub) handleMessage(ctx context.Context, message []byte) {
	rlog := logger.FromContext(ctx)
	data, err := control.DecodeObject(message)
	if err != nil {
		rlog.Warnf("cannot parse message: %s", message)
		return
	}
	rlog.Debugf("received: %s", message)
	if !state.Truthy(data["command"]) {
		return
	}
	device, _ := data["device"].(string)
	value, present := data["value"]
	if device == "" || !present {
		rlog.Debugln("command without device or value ignored")
		return
	}
	if err := h.controller.ApplyCommand(ctx, metrics.OriginClient, device, value); err != nil {
		rlog.WithError(err).Warnf("command for %s ignored", device)
	}
}

// Connection is one WebSocket client of the hub
type Connection struct {
	id           string
	ws           *websocket.Conn
	outbox       chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func newConnection(ws *websocket.Conn, outboxSize int, writeTimeout time.Duration) *Connection {
	return &Connection{
		id:           uuid.New().String(),
		ws:           ws,
		outbox:       make(chan []byte, outboxSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// ID returns the connection id used in the logs
func (c *Connection) ID() string {
	return c.id
}

// IsOpen returns false once the connection was closed
func (c *Connection) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// send queues payload without blocking. It returns false if the connection is
// closed or its outbox is full.
func (c *Connection) send(payload []byte) bool {
	if !c.IsOpen() {
		return false
	}
	select {
	case c.outbox <- payload:
		return true
	default:
		return false
	}
}

func (c *Connection) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case payload := <-c.outbox:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				if c.IsOpen() {
					metrics.SendFailures.WithLabelValues("write_error").Inc()
					logger.Default().WithError(err).Warnf("websocket write to %s failed", c.id)
				}
				c.close()
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// closeWithMessage sends a close frame on a best effort basis, then closes
func (c *Connection) closeWithMessage(code int, text string) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
		_ = c.ws.Close()
	})
}

const pingInterval = 30 * time.Second
