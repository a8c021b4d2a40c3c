package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gpuhot/gpuhot/internal/obsv"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

// EventTelemetry is the envelope event for telemetry broadcast frames.
const EventTelemetry = "gpu_data"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins — callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients on every broadcast tick.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ViewSource produces the current telemetry payload to broadcast: the node
// snapshot in standalone/node mode, the cluster view in hub mode.
type ViewSource func() (any, error)

// Hub manages WebSocket subscriber connections and pushes the current
// telemetry view to all of them on a fixed interval.
//
// The broadcast loop starts lazily when the first subscriber connects and
// then runs for the process lifetime; the last subscriber leaving does not
// stop it. A subscriber that cannot keep up is dropped from the set, never
// surfaced as an error out of the loop.
type Hub struct {
	source   ViewSource
	interval time.Duration
	baseCtx  context.Context
	metrics  *obsv.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	running bool
}

// client represents one connected subscriber.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub broadcasting source's payload every interval. ctx bounds
// the lifetime of the (lazily started) broadcast loop.
func New(ctx context.Context, source ViewSource, interval time.Duration, m *obsv.Metrics) *Hub {
	return &Hub{
		source:   source,
		interval: interval,
		baseCtx:  ctx,
		metrics:  m,
		clients:  make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the
// subscriber. The current view is sent immediately on connect so a dashboard
// has data right away. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.register(c)
	defer h.unregister(c)

	if data, err := h.buildMessage(); err == nil {
		h.trySend(c, data)
	}

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

// register adds the client and starts the broadcast loop on first use.
// The start is idempotent: the running flag is checked and set under the
// same lock that guards the client set.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	start := !h.running
	if start {
		h.running = true
	}
	h.mu.Unlock()

	h.metrics.AddWSClients(1)
	if start {
		slog.Info("ws: first subscriber connected — starting broadcast loop",
			"interval", h.interval)
		go h.run(h.baseCtx)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		h.metrics.AddWSClients(-1)
	}
}

// run is the broadcast ticker loop. It pushes the current view to every
// subscriber each tick until ctx is cancelled, then closes all connections.
func (h *Hub) run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			h.broadcast()
		}
	}
}

// broadcast pushes the current view to every subscriber. Sends happen under
// the same lock that guards close(c.send) in unregister and closeAll, so a
// subscriber disconnecting mid-broadcast can never close the channel out from
// under an in-flight send. The sends are non-blocking, so holding the lock
// across the loop is cheap.
func (h *Hub) broadcast() {
	data, err := h.buildMessage()
	if err != nil {
		slog.Warn("ws: building broadcast payload failed", "err", err)
		return
	}
	h.metrics.IncBroadcasts()

	dropped := 0
	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Subscriber's outgoing buffer is full — disconnect it.
			delete(h.clients, c)
			close(c.send)
			dropped++
		}
	}
	h.mu.Unlock()
	h.metrics.AddWSClients(-dropped)
}

// trySend queues data for c if it is still registered, without blocking.
// Like broadcast, it sends only under the lock that guards channel close.
func (h *Hub) trySend(c *client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) buildMessage() ([]byte, error) {
	view, err := h.source()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(view)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: EventTelemetry, Data: data})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	n := len(h.clients)
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	h.metrics.AddWSClients(-n)
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages
// (pong, close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
