// Package ws implements the WebSocket adapter that streams bus events and
// stream chunks to connected clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn is one client. Messages are queued on send and written by a
// dedicated goroutine; a full queue drops the message for that client.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	send   chan []byte
	types  map[string]struct{} // nil receives every type
}

func (c *conn) wants(typ string) bool {
	if c.types == nil {
		return true
	}
	_, ok := c.types[typ]
	return ok
}

// Hub manages active WebSocket connections.
type Hub struct {
	origins []string

	mu      sync.RWMutex
	conns   map[*conn]struct{}
	dropped atomic.Int64
}

// NewHub creates a hub. corsOrigin is a comma-separated list of allowed
// origin patterns; empty or "*" accepts any origin.
func NewHub(corsOrigin string) *Hub {
	h := &Hub{conns: make(map[*conn]struct{})}
	for o := range strings.SplitSeq(corsOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			h.origins = append(h.origins, hostPattern(o))
		}
	}
	return h
}

// hostPattern strips the scheme; websocket origin patterns match hosts.
func hostPattern(origin string) string {
	if _, rest, ok := strings.Cut(origin, "://"); ok {
		return rest
	}
	return origin
}

// HandleWS upgrades the request. The optional "types" query parameter is a
// comma-separated list of event types the client wants.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: h.origins}
	if len(h.origins) == 0 || (len(h.origins) == 1 && h.origins[0] == "*") {
		opts = &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: ws, cancel: cancel, send: make(chan []byte, sendBuffer)}
	if q := r.URL.Query().Get("types"); q != "" {
		c.types = make(map[string]struct{})
		for t := range strings.SplitSeq(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				c.types[t] = struct{}{}
			}
		}
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("websocket connected", "remote", r.RemoteAddr, "filtered", c.types != nil)

	go h.writeLoop(ctx, c)
	go h.readLoop(ctx, c)
}

// readLoop detects disconnects. Clients do not send commands.
func (h *Hub) readLoop(ctx context.Context, c *conn) {
	defer h.remove(c)
	for {
		if _, _, err := c.ws.Read(ctx); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *conn) {
	defer func() { _ = c.ws.Close(websocket.StatusNormalClosure, "") }()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "error", err)
				h.remove(c)
				return
			}
		}
	}
}

// Broadcast queues msg for every client subscribed to its type.
func (h *Hub) Broadcast(_ context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if !c.wants(msg.Type) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
			slog.Warn("websocket client too slow, message dropped", "type", msg.Type)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Dropped returns how many messages were discarded for slow clients.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.cancel()
		delete(h.conns, c)
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}
