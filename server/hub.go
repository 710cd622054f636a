// Package server exposes run progress over websockets and a small HTTP API
// for run control and task management.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/veligo/chronodrive/run"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// event is the wire format for hub messages.
type event struct {
	Type     string        `json:"type"` // progress or log
	Progress *run.Progress `json:"progress,omitempty"`
	Log      *run.LogEvent `json:"log,omitempty"`
}

// Hub fans run progress and log events out to connected websocket clients.
// It implements run.Emitter, so a controller can write to it directly.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger

	// lastProgress lets a newly connected client see current state without
	// waiting for the next row.
	lastProgress *run.Progress
}

// NewHub creates a hub accepting connections from the given origins. An
// empty origin header (non-browser clients) is always accepted.
func NewHub(allowedOrigins []string, log *zap.SugaredLogger) *Hub {
	h := &Hub{
		clients: make(map[*client]struct{}),
		logger:  log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan event, 64),
		id:   uuid.New().String()[:8],
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	last := h.lastProgress
	h.mu.Unlock()

	h.logger.Infow("Progress client connected", "client_id", c.id)

	if last != nil {
		c.send <- event{Type: "progress", Progress: last}
	}

	go c.writePump()
	go c.readPump()
}

// EmitProgress broadcasts a progress snapshot to all clients.
func (h *Hub) EmitProgress(p run.Progress) {
	h.mu.Lock()
	h.lastProgress = &p
	h.mu.Unlock()

	h.broadcast(event{Type: "progress", Progress: &p})
}

// EmitLog broadcasts a log event to all clients.
func (h *Hub) EmitLog(e run.LogEvent) {
	h.broadcast(event{Type: "log", Log: &e})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		c.close()
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
}

// broadcast sends under the read lock; channel closes happen under the
// write lock in unregister, so a send can never hit a closed channel.
func (h *Hub) broadcast(ev event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Slow consumer, drop the event rather than block the run.
			h.logger.Debugw("Client send channel full, dropping event",
				"client_id", c.id,
				"type", ev.Type)
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()

	if ok {
		h.logger.Infow("Progress client disconnected", "client_id", c.id)
	}
}

// client is one websocket connection.
type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan event
	id        string
	closeOnce sync.Once
}

// readPump drains the connection to process control frames. Clients have
// nothing to say; any payload is ignored.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.hub.logger.Warnw("WebSocket read error",
					"client_id", c.id,
					"error", err)
			}
			return
		}
	}
}

// writePump sends queued events and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				c.hub.logger.Debugw("Event write error",
					"client_id", c.id,
					"error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}
