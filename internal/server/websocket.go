package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/live"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	// The dashboard is served from localhost only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message kinds pushed to dashboard viewers.
const (
	KindEvent = "event"
	KindFeed  = "feed"
)

// Message is one frame pushed to viewers.
type Message struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// Hub manages dashboard WebSocket viewers and broadcasts auto-log events
// and live feed frames to them.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	closed  bool
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
	}
}

// HandleWebSocket upgrades the HTTP connection and registers the viewer.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = true
	h.mu.Unlock()

	// Viewers never send anything; reading detects disconnects.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Emit broadcasts an auto-log event.
func (h *Hub) Emit(ev autolog.Event) {
	h.Broadcast(Message{Kind: KindEvent, Data: ev})
}

// Forward broadcasts a live feed frame. It has the live.Handler signature.
func (h *Hub) Forward(env live.Envelope) {
	h.Broadcast(Message{Kind: KindFeed, Data: env})
}

// Broadcast sends msg to every viewer. Writes are serialized because a
// websocket connection supports one concurrent writer.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("websocket marshal failed", "kind", msg.Kind, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("websocket write failed", "error", err)
			// The read goroutine removes it.
			conn.Close()
		}
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all viewers and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.clients {
		conn.Close()
	}
}
