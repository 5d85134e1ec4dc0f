package pipeline

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/websocket"
)

// WSMessage is the frame sent to live-tracking clients.
type WSMessage struct {
	Type    string      `json:"type"` // "position", "alarm", "segment", "error"
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Client represents a connected WebSocket client
type Client struct {
	conn  *websocket.Conn
	tagID string
	send  chan []byte
}

// Hub manages WebSocket clients grouped by tag ID
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool // tagID -> set of clients
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]bool),
	}
}

// ServeWS handles WebSocket upgrade and client lifecycle
// URL: /api/live/{tagId}?token={authToken}
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/live/")
	tagID := strings.TrimSuffix(path, "/")
	if tagID == "" {
		http.Error(w, "tag_id required", http.StatusBadRequest)
		return
	}

	// The gateway in front validates tokens; just require one to exist.
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		client := &Client{
			conn:  conn,
			tagID: tagID,
			send:  make(chan []byte, 256),
		}

		h.register(client)
		defer h.unregister(client)

		slog.Info("client connected",
			"tag_id", tagID,
			"remote", conn.Request().RemoteAddr)

		// Write pump
		go func() {
			for msg := range client.send {
				if _, err := conn.Write(msg); err != nil {
					return
				}
			}
		}()

		// Read pump (for close detection)
		buf := make([]byte, 512)
		for {
			_, err := conn.Read(buf)
			if err != nil {
				return
			}
		}
	})

	wsHandler.ServeHTTP(w, r)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.tagID] == nil {
		h.clients[c.tagID] = make(map[*Client]bool)
	}
	h.clients[c.tagID][c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[c.tagID]; ok {
		delete(clients, c)
		close(c.send)
		if len(clients) == 0 {
			delete(h.clients, c.tagID)
		}
	}
	slog.Info("client disconnected", "tag_id", c.tagID)
}

// Broadcast sends a message to all clients subscribed to a tag
func (h *Hub) Broadcast(tagID string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal failed", "error", err)
		return
	}

	// Hold the lock across the iteration: unregister deletes from this map
	// and closes send under the write lock, so overlapping would mean a map
	// race and a send on a closed channel. Sends are non-blocking, so the
	// lock is held only briefly.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[tagID] {
		select {
		case client.send <- data:
		default:
			slog.Warn("client buffer full", "tag_id", tagID)
		}
	}
}

// CloseAll closes all client connections
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.clients {
		for client := range clients {
			close(client.send)
			client.conn.Close()
		}
	}
	h.clients = make(map[string]map[*Client]bool)
}
