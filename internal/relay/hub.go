// Package relay implements the signaling relay: a WebSocket endpoint
// that forwards typed messages between two addressable users. It is
// relay-only — no call logic lives here; the agents own the protocol.
package relay

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// client is one registered agent connection. Writes are serialized by
// the client's own mutex.
type client struct {
	userID string
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (c *client) send(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *client) close() {
	c.conn.Close()
}

// Hub is the user → connection registry.
type Hub struct {
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates an empty registry.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[string]*client),
	}
}

// register adds a client; a second connection for the same user id
// supersedes the first, whose socket is closed.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	old := h.clients[c.userID]
	h.clients[c.userID] = c
	h.mu.Unlock()

	if old != nil {
		h.log.Warn().Str("user_id", c.userID).Msg("superseding existing connection")
		old.close()
	}
	h.log.Info().Str("user_id", c.userID).Msg("client registered")
}

// unregister removes a client, but only if it is still the one
// registered — a superseded connection must not evict its successor.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if h.clients[c.userID] == c {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	c.close()
	h.log.Info().Str("user_id", c.userID).Msg("client unregistered")
}

// forward delivers a raw message to the connection registered for the
// recipient. Unknown recipients drop the message with a warning — the
// sender treats the channel as best-effort.
func (h *Hub) forward(to string, raw []byte) {
	h.mu.RLock()
	dst := h.clients[to]
	h.mu.RUnlock()

	if dst == nil {
		h.log.Warn().Str("to", to).Msg("no connection for recipient, dropping message")
		return
	}
	if err := dst.send(raw); err != nil {
		h.log.Error().Err(err).Str("to", to).Msg("forward failed")
	}
}

// Stop closes every registered connection.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
	}
}
