// Package hub is a small WebSocket broadcast hub shared by the wizard server
// (display updates to the browser) and the weight bridge (scale pushes to the
// wizard).
package hub

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Message is the event envelope the wizard server sends to the browser.
//
// The frontend switches on `type` and treats `data` as an arbitrary JSON object.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Client wraps a websocket connection with a per-connection write mutex.
// Gorilla WebSocket requires that writes are not concurrent on the same Conn.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Send writes v as JSON to this client.
func (c *Client) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub fans out messages to every connected client.
//
// OnJoin, when set, runs once per new client while the hub is locked, so a
// greeting or snapshot is always the first frame the client sees and every
// later Broadcast reaches it. OnJoin must not call back into the hub.
type Hub struct {
	OnJoin func(c *Client)

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// New constructs an empty hub.
func New() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

// Add registers a connection with the hub and returns the Client wrapper.
func (h *Hub) Add(conn *websocket.Conn) *Client {
	c := &Client{conn: conn}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.OnJoin != nil {
		h.OnJoin(c)
	}
	h.clients[c] = struct{}{}
	return c
}

// Remove unregisters a client and closes its connection.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast marshals v once and writes it to all clients.
//
// Failures are ignored; the read loop in Serve notices disconnects and
// removes the client.
func (h *Hub) Broadcast(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, b)
		c.mu.Unlock()
	}
}
