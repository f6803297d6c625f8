package chat

import "sync"

// Conn is the write side of a connected chat client. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteJSON(v any) error
}

// Hub tracks connected chat clients and fans messages out to them. All
// writes go through the hub's lock: gorilla connections support only one
// concurrent writer, and both the pubsub fan-out and the HTTP handlers
// broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[Conn]bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[Conn]bool),
	}
}

// Register adds a client and returns the new participant count.
func (h *Hub) Register(c Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = true
	return len(h.clients)
}

// Unregister removes a client and returns the remaining participant count.
func (h *Hub) Unregister(c Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c)
	return len(h.clients)
}

// Count returns the current participant count.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// Broadcast sends v to every connected client. Write failures are left to
// the client's own read loop to notice and tear the connection down.
func (h *Hub) Broadcast(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		_ = c.WriteJSON(v)
	}
}

// Send writes v to a single client, serialized with Broadcast.
func (h *Hub) Send(c Conn, v any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	_ = c.WriteJSON(v)
}
