// Package ws provides the server side of the realtime event stream: WebSocket
// connection handling and event fan-out.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/docvault/backend/pkg/event"
)

// Client represents a WebSocket client connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// NewClient creates a new WebSocket client.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// Send queues a message to be sent to the client.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Buffer full, close the client
		c.closeLocked()
	}
}

// SendEnvelope marshals env and queues it for the client.
func (c *Client) SendEnvelope(env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.Send(data)
	return nil
}

// Close closes the client connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub manages the set of WebSocket clients attached to the event stream.
// There is one hub per server: every document event is fanned out to every
// attached client, which demultiplexes by event name on its own side.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	// Callback for client-originated envelopes (ping probes and the like).
	onEnvelope func(client *Client, env event.Envelope)
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

// SetOnEnvelope sets the callback for incoming client envelopes.
func (h *Hub) SetOnEnvelope(callback func(client *Client, env event.Envelope)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEnvelope = callback
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	client.Close()
}

// Broadcast sends raw data to all connected clients.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.Send(data)
	}
}

// BroadcastEnvelope marshals env once and sends it to all connected clients.
func (h *Hub) BroadcastEnvelope(env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasClients returns true if there are connected clients.
func (h *Hub) HasClients() bool {
	return h.ClientCount() > 0
}

// HandleEnvelope processes an incoming envelope from a client.
func (h *Hub) HandleEnvelope(client *Client, env event.Envelope) {
	h.mu.RLock()
	callback := h.onEnvelope
	h.mu.RUnlock()

	if callback != nil {
		callback(client, env)
	}
}

// Close closes all client connections and the hub.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
