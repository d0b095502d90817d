// Package ws fans rendered kernel output out to attached editor frontends
// over WebSocket and routes input-prompt answers back to the kernel.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// EventType identifies a WebSocket event.
type EventType string

const (
	// Server -> client events
	EventAppend      EventType = "append"
	EventBlockHTML   EventType = "block_html"
	EventBlockImage  EventType = "block_image"
	EventInlineHTML  EventType = "inline_html"
	EventInlineImage EventType = "inline_image"
	EventPanel       EventType = "panel"
	EventPrompt      EventType = "prompt"
	EventStatus      EventType = "status"
	EventHistory     EventType = "history"
	EventPong        EventType = "pong"
	EventError       EventType = "error"

	// Client -> server events
	EventInputReply     EventType = "input_reply"
	EventInputInterrupt EventType = "input_interrupt"
	EventPing           EventType = "ping"
)

// Event is one WebSocket frame in either direction.
type Event struct {
	Type EventType `json:"type"`

	// Data carries text or base64 payloads depending on Type.
	Data string `json:"data,omitempty"`

	// ViewHandle and Pos anchor inline events at their output target.
	ViewHandle string `json:"view,omitempty"`
	Pos        int    `json:"pos,omitempty"`

	// PromptID correlates prompt events with input replies.
	PromptID string `json:"promptId,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Password bool   `json:"password,omitempty"`

	// State carries execution state on status events.
	State string `json:"state,omitempty"`

	Error string `json:"error,omitempty"`
}

// Client is one attached editor frontend.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	mu        sync.Mutex
	closed    bool
}

// NewClient creates a client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, sessionID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, 256),
	}
}

// Send queues a frame for the client. A client that cannot keep up is
// dropped rather than stalling the broadcast.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.closeLocked()
	}
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

// IsClosed reports whether the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SessionID returns the kernel session this client is attached to.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the outbound frame channel for the write pump.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub holds the editor frontends attached to one kernel session.
type Hub struct {
	sessionID string
	clients   map[*Client]bool
	mu        sync.RWMutex

	onEvent func(client *Client, ev *Event)
	onClose func()
}

// NewHub creates a hub for the given session.
func NewHub(sessionID string) *Hub {
	return &Hub{
		sessionID: sessionID,
		clients:   make(map[*Client]bool),
	}
}

// SessionID returns the session this hub serves.
func (h *Hub) SessionID() string {
	return h.sessionID
}

// SetOnEvent sets the callback for inbound client events.
func (h *Hub) SetOnEvent(callback func(client *Client, ev *Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEvent = callback
}

// SetOnClose sets the callback invoked when the last client detaches.
func (h *Hub) SetOnClose(callback func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClose = callback
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub and closes it.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	clientCount := len(h.clients)
	onClose := h.onClose
	h.mu.Unlock()

	client.Close()

	if clientCount == 0 && onClose != nil {
		onClose()
	}
}

// Broadcast sends raw frame data to every attached client.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.Send(data)
	}
}

// BroadcastEvent marshals and broadcasts an event.
func (h *Hub) BroadcastEvent(ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasClients reports whether any editor is attached.
func (h *Hub) HasClients() bool {
	return h.ClientCount() > 0
}

// HandleEvent dispatches an inbound client event to the hub callback.
func (h *Hub) HandleEvent(client *Client, ev *Event) {
	h.mu.RLock()
	callback := h.onEvent
	h.mu.RUnlock()

	if callback != nil {
		callback(client, ev)
	}
}

// Close closes every client and empties the hub.
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

// HubManager holds the hubs for all kernel sessions.
type HubManager struct {
	hubs map[string]*Hub
	mu   sync.RWMutex
}

// NewHubManager creates an empty HubManager.
func NewHubManager() *HubManager {
	return &HubManager{
		hubs: make(map[string]*Hub),
	}
}

// GetOrCreate returns the hub for the session, creating it if needed.
func (m *HubManager) GetOrCreate(sessionID string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[sessionID]; ok {
		return hub
	}

	hub := NewHub(sessionID)
	m.hubs[sessionID] = hub
	return hub
}

// Get returns the hub for the session, or nil.
func (m *HubManager) Get(sessionID string) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[sessionID]
}

// Remove closes and removes the hub for the session.
func (m *HubManager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[sessionID]; ok {
		hub.Close()
		delete(m.hubs, sessionID)
	}
}

// Close closes all hubs.
func (m *HubManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, hub := range m.hubs {
		hub.Close()
	}
	m.hubs = make(map[string]*Hub)
}
