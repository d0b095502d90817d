package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sschuhmann/Helium/internal/buffer"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer.
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the editor plugin ships a fixed one
		return true
	},
}

// Handler upgrades attach requests and runs the read/write pumps for
// attached editors.
type Handler struct {
	hubManager *HubManager

	mu        sync.RWMutex
	prompters map[string]*HubPrompter
	histories map[string]*buffer.HistoryBuffer
}

// NewHandler creates a WebSocket handler over the given hub manager.
func NewHandler(hubManager *HubManager) *Handler {
	return &Handler{
		hubManager: hubManager,
		prompters:  make(map[string]*HubPrompter),
		histories:  make(map[string]*buffer.HistoryBuffer),
	}
}

// AttachSession registers the prompter and history buffer serving a session,
// so inbound prompt replies and hot restore can be routed.
func (h *Handler) AttachSession(sessionID string, prompter *HubPrompter, history *buffer.HistoryBuffer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prompters[sessionID] = prompter
	h.histories[sessionID] = history
}

// DetachSession removes the session's routing state and closes its hub.
func (h *Handler) DetachSession(sessionID string) {
	h.mu.Lock()
	delete(h.prompters, sessionID)
	delete(h.histories, sessionID)
	h.mu.Unlock()

	h.hubManager.Remove(sessionID)
}

func (h *Handler) prompterFor(sessionID string) *HubPrompter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.prompters[sessionID]
}

func (h *Handler) historyFor(sessionID string) *buffer.HistoryBuffer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.histories[sessionID]
}

// HandleConnection upgrades the request and attaches the editor to the
// session's hub.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	hub := h.hubManager.GetOrCreate(sessionID)
	client := NewClient(hub, conn, sessionID)
	hub.Register(client)

	hub.SetOnEvent(func(c *Client, ev *Event) {
		h.handleEvent(c, ev)
	})

	h.sendHistory(client)

	go h.writePump(client)
	go h.readPump(client, hub)

	return nil
}

// sendHistory replays the buffered output so a reattaching editor picks up
// where it left off.
func (h *Handler) sendHistory(client *Client) {
	history := h.historyFor(client.SessionID())
	if history == nil {
		return
	}
	data := history.Snapshot()
	if len(data) == 0 {
		return
	}

	frame, err := json.Marshal(&Event{Type: EventHistory, Data: string(data)})
	if err != nil {
		log.Printf("failed to marshal history event: %v", err)
		return
	}
	client.Send(frame)
}

// handleEvent processes one inbound client event.
func (h *Handler) handleEvent(client *Client, ev *Event) {
	switch ev.Type {
	case EventInputReply:
		if p := h.prompterFor(client.SessionID()); p != nil {
			p.Answer(ev.PromptID, ev.Data)
		}
	case EventInputInterrupt:
		if p := h.prompterFor(client.SessionID()); p != nil {
			p.Interrupt(ev.PromptID)
		}
	case EventPing:
		frame, err := json.Marshal(&Event{Type: EventPong})
		if err != nil {
			return
		}
		client.Send(frame)
	}
}

// readPump pumps frames from the editor into the hub.
func (h *Handler) readPump(client *Client, hub *Hub) {
	defer func() {
		hub.Unregister(client)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}

		var ev Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			log.Printf("failed to unmarshal event: %v", err)
			continue
		}

		hub.HandleEvent(client, &ev)
	}
}

// writePump pumps queued frames to the editor, one WebSocket frame each.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case frame, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn().WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued := <-client.SendChan()
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// BroadcastStatus pushes an execution state change to attached editors.
func (h *Handler) BroadcastStatus(sessionID, state string) {
	hub := h.hubManager.Get(sessionID)
	if hub == nil {
		return
	}
	hub.BroadcastEvent(&Event{Type: EventStatus, State: state})
}

// BroadcastError pushes an error message to attached editors.
func (h *Handler) BroadcastError(sessionID, errMsg string) {
	hub := h.hubManager.Get(sessionID)
	if hub == nil {
		return
	}
	hub.BroadcastEvent(&Event{Type: EventError, Error: errMsg})
}
