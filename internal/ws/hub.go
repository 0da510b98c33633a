package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/vediclink/consult-api/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hub fans delivered chat messages out to connected participants. A
// user may hold several connections at once (multiple devices); each
// gets its own Client.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Envelope
}

// Client is one websocket connection owned by the hub. The hub prunes
// slow clients while the read pump may still be queueing error frames,
// so every write to send and the close itself go through the mutex.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID uuid.UUID
	role   domain.Role

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// trySend queues a frame without blocking. Returns false when the
// buffer is full or the client is already closed.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// sender is the slice of the chat service the read pump needs.
type sender interface {
	Send(ctx context.Context, sessionID, senderID uuid.UUID, senderRole domain.Role, body string) (*domain.Message, error)
}

// Envelope is the wire format for frames in both directions.
type Envelope struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id,omitempty"`
	SenderID    string `json:"sender_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	Body        string `json:"body,omitempty"`
	SentAt      string `json:"sent_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Envelope, 64),
	}
}

// NewClient creates a new client for an authenticated connection
func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, role domain.Role) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		role:   role,
		send:   make(chan []byte, 32),
	}
}

// Run owns the client registry. Call it once, in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			set, ok := h.clients[client.userID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				client.closeSend()
			}
			if len(set) == 0 {
				delete(h.clients, client.userID)
			}
		case envelope := <-h.broadcast:
			h.deliver(envelope)
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastMessage pushes a delivered message to both participants'
// open connections. Safe to call from any goroutine.
func (h *Hub) BroadcastMessage(sessionID, senderID, recipientID uuid.UUID, body string, sentAt time.Time) {
	envelope := &Envelope{
		Type:        "message",
		SessionID:   sessionID.String(),
		SenderID:    senderID.String(),
		RecipientID: recipientID.String(),
		Body:        body,
		SentAt:      sentAt.UTC().Format(time.RFC3339),
	}
	select {
	case h.broadcast <- envelope:
	default:
		log.Warn().Str("session_id", envelope.SessionID).Msg("hub broadcast buffer full, dropping frame")
	}
}

func (h *Hub) deliver(envelope *Envelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode hub frame")
		return
	}

	senderID, err := uuid.Parse(envelope.SenderID)
	if err == nil {
		h.sendToUser(senderID, payload)
	}
	if envelope.RecipientID != "" && envelope.RecipientID != envelope.SenderID {
		if recipient, err := uuid.Parse(envelope.RecipientID); err == nil {
			h.sendToUser(recipient, payload)
		}
	}
}

func (h *Hub) sendToUser(userID uuid.UUID, payload []byte) {
	set, ok := h.clients[userID]
	if !ok {
		return
	}

	for client := range set {
		if !client.trySend(payload) {
			// Slow or gone consumer; drop it rather than block the hub.
			client.closeSend()
			delete(set, client)
		}
	}
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

// ReadPump consumes inbound frames until the connection drops. Each
// "message" frame goes through the chat service, which persists it and
// broadcasts back through the hub.
func (c *Client) ReadPump(chat sender) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var incoming Envelope
		if err := json.Unmarshal(payload, &incoming); err != nil {
			c.writeError("invalid frame")
			continue
		}
		if incoming.Type != "message" {
			c.writeError("unsupported frame type")
			continue
		}

		sessionID, err := uuid.Parse(incoming.SessionID)
		if err != nil {
			c.writeError("invalid session id")
			continue
		}

		if _, err := chat.Send(context.Background(), sessionID, c.userID, c.role, incoming.Body); err != nil {
			c.writeError(sendErrorMessage(err))
			continue
		}
		// Delivery frames come back through the hub broadcast.
	}
}

// WritePump drains the send channel onto the connection and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeError(message string) {
	payload, err := json.Marshal(Envelope{Type: "error", Error: message})
	if err != nil {
		return
	}
	if !c.trySend(payload) {
		c.hub.Unregister(c)
	}
}

func sendErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "session not found"
	case errors.Is(err, domain.ErrPermissionDenied):
		return "not a participant of this session"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "session is not active"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid message"
	default:
		return "failed to send message"
	}
}
