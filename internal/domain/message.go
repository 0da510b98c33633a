package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageKind distinguishes user chat messages from system transition notices
type MessageKind string

const (
	MessageUser   MessageKind = "user"
	MessageSystem MessageKind = "system"
)

// Message is one record in a session's append-only message log.
// SenderID is uuid.Nil for system messages.
type Message struct {
	ID        uuid.UUID   `json:"id"`
	SessionID uuid.UUID   `json:"session_id"`
	SenderID  uuid.UUID   `json:"sender_id,omitempty"`
	Kind      MessageKind `json:"kind"`
	Body      string      `json:"body"`
	SentAt    time.Time   `json:"sent_at"`
}

// MessageRepository defines the interface for the message log.
// Append only creates records; existing records are never mutated.
type MessageRepository interface {
	Append(ctx context.Context, message *Message) error
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]Message, error)
}
