package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionKind identifies the consultation channel
type SessionKind string

const (
	KindChat      SessionKind = "chat"
	KindVoiceCall SessionKind = "voice_call"
	KindVideoCall SessionKind = "video_call"
)

// Valid reports whether the kind is one of the supported channels
func (k SessionKind) Valid() bool {
	switch k {
	case KindChat, KindVoiceCall, KindVideoCall:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of a consultation session
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusRejected  SessionStatus = "rejected"
	StatusCancelled SessionStatus = "cancelled"
	StatusExpired   SessionStatus = "expired"
)

// SessionEvent is a requested lifecycle transition
type SessionEvent string

const (
	EventAccept  SessionEvent = "accept"
	EventReject  SessionEvent = "reject"
	EventCancel  SessionEvent = "cancel"
	EventEnd     SessionEvent = "end"
	EventTimeout SessionEvent = "timeout"
)

// Role identifies which side of a session a requester is on.
// RoleSystem is reserved for internal callers such as the expiry sweeper
// and is never accepted from the API.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleAstrologer Role = "astrologer"
	RoleSystem     Role = "system"
)

// transitions is the allowed-transitions table. Anything not listed here
// is an invalid transition.
var transitions = map[SessionStatus]map[SessionEvent]SessionStatus{
	StatusPending: {
		EventAccept:  StatusActive,
		EventReject:  StatusRejected,
		EventCancel:  StatusCancelled,
		EventTimeout: StatusExpired,
	},
	StatusActive: {
		EventEnd: StatusCompleted,
	},
}

// terminalTargets maps each terminal event to the state it produces.
// Used to recognise duplicate submissions of an already-applied event.
var terminalTargets = map[SessionEvent]SessionStatus{
	EventReject:  StatusRejected,
	EventCancel:  StatusCancelled,
	EventEnd:     StatusCompleted,
	EventTimeout: StatusExpired,
}

// NextStatus returns the state the event leads to from the given state,
// and whether the transition is allowed at all.
func NextStatus(from SessionStatus, event SessionEvent) (SessionStatus, bool) {
	next, ok := transitions[from][event]
	return next, ok
}

// TerminalTarget returns the terminal state an event resolves to, if any.
func TerminalTarget(event SessionEvent) (SessionStatus, bool) {
	target, ok := terminalTargets[event]
	return target, ok
}

// Session represents one consultation between a customer and an astrologer.
// RatePerMinute is snapshotted from the astrologer's rate card at creation
// time; later rate changes never affect an in-flight session.
type Session struct {
	ID               uuid.UUID        `json:"id"`
	Kind             SessionKind      `json:"kind"`
	CustomerID       uuid.UUID        `json:"customer_id"`
	AstrologerID     uuid.UUID        `json:"astrologer_id"`
	Status           SessionStatus    `json:"status"`
	RatePerMinute    decimal.Decimal  `json:"rate_per_minute"`
	StartTime        *time.Time       `json:"start_time,omitempty"`
	EndTime          *time.Time       `json:"end_time,omitempty"`
	DurationMinutes  int              `json:"duration_minutes,omitempty"`
	TotalAmount      *decimal.Decimal `json:"total_amount,omitempty"`
	LastMessage      string           `json:"last_message,omitempty"`
	LastMessageTime  *time.Time       `json:"last_message_time,omitempty"`
	CustomerUnread   int              `json:"customer_unread"`
	AstrologerUnread int              `json:"astrologer_unread"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsParticipant reports whether the given user occupies the given side
// of this session.
func (s *Session) IsParticipant(userID uuid.UUID, role Role) bool {
	switch role {
	case RoleCustomer:
		return s.CustomerID == userID
	case RoleAstrologer:
		return s.AstrologerID == userID
	}
	return false
}

// Unread returns the unread counter for the given side.
func (s *Session) Unread(role Role) int {
	if role == RoleAstrologer {
		return s.AstrologerUnread
	}
	return s.CustomerUnread
}

// Counterpart returns the role of the other participant.
func Counterpart(role Role) Role {
	if role == RoleCustomer {
		return RoleAstrologer
	}
	return RoleCustomer
}

// SessionUpdate carries the fields written by a lifecycle transition.
// Nil pointers are left untouched by the store.
type SessionUpdate struct {
	Status          SessionStatus
	StartTime       *time.Time
	EndTime         *time.Time
	DurationMinutes *int
	TotalAmount     *decimal.Decimal
}

// SessionRepository defines the interface for session storage.
// UpdateIfStatus is the conditional-write primitive the ledger's
// optimistic-concurrency discipline depends on: the write applies only
// while the stored status still equals expected, otherwise ErrConflict.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID, role Role, limit, offset int) ([]Session, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Session, error)
	UpdateIfStatus(ctx context.Context, id uuid.UUID, expected SessionStatus, update SessionUpdate) (*Session, error)
	RecordMessage(ctx context.Context, id uuid.UUID, preview string, at time.Time, unreadCustomer, unreadAstrologer bool) error
	ResetUnread(ctx context.Context, id uuid.UUID, role Role) error
}
