package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is a platform account: either a customer or an astrologer.
// Astrologers carry a per-minute rate card keyed by consultation kind.
type User struct {
	ID        uuid.UUID                       `json:"id"`
	Name      string                          `json:"name"`
	Role      Role                            `json:"role"`
	Rates     map[SessionKind]decimal.Decimal `json:"rates,omitempty"`
	CreatedAt time.Time                       `json:"created_at"`
	UpdatedAt time.Time                       `json:"updated_at"`
}

// UserRepository defines the interface for user storage
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	Get(ctx context.Context, id uuid.UUID) (*User, error)
}

// UserDirectory resolves participant identities and current rate cards.
// RateCard is consulted only at session creation; the returned rate is
// snapshotted onto the session record.
type UserDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	RateCard(ctx context.Context, astrologerID uuid.UUID, kind SessionKind) (decimal.Decimal, error)
}
