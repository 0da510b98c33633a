package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vediclink/consult-api/internal/domain"
)

// rateCardCache is the slice of the Redis rate-card cache the directory
// consumes. Get reports a miss as (nil, nil).
type rateCardCache interface {
	Get(ctx context.Context, astrologerID uuid.UUID, kind domain.SessionKind) (*decimal.Decimal, error)
	Set(ctx context.Context, astrologerID uuid.UUID, kind domain.SessionKind, rate decimal.Decimal) error
}

// Directory implements domain.UserDirectory over the user store with a
// Redis rate-card cache in front. The cache may be nil.
type Directory struct {
	users domain.UserRepository
	cache rateCardCache
}

// NewDirectory creates a new user directory
func NewDirectory(users domain.UserRepository, cache rateCardCache) *Directory {
	return &Directory{users: users, cache: cache}
}

// Exists reports whether the given user id is known.
func (d *Directory) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := d.users.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RateCard returns the astrologer's current per-minute rate for the
// given consultation kind.
func (d *Directory) RateCard(ctx context.Context, astrologerID uuid.UUID, kind domain.SessionKind) (decimal.Decimal, error) {
	if d.cache != nil {
		cached, err := d.cache.Get(ctx, astrologerID, kind)
		if err == nil && cached != nil {
			return *cached, nil
		}
	}

	user, err := d.users.Get(ctx, astrologerID)
	if errors.Is(err, domain.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("astrologer %s: %w", astrologerID, domain.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, err
	}
	if user.Role != domain.RoleAstrologer {
		return decimal.Zero, fmt.Errorf("%w: user %s is not an astrologer", domain.ErrInvalidInput, astrologerID)
	}

	rate, ok := user.Rates[kind]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: astrologer %s has no %s rate", domain.ErrInvalidInput, astrologerID, kind)
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, astrologerID, kind, rate); err != nil {
			log.Error().Err(err).Str("astrologer_id", astrologerID.String()).Msg("failed to cache rate card")
		}
	}
	return rate, nil
}
