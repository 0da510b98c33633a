package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vediclink/consult-api/internal/domain"
)

const (
	rateCardPrefix = "ratecard:"
	rateCardTTL    = 10 * time.Minute
)

// RateCardCache caches astrologer per-minute rates in Redis. Rates are
// only read at session creation, so a short TTL is enough; the session
// itself snapshots the rate it was created with.
type RateCardCache struct {
	client *Client
}

// NewRateCardCache creates a new rate card cache
func NewRateCardCache(client *Client) *RateCardCache {
	return &RateCardCache{client: client}
}

func rateCardKey(astrologerID uuid.UUID, kind domain.SessionKind) string {
	return fmt.Sprintf("%s%s:%s", rateCardPrefix, astrologerID.String(), kind)
}

// Get retrieves a cached rate. A nil result with nil error is a miss.
func (c *RateCardCache) Get(ctx context.Context, astrologerID uuid.UUID, kind domain.SessionKind) (*decimal.Decimal, error) {
	raw, err := c.client.rdb.Get(ctx, rateCardKey(astrologerID, kind)).Result()
	if err != nil {
		return nil, nil // Cache miss
	}

	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cached rate: %w", err)
	}
	return &rate, nil
}

// Set caches a rate for an astrologer and consultation kind
func (c *RateCardCache) Set(ctx context.Context, astrologerID uuid.UUID, kind domain.SessionKind, rate decimal.Decimal) error {
	return c.client.rdb.Set(ctx, rateCardKey(astrologerID, kind), rate.String(), rateCardTTL).Err()
}

// Invalidate removes all cached rates for an astrologer
func (c *RateCardCache) Invalidate(ctx context.Context, astrologerID uuid.UUID) error {
	pattern := fmt.Sprintf("%s%s:*", rateCardPrefix, astrologerID.String())
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete keys: %w", err)
			}
		}
		cursor = nextCursor
		if cursor == 0 {
			return nil
		}
	}
}
