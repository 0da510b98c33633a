package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vediclink/consult-api/internal/config"
	"github.com/vediclink/consult-api/internal/domain"
	"github.com/vediclink/consult-api/internal/repository/mongo"
	"github.com/vediclink/consult-api/internal/repository/redis"
)

// Seeds a development database with a couple of customers and
// astrologers. Upserts by id, so it is safe to run repeatedly.
func main() {
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := mongo.NewDB(ctx, cfg.Mongo)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer db.Close(context.Background())

	users := mongo.NewUserRepository(db)
	now := time.Now().UTC()

	seed := []domain.User{
		{
			ID:        uuid.MustParse("5d6f6e64-0000-4000-8000-000000000001"),
			Name:      "Asha Patel",
			Role:      domain.RoleCustomer,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:        uuid.MustParse("5d6f6e64-0000-4000-8000-000000000002"),
			Name:      "Rohan Mehta",
			Role:      domain.RoleCustomer,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:   uuid.MustParse("5d6f6e64-0000-4000-8000-000000000101"),
			Name: "Pandit Suresh Shastri",
			Role: domain.RoleAstrologer,
			Rates: map[domain.SessionKind]decimal.Decimal{
				domain.KindChat:      decimal.RequireFromString("15.00"),
				domain.KindVoiceCall: decimal.RequireFromString("25.00"),
				domain.KindVideoCall: decimal.RequireFromString("40.00"),
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:   uuid.MustParse("5d6f6e64-0000-4000-8000-000000000102"),
			Name: "Meera Joshi",
			Role: domain.RoleAstrologer,
			Rates: map[domain.SessionKind]decimal.Decimal{
				domain.KindChat:      decimal.RequireFromString("21.50"),
				domain.KindVoiceCall: decimal.RequireFromString("35.50"),
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	for i := range seed {
		if err := users.Create(ctx, &seed[i]); err != nil {
			log.Fatal().Err(err).Str("name", seed[i].Name).Msg("Failed to seed user")
		}
		log.Info().
			Str("id", seed[i].ID.String()).
			Str("name", seed[i].Name).
			Str("role", string(seed[i].Role)).
			Msg("seeded user")
	}

	// Re-seeding may change rate cards, so drop any cached rates for the
	// astrologers we just wrote. Redis is optional in dev; skip if absent.
	if redisClient, err := redis.NewClient(cfg.Redis); err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, skipping rate card cache invalidation")
	} else {
		defer redisClient.Close()
		rateCards := redis.NewRateCardCache(redisClient)
		for i := range seed {
			if seed[i].Role != domain.RoleAstrologer {
				continue
			}
			if err := rateCards.Invalidate(ctx, seed[i].ID); err != nil {
				log.Warn().Err(err).Str("id", seed[i].ID.String()).Msg("failed to invalidate cached rates")
			}
		}
	}

	log.Info().Int("count", len(seed)).Msg("Seeding complete")
}
