package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vediclink/consult-api/internal/common/clock"
	"github.com/vediclink/consult-api/internal/config"
	"github.com/vediclink/consult-api/internal/repository/mongo"
	"github.com/vediclink/consult-api/internal/service"
)

// The sweeper is the only thing that expires stale pending sessions.
// The API never runs timers of its own; it just applies the timeout
// event when this process asks for it.
func main() {
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := mongo.NewDB(context.Background(), cfg.Mongo)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer db.Close(context.Background())

	sessionRepo := mongo.NewSessionRepository(db)
	messageRepo := mongo.NewMessageRepository(db)
	userRepo := mongo.NewUserRepository(db)
	directory := service.NewDirectory(userRepo, nil)

	ledger := service.NewSessionLedger(
		sessionRepo,
		messageRepo,
		directory,
		&clock.DefaultClock{},
		cfg.Session.PendingTTL,
	)

	sweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		expired, err := ledger.ExpireStale(ctx, cfg.Session.SweepBatchSize)
		if err != nil {
			log.Error().Err(err).Msg("sweep failed")
			return
		}
		if expired > 0 {
			log.Info().Int("expired", expired).Msg("expired stale pending sessions")
		}
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %s", cfg.Session.SweepInterval)
	if _, err := c.AddFunc(spec, sweep); err != nil {
		log.Fatal().Err(err).Str("spec", spec).Msg("Failed to schedule sweep")
	}

	log.Info().
		Dur("interval", cfg.Session.SweepInterval).
		Dur("pending_ttl", cfg.Session.PendingTTL).
		Msg("Starting session sweeper")

	c.Start()

	// Run once at startup so a long-dead sweeper catches up immediately.
	sweep()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Stopping sweeper...")
	<-c.Stop().Done()
	log.Info().Msg("Sweeper stopped")
}
