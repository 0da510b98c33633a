package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vediclink/consult-api/internal/api/handler"
	customMiddleware "github.com/vediclink/consult-api/internal/api/middleware"
	"github.com/vediclink/consult-api/internal/common/clock"
	"github.com/vediclink/consult-api/internal/config"
	mongorepo "github.com/vediclink/consult-api/internal/repository/mongo"
	"github.com/vediclink/consult-api/internal/repository/redis"
	"github.com/vediclink/consult-api/internal/security"
	"github.com/vediclink/consult-api/internal/service"
	"github.com/vediclink/consult-api/internal/ws"
)

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, db *mongorepo.DB, redisClient *redis.Client, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	jwtManager := security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	// Repositories
	sessionRepo := mongorepo.NewSessionRepository(db)
	messageRepo := mongorepo.NewMessageRepository(db)
	userRepo := mongorepo.NewUserRepository(db)

	rateLimiter := redis.NewRateLimiter(
		redisClient,
		cfg.RateLimit.RequestsPerMinute,
		cfg.RateLimit.Burst,
	)
	rateCardCache := redis.NewRateCardCache(redisClient)

	// Services
	clk := &clock.DefaultClock{}
	directory := service.NewDirectory(userRepo, rateCardCache)
	ledger := service.NewSessionLedger(sessionRepo, messageRepo, directory, clk, cfg.Session.PendingTTL)
	chat := service.NewChatService(sessionRepo, messageRepo, hub, clk, cfg.Session.HistoryLimit)

	// Handlers
	sessionHandler := handler.NewSessionHandler(ledger)
	messageHandler := handler.NewMessageHandler(chat)
	wsHandler := handler.NewWSHandler(hub, chat)

	authMiddleware := customMiddleware.NewAuthMiddleware(jwtManager)
	rateLimitMiddleware := customMiddleware.NewRateLimitMiddleware(rateLimiter)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(db))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(rateLimitMiddleware.Limit)

			r.Get("/ws", wsHandler.Connect)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)
				r.Post("/", sessionHandler.Create)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)

					r.Post("/accept", sessionHandler.Accept)
					r.Post("/reject", sessionHandler.Reject)
					r.Post("/cancel", sessionHandler.Cancel)
					r.Post("/end", sessionHandler.End)

					r.Route("/messages", func(r chi.Router) {
						r.Get("/", messageHandler.History)
						r.Post("/", messageHandler.Send)
						r.Post("/read", messageHandler.MarkRead)
					})
				})
			})
		})
	})

	return r
}
