package controller

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kioskpay/gateway/internal/infrastructure/config"
	"github.com/kioskpay/gateway/internal/infrastructure/observability"
	customMW "github.com/kioskpay/gateway/internal/middleware"
	"github.com/kioskpay/gateway/internal/repository/postgres"
	"github.com/kioskpay/gateway/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type RouterDeps struct {
	Pool            *pgxpool.Pool
	RedisClient     *redis.Client
	IntentService   *service.IntentService
	StatusService   *service.StatusService
	AdminService    *service.AdminService
	PaymeService    *service.PaymeService
	ClickService    *service.ClickService
	IdempotencyRepo *postgres.IdempotencyRepository
	Metrics         *observability.Metrics
	ServerConfig    config.ServerConfig
	PaymeConfig     config.PaymeConfig
	AuthConfig      config.AuthConfig
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.ServerConfig.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: deps.ServerConfig.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Pool, deps.RedisClient)
	paymeH := NewPaymeController(deps.PaymeService, deps.Metrics)
	clickH := NewClickController(deps.ClickService, deps.Metrics)
	paymentH := NewPaymentController(deps.IntentService, deps.StatusService, deps.AdminService, deps.Metrics)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	// Provider callbacks stay outside the rate limiter so a kiosk polling
	// burst can never starve a settlement webhook.
	r.Route("/api/payme", func(r chi.Router) {
		r.With(customMW.PaymeBasicAuth(deps.PaymeConfig.MerchantKey)).Post("/webhook", paymeH.Webhook)
	})
	r.Route("/api/click", func(r chi.Router) {
		r.Post("/prepare", clickH.Prepare)
		r.Post("/complete", clickH.Complete)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(customMW.RateLimit(deps.ServerConfig.RequestsPerMinute))

		idempotencyMW := customMW.Idempotency(deps.IdempotencyRepo)

		// Kiosk
		r.With(idempotencyMW).Post("/intents", paymentH.CreateIntent)
		r.Get("/payments/status/{orderID}", paymentH.GetStatus)

		// Operators
		r.Group(func(r chi.Router) {
			r.Use(customMW.RequireAuth(deps.AuthConfig.JWTSecret))
			r.Get("/payments", paymentH.ListRecords)
			r.Get("/payments/{id}/events", paymentH.GetEvents)
			r.Get("/stats", paymentH.GetStats)
			r.Post("/payments/{id}/simulate", paymentH.Simulate)
		})
	})

	return r
}
