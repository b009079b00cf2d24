package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"vrpdash/internal/analytics"
	"vrpdash/internal/auth"
	"vrpdash/internal/config"
	"vrpdash/internal/integrations"
	"vrpdash/internal/integrations/vrpapi"
	"vrpdash/internal/metrics"
	"vrpdash/internal/store"
	"vrpdash/internal/webhooks"
)

type Server struct {
	Config config.Config
	Store  store.Store
	Pub    *webhooks.Publisher
	Auth   *auth.Verifier
	Broker EventBroker
	Engine *analytics.Engine
	// Source is nil when no VRP backend is configured.
	Source integrations.RouteSource
}

const redisPingTimeout = 2 * time.Second

// NewServer wires the service from cfg. Without DATABASE_URL it uses the
// in-memory store; without REDIS_URL the in-process broker.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.DBMigrate {
			if err := sp.Migrate(context.Background()); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		s = sp
	}
	var broker EventBroker = NewBroker()
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
			if err = rb.Ping(ctx); err != nil {
				_ = rb.Close()
			}
			cancel()
		}
		if err != nil {
			log.WithError(err).Warn("redis broker unavailable; using in-process broker")
		} else {
			broker = rb
		}
	}
	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return nil, err
	}
	srv := &Server{
		Config: cfg,
		Store:  s,
		Pub:    webhooks.NewPublisher(s),
		Auth:   verifier,
		Broker: broker,
		Engine: analytics.NewEngine(cfg.Policy, cfg.Options),
	}
	if cfg.BackendURL != "" {
		srv.Source = vrpapi.New(cfg.BackendURL, cfg.BackendToken)
	}
	return srv, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Config.WebhookMaxAttempts)
}

// Routes returns the full handler tree with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Trips
	mux.HandleFunc("GET /v1/trips", s.ListTripsHandler)
	mux.HandleFunc("POST /v1/trips", s.UploadTripHandler)
	mux.HandleFunc("GET /v1/trips/{id}", s.GetTripHandler)
	mux.HandleFunc("DELETE /v1/trips/{id}", s.DeleteTripHandler)
	mux.HandleFunc("GET /v1/trips/{id}/dashboard", s.DashboardHandler)
	mux.HandleFunc("GET /v1/trips/{id}/charts", s.ChartsHandler)
	mux.HandleFunc("GET /v1/trips/{id}/map", s.MapHandler)
	mux.HandleFunc("GET /v1/trips/{id}/events/stream", s.TripEventsStreamHandler)
	mux.HandleFunc("GET /v1/trips/{id}/ws", s.TripWSHandler)
	mux.HandleFunc("GET /v1/source/trips", s.SourceTripsHandler)

	// Stateless
	mux.HandleFunc("POST /v1/analyze", s.AnalyzeHandler)
	mux.HandleFunc("GET /v1/policy", s.PolicyHandler)

	// Subscriptions
	mux.HandleFunc("GET /v1/subscriptions", s.ListSubscriptionsHandler)
	mux.HandleFunc("POST /v1/subscriptions", s.CreateSubscriptionHandler)
	mux.HandleFunc("DELETE /v1/subscriptions/{id}", s.DeleteSubscriptionHandler)

	// Admin
	mux.HandleFunc("GET /v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	mux.HandleFunc("POST /v1/admin/webhook-deliveries/{id}/retry", s.WebhookDeliveryRetryHandler)

	// Ops
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.HandleFunc("GET /debug/info", s.DebugJSON)
	mux.Handle("GET /metrics", metrics.Handler())

	var h http.Handler = mux
	if s.Config.RateRPS > 0 {
		h = NewRateLimiter(s.Config.RateRPS, s.Config.RateBurst).Middleware(h)
	}
	return logMiddleware(h)
}
