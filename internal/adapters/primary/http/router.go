package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	mw "github.com/lorrc/service-desk-realtime/internal/adapters/primary/http/middleware"
)

// RouterConfig collects the handlers and middleware of the status server.
type RouterConfig struct {
	Status         *StatusHandler
	Health         *HealthHandler
	Events         *WebSocketHandler
	RateLimiter    *mw.RateLimiter
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter builds the local status API.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(cfg.Logger))
	r.Use(mw.RecoveryLogger(cfg.Logger))

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type", mw.RequestIDHeader},
			ExposedHeaders: []string{mw.RequestIDHeader},
			MaxAge:         300,
		}))
	}

	// Health check endpoints (outside /api/v1 for standard probe paths)
	if cfg.Health != nil {
		r.Get("/health", cfg.Health.HandleHealth)
		r.Get("/health/live", cfg.Health.HandleLiveness)
		r.Get("/health/ready", cfg.Health.HandleReadiness)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Long-lived viewer connections are not rate limited
		if cfg.Events != nil {
			r.Get("/events", cfg.Events.ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			if cfg.RateLimiter != nil {
				r.Use(cfg.RateLimiter.Middleware)
			}
			cfg.Status.RegisterRoutes(r)
		})
	})

	return r
}
