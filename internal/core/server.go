// Package core provides the HTTP chassis for citycast. It builds a chi router,
// applies the cross-cutting middleware (recovery, request IDs, logging,
// metrics, security headers, CORS, rate limiting) and hands matched requests to
// the domain handlers mounted by the entry point.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"citycast/internal/config"
)

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	// RecordRequest records latency and count for one request. Endpoint is
	// the route pattern, not the raw path, to keep dimension cardinality low.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts handlers on a router.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies of the HTTP layer.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Validator    *Validator
	Metrics      MetricsCollector
	HealthProbes []HealthProbe
	Limiter      *ClientLimiter

	// RouteRegistrars are mounted at the root (HTML pages).
	RouteRegistrars []RouteRegistrar
	// V1RouteRegistrars are mounted under /v1. They are supplied by main to
	// keep core free of handler imports.
	V1RouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer validates the required dependencies and prepares an empty router.
// Routes are added by MountRoutes once the registrars are set.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}
	if cfg.Server.RateLimitRPS > 0 {
		s.Limiter = NewClientLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	}

	return s, nil
}

// Handler returns the root handler for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests and custom registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server-owned resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	if s.Limiter != nil {
		s.Limiter.Reset()
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
