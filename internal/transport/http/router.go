// Package httptransport composes the HTTP surface: shared middleware, the
// domain handlers, health endpoints and the metrics endpoint.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"idchain/internal/platform/metrics"
	"idchain/internal/platform/middleware"
	ratelimit "idchain/internal/ratelimit/middleware"
	"idchain/pkg/platform/httputil"
)

const readinessTimeout = 2 * time.Second

// Registrar mounts a domain handler's routes.
type Registrar interface {
	Register(r chi.Router)
}

// AdminRegistrar mounts operator routes on a router guarded by the admin
// token.
type AdminRegistrar interface {
	RegisterAdmin(r chi.Router)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry
	AdminToken string
	Resolver   middleware.PrincipalResolver
	// RateLimiter throttles /api routes. Nil disables throttling.
	RateLimiter *ratelimit.Middleware
	Handlers    []Registrar
	Admin       []AdminRegistrar
	// Checks run on /readyz. A failing check makes the endpoint return 503.
	Checks map[string]HealthCheck
}

// NewRouter builds the service router. Health and metrics endpoints sit
// outside authentication; every /api route resolves the caller's principal
// and /admin routes require the operator token.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.LatencyMiddleware(cfg.Metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(cfg.Checks, cfg.Logger))
	if cfg.Registry != nil {
		r.Handle("/metrics", metrics.Handler(cfg.Registry))
	}

	r.Group(func(api chi.Router) {
		api.Use(middleware.ContentTypeJSON)
		api.Use(cfg.RateLimiter.RateLimit)
		api.Use(middleware.Authenticate(cfg.Resolver, cfg.Logger))
		for _, h := range cfg.Handlers {
			h.Register(api)
		}
	})

	r.Group(func(admin chi.Router) {
		admin.Use(middleware.ContentTypeJSON)
		admin.Use(middleware.RequireAdminToken(cfg.AdminToken, cfg.Logger))
		for _, h := range cfg.Admin {
			h.RegisterAdmin(admin)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	})
	return r
}

func readiness(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
				results[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		httputil.WriteJSON(w, status, results)
	}
}
