package server

import (
	"context"
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vegeta897/slash-create/internal/appid"
	"github.com/vegeta897/slash-create/internal/observability"
	"github.com/vegeta897/slash-create/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	// Standard health endpoints per Workhorse §9
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	// Version endpoint
	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", MetricsHandler)

	// Dispatch API
	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/requests", handlers.DispatchHandler)
		r.Get("/buckets", handlers.BucketsHandler)
		r.Get("/stats", handlers.StatsHandler)
	})

	// Admin signal endpoint (optional, requires SLASH_CREATE_ADMIN_TOKEN)
	s.registerAdminEndpoint()
}

// registerAdminEndpoint registers the admin signal endpoint when an admin
// token is configured in the environment; without one it stays off.
func (s *Server) registerAdminEndpoint() {
	prefix := adminEnvPrefix()
	token := os.Getenv(prefix + "ADMIN_TOKEN")
	logger := observability.ServerLogger

	if token == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + prefix + "ADMIN_TOKEN set)")
		}
		return
	}

	// Bearer token auth with a small rate limit; signals are delivered to the
	// default global manager.
	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: token,
		RateLimit: 10, // 10 requests per minute
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}

// adminEnvPrefix resolves the env var prefix from app identity, falling back
// to the Workhorse default when identity cannot be loaded.
func adminEnvPrefix() string {
	identity, _ := appid.Get(context.Background())
	if identity != nil && identity.EnvPrefix != "" {
		return identity.EnvPrefix
	}
	return "WORKHORSE_"
}
