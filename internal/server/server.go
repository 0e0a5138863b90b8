// Package server implements the HTTP transport layer for the AI request gateway.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
	"github.com/Evronai/Project-AI-Assistant/internal/app"
	"github.com/Evronai/Project-AI-Assistant/internal/ledger"
	"github.com/Evronai/Project-AI-Assistant/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// UsageQuerier reads the usage ledger and its daily rollups.
type UsageQuerier interface {
	QueryUsage(ctx context.Context, f gateway.UsageFilter) ([]gateway.UsageRecord, error)
	CountUsage(ctx context.Context, f gateway.UsageFilter) (int, error)
	QueryRollups(ctx context.Context, f gateway.RollupFilter) ([]gateway.UsageRollup, error)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Gateway        *app.Gateway
	Profiles       *app.ProfileService
	Ledger         *ledger.Ledger
	Usage          UsageQuerier
	AdminKey       string             // empty = admin routes unauthenticated
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Metrics        *telemetry.Metrics // nil = no HTTP metrics
	MetricsHandler http.Handler       // nil = no /metrics route
	VerifyLimiter  *rate.Limiter      // nil = credential tests unthrottled
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.observe)

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Governed prompt surface
	r.Post("/v1/prompts", s.handleSubmitPrompt)
	r.Get("/v1/status", s.handleStatus)

	// Settings and analytics (admin key when configured)
	r.Group(func(r chi.Router) {
		r.Use(s.adminAuth)
		r.Get("/v1/credentials", s.handleGetCredentials)
		r.Put("/v1/credentials", s.handleSaveCredentials)
		r.Get("/v1/credentials/history", s.handleCredentialHistory)
		r.Post("/v1/credentials/test", s.handleTestCredentials)
		r.Get("/v1/usage", s.handleQueryUsage)
		r.Get("/v1/usage/recent", s.handleRecentUsage)
		r.Get("/v1/usage/daily", s.handleDailyUsage)
	})

	return r
}

type server struct {
	deps Deps
}
