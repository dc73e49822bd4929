// Package core provides the API chassis for the FieldNotes billing service.
// It builds a chi router and enforces the cross-cutting concerns (panic
// recovery, request IDs, logging, timeouts, security headers) before requests
// reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fieldnotes/internal/config"
)

// Server holds the router and the dependencies shared across middleware. All
// domain handlers are attached through route registrars so the chassis stays
// free of handler imports.
type Server struct {
	Config *config.Config
	Logger *slog.Logger

	// HealthProbes are checked by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars attach handlers under /v1 (UI collaborator surface).
	V1RouteRegistrars []func(chi.Router)

	// RootRouteRegistrars attach handlers at the root, outside /v1.
	// The webhook endpoint lives here: processors do not speak versioned
	// UI paths.
	RootRouteRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer initializes the chassis. Routes must be mounted afterwards via
// MountRoutes; the separation lets tests customize registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs graceful termination of server-owned resources. The
// database pool is owned by main and closed there.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
