package core

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"fieldnotes/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		Server: config.ServerConfig{
			Port:       "8080",
			AppBaseURL: "https://app.fieldnotes.test",
		},
	}
}

func TestNewServer_RequiresConfigAndLogger(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	if _, err := NewServer(nil, logger); err == nil {
		t.Error("expected error with nil config")
	}
	if _, err := NewServer(testConfig(), nil); err == nil {
		t.Error("expected error with nil logger")
	}
	if _, err := NewServer(testConfig(), logger); err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
}

func TestMountRoutes_HealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.MountRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestMountRoutes_V1Registrars(t *testing.T) {
	s := newTestServer(t)
	s.V1RouteRegistrars = append(s.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/accounts/{email}", func(w http.ResponseWriter, r *http.Request) {
			JSON(w, r, http.StatusOK, APIResponse{Data: chi.URLParam(r, "email")})
		})
	})
	s.MountRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/accounts/carla@example.com", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body APIResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Data != "carla@example.com" {
		t.Errorf("unexpected data: %v", body.Data)
	}
}

func TestMountRoutes_RootRegistrarsOutsideV1(t *testing.T) {
	s := newTestServer(t)
	s.RootRouteRegistrars = append(s.RootRouteRegistrars, func(r chi.Router) {
		r.Post("/webhooks/stripe", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	s.MountRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected webhook at root, got status %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("webhook must not be mounted under /v1, got status %d", w.Code)
	}
}

func TestMountRoutes_GlobalMiddlewareApplied(t *testing.T) {
	s := newTestServer(t)
	s.MountRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Header().Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id header from middleware")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers from middleware")
	}
}

func TestMountRoutes_PanicInHandlerReturns500(t *testing.T) {
	s := newTestServer(t)
	s.V1RouteRegistrars = append(s.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})
	})
	s.MountRoutes()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500 from recoverer, got %d", w.Code)
	}
}

func TestShutdown(t *testing.T) {
	s := newTestServer(t)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("expected clean shutdown, got: %v", err)
	}
}
