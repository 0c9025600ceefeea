// Package httpapi exposes the session API over HTTP: JSON for session and
// diagnostics endpoints, NDJSON for generation streams.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sessiond/internal/generation"
	"sessiond/internal/manager"
	"sessiond/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	StartSession(ctx context.Context, modelID string, cfg manager.SessionConfig) (string, error)
	Session(id string) (manager.SessionInfo, error)
	Sessions() []manager.SessionInfo
	Generate(ctx context.Context, sessionID string, req manager.GenerateRequest) (*generation.Stream, error)
	Cancel(sessionID string) error
	CloseSession(ctx context.Context, sessionID string) error
	MemoryStats() manager.MemoryStats
	SetMemoryBudget(bytes int64) []string
	ListModels() []types.Model
	Capabilities() types.CapabilitiesResponse
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.createSession)
		r.Get("/", h.listSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Delete("/", h.closeSession)
			r.Post("/generate", h.generate)
			r.Post("/cancel", h.cancel)
		})
	})

	r.Group(func(r chi.Router) {
		// Compression for JSON endpoints; the NDJSON stream is left alone.
		r.Use(middleware.Compress(5))
		r.Get("/models", h.listModels)
		r.Get("/capabilities", h.capabilities)
		r.Get("/memory", h.memory)
		r.Put("/memory/budget", h.setBudget)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

type handlers struct {
	svc Service
}
