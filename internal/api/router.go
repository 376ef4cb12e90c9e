package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/reelforge/internal/api/middleware"
	"github.com/kiranshivaraju/reelforge/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth           *mw.Auth
	RateLimit      *mw.RateLimit
	AllowedOrigins []string

	HealthHandler http.HandlerFunc

	SubmitHandler  http.HandlerFunc
	StatusHandler  http.HandlerFunc
	HistoryHandler http.HandlerFunc

	CheckpointsHandler  http.HandlerFunc
	OverlaysHandler     http.HandlerFunc
	QueueHandler        http.HandlerFunc
	EngineStatusHandler http.HandlerFunc
	EngineConfigHandler http.HandlerFunc
	ArtifactHandler     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if len(deps.AllowedOrigins) > 0 {
		r.Use(mw.CORS(deps.AllowedOrigins))
	}

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth.Authenticate)
		}
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/generations", orNotImplemented(deps.SubmitHandler))
		r.Get("/api/v1/generations", orNotImplemented(deps.HistoryHandler))
		r.Get("/api/v1/generations/{id}", orNotImplemented(deps.StatusHandler))

		r.Get("/api/v1/engine/checkpoints", orNotImplemented(deps.CheckpointsHandler))
		r.Get("/api/v1/engine/overlays", orNotImplemented(deps.OverlaysHandler))
		r.Get("/api/v1/engine/queue", orNotImplemented(deps.QueueHandler))
		r.Get("/api/v1/engine/status", orNotImplemented(deps.EngineStatusHandler))
		r.Get("/api/v1/engine/config", orNotImplemented(deps.EngineConfigHandler))
		r.Get("/api/v1/engine/artifacts", orNotImplemented(deps.ArtifactHandler))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
