package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/kiranshivaraju/reelforge/internal/api/response"
	"github.com/kiranshivaraju/reelforge/internal/config"
	"github.com/kiranshivaraju/reelforge/internal/engine"
	"github.com/kiranshivaraju/reelforge/pkg/models"
)

// Engine is the subset of engine.Client the engine handlers use.
type Engine interface {
	QueueSnapshot(ctx context.Context) (*models.QueueSnapshot, error)
	SystemStats(ctx context.Context) (map[string]any, error)
	FetchArtifact(ctx context.Context, name, subfolder, kind string) ([]byte, error)
}

type queueResponse struct {
	Running   []string `json:"running"`
	Pending   []string `json:"pending"`
	Reachable bool     `json:"reachable"`
}

type engineStatusResponse struct {
	Status string         `json:"status"`
	URL    string         `json:"url"`
	Stats  map[string]any `json:"stats,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type engineConfigResponse struct {
	BaseURL string `json:"base_url"`
	WSURL   string `json:"ws_url"`
}

// NewQueueHandler returns an http.HandlerFunc for GET /api/v1/engine/queue.
// An unreachable engine yields empty lists rather than an error.
func NewQueueHandler(eng Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := eng.QueueSnapshot(r.Context())
		if err != nil {
			slog.Warn("engine queue unavailable", "error", err)
			response.JSON(w, queueResponse{Running: []string{}, Pending: []string{}})
			return
		}
		response.JSON(w, queueResponse{Running: snap.Running, Pending: snap.Pending, Reachable: true})
	}
}

// NewEngineStatusHandler returns an http.HandlerFunc for GET /api/v1/engine/status.
func NewEngineStatusHandler(eng Engine, cfg config.EngineConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := eng.SystemStats(r.Context())
		if err != nil {
			response.JSON(w, engineStatusResponse{
				Status: "disconnected",
				URL:    cfg.BaseURL,
				Error:  err.Error(),
			})
			return
		}
		response.JSON(w, engineStatusResponse{
			Status: "connected",
			URL:    cfg.BaseURL,
			Stats:  stats,
		})
	}
}

// NewEngineConfigHandler returns an http.HandlerFunc for GET /api/v1/engine/config.
// The engine location is fixed at startup and cannot be changed over HTTP.
func NewEngineConfigHandler(cfg config.EngineConfig) http.HandlerFunc {
	body := engineConfigResponse{BaseURL: cfg.BaseURL, WSURL: cfg.WSURL}
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, body)
	}
}

// NewArtifactHandler returns an http.HandlerFunc for GET /api/v1/engine/artifacts.
func NewArtifactHandler(eng Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filename := q.Get("filename")
		subfolder := q.Get("subfolder")
		kind := q.Get("type")

		if filename == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "filename is required", nil)
			return
		}
		if !safePathPart(filename) || (subfolder != "" && !safePathPart(subfolder)) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid artifact path", nil)
			return
		}

		data, err := eng.FetchArtifact(r.Context(), filename, subfolder, kind)
		if err != nil {
			switch {
			case errors.Is(err, engine.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Artifact not found", nil)
			case errors.Is(err, engine.ErrTooLarge):
				response.Error(w, http.StatusBadGateway, "ARTIFACT_TOO_LARGE",
					"The artifact exceeds the configured size limit", nil)
			default:
				slog.Warn("fetch artifact", "filename", filename, "error", err)
				response.Error(w, http.StatusBadGateway, "ENGINE_UNAVAILABLE",
					"The engine could not serve the artifact", nil)
			}
			return
		}

		response.Bytes(w, mime.TypeByExtension(path.Ext(filename)), data)
	}
}

func safePathPart(p string) bool {
	if strings.Contains(p, "..") || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	return true
}
