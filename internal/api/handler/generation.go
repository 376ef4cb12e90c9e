// Package handler holds the HTTP handlers for generations and the engine.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/reelforge/internal/api/response"
	"github.com/kiranshivaraju/reelforge/internal/generation"
	"github.com/kiranshivaraju/reelforge/pkg/models"
)

const maxRequestBody = 1 << 20

// Generations defines the service the generation handlers depend on.
type Generations interface {
	Submit(ctx context.Context, req models.GenerationRequest) (*models.GenerationRecord, error)
	Status(ctx context.Context, id string) (*models.GenerationRecord, error)
	History(ctx context.Context, limit int) ([]*models.GenerationRecord, error)
	Checkpoints(ctx context.Context) []string
	Overlays(ctx context.Context) []string
}

type submitResponse struct {
	ID       string                  `json:"id"`
	PromptID string                  `json:"prompt_id"`
	Status   models.GenerationStatus `json:"status"`
}

type itemsResponse struct {
	Items []string `json:"items"`
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/generations.
func NewSubmitHandler(svc Generations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.GenerationRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		rec, err := svc.Submit(r.Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrInvalidRequest):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			case errors.Is(err, generation.ErrSubmissionFailed) && rec != nil:
				details := map[string]string{"id": rec.ID}
				if rec.ErrorMessage != nil {
					details["error_message"] = *rec.ErrorMessage
				}
				response.Error(w, http.StatusBadGateway, "SUBMISSION_FAILED",
					"The engine did not accept the generation", details)
			default:
				slog.Error("submit generation", "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		var promptID string
		if rec.PromptID != nil {
			promptID = *rec.PromptID
		}
		response.Accepted(w, submitResponse{
			ID:       rec.ID,
			PromptID: promptID,
			Status:   rec.Status,
		})
	}
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/generations/{id}.
func NewStatusHandler(svc Generations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := svc.Status(r.Context(), id)
		if errors.Is(err, generation.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Generation not found", nil)
			return
		}
		if err != nil {
			slog.Error("generation status", "generation_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, rec)
	}
}

// NewHistoryHandler returns an http.HandlerFunc for GET /api/v1/generations.
func NewHistoryHandler(svc Generations, defaultLimit int) http.HandlerFunc {
	if defaultLimit <= 0 || defaultLimit > generation.MaxHistoryLimit {
		defaultLimit = generation.DefaultHistoryLimit
	}
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"limit must be a positive integer", nil)
				return
			}
			limit = min(n, generation.MaxHistoryLimit)
		}

		records, err := svc.History(r.Context(), limit)
		if err != nil {
			slog.Error("generation history", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.List(w, records, response.ListMeta{Limit: limit, Count: len(records)})
	}
}

// NewCheckpointsHandler returns an http.HandlerFunc for GET /api/v1/engine/checkpoints.
func NewCheckpointsHandler(svc Generations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, itemsResponse{Items: svc.Checkpoints(r.Context())})
	}
}

// NewOverlaysHandler returns an http.HandlerFunc for GET /api/v1/engine/overlays.
func NewOverlaysHandler(svc Generations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, itemsResponse{Items: svc.Overlays(r.Context())})
	}
}
