package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/reelforge/internal/api/handler"
	"github.com/kiranshivaraju/reelforge/internal/engine"
	"github.com/kiranshivaraju/reelforge/internal/generation"
	"github.com/kiranshivaraju/reelforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock service ---

type mockGenerations struct {
	submitRec *models.GenerationRecord
	submitErr error
	submitted []models.GenerationRequest

	statusRec *models.GenerationRecord
	statusErr error

	history      []*models.GenerationRecord
	historyErr   error
	historyLimit int

	checkpoints []string
	overlays    []string
}

func (m *mockGenerations) Submit(_ context.Context, req models.GenerationRequest) (*models.GenerationRecord, error) {
	m.submitted = append(m.submitted, req)
	return m.submitRec, m.submitErr
}

func (m *mockGenerations) Status(_ context.Context, _ string) (*models.GenerationRecord, error) {
	return m.statusRec, m.statusErr
}

func (m *mockGenerations) History(_ context.Context, limit int) ([]*models.GenerationRecord, error) {
	m.historyLimit = limit
	return m.history, m.historyErr
}

func (m *mockGenerations) Checkpoints(context.Context) []string { return m.checkpoints }
func (m *mockGenerations) Overlays(context.Context) []string    { return m.overlays }

// --- helpers ---

func strPtr(s string) *string { return &s }

func sampleRecord(status models.GenerationStatus) *models.GenerationRecord {
	rec := models.NewGenerationRecord("gen-1", models.GenerationRequest{
		Prompt:       "a red kite",
		Checkpoint:   "a.ckpt",
		Width:        512,
		Height:       512,
		Frames:       16,
		DurationType: models.DurationShort,
	}, time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	rec.Status = status
	return rec
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// --- Submit ---

func TestSubmit_Accepted(t *testing.T) {
	rec := sampleRecord(models.StatusProcessing)
	rec.PromptID = strPtr("7")
	svc := &mockGenerations{submitRec: rec}

	body := `{"prompt":"a red kite","checkpoint":"a.ckpt","lora":"film.safetensors","frames":50,"duration_type":"short"}`
	req := httptest.NewRequest("POST", "/api/v1/generations", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.NewSubmitHandler(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	data := decodeBody(t, w)["data"].(map[string]any)
	assert.Equal(t, "gen-1", data["id"])
	assert.Equal(t, "7", data["prompt_id"])
	assert.Equal(t, "processing", data["status"])

	require.Len(t, svc.submitted, 1)
	got := svc.submitted[0]
	assert.Equal(t, "a red kite", got.Prompt)
	assert.Equal(t, 50, got.Frames)
	require.NotNil(t, got.Overlay)
	assert.Equal(t, "film.safetensors", *got.Overlay)
}

func TestSubmit_InvalidJSON(t *testing.T) {
	svc := &mockGenerations{}
	req := httptest.NewRequest("POST", "/api/v1/generations", strings.NewReader("{"))
	w := httptest.NewRecorder()
	handler.NewSubmitHandler(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeBody(t, w)["error"].(map[string]any)["code"])
	assert.Empty(t, svc.submitted)
}

func TestSubmit_ValidationError(t *testing.T) {
	svc := &mockGenerations{submitErr: fmt.Errorf("%w: prompt is required", models.ErrInvalidRequest)}
	req := httptest.NewRequest("POST", "/api/v1/generations", strings.NewReader(`{"checkpoint":"a.ckpt"}`))
	w := httptest.NewRecorder()
	handler.NewSubmitHandler(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	errObj := decodeBody(t, w)["error"].(map[string]any)
	assert.Equal(t, "INVALID_REQUEST", errObj["code"])
	assert.Contains(t, errObj["message"], "prompt is required")
}

func TestSubmit_EngineRejected(t *testing.T) {
	rec := sampleRecord(models.StatusFailed)
	rec.ErrorMessage = strPtr("engine rejected request: status 400")
	svc := &mockGenerations{
		submitRec: rec,
		submitErr: fmt.Errorf("%w: %w", generation.ErrSubmissionFailed, engine.ErrRejected),
	}

	req := httptest.NewRequest("POST", "/api/v1/generations", strings.NewReader(`{"prompt":"x","checkpoint":"a.ckpt"}`))
	w := httptest.NewRecorder()
	handler.NewSubmitHandler(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	errObj := decodeBody(t, w)["error"].(map[string]any)
	assert.Equal(t, "SUBMISSION_FAILED", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "gen-1", details["id"])
	assert.Equal(t, "engine rejected request: status 400", details["error_message"])
}

func TestSubmit_InternalError(t *testing.T) {
	svc := &mockGenerations{submitErr: errors.New("disk full")}
	req := httptest.NewRequest("POST", "/api/v1/generations", strings.NewReader(`{"prompt":"x","checkpoint":"a.ckpt"}`))
	w := httptest.NewRecorder()
	handler.NewSubmitHandler(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk full")
}

func TestSubmit_BodyTooLarge(t *testing.T) {
	svc := &mockGenerations{}
	big := `{"prompt":"` + strings.Repeat("a", 2<<20) + `"}`
	req := httptest.NewRequest("POST", "/api/v1/generations", bytes.NewBufferString(big))
	w := httptest.NewRecorder()
	handler.NewSubmitHandler(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.submitted)
}

// --- Status ---

func TestStatus_Found(t *testing.T) {
	rec := sampleRecord(models.StatusCompleted)
	done := time.Date(2026, 5, 4, 10, 5, 0, 0, time.UTC)
	rec.CompletedAt = &done
	rec.PromptID = strPtr("7")
	svc := &mockGenerations{statusRec: rec}

	req := withURLParam(httptest.NewRequest("GET", "/api/v1/generations/gen-1", nil), "id", "gen-1")
	w := httptest.NewRecorder()
	handler.NewStatusHandler(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]any)
	assert.Equal(t, "gen-1", data["id"])
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, "2026-05-04T10:05:00Z", data["completed_at"])
	assert.Equal(t, "short", data["duration_type"])
	_, hasOverlay := data["lora"]
	assert.False(t, hasOverlay)
}

func TestStatus_NotFound(t *testing.T) {
	svc := &mockGenerations{statusErr: generation.ErrNotFound}

	req := withURLParam(httptest.NewRequest("GET", "/api/v1/generations/missing", nil), "id", "missing")
	w := httptest.NewRecorder()
	handler.NewStatusHandler(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, w)["error"].(map[string]any)["code"])
}

func TestStatus_InternalError(t *testing.T) {
	svc := &mockGenerations{statusErr: errors.New("db down")}

	req := withURLParam(httptest.NewRequest("GET", "/api/v1/generations/x", nil), "id", "x")
	w := httptest.NewRecorder()
	handler.NewStatusHandler(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// --- History ---

func TestHistory_Limits(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantLimit int
		wantCode  int
	}{
		{"default", "", 50, http.StatusOK},
		{"explicit", "?limit=5", 5, http.StatusOK},
		{"clamped", "?limit=500", 100, http.StatusOK},
		{"zero", "?limit=0", 0, http.StatusBadRequest},
		{"garbage", "?limit=abc", 0, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockGenerations{history: []*models.GenerationRecord{sampleRecord(models.StatusPending)}}

			req := httptest.NewRequest("GET", "/api/v1/generations"+tt.query, nil)
			w := httptest.NewRecorder()
			handler.NewHistoryHandler(svc, 50).ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				return
			}
			assert.Equal(t, tt.wantLimit, svc.historyLimit)
			body := decodeBody(t, w)
			assert.Len(t, body["data"], 1)
			meta := body["meta"].(map[string]any)
			assert.Equal(t, float64(tt.wantLimit), meta["limit"])
			assert.Equal(t, float64(1), meta["count"])
		})
	}
}

func TestHistory_EmptyIsArray(t *testing.T) {
	svc := &mockGenerations{history: []*models.GenerationRecord{}}

	w := httptest.NewRecorder()
	handler.NewHistoryHandler(svc, 0).ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/generations", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
	assert.Equal(t, generation.DefaultHistoryLimit, svc.historyLimit)
}

// --- Capabilities ---

func TestCheckpointsAndOverlays(t *testing.T) {
	svc := &mockGenerations{checkpoints: []string{"a.ckpt"}, overlays: []string{}}

	w := httptest.NewRecorder()
	handler.NewCheckpointsHandler(svc).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"items":["a.ckpt"]}}`, w.Body.String())

	w = httptest.NewRecorder()
	handler.NewOverlaysHandler(svc).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.JSONEq(t, `{"data":{"items":[]}}`, w.Body.String())
}
