// Package generation accepts generation requests, hands them to the engine,
// and reports their lifecycle by reconciling stored records against the
// engine queue.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelforge/internal/cache"
	"github.com/kiranshivaraju/reelforge/internal/engine"
	"github.com/kiranshivaraju/reelforge/internal/store"
	"github.com/kiranshivaraju/reelforge/pkg/models"
	"github.com/kiranshivaraju/reelforge/pkg/workflow"
)

var (
	// ErrSubmissionFailed is returned with the failed record when the engine
	// did not accept the workflow.
	ErrSubmissionFailed = errors.New("generation submission failed")
	ErrNotFound         = errors.New("generation not found")
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100

	capabilityTTL = 60 * time.Second
	generationTTL = 10 * time.Minute

	// recordWriteTimeout bounds store writes that outlive the caller.
	recordWriteTimeout = 10 * time.Second
)

// Service composes the compiler, engine client, record store and
// reconciler into the operations the HTTP layer exposes.
type Service struct {
	compiler     *workflow.Compiler
	engine       engine.Client
	store        store.Store
	cache        cache.Cache
	reconciler   *Reconciler
	historyLimit int
	now          func() time.Time
	newID        func() string
}

type Option func(*Service)

// WithHistoryLimit sets the default page size for History.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		s.historyLimit = clampLimit(n, DefaultHistoryLimit)
	}
}

// WithClock replaces time.Now for the service and its reconciler.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.reconciler.now = now
	}
}

// WithCompiler replaces the default randomly-seeded compiler.
func WithCompiler(c *workflow.Compiler) Option {
	return func(s *Service) {
		s.compiler = c
	}
}

// NewService creates a Service. A nil cache disables caching.
func NewService(client engine.Client, st store.Store, ca cache.Cache, opts ...Option) *Service {
	if ca == nil {
		ca = cache.Nop{}
	}
	s := &Service{
		compiler:     workflow.NewCompiler(),
		engine:       client,
		store:        st,
		cache:        ca,
		reconciler:   NewReconciler(client, st),
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit records a pending generation, compiles it and submits it to the
// engine. On success the record is processing with the engine's prompt id.
// On any engine failure the record is failed and returned together with
// ErrSubmissionFailed. Nothing is retried. Once the record exists its
// outcome is persisted even if ctx is cancelled mid-flight.
func (s *Service) Submit(ctx context.Context, req models.GenerationRequest) (*models.GenerationRecord, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rec := models.NewGenerationRecord(s.newID(), req, s.timestamp())
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating generation: %w", err)
	}

	graph, err := s.compiler.Compile(req)
	if err != nil {
		return s.fail(ctx, rec, fmt.Errorf("compiling workflow: %w", err))
	}

	promptID, err := s.engine.Submit(ctx, graph)
	if err != nil {
		return s.fail(ctx, rec, err)
	}

	writeCtx, cancel := detached(ctx)
	defer cancel()

	updated, err := s.store.UpdateFields(writeCtx, rec.ID, store.NewRecordUpdate(
		store.WithStatus(models.StatusProcessing),
		store.WithPromptID(promptID),
	))
	if err != nil {
		return nil, fmt.Errorf("recording submission: %w", err)
	}

	slog.Info("generation submitted",
		"generation_id", updated.ID,
		"prompt_id", promptID,
		"frames", req.ClampedFrames(),
		"duration_type", req.DurationType,
	)
	return updated, nil
}

func (s *Service) fail(ctx context.Context, rec *models.GenerationRecord, cause error) (*models.GenerationRecord, error) {
	slog.Error("generation submission failed", "generation_id", rec.ID, "error", cause)

	writeCtx, cancel := detached(ctx)
	defer cancel()

	failed, err := s.store.UpdateFields(writeCtx, rec.ID, store.NewRecordUpdate(
		store.WithStatus(models.StatusFailed),
		store.WithErrorMessage(cause.Error()),
		store.WithCompletedAt(s.timestamp()),
	))
	if err != nil {
		return nil, fmt.Errorf("recording failed submission: %w", err)
	}
	return failed, fmt.Errorf("%w: %w", ErrSubmissionFailed, cause)
}

// detached keeps ctx values but drops its cancellation, bounded by
// recordWriteTimeout.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordWriteTimeout)
}

// Status returns the record for id, reconciled against the engine queue.
// Terminal records are served from cache when available.
func (s *Service) Status(ctx context.Context, id string) (*models.GenerationRecord, error) {
	if rec, ok := s.cachedRecord(ctx, id); ok {
		return rec, nil
	}

	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading generation: %w", err)
	}

	rec, err = s.reconciler.Reconcile(ctx, rec)
	if err != nil {
		return nil, err
	}

	if rec.Status.IsTerminal() {
		s.cacheRecord(ctx, rec)
	}
	return rec, nil
}

// History returns the most recent records, newest first. A limit outside
// 1..MaxHistoryLimit falls back to the configured default or the maximum.
func (s *Service) History(ctx context.Context, limit int) ([]*models.GenerationRecord, error) {
	records, err := s.store.ListRecent(ctx, clampLimit(limit, s.historyLimit))
	if err != nil {
		return nil, fmt.Errorf("listing generations: %w", err)
	}
	return records, nil
}

// Checkpoints lists the engine's model checkpoints.
func (s *Service) Checkpoints(ctx context.Context) []string {
	return s.capabilities(ctx, "checkpoints", s.engine.ListCheckpoints)
}

// Overlays lists the engine's LoRA overlays.
func (s *Service) Overlays(ctx context.Context) []string {
	return s.capabilities(ctx, "loras", s.engine.ListOverlays)
}

// capabilities serves a listing from cache, falling back to the engine.
// Empty listings are not cached so a recovering engine shows up at once.
func (s *Service) capabilities(ctx context.Context, kind string, list func(context.Context) []string) []string {
	key := cache.CapabilityKey(kind)
	if raw, found, err := s.cache.Get(ctx, key); err == nil && found {
		var items []string
		if err := json.Unmarshal(raw, &items); err == nil && len(items) > 0 {
			return items
		}
	}

	items := list(ctx)
	if len(items) == 0 {
		return items
	}
	if raw, err := json.Marshal(items); err == nil {
		if err := s.cache.Set(ctx, key, raw, capabilityTTL); err != nil {
			slog.Warn("caching engine capabilities", "kind", kind, "error", err)
		}
	}
	return items
}

func (s *Service) cachedRecord(ctx context.Context, id string) (*models.GenerationRecord, bool) {
	raw, found, err := s.cache.Get(ctx, cache.GenerationKey(id))
	if err != nil || !found {
		return nil, false
	}
	var rec models.GenerationRecord
	if err := json.Unmarshal(raw, &rec); err != nil || !rec.Status.IsTerminal() {
		return nil, false
	}
	return &rec, true
}

func (s *Service) cacheRecord(ctx context.Context, rec *models.GenerationRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.GenerationKey(rec.ID), raw, generationTTL); err != nil {
		slog.Warn("caching generation", "generation_id", rec.ID, "error", err)
	}
}

// timestamp is truncated to the precision every store backend keeps.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
