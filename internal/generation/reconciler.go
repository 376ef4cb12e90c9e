package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/reelforge/internal/engine"
	"github.com/kiranshivaraju/reelforge/internal/store"
	"github.com/kiranshivaraju/reelforge/pkg/models"
)

// Reconciler derives a record's status from the engine's queue on demand.
//
// Absence from both the running and pending lists is the only completion
// signal. A job the engine drops or fails internally is therefore reported
// as completed; detecting that needs the engine's history endpoint.
type Reconciler struct {
	engine engine.Client
	store  store.Store
	now    func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(client engine.Client, st store.Store) *Reconciler {
	return &Reconciler{
		engine: client,
		store:  st,
		now:    time.Now,
	}
}

// Reconcile returns rec advanced to completed when the engine no longer
// holds its prompt. Engine failures leave rec unchanged; they are never
// treated as terminal.
func (r *Reconciler) Reconcile(ctx context.Context, rec *models.GenerationRecord) (*models.GenerationRecord, error) {
	if rec.Status != models.StatusProcessing || rec.PromptID == nil {
		return rec, nil
	}

	snap, err := r.engine.QueueSnapshot(ctx)
	if err != nil {
		slog.Warn("queue snapshot unavailable, keeping status",
			"generation_id", rec.ID, "prompt_id", *rec.PromptID, "error", err)
		return rec, nil
	}

	if snap.Contains(*rec.PromptID) {
		return rec, nil
	}

	updated, err := r.store.UpdateFields(ctx, rec.ID, store.NewRecordUpdate(
		store.WithStatus(models.StatusCompleted),
		store.WithCompletedAt(r.now().UTC().Truncate(time.Microsecond)),
	))
	if errors.Is(err, store.ErrTerminal) || errors.Is(err, store.ErrInvalidTransition) {
		// Another reconciler got there first; report what it stored.
		current, getErr := r.store.Get(ctx, rec.ID)
		if getErr != nil {
			return nil, fmt.Errorf("re-reading generation %s: %w", rec.ID, getErr)
		}
		return current, nil
	}
	if err != nil {
		return nil, fmt.Errorf("completing generation %s: %w", rec.ID, err)
	}

	slog.Info("generation completed",
		"generation_id", updated.ID, "prompt_id", *updated.PromptID)
	return updated, nil
}
