package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/reelforge/pkg/models"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrDuplicateKey      = errors.New("duplicate key violation")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTerminal          = errors.New("record is in a terminal state")
	ErrInvalidUpdate     = errors.New("invalid record update")
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// Store is the persistence interface for generation records. Implementations
// must make UpdateFields atomic per record: concurrent writers on the same id
// serialize and readers never observe a partially merged record.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	Create(ctx context.Context, rec *models.GenerationRecord) error
	Get(ctx context.Context, id string) (*models.GenerationRecord, error)
	UpdateFields(ctx context.Context, id string, upd RecordUpdate) (*models.GenerationRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*models.GenerationRecord, error)
}

// RecordUpdate names the fields to merge into a record. Nil fields are left
// untouched.
type RecordUpdate struct {
	Status       *models.GenerationStatus
	CompletedAt  *time.Time
	ResultPath   *string
	ErrorMessage *string
	PromptID     *string
}

type RecordUpdateOption func(*RecordUpdate)

// NewRecordUpdate builds a RecordUpdate from options.
func NewRecordUpdate(opts ...RecordUpdateOption) RecordUpdate {
	var u RecordUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithStatus(s models.GenerationStatus) RecordUpdateOption {
	return func(u *RecordUpdate) {
		u.Status = &s
	}
}

func WithCompletedAt(t time.Time) RecordUpdateOption {
	return func(u *RecordUpdate) {
		t = t.UTC()
		u.CompletedAt = &t
	}
}

func WithResultPath(path string) RecordUpdateOption {
	return func(u *RecordUpdate) {
		u.ResultPath = &path
	}
}

func WithErrorMessage(msg string) RecordUpdateOption {
	return func(u *RecordUpdate) {
		u.ErrorMessage = &msg
	}
}

func WithPromptID(id string) RecordUpdateOption {
	return func(u *RecordUpdate) {
		u.PromptID = &id
	}
}

var validTransitions = map[models.GenerationStatus][]models.GenerationStatus{
	models.StatusPending:    {models.StatusProcessing, models.StatusFailed},
	models.StatusProcessing: {models.StatusCompleted, models.StatusFailed},
}

// CanTransition reports whether from -> to is a permitted lifecycle step.
func CanTransition(from, to models.GenerationStatus) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// ApplyUpdate merges upd into rec in place. Both backends call it inside the
// same transaction that read rec.
func ApplyUpdate(rec *models.GenerationRecord, upd RecordUpdate) error {
	if rec.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, rec.ID, rec.Status)
	}

	next := rec.Status
	if upd.Status != nil && *upd.Status != rec.Status {
		if !CanTransition(rec.Status, *upd.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, *upd.Status)
		}
		next = *upd.Status
	}

	if upd.CompletedAt != nil && !next.IsTerminal() {
		return fmt.Errorf("%w: completed_at requires a terminal status, got %s", ErrInvalidUpdate, next)
	}
	if upd.PromptID != nil && rec.PromptID != nil && *rec.PromptID != *upd.PromptID {
		return fmt.Errorf("%w: prompt_id already set", ErrInvalidUpdate)
	}

	rec.Status = next
	if upd.CompletedAt != nil {
		t := upd.CompletedAt.UTC()
		rec.CompletedAt = &t
	}
	if upd.ResultPath != nil {
		v := *upd.ResultPath
		rec.ResultPath = &v
	}
	if upd.ErrorMessage != nil {
		v := *upd.ErrorMessage
		rec.ErrorMessage = &v
	}
	if upd.PromptID != nil {
		v := *upd.PromptID
		rec.PromptID = &v
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const recordColumns = `id, prompt, checkpoint, lora, width, height, frames, duration_type, status,
	created_at, completed_at, result_path, error_message, prompt_id`
