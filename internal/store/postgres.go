package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/reelforge/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, rec *models.GenerationRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO generations (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.Prompt, rec.Checkpoint, rec.Overlay, rec.Width, rec.Height, rec.Frames,
		string(rec.DurationType), string(rec.Status), rec.CreatedAt, rec.CompletedAt,
		rec.ResultPath, rec.ErrorMessage, rec.PromptID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create generation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.GenerationRecord, error) {
	rec, err := scanPostgresRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM generations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return rec, nil
}

// UpdateFields locks the row, merges upd and writes it back in one transaction.
func (s *PostgresStore) UpdateFields(ctx context.Context, id string, upd RecordUpdate) (*models.GenerationRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := scanPostgresRecord(tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM generations WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock generation: %w", err)
	}

	if err := ApplyUpdate(rec, upd); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE generations
		 SET status = $2, completed_at = $3, result_path = $4, error_message = $5, prompt_id = $6
		 WHERE id = $1`,
		id, string(rec.Status), rec.CompletedAt, rec.ResultPath, rec.ErrorMessage, rec.PromptID)
	if err != nil {
		return nil, fmt.Errorf("update generation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*models.GenerationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM generations ORDER BY created_at DESC, id DESC LIMIT $1`,
		normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	records := []*models.GenerationRecord{}
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanPostgresRecord(row rowScanner) (*models.GenerationRecord, error) {
	var (
		rec          models.GenerationRecord
		durationType string
		status       string
		completedAt  *time.Time
	)
	err := row.Scan(&rec.ID, &rec.Prompt, &rec.Checkpoint, &rec.Overlay, &rec.Width, &rec.Height,
		&rec.Frames, &durationType, &status, &rec.CreatedAt, &completedAt,
		&rec.ResultPath, &rec.ErrorMessage, &rec.PromptID)
	if err != nil {
		return nil, err
	}
	rec.DurationType = models.DurationClass(durationType)
	rec.Status = models.GenerationStatus(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	if completedAt != nil {
		t := completedAt.UTC()
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
