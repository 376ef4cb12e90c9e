package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/reelforge/pkg/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store on a local SQLite file. It is meant for
// single-node deployments without a database server.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// SQLiteDSN builds the connection string for path. Transactions take the
// write lock on BEGIN so read-merge-write cycles never interleave.
func SQLiteDSN(path string) string {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}

// OpenSQLite opens (creating if needed) the database at path. Migrations are
// applied separately with RunMigrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, rec *models.GenerationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Prompt, rec.Checkpoint, rec.Overlay, rec.Width, rec.Height, rec.Frames,
		string(rec.DurationType), string(rec.Status), formatSQLiteTime(rec.CreatedAt),
		formatSQLiteTimePtr(rec.CompletedAt), rec.ResultPath, rec.ErrorMessage, rec.PromptID)
	if err != nil {
		if isSQLiteConstraintError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create generation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.GenerationRecord, error) {
	rec, err := scanSQLiteRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM generations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) UpdateFields(ctx context.Context, id string, upd RecordUpdate) (*models.GenerationRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rec, err := scanSQLiteRecord(tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM generations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read generation: %w", err)
	}

	if err := ApplyUpdate(rec, upd); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE generations
		 SET status = ?, completed_at = ?, result_path = ?, error_message = ?, prompt_id = ?
		 WHERE id = ?`,
		string(rec.Status), formatSQLiteTimePtr(rec.CompletedAt), rec.ResultPath,
		rec.ErrorMessage, rec.PromptID, id)
	if err != nil {
		return nil, fmt.Errorf("update generation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]*models.GenerationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM generations ORDER BY created_at DESC, id DESC LIMIT ?`,
		normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	records := []*models.GenerationRecord{}
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanSQLiteRecord(row rowScanner) (*models.GenerationRecord, error) {
	var (
		rec          models.GenerationRecord
		durationType string
		status       string
		createdAt    string
		completedAt  sql.NullString
		overlay      sql.NullString
		resultPath   sql.NullString
		errorMessage sql.NullString
		promptID     sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Prompt, &rec.Checkpoint, &overlay, &rec.Width, &rec.Height,
		&rec.Frames, &durationType, &status, &createdAt, &completedAt,
		&resultPath, &errorMessage, &promptID)
	if err != nil {
		return nil, err
	}

	rec.DurationType = models.DurationClass(durationType)
	rec.Status = models.GenerationStatus(status)
	if rec.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if completedAt.Valid {
		t, err := parseSQLiteTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		rec.CompletedAt = &t
	}
	rec.Overlay = nullableString(overlay)
	rec.ResultPath = nullableString(resultPath)
	rec.ErrorMessage = nullableString(errorMessage)
	rec.PromptID = nullableString(promptID)
	return &rec, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatSQLiteTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatSQLiteTime(*t)
	return &s
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	}
	return t.UTC(), nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func isSQLiteConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

var _ Store = (*SQLiteStore)(nil)
