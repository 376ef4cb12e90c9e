package store

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/kiranshivaraju/reelforge/internal/config"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// RunMigrations applies all pending up migrations for the configured driver.
func RunMigrations(cfg config.DatabaseConfig) error {
	m, err := newMigrator(cfg)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// RollbackMigrations reverts the given number of migrations. steps <= 0
// reverts everything.
func RollbackMigrations(cfg config.DatabaseConfig, steps int) error {
	m, err := newMigrator(cfg)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if steps <= 0 {
		err = m.Down()
	} else {
		err = m.Steps(-steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migrations: %w", err)
	}
	return nil
}

func newMigrator(cfg config.DatabaseConfig) (*migrate.Migrate, error) {
	dir, dbURL, err := migrationTarget(cfg)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	return m, nil
}

// migrationTarget maps the configured driver onto a migration directory and
// a golang-migrate database URL.
func migrationTarget(cfg config.DatabaseConfig) (dir, dbURL string, err error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		u := cfg.URL
		for _, prefix := range []string{"postgres://", "postgresql://"} {
			if strings.HasPrefix(u, prefix) {
				u = "pgx5://" + strings.TrimPrefix(u, prefix)
				break
			}
		}
		return "migrations/postgres", u, nil
	case config.DriverSQLite:
		return "migrations/sqlite", "sqlite://" + cfg.SQLitePath, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func closeMigrator(m *migrate.Migrate) {
	_, _ = m.Close()
}
