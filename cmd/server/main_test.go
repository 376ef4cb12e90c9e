package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiranshivaraju/reelforge/internal/cache"
	"github.com/kiranshivaraju/reelforge/internal/store"
	"github.com/kiranshivaraju/reelforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── mock store ──────────────────────────────────────────────────────────────

type testStore struct {
	pingErr error
}

func (s *testStore) Ping(_ context.Context) error                               { return s.pingErr }
func (s *testStore) Close() error                                               { return nil }
func (s *testStore) Create(_ context.Context, _ *models.GenerationRecord) error { return nil }
func (s *testStore) Get(_ context.Context, _ string) (*models.GenerationRecord, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) UpdateFields(_ context.Context, _ string, _ store.RecordUpdate) (*models.GenerationRecord, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) ListRecent(_ context.Context, _ int) ([]*models.GenerationRecord, error) {
	return nil, nil
}

var _ store.Store = (*testStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type testCache struct {
	pingErr error
}

func (c *testCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *testCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *testCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *testCache) Ping(_ context.Context) error                                     { return c.pingErr }
func (c *testCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}
func (c *testCache) Close() error { return nil }

var _ cache.Cache = (*testCache)(nil)

// ─── health handler tests ───────────────────────────────────────────────────

func serveHealth(t *testing.T, h http.HandlerFunc) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHealthHandler_AllOK(t *testing.T) {
	w, body := serveHealth(t, healthHandler(&testStore{}, &testCache{}))

	assert.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])
}

func TestHealthHandler_DatabaseDegraded(t *testing.T) {
	w, body := serveHealth(t, healthHandler(&testStore{pingErr: errors.New("connection refused")}, &testCache{}))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "DEGRADED", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "degraded", details["database"])
}

func TestHealthHandler_CacheDegraded(t *testing.T) {
	w, _ := serveHealth(t, healthHandler(&testStore{}, &testCache{pingErr: errors.New("redis down")}))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthHandler_BothDegraded(t *testing.T) {
	w, _ := serveHealth(t, healthHandler(
		&testStore{pingErr: errors.New("db down")},
		&testCache{pingErr: errors.New("redis down")},
	))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthHandler_CacheDisabled(t *testing.T) {
	w, body := serveHealth(t, healthHandler(&testStore{}, cache.Nop{}))

	assert.Equal(t, http.StatusOK, w.Code)
	services := body["data"].(map[string]any)["services"].(map[string]any)
	assert.Equal(t, "disabled", services["cache"])
}

// ─── run() tests ─────────────────────────────────────────────────────────────

func setSQLiteEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "reelforge.db"))
	t.Setenv("REDIS_URL", "")
	t.Setenv("ENGINE_BASE_URL", "http://127.0.0.1:8188")
	t.Setenv("REELFORGE_PORT", "0")
	t.Setenv("REELFORGE_ENV", "test")
}

func TestRun_FailsOnUnknownDriver(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "mysql")

	err := run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	err := run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnUnreachableRedis(t *testing.T) {
	setSQLiteEnv(t)
	t.Setenv("REDIS_URL", "redis://127.0.0.1:1")

	err := run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	setSQLiteEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}

// ─── command tests ───────────────────────────────────────────────────────────

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", serve.Name())

	up, _, err := root.Find([]string{"migrate", "up"})
	require.NoError(t, err)
	assert.Equal(t, "up", up.Name())

	down, _, err := root.Find([]string{"migrate", "down"})
	require.NoError(t, err)
	steps := down.Flags().Lookup("steps")
	require.NotNil(t, steps)
	assert.Equal(t, "1", steps.DefValue)
}

func TestMigrateCommand_UpThenDown(t *testing.T) {
	setSQLiteEnv(t)

	for _, args := range [][]string{
		{"migrate", "up"},
		{"migrate", "up"},
		{"migrate", "down", "--steps", "0"},
	} {
		root := newRootCommand()
		root.SetArgs(args)
		root.SetOut(&bytes.Buffer{})
		require.NoError(t, root.Execute(), args)
	}
}

func TestMigrateCommand_FailsOnBadConfig(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "mysql")

	root := newRootCommand()
	root.SetArgs([]string{"migrate", "up"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
