// Package main is the entrypoint for the reelforge API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/reelforge/internal/api"
	"github.com/kiranshivaraju/reelforge/internal/api/handler"
	mw "github.com/kiranshivaraju/reelforge/internal/api/middleware"
	"github.com/kiranshivaraju/reelforge/internal/api/response"
	"github.com/kiranshivaraju/reelforge/internal/cache"
	"github.com/kiranshivaraju/reelforge/internal/config"
	"github.com/kiranshivaraju/reelforge/internal/engine"
	"github.com/kiranshivaraju/reelforge/internal/generation"
	"github.com/kiranshivaraju/reelforge/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("reelforge failed", "error", err)
		}
		os.Exit(1)
	}
}

// newLogger returns a JSON logger, or a text logger in development.
func newLogger(w io.Writer, env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if env == "development" {
		opts.Level = slog.LevelDebug
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func run(ctx context.Context) error {
	// 1. Load config; fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Server.Env))
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"database_driver", cfg.Database.Driver,
		"engine_url", cfg.Engine.BaseURL,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Run migrations
	if err := store.RunMigrations(cfg.Database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 3. Open store
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer st.Close()
	slog.Info("database connected", "driver", cfg.Database.Driver)

	// 4. Create cache; Redis is optional
	ca, err := openCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer ca.Close()

	// 5. Engine client and generation service
	client := engine.NewHTTPClient(cfg.Engine)
	svc := generation.NewService(client, st, ca,
		generation.WithHistoryLimit(cfg.Server.HistoryLimit))

	// 6. Build router with dependencies
	auth := mw.NewAuth(cfg.Auth.APIKeyHashes)
	if !auth.Enabled() {
		slog.Warn("no API keys configured, authentication disabled")
	}

	var rateLimit *mw.RateLimit
	if cfg.Redis.URL != "" {
		rateLimit = mw.NewRateLimit(ca, cfg.Auth.RequestsPerMin,
			mw.WithProxyHeaders(cfg.Server.TrustProxyHeaders))
	}

	deps := api.Dependencies{
		Auth:           auth,
		RateLimit:      rateLimit,
		AllowedOrigins: cfg.Server.AllowedOrigins,

		HealthHandler: healthHandler(st, ca),

		SubmitHandler:  handler.NewSubmitHandler(svc),
		StatusHandler:  handler.NewStatusHandler(svc),
		HistoryHandler: handler.NewHistoryHandler(svc, cfg.Server.HistoryLimit),

		CheckpointsHandler:  handler.NewCheckpointsHandler(svc),
		OverlaysHandler:     handler.NewOverlaysHandler(svc),
		QueueHandler:        handler.NewQueueHandler(client),
		EngineStatusHandler: handler.NewEngineStatusHandler(client, cfg.Engine),
		EngineConfigHandler: handler.NewEngineConfigHandler(cfg.Engine),
		ArtifactHandler:     handler.NewArtifactHandler(client),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openCache connects to Redis when configured and falls back to a no-op
// cache otherwise.
func openCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, error) {
	if cfg.URL == "" {
		slog.Info("REDIS_URL not set, caching and rate limiting disabled")
		return cache.Nop{}, nil
	}

	redisCache, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := redisCache.Ping(ctx); err != nil {
		_ = redisCache.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return redisCache, nil
}

// healthHandler checks database and cache connectivity. A disabled cache
// does not degrade the service.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	_, cacheDisabled := c.(cache.Nop)
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if cacheDisabled {
			checks["cache"] = "disabled"
		} else if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["database"] == "degraded" || checks["cache"] == "degraded" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
