// Package main is the entrypoint for the maskview API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/maskview/internal/api"
	"github.com/kiranshivaraju/maskview/internal/api/handler"
	mw "github.com/kiranshivaraju/maskview/internal/api/middleware"
	"github.com/kiranshivaraju/maskview/internal/api/response"
	"github.com/kiranshivaraju/maskview/internal/auth"
	"github.com/kiranshivaraju/maskview/internal/backend"
	"github.com/kiranshivaraju/maskview/internal/blob"
	"github.com/kiranshivaraju/maskview/internal/cache"
	"github.com/kiranshivaraju/maskview/internal/config"
	"github.com/kiranshivaraju/maskview/internal/cvat"
	"github.com/kiranshivaraju/maskview/internal/store"
	"github.com/kiranshivaraju/maskview/internal/viewer"
)

const (
	shutdownTimeout  = 30 * time.Second
	reapInterval     = time.Minute
	artifactCacheTTL = time.Hour
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast when invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "backend", cfg.Backend.BaseURL, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Push history (optional)
	var pgStore *store.PostgresStore
	if cfg.Database.URL != "" {
		pgStore, err = store.Open(ctx, cfg.Database, "migrations")
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pgStore.Close()
		slog.Info("database ready, migrations applied")
	} else {
		slog.Info("DATABASE_URL not set, push history disabled")
	}

	// 3. Status cache, artifact cache and rate limiting (optional)
	var redisCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
	} else {
		slog.Info("REDIS_URL not set, caching and rate limiting disabled")
	}

	// 4. View registry
	blobs := blob.NewRegistry()
	base := viewer.Options{
		Blobs:              blobs,
		PollInterval:       cfg.Poll.Interval,
		MaxPollAttempts:    cfg.Poll.MaxAttempts,
		HydrateConcurrency: cfg.Viewer.HydrateConcurrency,
		Logger:             slog.Default(),
	}
	if pgStore != nil {
		base.Pushes = pgStore
	}
	if redisCache != nil {
		base.Statuses = redisCache
	}

	clients := clientFactory(cfg, redisCache)
	registry := viewer.NewRegistry(base, clients)
	defer registry.CloseAll()
	go registry.RunReaper(ctx, reapInterval, cfg.Viewer.IdleTimeout)

	// 5. Build router with dependencies
	views := handler.NewViews(registry, slog.Default())
	deps := api.Dependencies{
		Auth: mw.NewAuth(),

		HealthHandler: healthHandler(healthChecks(pgStore, redisCache), registry, blobs),

		CreateView:     views.Create,
		GetView:        views.Get,
		DeleteView:     views.Delete,
		NavigateView:   views.Navigate,
		ToggleItem:     views.Toggle,
		ClearSelection: views.ClearSelection,
		SetOverlay:     views.SetOverlay,
		PushToCVAT:     views.Push,
		Download:       views.Download,
		GetHandle:      views.Handle,
		GetComposite:   views.Composite,
	}
	if pgStore != nil {
		deps.ListPushes = handler.NewListPushesHandler(pgStore, handler.ClientAccess(clients), slog.Default())
	}
	if redisCache != nil {
		deps.RateLimit = mw.NewRateLimit(redisCache, cfg.RateLimit.PerMinute)
		deps.GetJobStatus = handler.NewJobStatusHandler(redisCache, handler.ClientAccess(clients), slog.Default())
	}

	router := api.NewRouter(deps)

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Archive downloads stream for as long as the backend takes.
		WriteTimeout: 0,
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

	slog.Info("server stopped gracefully", "views", registry.Len())
	return nil
}

// clientFactory scopes backend and CVAT clients to the caller's credential.
// With Redis enabled, artifact fetches go through a cache partitioned by
// credential fingerprint.
func clientFactory(cfg *config.Config, c *cache.RedisCache) viewer.ClientFactory {
	be := backend.NewHTTPClient(cfg.Backend.BaseURL, nil, cfg.Backend.Timeout)
	pusher := cvat.NewClient(cfg.Backend.CVATBridgeURL, nil, cfg.Backend.Timeout)

	return func(ts auth.TokenSource) (backend.Client, cvat.Pusher) {
		var client backend.Client = be.WithTokens(ts)
		if c != nil {
			scope := "anonymous"
			if ts != nil {
				if tok, err := ts.Token(context.Background()); err == nil {
					scope = mw.Fingerprint(tok)
				}
			}
			client = backend.NewCachedClient(client, c, func(id string) string {
				return cache.ArtifactKey(scope, id)
			}, artifactCacheTTL, slog.Default())
		}
		return client, pusher.WithTokens(ts)
	}
}

// pinger is satisfied by store.Store and cache.Cache.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthChecks lists the enabled dependencies. Disabled ones are omitted.
func healthChecks(s *store.PostgresStore, c *cache.RedisCache) map[string]pinger {
	checks := make(map[string]pinger)
	if s != nil {
		checks["database"] = s
	}
	if c != nil {
		checks["cache"] = c
	}
	return checks
}

// viewCounter is satisfied by *viewer.Registry.
type viewCounter interface {
	Len() int
}

// handleCounter is satisfied by *blob.Registry.
type handleCounter interface {
	Live() int
}

// healthHandler checks connectivity of every enabled dependency and reports
// how many views and handles are live.
func healthHandler(deps map[string]pinger, views viewCounter, handles handleCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(deps))
		degraded := false
		for name, p := range deps {
			checks[name] = "ok"
			if err := p.Ping(r.Context()); err != nil {
				checks[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":       "ok",
			"services":     checks,
			"views":        views.Len(),
			"live_handles": handles.Live(),
		})
	}
}
