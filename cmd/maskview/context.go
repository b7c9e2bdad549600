package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kiranshivaraju/maskview/internal/auth"
	"github.com/kiranshivaraju/maskview/internal/backend"
	"github.com/kiranshivaraju/maskview/internal/blob"
	"github.com/kiranshivaraju/maskview/internal/config"
	"github.com/kiranshivaraju/maskview/internal/cvat"
	"github.com/kiranshivaraju/maskview/internal/store"
	"github.com/kiranshivaraju/maskview/internal/viewer"
)

type commandContext struct {
	configFlag *string
	tokenFlag  *string
	verbose    *bool

	stderr io.Writer

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, tokenFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		tokenFlag:  tokenFlag,
		verbose:    verbose,
		stderr:     os.Stderr,
	}
}

func (c *commandContext) setOutput(w io.Writer) {
	c.stderr = w
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if path == "" {
			path = os.Getenv("MASKVIEW_CONFIG")
		}
		cfg, err := config.LoadFrom(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *slog.Logger {
	level := slog.LevelWarn
	if c.verbose != nil && *c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: level}))
}

// tokenFile is the token store path, defaulting to the user config dir.
func (c *commandContext) tokenFile() (string, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	if cfg.Auth.TokenFile != "" {
		return cfg.Auth.TokenFile, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve token file: %w", err)
	}
	return filepath.Join(dir, "maskview", "token.json"), nil
}

// tokens resolves the credential: --token, then MASKVIEW_TOKEN, then the
// token file.
func (c *commandContext) tokens() (auth.TokenSource, error) {
	if c.tokenFlag != nil && strings.TrimSpace(*c.tokenFlag) != "" {
		return auth.StaticToken(strings.TrimSpace(*c.tokenFlag)), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Auth.Token != "" {
		return auth.StaticToken(cfg.Auth.Token), nil
	}
	path, err := c.tokenFile()
	if err != nil {
		return nil, err
	}
	return auth.NewFileTokenStore(path), nil
}

// openView builds an in-process view navigated to jobID. With DATABASE_URL
// set, successful pushes are recorded in the push history.
func (c *commandContext) openView(ctx context.Context, jobID string) (*viewer.View, func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	ts, err := c.tokens()
	if err != nil {
		return nil, nil, err
	}
	if _, err := ts.Token(ctx); err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			return nil, nil, fmt.Errorf("no credential: pass --token, set MASKVIEW_TOKEN or run `maskview login`")
		}
		return nil, nil, err
	}

	logger := c.logger()
	opts := viewer.Options{
		Backend:            backend.NewHTTPClient(cfg.Backend.BaseURL, ts, cfg.Backend.Timeout),
		Pusher:             cvat.NewClient(cfg.Backend.CVATBridgeURL, ts, cfg.Backend.Timeout),
		Blobs:              blob.NewRegistry(),
		PollInterval:       cfg.Poll.Interval,
		MaxPollAttempts:    cfg.Poll.MaxAttempts,
		HydrateConcurrency: cfg.Viewer.HydrateConcurrency,
		Logger:             logger,
	}

	cleanup := func() {}
	if cfg.Database.URL != "" {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Warn("push history unavailable", "error", err)
		} else {
			opts.Pushes = store.NewPostgresStore(pool)
			cleanup = pool.Close
		}
	}

	v := viewer.NewView(opts)
	if err := v.Navigate(jobID); err != nil {
		v.Close()
		cleanup()
		return nil, nil, err
	}
	return v, func() {
		v.Close()
		cleanup()
	}, nil
}

// settle waits for the view to reach Ready or Failed. A failed job is an error.
func settle(ctx context.Context, v *viewer.View) (viewer.Snapshot, error) {
	state, err := v.Wait(ctx)
	snap := v.Snapshot()
	if err != nil {
		return snap, err
	}
	if state == viewer.StateFailed {
		return snap, errors.New(snap.StatusMessage)
	}
	return snap, nil
}
