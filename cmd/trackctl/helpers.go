package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/config"
	"github.com/trackops/trackctl/pkg/remote"
	"github.com/trackops/trackctl/pkg/render"
)

// loadConfig loads the resolved application configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// openStore opens the cache store, creating the cache directory on first
// use.
func openStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	if cfg.Cache.Driver == "sqlite" && cfg.Cache.SQLite.Path != ":memory:" {
		dir := filepath.Dir(cfg.Cache.SQLite.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	store := cache.NewStore(log, &cfg.Cache)
	if err := store.Start(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// newClient builds a remote client with resolved credentials.
func newClient(cfg *config.Config) remote.Client {
	return remote.NewClient(log, &remote.Config{
		BaseURL:           cfg.Remote.BaseURL,
		APIKey:            cfg.ResolveAPIKey(),
		Timeout:           cfg.Remote.Timeout,
		PageSize:          cfg.Remote.PageSize,
		RequestsPerMinute: cfg.Remote.RequestsPerMinute,
	})
}

// resolveEntity picks the entity for a command: explicit flag, configured
// default, then the remote account's default entity.
func resolveEntity(
	ctx context.Context,
	cfg *config.Config,
	client remote.Client,
	flagValue string,
) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	if cfg.Entity != "" {
		return cfg.Entity, nil
	}

	entity, err := client.DefaultEntity(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving default entity: %w", err)
	}

	if entity == "" {
		return "", fmt.Errorf("no entity specified and no default entity found (use --entity)")
	}

	return entity, nil
}

// sinceFromWindow converts a --last window into an absolute lower bound.
// An empty window means no bound.
func sinceFromWindow(window string) (*time.Time, error) {
	if window == "" {
		return nil, nil
	}

	d, err := render.ParseWindow(window)
	if err != nil {
		return nil, err
	}

	since := time.Now().UTC().Add(-d)

	return &since, nil
}

// closeStore closes the store, logging rather than masking close errors.
func closeStore(store cache.Store) {
	if err := store.Stop(); err != nil {
		log.WithError(err).Warn("Failed to close cache")
	}
}

// describeAuthError adds a credentials hint to authentication failures so
// they read differently from ordinary fetch errors.
func describeAuthError(err error) error {
	if errors.Is(err, remote.ErrAuthentication) {
		render.Error(os.Stderr,
			"Authentication failed. Set %s or write your API key to the credentials file.",
			config.EnvAPIKey)
	}

	return err
}

// shortID truncates a run id for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}
