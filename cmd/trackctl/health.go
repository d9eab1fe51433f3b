package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/spf13/cobra"
	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/config"
	"github.com/trackops/trackctl/pkg/render"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check credentials, remote reachability, cache, and disk space",
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	healthy := true

	render.Header(os.Stdout, "trackctl health")

	apiKey := cfg.ResolveAPIKey()
	if apiKey == "" {
		render.Error(os.Stdout, "No API key: set %s or write the credentials file",
			config.EnvAPIKey)

		healthy = false
	} else {
		render.Success(os.Stdout, "API key present")
	}

	if apiKey != "" {
		client := newClient(cfg)

		entity, err := client.DefaultEntity(ctx)
		if err != nil {
			render.Error(os.Stdout, "Remote API unreachable: %v", err)

			healthy = false
		} else {
			render.Success(os.Stdout, "Remote API reachable (default entity: %s)", entity)
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		render.Error(os.Stdout, "Cache unavailable: %v", err)

		healthy = false
	} else {
		defer closeStore(store)

		total, err := store.CountRuns(ctx, cache.Filter{})
		if err != nil {
			render.Error(os.Stdout, "Cache query failed: %v", err)

			healthy = false
		} else {
			render.Success(os.Stdout, "Cache open (%d runs, %s)",
				total, render.FormatBytes(store.SizeBytes()))
		}

		lastSync, err := store.LastSync(ctx, "", "")
		if err != nil {
			return err
		}

		if lastSync == nil {
			render.Warning(os.Stdout, "Never synced")
		} else {
			render.Success(os.Stdout, "Last sync %s", render.FormatAgo(*lastSync))
		}
	}

	if cfg.Cache.Driver == "sqlite" && cfg.Cache.SQLite.Path != ":memory:" {
		usage, err := disk.UsageWithContext(ctx, filepath.Dir(cfg.Cache.SQLite.Path))
		if err != nil {
			render.Warning(os.Stdout, "Could not check disk space: %v", err)
		} else {
			line := render.Success
			if usage.UsedPercent > 90 {
				line = render.Warning
			}

			line(os.Stdout, "Disk: %s free at cache path (%.0f%% used)",
				render.FormatBytes(int64(usage.Free)), usage.UsedPercent)
		}
	}

	if !healthy {
		return errors.New("one or more health checks failed")
	}

	return nil
}
