package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/render"
	"github.com/trackops/trackctl/pkg/syncer"
)

var (
	usageEntity  string
	usageProject string
	usageLast    string
	usageRefresh bool
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show aggregate run counts, runtime, and GPU-hours from the cache",
	RunE:  runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().StringVarP(&usageEntity, "entity", "e", "", "entity (user or team)")
	usageCmd.Flags().StringVarP(&usageProject, "project", "p", "", "project name")
	usageCmd.Flags().StringVar(&usageLast, "last", "",
		"restrict to a trailing window (e.g. 24h, 7d, 4w, 1m)")
	usageCmd.Flags().BoolVar(&usageRefresh, "refresh", false,
		"sync from the remote service before reporting")
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	since, err := sinceFromWindow(usageLast)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	if usageRefresh {
		client := newClient(cfg)

		entity, err := resolveEntity(ctx, cfg, client, usageEntity)
		if err != nil {
			return describeAuthError(err)
		}

		engine := syncer.New(log, client, store, cfg.Sync.Concurrency)

		if _, err := engine.Sync(ctx, syncer.Options{
			Entity:  entity,
			Project: usageProject,
		}); err != nil {
			return describeAuthError(err)
		}

		usageEntity = entity
	}

	filter := cache.Filter{
		Entity:  usageEntity,
		Project: usageProject,
		Since:   since,
	}

	stats, err := store.UsageStats(ctx, filter)
	if err != nil {
		return err
	}

	render.Header(os.Stdout, "Usage summary")

	if usageLast != "" {
		fmt.Fprintf(os.Stdout, "Window:        last %s\n", usageLast)
	}

	fmt.Fprintf(os.Stdout, "Total runs:    %d\n", stats.TotalRuns)
	fmt.Fprintf(os.Stdout, "Projects:      %d\n", stats.ProjectCount)
	fmt.Fprintf(os.Stdout, "Finished:      %d\n", stats.FinishedRuns)
	fmt.Fprintf(os.Stdout, "Failed:        %d\n", stats.FailedRuns)
	fmt.Fprintf(os.Stdout, "Crashed:       %d\n", stats.CrashedRuns)
	fmt.Fprintf(os.Stdout, "Killed:        %d\n", stats.KilledRuns)
	fmt.Fprintf(os.Stdout, "Running:       %d\n", stats.RunningRuns)
	fmt.Fprintf(os.Stdout, "Total runtime: %s\n",
		render.FormatDuration(stats.TotalRuntimeSeconds))
	fmt.Fprintf(os.Stdout, "GPU-hours:     %.1f\n", stats.GPUHours())
	fmt.Fprintf(os.Stdout, "Success rate:  %.1f%%\n", stats.SuccessRate()*100)

	lastSync, err := store.LastSync(ctx, usageEntity, usageProject)
	if err != nil {
		return err
	}

	render.DataSource(os.Stdout, lastSync)

	return nil
}
