package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/render"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "One-line rollup of the cached runs",
	RunE:  runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	stats, err := store.UsageStats(ctx, cache.Filter{})
	if err != nil {
		return err
	}

	if stats.TotalRuns == 0 {
		render.Info(os.Stdout, "Cache is empty. Run 'trackctl sync' first.")

		return nil
	}

	fmt.Fprintf(os.Stdout,
		"%d runs across %d projects | %.1f%% finished | %s runtime | %.1f GPU-hours\n",
		stats.TotalRuns,
		stats.ProjectCount,
		stats.SuccessRate()*100,
		render.FormatDuration(stats.TotalRuntimeSeconds),
		stats.GPUHours(),
	)

	return nil
}
