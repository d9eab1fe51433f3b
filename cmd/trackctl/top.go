package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/render"
)

var (
	topEntity  string
	topProject string
	topState   string
	topBy      string
	topCount   int
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "List the heaviest runs by runtime or GPU-hours",
	RunE:  runTop,
}

func init() {
	rootCmd.AddCommand(topCmd)
	topCmd.Flags().StringVarP(&topEntity, "entity", "e", "", "entity (user or team)")
	topCmd.Flags().StringVarP(&topProject, "project", "p", "", "project name")
	topCmd.Flags().StringVar(&topState, "state", "", "filter by run state")
	topCmd.Flags().StringVar(&topBy, "by", "runtime",
		"ranking metric: runtime or gpu-hours")
	topCmd.Flags().IntVarP(&topCount, "count", "n", 10, "number of runs to show")
}

func runTop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if topBy != "runtime" && topBy != "gpu-hours" {
		return fmt.Errorf("invalid --by %q: use runtime or gpu-hours", topBy)
	}

	if topCount <= 0 {
		return fmt.Errorf("--count must be positive")
	}

	filter := cache.Filter{
		Entity:  topEntity,
		Project: topProject,
	}

	if topState != "" {
		state, err := cache.ParseStateStrict(topState)
		if err != nil {
			return err
		}

		filter.State = state
	}

	ctx := cmd.Context()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	runs, err := store.ListRuns(ctx, filter)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		render.Info(os.Stdout, "No cached runs match. Run 'trackctl sync' first.")

		return nil
	}

	sort.Slice(runs, func(i, j int) bool {
		if topBy == "gpu-hours" {
			return runs[i].GPUHours() > runs[j].GPUHours()
		}

		return runs[i].RuntimeSeconds > runs[j].RuntimeSeconds
	})

	if len(runs) > topCount {
		runs = runs[:topCount]
	}

	render.Header(os.Stdout, "Top %d runs by %s", len(runs), topBy)

	table := render.NewTable(os.Stdout,
		"RUN", "NAME", "PROJECT", "STATE", "RUNTIME", "GPUS", "GPU-HOURS")

	for _, r := range runs {
		table.Row(
			shortID(r.RunID),
			r.Name,
			r.Project,
			render.State(r.State),
			render.FormatDuration(r.RuntimeSeconds),
			fmt.Sprintf("%d", r.EffectiveGPUCount()),
			fmt.Sprintf("%.1f", r.GPUHours()),
		)
	}

	if err := table.Flush(); err != nil {
		return err
	}

	lastSync, err := store.LastSync(ctx, topEntity, topProject)
	if err != nil {
		return err
	}

	render.DataSource(os.Stdout, lastSync)

	return nil
}
