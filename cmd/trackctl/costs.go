package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/render"
)

var (
	costsEntity  string
	costsProject string
	costsLast    string
	costsRate    float64
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Estimate GPU spend per project from cached runtimes",
	RunE:  runCosts,
}

func init() {
	rootCmd.AddCommand(costsCmd)
	costsCmd.Flags().StringVarP(&costsEntity, "entity", "e", "", "entity (user or team)")
	costsCmd.Flags().StringVarP(&costsProject, "project", "p", "", "project name")
	costsCmd.Flags().StringVar(&costsLast, "last", "",
		"restrict to a trailing window (e.g. 24h, 7d, 4w, 1m)")
	costsCmd.Flags().Float64Var(&costsRate, "rate", 2.50,
		"cost per GPU-hour in USD")
}

func runCosts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if costsRate < 0 {
		return fmt.Errorf("--rate must not be negative")
	}

	since, err := sinceFromWindow(costsLast)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	filter := cache.Filter{
		Entity:  costsEntity,
		Project: costsProject,
		Since:   since,
	}

	stats, err := store.ProjectStats(ctx, filter)
	if err != nil {
		return err
	}

	if len(stats) == 0 {
		render.Info(os.Stdout, "No cached runs match. Run 'trackctl sync' first.")

		return nil
	}

	render.Header(os.Stdout, "Estimated GPU costs at $%.2f/GPU-hour", costsRate)

	table := render.NewTable(os.Stdout, "PROJECT", "RUNS", "GPU-HOURS", "COST")

	var totalHours, totalCost float64

	for _, p := range stats {
		hours := p.GPUHours()
		cost := hours * costsRate
		totalHours += hours
		totalCost += cost

		table.Row(
			p.Project,
			fmt.Sprintf("%d", p.Runs),
			fmt.Sprintf("%.1f", hours),
			fmt.Sprintf("$%.2f", cost),
		)
	}

	table.Row("TOTAL", "",
		fmt.Sprintf("%.1f", totalHours),
		fmt.Sprintf("$%.2f", totalCost))

	if err := table.Flush(); err != nil {
		return err
	}

	lastSync, err := store.LastSync(ctx, costsEntity, costsProject)
	if err != nil {
		return err
	}

	render.DataSource(os.Stdout, lastSync)

	return nil
}
