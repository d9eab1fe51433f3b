package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/render"
)

var (
	trendsEntity  string
	trendsProject string
	trendsLast    string
	trendsGroup   string
)

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Show run activity over time as sparklines",
	RunE:  runTrends,
}

func init() {
	rootCmd.AddCommand(trendsCmd)
	trendsCmd.Flags().StringVarP(&trendsEntity, "entity", "e", "", "entity (user or team)")
	trendsCmd.Flags().StringVarP(&trendsProject, "project", "p", "", "project name")
	trendsCmd.Flags().StringVar(&trendsLast, "last", "30d",
		"trailing window (e.g. 24h, 7d, 4w, 1m)")
	trendsCmd.Flags().StringVar(&trendsGroup, "group", "day",
		"bucket width: day or week")
}

func runTrends(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var group cache.Grouping

	switch trendsGroup {
	case "day":
		group = cache.GroupDay
	case "week":
		group = cache.GroupWeek
	default:
		return fmt.Errorf("invalid --group %q: use day or week", trendsGroup)
	}

	since, err := sinceFromWindow(trendsLast)
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
		Entity:  trendsEntity,
		Project: trendsProject,
		Since:   since,
	}

	buckets, err := store.TrendBuckets(ctx, filter, group, time.Now().UTC())
	if err != nil {
		return err
	}

	if len(buckets) == 0 {
		render.Info(os.Stdout, "No cached runs in the last %s", trendsLast)

		return nil
	}

	counts := make([]int64, len(buckets))
	runtimes := make([]int64, len(buckets))

	var totalRuns, peakRuns int64

	for i, b := range buckets {
		counts[i] = int64(b.RunCount)
		runtimes[i] = b.RuntimeSeconds
		totalRuns += int64(b.RunCount)

		if int64(b.RunCount) > peakRuns {
			peakRuns = int64(b.RunCount)
		}
	}

	render.Header(os.Stdout, "Run activity (last %s, by %s)", trendsLast, trendsGroup)
	fmt.Fprintf(os.Stdout, "Runs:    %s\n", render.Sparkline(counts))
	fmt.Fprintf(os.Stdout, "Runtime: %s\n", render.Sparkline(runtimes))
	fmt.Fprintf(os.Stdout, "%s to %s\n", buckets[0].Key, buckets[len(buckets)-1].Key)
	fmt.Fprintf(os.Stdout, "Total %d runs, avg %.1f per %s, peak %d\n",
		totalRuns,
		float64(totalRuns)/float64(len(buckets)),
		trendsGroup,
		peakRuns,
	)

	lastSync, err := store.LastSync(ctx, trendsEntity, trendsProject)
	if err != nil {
		return err
	}

	render.DataSource(os.Stdout, lastSync)

	return nil
}
