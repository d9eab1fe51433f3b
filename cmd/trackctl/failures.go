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
	failuresEntity  string
	failuresProject string
	failuresLast    string
)

// Runtime boundaries for the failure timing breakdown. Early crashes point
// at setup or config problems, late ones at training instability.
const (
	earlyFailureSeconds = 5 * 60
	lateFailureSeconds  = 60 * 60
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Break down failed runs by timing and project",
	RunE:  runFailures,
}

func init() {
	rootCmd.AddCommand(failuresCmd)
	failuresCmd.Flags().StringVarP(&failuresEntity, "entity", "e", "", "entity (user or team)")
	failuresCmd.Flags().StringVarP(&failuresProject, "project", "p", "", "project name")
	failuresCmd.Flags().StringVar(&failuresLast, "last", "",
		"restrict to a trailing window (e.g. 24h, 7d, 4w, 1m)")
}

func runFailures(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	since, err := sinceFromWindow(failuresLast)
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
		Entity:  failuresEntity,
		Project: failuresProject,
		Since:   since,
	}

	runs, err := store.ListRuns(ctx, filter)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		render.Info(os.Stdout, "No cached runs match. Run 'trackctl sync' first.")

		return nil
	}

	var early, medium, late int

	byProject := map[string]int{}

	for i := range runs {
		r := &runs[i]
		if !r.State.IsFailure() {
			continue
		}

		byProject[r.Project]++

		switch {
		case r.RuntimeSeconds < earlyFailureSeconds:
			early++
		case r.RuntimeSeconds <= lateFailureSeconds:
			medium++
		default:
			late++
		}
	}

	failed := early + medium + late

	render.Header(os.Stdout, "Failure analysis")
	fmt.Fprintf(os.Stdout, "Total runs:   %d\n", len(runs))
	fmt.Fprintf(os.Stdout, "Failed:       %d (%.1f%%)\n",
		failed, float64(failed)/float64(len(runs))*100)

	if failed == 0 {
		render.Success(os.Stdout, "No failures in this window")

		return nil
	}

	fmt.Fprintf(os.Stdout, "Early (<5m):  %d\n", early)
	fmt.Fprintf(os.Stdout, "Medium:       %d\n", medium)
	fmt.Fprintf(os.Stdout, "Late (>1h):   %d\n", late)

	if early > medium+late {
		render.Warning(os.Stdout,
			"Most failures die within 5 minutes; check configs and environment setup")
	}

	fmt.Fprintln(os.Stdout)

	projects := make([]string, 0, len(byProject))
	for p := range byProject {
		projects = append(projects, p)
	}

	sort.Slice(projects, func(i, j int) bool {
		if byProject[projects[i]] != byProject[projects[j]] {
			return byProject[projects[i]] > byProject[projects[j]]
		}

		return projects[i] < projects[j]
	})

	table := render.NewTable(os.Stdout, "PROJECT", "FAILURES")

	for _, p := range projects {
		table.Row(p, fmt.Sprintf("%d", byProject[p]))
	}

	if err := table.Flush(); err != nil {
		return err
	}

	lastSync, err := store.LastSync(ctx, failuresEntity, failuresProject)
	if err != nil {
		return err
	}

	render.DataSource(os.Stdout, lastSync)

	return nil
}
