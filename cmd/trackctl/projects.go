package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/render"
)

var projectsEntity string

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List cached projects with run counts and GPU-hours",
	RunE:  runProjects,
}

func init() {
	rootCmd.AddCommand(projectsCmd)
	projectsCmd.Flags().StringVarP(&projectsEntity, "entity", "e", "", "entity (user or team)")
}

func runProjects(cmd *cobra.Command, args []string) error {
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

	stats, err := store.ProjectStats(ctx, cache.Filter{Entity: projectsEntity})
	if err != nil {
		return err
	}

	if len(stats) == 0 {
		render.Info(os.Stdout, "No cached projects. Run 'trackctl sync' first.")

		return nil
	}

	render.Header(os.Stdout, "Projects (%d)", len(stats))

	table := render.NewTable(os.Stdout,
		"PROJECT", "RUNS", "FINISHED", "FAILED", "RUNNING", "RUNTIME", "GPU-HOURS")

	for _, p := range stats {
		table.Row(
			p.Project,
			fmt.Sprintf("%d", p.Runs),
			fmt.Sprintf("%d", p.Finished),
			fmt.Sprintf("%d", p.Failed),
			fmt.Sprintf("%d", p.Running),
			render.FormatDuration(p.RuntimeSeconds),
			fmt.Sprintf("%.1f", p.GPUHours()),
		)
	}

	if err := table.Flush(); err != nil {
		return err
	}

	lastSync, err := store.LastSync(ctx, projectsEntity, "")
	if err != nil {
		return err
	}

	render.DataSource(os.Stdout, lastSync)

	return nil
}
