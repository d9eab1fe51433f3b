package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/render"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache location, size, and per-scope sync freshness",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	total, err := store.CountRuns(ctx, cache.Filter{})
	if err != nil {
		return err
	}

	render.Header(os.Stdout, "Cache status")

	switch cfg.Cache.Driver {
	case "sqlite":
		fmt.Fprintf(os.Stdout, "Database:   %s\n", cfg.Cache.SQLite.Path)
		fmt.Fprintf(os.Stdout, "Size:       %s\n", render.FormatBytes(store.SizeBytes()))
	default:
		fmt.Fprintf(os.Stdout, "Database:   %s (%s)\n",
			cfg.Cache.Postgres.Database, cfg.Cache.Driver)
	}

	fmt.Fprintf(os.Stdout, "Runs:       %d\n", total)

	scopes, err := store.ListScopes(ctx)
	if err != nil {
		return err
	}

	if len(scopes) == 0 {
		render.Info(os.Stdout, "No synced scopes yet. Run 'trackctl sync' first.")

		return nil
	}

	fmt.Fprintln(os.Stdout)

	table := render.NewTable(os.Stdout, "SCOPE", "RUNS", "LAST SYNCED")

	for _, scope := range scopes {
		table.Row(
			scope.Entity+"/"+scope.Project,
			fmt.Sprintf("%d", scope.RunCount),
			render.FormatAgo(scope.LastSyncedAt),
		)
	}

	return table.Flush()
}
