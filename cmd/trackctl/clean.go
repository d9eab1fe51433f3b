package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/trackops/trackctl/pkg/render"
)

var (
	cleanOlderThan int
	cleanDryRun    bool
	cleanForce     bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old runs from the cache",
	Long: `Delete cached runs created before the cutoff. The remote service is
never touched. Use --dry-run to list the candidates without deleting.`,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().IntVar(&cleanOlderThan, "older-than", 90,
		"delete runs created more than this many days ago")
	cleanCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false,
		"list candidates without deleting")
	cleanCmd.Flags().BoolVar(&cleanForce, "force", false,
		"skip the confirmation prompt")
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cleanOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	ctx := cmd.Context()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	cutoff := time.Now().UTC().AddDate(0, 0, -cleanOlderThan)

	candidates, err := store.ListRunsCreatedBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	if len(candidates) == 0 {
		render.Info(os.Stdout, "No cached runs older than %d days", cleanOlderThan)

		return nil
	}

	render.Header(os.Stdout, "Runs created before %s (%d)",
		cutoff.Format("2006-01-02"), len(candidates))

	table := render.NewTable(os.Stdout, "RUN", "PROJECT", "STATE", "CREATED")

	for i := range candidates {
		r := &candidates[i]
		table.Row(
			shortID(r.RunID),
			r.Entity+"/"+r.Project,
			render.State(r.State),
			r.CreatedAt.Format("2006-01-02"),
		)
	}

	if err := table.Flush(); err != nil {
		return err
	}

	if cleanDryRun {
		render.Info(os.Stdout, "Dry run: nothing deleted")

		return nil
	}

	if !cleanForce {
		fmt.Fprintf(os.Stdout, "Delete %d run(s) from the cache? [y/N] ", len(candidates))

		reader := bufio.NewReader(os.Stdin)

		answer, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading confirmation: %w", err)
		}

		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			render.Info(os.Stdout, "Aborted")

			return nil
		}
	}

	deleted, err := store.DeleteRunsCreatedBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	render.Success(os.Stdout, "Deleted %d run(s)", deleted)

	return nil
}
