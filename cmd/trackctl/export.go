package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/render"
)

var (
	exportEntity  string
	exportProject string
	exportLast    string
	exportState   string
	exportOutput  string
	exportPretty  bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export cached runs as JSON",
	Long: `Write every field of the matching cached runs as a JSON array, to stdout
or a file. Config, summary, and tags are decoded from their stored form so
the output round-trips.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportEntity, "entity", "e", "", "entity (user or team)")
	exportCmd.Flags().StringVarP(&exportProject, "project", "p", "", "project name")
	exportCmd.Flags().StringVar(&exportLast, "last", "",
		"restrict to a trailing window (e.g. 24h, 7d, 4w, 1m)")
	exportCmd.Flags().StringVar(&exportState, "state", "", "filter by run state")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "",
		"write to file instead of stdout")
	exportCmd.Flags().BoolVar(&exportPretty, "pretty", false, "indent the output")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	since, err := sinceFromWindow(exportLast)
	if err != nil {
		return err
	}

	filter := cache.Filter{
		Entity:  exportEntity,
		Project: exportProject,
		Since:   since,
	}

	if exportState != "" {
		state, err := cache.ParseStateStrict(exportState)
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

	exported := make([]cache.ExportedRun, 0, len(runs))
	for i := range runs {
		exported = append(exported, cache.ExportRun(&runs[i]))
	}

	out := os.Stdout

	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()

		out = f
	}

	enc := json.NewEncoder(out)
	if exportPretty {
		enc.SetIndent("", "  ")
	}

	if err := enc.Encode(exported); err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}

	if exportOutput != "" {
		render.Success(os.Stdout, "Exported %d run(s) to %s", len(exported), exportOutput)
	}

	return nil
}
