package main

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/render"
)

var compareCmd = &cobra.Command{
	Use:   "compare RUN_ID...",
	Short: "Compare cached runs side by side",
	Long: `Compare 2-5 cached runs: identity, state, runtime, config differences
relative to the first run, and summary metrics. IDs may be unique prefixes.
Unknown IDs are reported and skipped; the comparison proceeds with the
runs that were found.`,
	Args: cobra.RangeArgs(2, 5),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
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

	var runs []*cache.Run

	for _, id := range args {
		run, err := store.FindRunByID(ctx, id)
		if err != nil {
			if errors.Is(err, cache.ErrRunNotFound) {
				render.Warning(os.Stdout, "Run %q not found in cache, skipping", id)

				continue
			}

			return err
		}

		runs = append(runs, run)
	}

	if len(runs) < 2 {
		return fmt.Errorf("need at least 2 cached runs to compare, found %d", len(runs))
	}

	headers := make([]string, 0, len(runs)+1)
	headers = append(headers, "")

	for _, r := range runs {
		headers = append(headers, shortID(r.RunID))
	}

	render.Header(os.Stdout, "Run comparison")

	info := render.NewTable(os.Stdout, headers...)
	info.Row(rowOf("Name", runs, func(r *cache.Run) string { return r.Name })...)
	info.Row(rowOf("Project", runs, func(r *cache.Run) string { return r.Project })...)
	info.Row(rowOf("State", runs, func(r *cache.Run) string {
		return render.State(r.State)
	})...)
	info.Row(rowOf("Runtime", runs, func(r *cache.Run) string {
		return render.FormatDuration(r.RuntimeSeconds)
	})...)
	info.Row(rowOf("GPUs", runs, func(r *cache.Run) string {
		return fmt.Sprintf("%d", r.EffectiveGPUCount())
	})...)
	info.Row(rowOf("Created", runs, func(r *cache.Run) string {
		return render.FormatAgo(r.CreatedAt)
	})...)

	if err := info.Flush(); err != nil {
		return err
	}

	if err := renderConfigDiff(runs); err != nil {
		return err
	}

	return renderSummaries(runs)
}

// rowOf builds one comparison table row from a per-run accessor.
func rowOf(label string, runs []*cache.Run, get func(*cache.Run) string) []string {
	cells := make([]string, 0, len(runs)+1)
	cells = append(cells, label)

	for _, r := range runs {
		cells = append(cells, get(r))
	}

	return cells
}

// renderConfigDiff prints config keys across runs, flagging values that
// differ from the first run's.
func renderConfigDiff(runs []*cache.Run) error {
	keys := map[string]struct{}{}
	configs := make([]map[string]any, len(runs))

	for i, r := range runs {
		configs[i] = r.Config()
		for k := range configs[i] {
			keys[k] = struct{}{}
		}
	}

	if len(keys) == 0 {
		return nil
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}

	sort.Strings(sorted)

	fmt.Fprintln(os.Stdout)
	render.Header(os.Stdout, "Config")

	headers := make([]string, 0, len(runs)+1)
	headers = append(headers, "KEY")

	for _, r := range runs {
		headers = append(headers, shortID(r.RunID))
	}

	table := render.NewTable(os.Stdout, headers...)

	for _, key := range sorted {
		cells := []string{key}
		base := formatValue(configs[0][key])

		for i := range runs {
			v := formatValue(configs[i][key])
			if i > 0 && v != base {
				v = render.Changed(v)
			}

			cells = append(cells, v)
		}

		table.Row(cells...)
	}

	return table.Flush()
}

// renderSummaries prints summary metrics per run. Keys starting with an
// underscore are internal bookkeeping and stay hidden.
func renderSummaries(runs []*cache.Run) error {
	keys := map[string]struct{}{}
	summaries := make([]map[string]any, len(runs))

	for i, r := range runs {
		summaries[i] = r.Summary()
		for k := range summaries[i] {
			if len(k) > 0 && k[0] == '_' {
				continue
			}

			keys[k] = struct{}{}
		}
	}

	if len(keys) == 0 {
		return nil
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}

	sort.Strings(sorted)

	fmt.Fprintln(os.Stdout)
	render.Header(os.Stdout, "Summary metrics")

	headers := make([]string, 0, len(runs)+1)
	headers = append(headers, "METRIC")

	for _, r := range runs {
		headers = append(headers, shortID(r.RunID))
	}

	table := render.NewTable(os.Stdout, headers...)

	for _, key := range sorted {
		cells := []string{key}

		for i := range runs {
			cells = append(cells, formatValue(summaries[i][key]))
		}

		table.Row(cells...)
	}

	return table.Flush()
}

// formatValue renders a decoded JSON value compactly for table cells.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}

		return fmt.Sprintf("%.4g", val)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
