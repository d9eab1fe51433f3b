package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/trackops/trackctl/pkg/render"
	"github.com/trackops/trackctl/pkg/syncer"
)

var (
	syncEntity  string
	syncProject string
	syncSince   string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull run metadata from the tracking service into the local cache",
	Long: `Fetch runs for the targeted entity (optionally one project) page by page
and upsert them into the cache. A failing project is reported and skipped;
the rest keep syncing.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringVarP(&syncEntity, "entity", "e", "", "entity (user or team)")
	syncCmd.Flags().StringVarP(&syncProject, "project", "p", "", "project name")
	syncCmd.Flags().StringVar(&syncSince, "since", "",
		"only sync runs created after this date (YYYY-MM-DD or RFC 3339)")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var since *time.Time

	if syncSince != "" {
		t, err := parseDate(syncSince)
		if err != nil {
			return err
		}

		since = &t
	}

	ctx := cmd.Context()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	client := newClient(cfg)

	entity, err := resolveEntity(ctx, cfg, client, syncEntity)
	if err != nil {
		return describeAuthError(err)
	}

	scope := entity
	if syncProject != "" {
		scope += "/" + syncProject
	}

	render.Info(os.Stdout, "Syncing runs from %s", scope)

	engine := syncer.New(log, client, store, cfg.Sync.Concurrency)

	result, err := engine.Sync(ctx, syncer.Options{
		Entity:  entity,
		Project: syncProject,
		Since:   since,
	})
	if err != nil {
		return describeAuthError(err)
	}

	for _, scopeErr := range result.Errors {
		render.Warning(os.Stdout, "%v", &scopeErr)
	}

	render.Success(os.Stdout, "Synced %d runs across %d scope(s)",
		result.RunsUpserted, result.ScopesTouched)

	if len(result.Errors) > 0 {
		render.Warning(os.Stdout, "%d scope(s) failed; their freshness records were not updated",
			len(result.Errors))

		if result.ScopesTouched == 0 {
			return fmt.Errorf("all scopes failed to sync")
		}
	}

	return nil
}

// parseDate accepts a date or full timestamp for --since.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC 3339", s)
}
