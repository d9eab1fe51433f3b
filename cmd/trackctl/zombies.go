package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/trackops/trackctl/pkg/render"
	"github.com/trackops/trackctl/pkg/zombie"
)

var (
	zombiesEntity    string
	zombiesProject   string
	zombiesThreshold int
)

var zombiesCmd = &cobra.Command{
	Use:   "zombies",
	Short: "Flag running runs that look stuck or abandoned",
	Long: `Fetch the live running runs from the remote service and flag the ones
with stale heartbeats or runtimes far above the project's finished-run
average. The cache supplies the runtime baseline.`,
	RunE: runZombies,
}

func init() {
	rootCmd.AddCommand(zombiesCmd)
	zombiesCmd.Flags().StringVarP(&zombiesEntity, "entity", "e", "", "entity (user or team)")
	zombiesCmd.Flags().StringVarP(&zombiesProject, "project", "p", "", "project name")
	zombiesCmd.Flags().IntVar(&zombiesThreshold, "threshold", 15,
		"minutes without updates before a run is suspect")
}

func runZombies(cmd *cobra.Command, args []string) error {
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

	client := newClient(cfg)

	entity, err := resolveEntity(ctx, cfg, client, zombiesEntity)
	if err != nil {
		return describeAuthError(err)
	}

	detector := zombie.NewDetector(log, client, store,
		time.Duration(zombiesThreshold)*time.Minute)

	flags, running, err := detector.Detect(ctx, entity, zombiesProject)
	if err != nil {
		return describeAuthError(err)
	}

	if running == 0 {
		render.Info(os.Stdout, "No running runs for %s", entity)

		return nil
	}

	if len(flags) == 0 {
		render.Success(os.Stdout, "All %d running run(s) look healthy", running)

		return nil
	}

	render.Warning(os.Stdout, "%d of %d running run(s) look like zombies",
		len(flags), running)

	table := render.NewTable(os.Stdout,
		"RUN", "PROJECT", "CONFIDENCE", "RUNTIME", "LAST UPDATE", "REASON")

	for _, f := range flags {
		table.Row(
			shortID(f.RunID),
			f.Project,
			strings.ToUpper(string(f.Confidence)),
			render.FormatDuration(f.RuntimeSeconds),
			render.FormatAgo(f.UpdatedAt),
			strings.Join(f.Reasons, "; "),
		)
	}

	return table.Flush()
}
