package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/preflight"
	"github.com/trackops/trackctl/pkg/render"
)

var (
	preflightEntity   string
	preflightProject  string
	preflightWarnOnly bool
	preflightForce    bool
)

var preflightCmd = &cobra.Command{
	Use:   "preflight CONFIG_FILE",
	Short: "Validate a run config against cached history before launching",
	Long: `Parse a candidate run config (JSON or YAML) and check it for parameter
sanity, recent duplicate launches, and projects with a pattern of early
crashes. A failing verdict exits non-zero so the command can gate launch
scripts.`,
	Args: cobra.ExactArgs(1),
	RunE: runPreflight,
}

func init() {
	rootCmd.AddCommand(preflightCmd)
	preflightCmd.Flags().StringVarP(&preflightEntity, "entity", "e", "", "entity (user or team)")
	preflightCmd.Flags().StringVarP(&preflightProject, "project", "p", "", "project name")
	preflightCmd.Flags().BoolVar(&preflightWarnOnly, "warn-only", false,
		"report fatal findings as warnings and exit 0")
	preflightCmd.Flags().BoolVar(&preflightForce, "force", false,
		"skip the history checks (the config must still parse)")
}

func runPreflight(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runCfg, err := preflight.LoadRunConfig(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	entity := preflightEntity
	if entity == "" {
		entity = cfg.Entity
	}

	validator := preflight.NewValidator(log, store)

	verdict, err := validator.Validate(ctx, runCfg, preflight.Options{
		Entity:   entity,
		Project:  preflightProject,
		WarnOnly: preflightWarnOnly,
		Force:    preflightForce,
	})
	if err != nil {
		return err
	}

	render.Header(os.Stdout, "Preflight: %s", args[0])

	if hash := cache.HashConfig(runCfg); hash != "" {
		fmt.Fprintf(os.Stdout, "Config hash: %s\n", hash)
	}

	for _, f := range verdict.Findings {
		switch f.Severity {
		case preflight.SeverityFatal:
			render.Error(os.Stdout, "[%s] %s", f.Check, f.Message)
		case preflight.SeverityWarning:
			render.Warning(os.Stdout, "[%s] %s", f.Check, f.Message)
		default:
			render.Info(os.Stdout, "[%s] %s", f.Check, f.Message)
		}
	}

	switch verdict.Status {
	case preflight.StatusPass:
		render.Success(os.Stdout, "Preflight passed")
	case preflight.StatusWarn:
		render.Warning(os.Stdout, "Preflight passed with warnings")
	case preflight.StatusFail:
		return fmt.Errorf("preflight failed")
	}

	return nil
}
