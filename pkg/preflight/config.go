package preflight

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// LoadRunConfig reads a candidate run config from a YAML or JSON file.
func LoadRunConfig(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg map[string]any

	if filepath.Ext(path) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	} else {
		// YAML is a superset of JSON, so unknown extensions go through the
		// YAML parser as well.
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if cfg == nil {
		cfg = map[string]any{}
	}

	return cfg, nil
}

// trainingParams are the well-known hyperparameter fields the sanity check
// understands. Everything is optional; absent fields are skipped.
type trainingParams struct {
	BatchSize    *float64 `mapstructure:"batch_size"`
	LR           *float64 `mapstructure:"lr"`
	LearningRate *float64 `mapstructure:"learning_rate"`
	Epochs       *float64 `mapstructure:"epochs"`
	Seed         any      `mapstructure:"seed"`
	RandomSeed   any      `mapstructure:"random_seed"`
}

// decodeParams extracts the known hyperparameters from a raw config map,
// coercing numeric types loosely since YAML and JSON disagree on them.
func decodeParams(cfg map[string]any) (*trainingParams, error) {
	var params trainingParams

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &params,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("building config decoder: %w", err)
	}

	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding config fields: %w", err)
	}

	return &params, nil
}

// validateParams runs the config sanity checks: known numeric fields must be
// positive when present, and a missing seed is a reproducibility warning.
func validateParams(cfg map[string]any) ([]Finding, error) {
	params, err := decodeParams(cfg)
	if err != nil {
		return nil, err
	}

	var findings []Finding

	if params.BatchSize != nil && *params.BatchSize <= 0 {
		findings = append(findings, Finding{
			Check:    CheckSanity,
			Severity: SeverityFatal,
			Message:  fmt.Sprintf("batch_size must be positive (got %v)", *params.BatchSize),
		})
	}

	lr := params.LR
	if lr == nil {
		lr = params.LearningRate
	}

	if lr != nil && *lr <= 0 {
		findings = append(findings, Finding{
			Check:    CheckSanity,
			Severity: SeverityFatal,
			Message:  fmt.Sprintf("learning_rate must be positive (got %v)", *lr),
		})
	}

	if params.Epochs != nil && *params.Epochs <= 0 {
		findings = append(findings, Finding{
			Check:    CheckSanity,
			Severity: SeverityFatal,
			Message:  fmt.Sprintf("epochs must be positive (got %v)", *params.Epochs),
		})
	}

	if params.Seed == nil && params.RandomSeed == nil {
		findings = append(findings, Finding{
			Check:    CheckSanity,
			Severity: SeverityWarning,
			Message:  "no random seed specified (reproducibility risk)",
		})
	}

	return findings, nil
}
