package preflight_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/config"
	"github.com/trackops/trackctl/pkg/preflight"
)

func newTestStore(t *testing.T) cache.Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := cache.NewStore(log, &config.CacheConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func newValidator(t *testing.T, store cache.Store) *preflight.Validator {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return preflight.NewValidator(log, store)
}

func goodConfig() map[string]any {
	return map[string]any{
		"batch_size":    32,
		"learning_rate": 0.001,
		"epochs":        10,
		"seed":          42,
	}
}

func seedRun(t *testing.T, s cache.Store, id string, mutate func(*cache.Run)) {
	t.Helper()

	r := &cache.Run{
		Entity:         "ml-team",
		Project:        "nlp",
		RunID:          id,
		Name:           "run-" + id,
		State:          cache.StateFinished,
		CreatedAt:      time.Now().UTC().Add(-1 * time.Hour),
		UpdatedAt:      time.Now().UTC(),
		RuntimeSeconds: 3600,
		SyncedAt:       time.Now().UTC(),
	}

	if mutate != nil {
		mutate(r)
	}

	require.NoError(t, s.UpsertRun(context.Background(), r))
}

func TestValidate_CleanConfigPasses(t *testing.T) {
	store := newTestStore(t)
	v := newValidator(t, store)

	verdict, err := v.Validate(context.Background(), goodConfig(), preflight.Options{
		Entity:  "ml-team",
		Project: "nlp",
	})
	require.NoError(t, err)
	assert.Equal(t, preflight.StatusPass, verdict.Status)
}

func TestValidate_SanityFailures(t *testing.T) {
	store := newTestStore(t)
	v := newValidator(t, store)

	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"zero batch size", "batch_size", 0},
		{"negative learning rate", "learning_rate", -0.01},
		{"lr alias", "lr", 0.0},
		{"zero epochs", "epochs", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := goodConfig()
			delete(cfg, "learning_rate")
			cfg[tt.key] = tt.val

			verdict, err := v.Validate(context.Background(), cfg, preflight.Options{
				Entity:  "ml-team",
				Project: "nlp",
			})
			require.NoError(t, err)
			assert.Equal(t, preflight.StatusFail, verdict.Status)
		})
	}
}

func TestValidate_MissingSeedWarns(t *testing.T) {
	store := newTestStore(t)
	v := newValidator(t, store)

	cfg := goodConfig()
	delete(cfg, "seed")

	verdict, err := v.Validate(context.Background(), cfg, preflight.Options{
		Entity:  "ml-team",
		Project: "nlp",
	})
	require.NoError(t, err)
	assert.Equal(t, preflight.StatusWarn, verdict.Status)
}

func TestValidate_DuplicateWarns(t *testing.T) {
	store := newTestStore(t)
	v := newValidator(t, store)
	cfg := goodConfig()

	seedRun(t, store, "dup1", func(r *cache.Run) {
		r.ConfigHash = cache.HashConfig(cfg)
	})

	verdict, err := v.Validate(context.Background(), cfg, preflight.Options{
		Entity:  "ml-team",
		Project: "nlp",
	})
	require.NoError(t, err)
	assert.Equal(t, preflight.StatusWarn, verdict.Status)
}

func TestValidate_FailedDuplicateStillWarns(t *testing.T) {
	store := newTestStore(t)
	v := newValidator(t, store)
	cfg := goodConfig()

	seedRun(t, store, "dup1", func(r *cache.Run) {
		r.ConfigHash = cache.HashConfig(cfg)
		r.State = cache.StateCrashed
	})

	verdict, err := v.Validate(context.Background(), cfg, preflight.Options{
		Entity:  "ml-team",
		Project: "nlp",
	})
	require.NoError(t, err)
	assert.Equal(t, preflight.StatusWarn, verdict.Status)

	var dup *preflight.Finding
	for i := range verdict.Findings {
		if verdict.Findings[i].Check == preflight.CheckDuplicate {
			dup = &verdict.Findings[i]
		}
	}
	require.NotNil(t, dup)
	assert.Equal(t, preflight.SeverityWarning, dup.Severity)
	assert.Contains(t, dup.Message, "1 failed")
}

func TestValidate_OldDuplicateIgnored(t *testing.T) {
	store := newTestStore(t)
	v := newValidator(t, store)
	cfg := goodConfig()

	// Same config, but outside the 24h duplicate window.
	seedRun(t, store, "dup1", func(r *cache.Run) {
		r.ConfigHash = cache.HashConfig(cfg)
		r.State = cache.StateFailed
		r.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	})

	verdict, err := v.Validate(context.Background(), cfg, preflight.Options{
		Entity:  "ml-team",
		Project: "nlp",
	})
	require.NoError(t, err)
	assert.Equal(t, preflight.StatusPass, verdict.Status)
}

func TestValidate_EarlyFailurePattern(t *testing.T) {
	store := newTestStore(t)
	v := newValidator(t, store)

	// Six early crashes trip the warning; the limit is five.
	for i := 0; i < 6; i++ {
		seedRun(t, store, string(rune('a'+i)), func(r *cache.Run) {
			r.State = cache.StateFailed
			r.RuntimeSeconds = 60
		})
	}

	verdict, err := v.Validate(context.Background(), goodConfig(), preflight.Options{
		Entity:  "ml-team",
		Project: "nlp",
	})
	require.NoError(t, err)
	assert.Equal(t, preflight.StatusWarn, verdict.Status)

	var found bool

	for _, f := range verdict.Findings {
		if f.Check == preflight.CheckFailures &&
			f.Severity == preflight.SeverityWarning {
			found = true
		}
	}

	assert.True(t, found)
}

func TestValidate_WarnOnlyDowngradesFatal(t *testing.T) {
	store := newTestStore(t)
	v := newValidator(t, store)

	cfg := goodConfig()
	cfg["batch_size"] = -1

	verdict, err := v.Validate(context.Background(), cfg, preflight.Options{
		Entity:   "ml-team",
		Project:  "nlp",
		WarnOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, preflight.StatusWarn, verdict.Status)

	for _, f := range verdict.Findings {
		assert.NotEqual(t, preflight.SeverityFatal, f.Severity)
	}
}

func TestValidate_ForceSkipsHistory(t *testing.T) {
	store := newTestStore(t)
	v := newValidator(t, store)
	cfg := goodConfig()

	// A failed duplicate that would normally be fatal.
	seedRun(t, store, "dup1", func(r *cache.Run) {
		r.ConfigHash = cache.HashConfig(cfg)
		r.State = cache.StateFailed
	})

	verdict, err := v.Validate(context.Background(), cfg, preflight.Options{
		Entity:  "ml-team",
		Project: "nlp",
		Force:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, preflight.StatusPass, verdict.Status)
}

func TestLoadRunConfig(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("batch_size: 32\nlr: 0.001\n"), 0o600))

	jsonPath := filepath.Join(dir, "run.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"batch_size": 32}`), 0o600))

	fromYAML, err := preflight.LoadRunConfig(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 32, fromYAML["batch_size"])

	fromJSON, err := preflight.LoadRunConfig(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, float64(32), fromJSON["batch_size"])
}

func TestLoadRunConfig_Malformed(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := preflight.LoadRunConfig(path)
	require.Error(t, err)
}
