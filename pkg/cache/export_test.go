package cache_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackops/trackctl/pkg/cache"
)

func TestExportRun_RoundTrip(t *testing.T) {
	run := &cache.Run{
		Entity:         "ml-team",
		Project:        "nlp",
		RunID:          "abc123def456",
		Name:           "bert-finetune",
		State:          cache.StateFailed,
		CreatedAt:      time.Date(2026, 8, 12, 9, 30, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2026, 8, 12, 11, 45, 0, 0, time.UTC),
		RuntimeSeconds: 8100,
		GPUCount:       4,
		GPUUtilization: 87.5,
		ConfigJSON:     `{"batch_size":32,"lr":0.001,"optimizer":"adamw"}`,
		ConfigHash:     "deadbeefcafe0123",
		SummaryJSON:    `{"loss":0.42,"accuracy":0.91,"_step":12000}`,
		TagsJSON:       `["baseline","sweep-7"]`,
		SyncedAt:       time.Date(2026, 8, 12, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(cache.ExportRun(run))
	require.NoError(t, err)

	var got cache.ExportedRun
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, run.Entity, got.Entity)
	assert.Equal(t, run.Project, got.Project)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, run.Name, got.Name)
	assert.Equal(t, run.State, got.State)
	assert.True(t, got.CreatedAt.Equal(run.CreatedAt))
	assert.True(t, got.UpdatedAt.Equal(run.UpdatedAt))
	assert.Equal(t, run.RuntimeSeconds, got.RuntimeSeconds)
	assert.Equal(t, run.GPUCount, got.GPUCount)
	assert.Equal(t, run.GPUUtilization, got.GPUUtilization)
	assert.Equal(t, run.GPUHours(), got.GPUHours)
	assert.Equal(t, run.ConfigHash, got.ConfigHash)
	assert.Equal(t, run.Config(), got.Config)
	assert.Equal(t, run.Summary(), got.Summary)
	assert.Equal(t, run.Tags(), got.Tags)
	assert.True(t, got.SyncedAt.Equal(run.SyncedAt))
}

func TestExportRun_EmptyOptionalFields(t *testing.T) {
	run := &cache.Run{
		Entity:    "ml-team",
		Project:   "nlp",
		RunID:     "bare1",
		Name:      "bare1",
		State:     cache.StateRunning,
		CreatedAt: time.Date(2026, 8, 12, 9, 0, 0, 0, time.UTC),
		SyncedAt:  time.Date(2026, 8, 12, 10, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(cache.ExportRun(run))
	require.NoError(t, err)

	// Absent config, summary, tags and hash stay absent rather than
	// encoding as empty placeholders.
	assert.NotContains(t, string(data), `"config"`)
	assert.NotContains(t, string(data), `"summary"`)
	assert.NotContains(t, string(data), `"tags"`)
	assert.NotContains(t, string(data), `"config_hash"`)

	// A telemetry-free run still exports the one-GPU wall-clock hours.
	var got cache.ExportedRun
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, run.GPUHours(), got.GPUHours)
}
