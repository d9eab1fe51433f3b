package zombie

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackops/trackctl/pkg/remote"
)

func runningRun(updatedAgo time.Duration, now time.Time) *remote.Run {
	return &remote.Run{
		ID:             "zr1",
		Entity:         "ml-team",
		Project:        "nlp",
		Name:           "train-large",
		State:          "running",
		UpdatedAt:      now.Add(-updatedAgo),
		RuntimeSeconds: 600,
	}
}

func TestClassify_HeartbeatThresholds(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	noBaseline := &Baseline{}

	tests := []struct {
		name       string
		updatedAgo time.Duration
		flagged    bool
		confidence Confidence
	}{
		{"fresh at 10m", 10 * time.Minute, false, ""},
		{"stale at 16m", 16 * time.Minute, true, ConfidenceMedium},
		{"very stale at 31m", 31 * time.Minute, true, ConfidenceHigh},
		{"exactly at threshold", 15 * time.Minute, true, ConfidenceMedium},
		{"exactly at double threshold", 30 * time.Minute, true, ConfidenceHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := Classify(
				runningRun(tt.updatedAgo, now), now, DefaultThreshold, noBaseline,
			)

			if !tt.flagged {
				assert.Nil(t, flag)

				return
			}

			require.NotNil(t, flag)
			assert.Equal(t, tt.confidence, flag.Confidence)
			assert.NotEmpty(t, flag.Reasons)
		})
	}
}

func TestClassify_RuntimeOutlier(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	baseline := &Baseline{AvgRuntimeSeconds: 1000, FinishedRuns: 5}

	// Recently updated but running 3x longer than the project average.
	run := runningRun(1*time.Minute, now)
	run.RuntimeSeconds = 3000

	flag := Classify(run, now, DefaultThreshold, baseline)
	require.NotNil(t, flag)
	assert.Equal(t, ConfidenceHigh, flag.Confidence)

	// Under the multiple and fresh: healthy.
	run.RuntimeSeconds = 2999
	assert.Nil(t, Classify(run, now, DefaultThreshold, baseline))
}

func TestClassify_OutlierNeedsBaseline(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	run := runningRun(1*time.Minute, now)
	run.RuntimeSeconds = 100000

	// A single finished run is not enough history for the outlier rule.
	thin := &Baseline{AvgRuntimeSeconds: 1000, FinishedRuns: 1}
	assert.Nil(t, Classify(run, now, DefaultThreshold, thin))
}

func TestClassify_NonRunningIgnored(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	run := runningRun(2*time.Hour, now)
	run.State = "finished"

	assert.Nil(t, Classify(run, now, DefaultThreshold, &Baseline{}))
}

func TestClassify_MissingHeartbeat(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	// No UpdatedAt at all: the stall rule cannot fire, the outlier rule can.
	run := runningRun(0, now)
	run.UpdatedAt = time.Time{}
	run.RuntimeSeconds = 5000

	assert.Nil(t, Classify(run, now, DefaultThreshold, &Baseline{}))

	baseline := &Baseline{AvgRuntimeSeconds: 1000, FinishedRuns: 3}
	flag := Classify(run, now, DefaultThreshold, baseline)
	require.NotNil(t, flag)
	assert.Equal(t, ConfidenceHigh, flag.Confidence)
}

func TestSort_HighConfidenceFirst(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	flags := []Flag{
		{RunID: "medium-new", Confidence: ConfidenceMedium, UpdatedAt: now.Add(-16 * time.Minute)},
		{RunID: "high", Confidence: ConfidenceHigh, UpdatedAt: now.Add(-20 * time.Minute)},
		{RunID: "medium-old", Confidence: ConfidenceMedium, UpdatedAt: now.Add(-25 * time.Minute)},
	}

	Sort(flags)

	assert.Equal(t, "high", flags[0].RunID)
	assert.Equal(t, "medium-old", flags[1].RunID)
	assert.Equal(t, "medium-new", flags[2].RunID)
}
