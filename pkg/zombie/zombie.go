// Package zombie flags runs that are still marked running remotely but look
// stalled: no recent heartbeat, or a runtime far beyond what similar runs
// needed to finish.
package zombie

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trackops/trackctl/pkg/cache"
	"github.com/trackops/trackctl/pkg/remote"
)

// DefaultThreshold is the stall window that flags a run with medium
// confidence. Twice the threshold flags high confidence.
const DefaultThreshold = 15 * time.Minute

// runtimeOutlierFactor flags a run whose runtime exceeds this multiple of
// the project's average finished runtime.
const runtimeOutlierFactor = 3

// minBaselineRuns is the minimum number of finished runs needed before the
// runtime-outlier rule applies.
const minBaselineRuns = 2

// Confidence is the zombie classification level.
type Confidence string

// Classification levels, strongest first.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
)

// Flag is one suspected zombie run with the reasons it was flagged.
type Flag struct {
	Entity         string
	Project        string
	RunID          string
	Name           string
	RuntimeSeconds int64
	UpdatedAt      time.Time
	Confidence     Confidence
	Reasons        []string
}

// Baseline is the historical finished-runtime context for a project.
type Baseline struct {
	AvgRuntimeSeconds float64
	FinishedRuns      int64
}

// usable reports whether the baseline has enough samples for the
// runtime-outlier rule.
func (b *Baseline) usable() bool {
	return b != nil &&
		b.FinishedRuns >= minBaselineRuns &&
		b.AvgRuntimeSeconds > 0
}

// Classify evaluates one remotely-running run. It returns nil when the run
// is not suspect. The stall rule needs a heartbeat timestamp; the
// runtime-outlier rule fires regardless of heartbeat recency.
func Classify(
	run *remote.Run,
	now time.Time,
	threshold time.Duration,
	baseline *Baseline,
) *Flag {
	if cache.ParseState(run.State) != cache.StateRunning {
		return nil
	}

	var (
		confidence Confidence
		reasons    []string
	)

	if !run.UpdatedAt.IsZero() {
		stalled := now.Sub(run.UpdatedAt)

		switch {
		case stalled >= 2*threshold:
			confidence = ConfidenceHigh
			reasons = append(reasons,
				fmt.Sprintf("no updates for %dm", int(stalled.Minutes())))
		case stalled >= threshold:
			confidence = ConfidenceMedium
			reasons = append(reasons,
				fmt.Sprintf("no updates for %dm", int(stalled.Minutes())))
		}
	}

	if baseline.usable() {
		limit := int64(baseline.AvgRuntimeSeconds * runtimeOutlierFactor)
		if run.RuntimeSeconds >= limit {
			confidence = ConfidenceHigh
			reasons = append(reasons, fmt.Sprintf(
				"runtime %d× above project average",
				runtimeOutlierFactor))
		}
	}

	if len(reasons) == 0 {
		return nil
	}

	return &Flag{
		Entity:         run.Entity,
		Project:        run.Project,
		RunID:          run.ID,
		Name:           run.Name,
		RuntimeSeconds: run.RuntimeSeconds,
		UpdatedAt:      run.UpdatedAt,
		Confidence:     confidence,
		Reasons:        reasons,
	}
}

// Detector fetches live running runs and classifies them against cached
// history.
type Detector struct {
	log       logrus.FieldLogger
	client    remote.Client
	store     cache.Store
	threshold time.Duration
}

// NewDetector creates a zombie detector. A non-positive threshold falls
// back to the default.
func NewDetector(
	log logrus.FieldLogger,
	client remote.Client,
	store cache.Store,
	threshold time.Duration,
) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	return &Detector{
		log:       log.WithField("component", "zombie"),
		client:    client,
		store:     store,
		threshold: threshold,
	}
}

// Detect fetches the live running runs for the scope and returns the
// flagged subset plus the total number of running runs examined. Runs are
// fetched live because cached state may hide a recent finish.
func (d *Detector) Detect(
	ctx context.Context, entity, project string,
) ([]Flag, int, error) {
	running, err := d.client.ListRunningRuns(ctx, entity, project)
	if err != nil {
		return nil, 0, err
	}

	d.log.WithField("running", len(running)).Debug("Fetched live running runs")

	now := time.Now().UTC()
	baselines := make(map[string]*Baseline)

	var flags []Flag

	for i := range running {
		run := &running[i]

		baseline, ok := baselines[run.Project]
		if !ok {
			rb, err := d.store.FinishedRuntimeBaseline(
				ctx, run.Entity, run.Project,
			)
			if err != nil {
				return nil, 0, err
			}

			baseline = &Baseline{
				AvgRuntimeSeconds: rb.AvgRuntimeSeconds,
				FinishedRuns:      rb.FinishedRuns,
			}
			baselines[run.Project] = baseline
		}

		if flag := Classify(run, now, d.threshold, baseline); flag != nil {
			flags = append(flags, *flag)
		}
	}

	Sort(flags)

	return flags, len(running), nil
}

// Sort orders flags by confidence (high first), then by staleness.
func Sort(flags []Flag) {
	sort.SliceStable(flags, func(i, j int) bool {
		if flags[i].Confidence != flags[j].Confidence {
			return flags[i].Confidence == ConfidenceHigh
		}

		return flags[i].UpdatedAt.Before(flags[j].UpdatedAt)
	})
}
