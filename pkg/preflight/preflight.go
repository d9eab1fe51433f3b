// Package preflight validates a candidate run config against cached run
// history before the user spends compute on it.
package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trackops/trackctl/pkg/cache"
)

// Severity classifies a finding. Fatal findings fail the verdict unless
// downgraded by --warn-only.
type Severity string

// Finding severities.
const (
	SeverityFatal   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Check names the validation stage that produced a finding.
type Check string

// Validation stages, in execution order.
const (
	CheckSanity    Check = "sanity"
	CheckDuplicate Check = "duplicate"
	CheckFailures  Check = "failure-pattern"
)

// Finding is a single validation observation.
type Finding struct {
	Check    Check
	Severity Severity
	Message  string
}

// Status is the aggregate verdict outcome.
type Status string

// Verdict statuses.
const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Verdict is the aggregate result of a preflight validation.
type Verdict struct {
	Status   Status
	Findings []Finding
}

// Defaults for history-based checks.
const (
	// DefaultDuplicateWindow bounds how far back the duplicate check looks.
	DefaultDuplicateWindow = 24 * time.Hour

	// earlyFailureRuntime is the runtime under which a failure counts as an
	// early crash (setup/config problems rather than training problems).
	earlyFailureRuntime = 5 * time.Minute

	// earlyFailureLimit is how many early crashes trip the warning.
	earlyFailureLimit = 5

	// duplicateFetchLimit caps the duplicate candidate query.
	duplicateFetchLimit = 50
)

// Options modulate a validation pass.
type Options struct {
	Entity  string
	Project string

	// WarnOnly downgrades fatal findings so the verdict never fails.
	WarnOnly bool

	// Force skips the history checks entirely; only the structural
	// sanity of the config format is retained.
	Force bool
}

// Validator runs the preflight checks against the cache.
type Validator struct {
	log             logrus.FieldLogger
	store           cache.Store
	duplicateWindow time.Duration
}

// NewValidator creates a preflight validator.
func NewValidator(log logrus.FieldLogger, store cache.Store) *Validator {
	return &Validator{
		log:             log.WithField("component", "preflight"),
		store:           store,
		duplicateWindow: DefaultDuplicateWindow,
	}
}

// Validate runs the checks in order (sanity, duplicate detection,
// failure-pattern match) and aggregates them into a verdict.
func (v *Validator) Validate(
	ctx context.Context, cfg map[string]any, opts Options,
) (*Verdict, error) {
	if opts.Force {
		return &Verdict{
			Status: StatusPass,
			Findings: []Finding{{
				Check:    CheckSanity,
				Severity: SeverityInfo,
				Message:  "history checks skipped (forced)",
			}},
		}, nil
	}

	findings, err := validateParams(cfg)
	if err != nil {
		return nil, err
	}

	dupFindings, err := v.checkDuplicates(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	findings = append(findings, dupFindings...)

	failFindings, err := v.checkFailurePattern(ctx, opts)
	if err != nil {
		return nil, err
	}

	findings = append(findings, failFindings...)

	return aggregate(findings, opts.WarnOnly), nil
}

// checkDuplicates looks for a cached run with an identical config hash
// inside the duplicate window. A plain duplicate is a warning; a duplicate
// that already failed is fatal, because re-launching it wastes compute on a
// known-bad config.
func (v *Validator) checkDuplicates(
	ctx context.Context, cfg map[string]any, opts Options,
) ([]Finding, error) {
	hash := cache.HashConfig(cfg)
	if hash == "" {
		return nil, nil
	}

	matches, err := v.store.RunsByConfigHash(ctx, hash, cache.Filter{
		Entity:  opts.Entity,
		Project: opts.Project,
	}, duplicateFetchLimit)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-v.duplicateWindow)

	var recent, failed int

	for i := range matches {
		if matches[i].CreatedAt.Before(cutoff) {
			continue
		}

		recent++

		if matches[i].State.IsFailure() {
			failed++
		}
	}

	if recent == 0 {
		return []Finding{{
			Check:    CheckDuplicate,
			Severity: SeverityInfo,
			Message:  "no recent duplicate configs found",
		}}, nil
	}

	msg := fmt.Sprintf("identical config ran %d time(s) in the last %s",
		recent, v.duplicateWindow)

	// Duplicates warn but never fail the verdict; a prior failure is
	// surfaced in the message so the user can judge the relaunch.
	if failed > 0 {
		msg = fmt.Sprintf("%s (%d failed)", msg, failed)
	}

	return []Finding{{
		Check:    CheckDuplicate,
		Severity: SeverityWarning,
		Message:  msg,
	}}, nil
}

// checkFailurePattern warns when the scope's history shows a pattern of
// early crashes, which usually indicates an environment or config problem
// a new launch would hit too.
func (v *Validator) checkFailurePattern(
	ctx context.Context, opts Options,
) ([]Finding, error) {
	runs, err := v.store.ListRuns(ctx, cache.Filter{
		Entity:  opts.Entity,
		Project: opts.Project,
	})
	if err != nil {
		return nil, err
	}

	var earlyFailures int

	for i := range runs {
		if runs[i].State.IsFailure() &&
			runs[i].RuntimeSeconds < int64(earlyFailureRuntime.Seconds()) {
			earlyFailures++
		}
	}

	if earlyFailures > earlyFailureLimit {
		return []Finding{{
			Check:    CheckFailures,
			Severity: SeverityWarning,
			Message: fmt.Sprintf(
				"%d runs failed within %s (early crash pattern)",
				earlyFailures, earlyFailureRuntime),
		}}, nil
	}

	return []Finding{{
		Check:    CheckFailures,
		Severity: SeverityInfo,
		Message:  "no concerning failure patterns",
	}}, nil
}

// aggregate folds findings into the verdict status. Warn-only downgrades
// fatal findings to warnings.
func aggregate(findings []Finding, warnOnly bool) *Verdict {
	status := StatusPass

	for i := range findings {
		switch findings[i].Severity {
		case SeverityFatal:
			if warnOnly {
				findings[i].Severity = SeverityWarning
				status = StatusWarn
			} else {
				status = StatusFail
			}
		case SeverityWarning:
			if status == StatusPass {
				status = StatusWarn
			}
		}
	}

	return &Verdict{Status: status, Findings: findings}
}
