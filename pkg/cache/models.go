package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// RunState is the closed set of run lifecycle states. Remote values outside
// the set are normalized to StateUnknown so consumers can match exhaustively.
type RunState string

// Run lifecycle states.
const (
	StateRunning  RunState = "running"
	StateFinished RunState = "finished"
	StateFailed   RunState = "failed"
	StateCrashed  RunState = "crashed"
	StateKilled   RunState = "killed"
	StateUnknown  RunState = "unknown"
)

// ParseState normalizes a remote state string into the closed enum.
func ParseState(s string) RunState {
	switch RunState(s) {
	case StateRunning, StateFinished, StateFailed, StateCrashed, StateKilled:
		return RunState(s)
	default:
		return StateUnknown
	}
}

// ParseStateStrict parses a user-supplied state, rejecting values outside
// the closed set so a typo fails loudly instead of matching nothing.
func ParseStateStrict(s string) (RunState, error) {
	state := ParseState(s)
	if state == StateUnknown && s != string(StateUnknown) {
		return "", fmt.Errorf(
			"invalid state %q: use running, finished, failed, crashed, killed or unknown", s)
	}

	return state, nil
}

// IsFailure reports whether the state is a failure terminal state.
func (s RunState) IsFailure() bool {
	return s == StateFailed || s == StateCrashed
}

// Run is a single cached experiment run. (Entity, Project, RunID) is the
// sole identity; re-syncing an observed run overwrites the row.
type Run struct {
	ID      uint   `gorm:"primaryKey" json:"-"`
	Entity  string `gorm:"not null;uniqueIndex:idx_runs_identity;index:idx_runs_scope" json:"entity"`
	Project string `gorm:"not null;uniqueIndex:idx_runs_identity;index:idx_runs_scope" json:"project"`
	RunID   string `gorm:"not null;uniqueIndex:idx_runs_identity" json:"run_id"`

	Name  string   `json:"name"`
	State RunState `gorm:"index" json:"state"`

	// CreatedAt and UpdatedAt mirror the remote service's timestamps, not
	// row bookkeeping, so gorm's automatic tracking is disabled.
	CreatedAt time.Time `gorm:"autoCreateTime:false;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`

	RuntimeSeconds int64   `json:"runtime_seconds"`
	GPUCount       int     `json:"gpu_count"`
	GPUUtilization float64 `json:"gpu_utilization,omitempty"`

	ConfigJSON  string `gorm:"type:text" json:"config_json,omitempty"`
	ConfigHash  string `gorm:"index" json:"config_hash,omitempty"`
	SummaryJSON string `gorm:"type:text" json:"summary_json,omitempty"`
	TagsJSON    string `gorm:"type:text" json:"tags_json,omitempty"`

	SyncedAt time.Time `json:"synced_at"`
}

// Config decodes the stored config JSON. A missing or malformed payload
// yields an empty map.
func (r *Run) Config() map[string]any {
	return decodeJSONMap(r.ConfigJSON)
}

// Summary decodes the stored summary metrics JSON.
func (r *Run) Summary() map[string]any {
	return decodeJSONMap(r.SummaryJSON)
}

// Tags decodes the stored tags JSON.
func (r *Run) Tags() []string {
	if r.TagsJSON == "" {
		return nil
	}

	var tags []string
	if err := json.Unmarshal([]byte(r.TagsJSON), &tags); err != nil {
		return nil
	}

	return tags
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return map[string]any{}
	}

	return m
}

// SyncScope tracks freshness per (entity, project) pair.
type SyncScope struct {
	ID           uint      `gorm:"primaryKey"`
	Entity       string    `gorm:"not null;uniqueIndex:idx_scopes_identity"`
	Project      string    `gorm:"not null;uniqueIndex:idx_scopes_identity"`
	LastSyncedAt time.Time `gorm:"not null"`
	RunCount     int
}

// EffectiveGPUCount returns the GPU count used for GPU-hour accounting.
// Runs without GPU telemetry are billed as a single GPU of wall-clock time.
func (r *Run) EffectiveGPUCount() int {
	if r.GPUCount > 0 {
		return r.GPUCount
	}

	return 1
}

// GPUHours is the single definition of the derived GPU-hour metric:
// runtime in hours multiplied by the effective GPU count. Every command
// that reports GPU-hours goes through this formula, either directly or
// via the equivalent SQL expression in the aggregate queries.
func (r *Run) GPUHours() float64 {
	return float64(r.RuntimeSeconds) * float64(r.EffectiveGPUCount()) / 3600.0
}

// gpuSecondsExpr is the SQL twin of Run.GPUHours (in seconds). Keeping it
// next to the Go formula makes drift between the two visible in review.
const gpuSecondsExpr = "runtime_seconds * (CASE WHEN gpu_count > 0 THEN gpu_count ELSE 1 END)"

// HashConfig returns a short stable hash of a run config. Map keys are
// serialized in sorted order so logically equal configs hash identically
// regardless of declaration order.
func HashConfig(cfg map[string]any) string {
	normalized, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}

	sum := sha256.Sum256(normalized)

	return hex.EncodeToString(sum[:])[:16]
}
