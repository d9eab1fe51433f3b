package cache

import "time"

// ExportedRun is the lossless JSON form of a cached run: every stored field
// plus the derived GPU-hours, with config, summary and tags decoded from
// their stored encoding so the output round-trips.
type ExportedRun struct {
	Entity         string         `json:"entity"`
	Project        string         `json:"project"`
	RunID          string         `json:"run_id"`
	Name           string         `json:"name"`
	State          RunState       `json:"state"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	RuntimeSeconds int64          `json:"runtime_seconds"`
	GPUCount       int            `json:"gpu_count"`
	GPUUtilization float64        `json:"gpu_utilization"`
	GPUHours       float64        `json:"gpu_hours"`
	ConfigHash     string         `json:"config_hash,omitempty"`
	Config         map[string]any `json:"config,omitempty"`
	Summary        map[string]any `json:"summary,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	SyncedAt       time.Time      `json:"synced_at"`
}

// ExportRun converts a cached run into its export form.
func ExportRun(r *Run) ExportedRun {
	return ExportedRun{
		Entity:         r.Entity,
		Project:        r.Project,
		RunID:          r.RunID,
		Name:           r.Name,
		State:          r.State,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		RuntimeSeconds: r.RuntimeSeconds,
		GPUCount:       r.GPUCount,
		GPUUtilization: r.GPUUtilization,
		GPUHours:       r.GPUHours(),
		ConfigHash:     r.ConfigHash,
		Config:         r.Config(),
		Summary:        r.Summary(),
		Tags:           r.Tags(),
		SyncedAt:       r.SyncedAt.UTC(),
	}
}
