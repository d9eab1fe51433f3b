package remote

import "time"

// Run is the wire representation of a run as returned by the tracking
// service's read API.
type Run struct {
	ID             string         `json:"id"`
	Entity         string         `json:"entity"`
	Project        string         `json:"project"`
	Name           string         `json:"name"`
	State          string         `json:"state"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	RuntimeSeconds int64          `json:"runtime_seconds"`
	GPUCount       int            `json:"gpu_count"`
	GPUUtilization float64        `json:"gpu_utilization,omitempty"`
	Config         map[string]any `json:"config,omitempty"`
	Summary        map[string]any `json:"summary,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
}

// Project is a project listing entry.
type Project struct {
	Name   string `json:"name"`
	Entity string `json:"entity"`
}

// viewer is the authenticated-user envelope.
type viewer struct {
	Entity string `json:"entity"`
}

// projectsResponse is the project listing envelope.
type projectsResponse struct {
	Projects []Project `json:"projects"`
}

// runsResponse is one page of the run listing.
type runsResponse struct {
	Runs     []Run `json:"runs"`
	NextPage int   `json:"next_page"`
}

// errorResponse is the service's error envelope.
type errorResponse struct {
	Error string `json:"error"`
}
