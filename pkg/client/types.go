package client

import "time"

// StartRequest asks the daemon to spawn a project's dev server.
type StartRequest struct {
	ProjectID string   `json:"project_id"`
	Command   string   `json:"command"`
	WorkDir   string   `json:"work_dir"`
	Port      int      `json:"port,omitempty"`
	Env       []string `json:"env,omitempty"`
}

// StopRequest asks the daemon to tear a dev server down.
type StopRequest struct {
	ProjectID string
	Timeout   time.Duration
	Reason    string
	Port      int
	// Force additionally kills whatever holds the port.
	Force bool
}

// FailureInfo mirrors the daemon's failure classification.
type FailureInfo struct {
	Reason     string `json:"reason"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ProcessStatus is one project's dev server as reported by the daemon.
type ProcessStatus struct {
	ProjectID         string       `json:"project_id"`
	State             string       `json:"state"`
	PID               int          `json:"pid,omitempty"`
	Port              int          `json:"port,omitempty"`
	Command           string       `json:"command"`
	WorkDir           string       `json:"work_dir"`
	StartedAt         time.Time    `json:"started_at,omitempty"`
	LastHealthCheckAt time.Time    `json:"last_health_check_at,omitempty"`
	StopReason        string       `json:"stop_reason,omitempty"`
	Failure           *FailureInfo `json:"failure,omitempty"`
	Stderr            string       `json:"stderr,omitempty"`
}

// PersistedStatus is a row the daemon's state store kept from an earlier run
// for a project that is no longer live.
type PersistedStatus struct {
	ProjectID     string     `json:"project_id"`
	State         string     `json:"state"`
	PID           int        `json:"pid,omitempty"`
	Port          int        `json:"port,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	StartedAt     time.Time  `json:"started_at,omitempty"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// StatusReport is the ?all=1 status payload: live records plus what the state
// store remembers about projects from previous daemon runs.
type StatusReport struct {
	Live      []ProcessStatus   `json:"live"`
	Persisted []PersistedStatus `json:"persisted,omitempty"`
}

// StopResult reports whether an active record was actually stopped.
type StopResult struct {
	OK      bool `json:"ok"`
	Stopped bool `json:"stopped"`
}

// HealthResult is the outcome of one health check cycle.
type HealthResult struct {
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	PortFixed bool   `json:"port_fixed"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
