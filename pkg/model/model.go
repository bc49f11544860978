// Package model defines the core domain types shared across Runbox.
package model

import "time"

// SentinelAll is the sandbox identifier used when a whole run shares a
// single sandbox instead of one sandbox per file.
const SentinelAll = "ALL"

// Policy selects how test files are mapped onto sandboxes.
type Policy string

const (
	// PolicyIsolated runs each file in its own sandbox, strictly one at a time.
	PolicyIsolated Policy = "isolated"
	// PolicyShared runs every file of the run inside one shared sandbox.
	PolicyShared Policy = "shared"
)

// ParsePolicy maps a string to a Policy. Unknown values fall back to
// PolicyIsolated, the safer default.
func ParsePolicy(s string) Policy {
	if Policy(s) == PolicyShared {
		return PolicyShared
	}
	return PolicyIsolated
}

// RunStatus represents the current state of a run.
type RunStatus string

const (
	StatusPending  RunStatus = "pending"
	StatusRunning  RunStatus = "running"
	StatusComplete RunStatus = "complete"
	StatusError    RunStatus = "error"
)

// Run represents a single test-suite execution.
type Run struct {
	ID        string    `json:"id"`
	Files     []string  `json:"files"`
	Policy    Policy    `json:"policy"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event represents a single event in a run's lifecycle.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"` // "status", "file", "error", "done"
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// RunSummary is the terminal report delivered to notifiers.
type RunSummary struct {
	RunID    string        `json:"run_id"`
	Files    []string      `json:"files"`
	Failed   []string      `json:"failed,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Passed reports whether the run finished without any file failing.
func (s RunSummary) Passed() bool {
	return len(s.Failed) == 0
}
