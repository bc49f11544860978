// Package store defines the RunStore interface for run journal persistence.
package store

import "github.com/runbox/runbox/pkg/model"

// RunStore provides persistence for runs and their events. The journal is
// write-mostly: the orchestrator records what happened, and the HTTP API
// reads it back for inspection and event replay.
type RunStore interface {
	CreateRun(run *model.Run) error
	GetRun(id string) (*model.Run, error)
	ListRuns() ([]*model.Run, error)
	UpdateRun(run *model.Run) error
	AddEvent(event *model.Event) error
	GetEvents(runID string, afterID int64) ([]*model.Event, error)
	Close() error
}
