// Package ui defines the optional adapter for an attached user interface
// that mirrors run progress (current file, viewport, completion).
package ui

import "context"

// Adapter is implemented by UI frontends. All methods may be called from the
// orchestrator's goroutines; implementations must be safe for concurrent use.
//
// An Adapter is optional everywhere it is accepted: a nil Adapter means the
// orchestrator runs headless and applies viewport changes directly to the
// sandbox runtime.
type Adapter interface {
	// ContainerReady blocks until the UI's display surface is ready to host
	// sandbox output, or the context is done.
	ContainerReady(ctx context.Context) error

	// SetCurrentFile tells the UI which file's sandbox is active.
	SetCurrentFile(id string)

	// SetViewport resizes the UI's display surface.
	SetViewport(width, height int) error

	// RunFinished signals that the run reached its terminal state and the
	// UI may release its display surface.
	RunFinished()
}
