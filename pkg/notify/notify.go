// Package notify defines the Notifier interface for run-finished delivery.
package notify

import (
	"context"

	"github.com/runbox/runbox/pkg/model"
)

// Notifier delivers a terminal run summary to an external destination.
// Delivery is best effort; a failing notifier never affects the run.
type Notifier interface {
	Name() string
	RunFinished(ctx context.Context, summary model.RunSummary) error
}
