// Package viewport routes viewport geometry changes to whichever surface is
// in charge of rendering: the UI adapter when one is attached, the sandbox
// runtime otherwise.
package viewport

import (
	"context"
	"fmt"

	"github.com/runbox/runbox/pkg/registry"
	"github.com/runbox/runbox/pkg/sandbox"
	"github.com/runbox/runbox/pkg/ui"
)

// Coordinator applies viewport changes for sandbox handles.
type Coordinator struct {
	runtime sandbox.Runtime
	adapter ui.Adapter // nil when running headless
}

// New creates a Coordinator. adapter may be nil.
func New(rt sandbox.Runtime, adapter ui.Adapter) *Coordinator {
	return &Coordinator{runtime: rt, adapter: adapter}
}

// Apply resizes the viewport for the given handle. With a UI adapter attached
// the resize goes to the UI; otherwise it goes straight to the container.
func (c *Coordinator) Apply(ctx context.Context, h *registry.Handle, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", width, height)
	}
	if c.adapter != nil {
		if err := c.adapter.SetViewport(width, height); err != nil {
			return fmt.Errorf("ui viewport: %w", err)
		}
		return nil
	}
	if err := c.runtime.SetViewport(ctx, h.ContainerID, width, height); err != nil {
		return fmt.Errorf("sandbox viewport: %w", err)
	}
	return nil
}
