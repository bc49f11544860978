// Package tracker maintains the set of sandbox identifiers still awaiting a
// completion signal for the current run.
package tracker

import (
	"sort"
	"sync"
)

// Tracker is the running set for one orchestrator. It only shrinks during a
// run; it is replaced wholesale at run start via Init. Reaching empty is the
// sole trigger for run termination.
type Tracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{running: make(map[string]struct{})}
}

// Init replaces the running set with exactly the given identifiers.
func (t *Tracker) Init(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.running = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		t.running[id] = struct{}{}
	}
}

// MarkDone removes each identifier from the running set. Unknown identifiers
// are tolerated; removing a non-member is a no-op.
func (t *Tracker) MarkDone(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		delete(t.running, id)
	}
}

// MarkAllDone clears the set unconditionally. Used when the shared sentinel
// sandbox fails, since a shared-sandbox failure ends the whole run.
func (t *Tracker) MarkAllDone() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.running = make(map[string]struct{})
}

// Empty reports whether every expected identifier has reported.
func (t *Tracker) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.running) == 0
}

// Remaining returns the identifiers still awaiting completion, sorted.
func (t *Tracker) Remaining() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.running))
	for id := range t.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
