// Package registry tracks live sandbox handles for the current run, keyed by
// sandbox identifier (a file path or the sentinel model.SentinelAll).
package registry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/runbox/runbox/pkg/sandbox"
)

// Handle represents one live, isolated execution context.
type Handle struct {
	ID          string    // sandbox identifier
	Token       string    // correlation token for this incarnation
	ContainerID string    // opaque handle to the underlying container
	CreatedAt   time.Time
}

// Options configures how the registry starts sandboxes.
type Options struct {
	Image     string
	Network   string
	Env       []string
	SignalURL string
}

// Registry owns sandbox handles exclusively. At most one live handle exists
// per identifier at any time; no handle is ever shared between identifiers.
type Registry struct {
	mu      sync.Mutex
	runtime sandbox.Runtime
	opts    Options
	handles map[string]*Handle
}

// New creates a Registry backed by the given runtime.
func New(rt sandbox.Runtime, opts Options) *Registry {
	return &Registry{
		runtime: rt,
		opts:    opts,
		handles: make(map[string]*Handle),
	}
}

// Create starts a fresh sandbox for the identifier and returns its handle.
// Any pre-existing handle for the same identifier is torn down first.
func (r *Registry) Create(ctx context.Context, id, token string, files []string) (*Handle, error) {
	r.mu.Lock()
	old := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()

	if old != nil {
		if err := r.runtime.Stop(ctx, old.ContainerID); err != nil {
			log.Printf("stopping superseded sandbox %s: %v", old.ID, err)
		}
	}

	containerID, err := r.runtime.Start(ctx, sandbox.StartOptions{
		SandboxID: id,
		Token:     token,
		Files:     files,
		Image:     r.opts.Image,
		Env:       r.opts.Env,
		Network:   r.opts.Network,
		SignalURL: r.opts.SignalURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sandbox %q: %w", id, err)
	}

	h := &Handle{
		ID:          id,
		Token:       token,
		ContainerID: containerID,
		CreatedAt:   time.Now().UTC(),
	}

	r.mu.Lock()
	r.handles[id] = h
	r.mu.Unlock()
	return h, nil
}

// Get returns the live handle for an identifier, if any.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	return h, ok
}

// Remove tears down and forgets a single handle. Removing an unknown
// identifier is a no-op.
func (r *Registry) Remove(ctx context.Context, id string) {
	r.mu.Lock()
	h := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()

	if h == nil {
		return
	}
	if err := r.runtime.Stop(ctx, h.ContainerID); err != nil {
		log.Printf("stopping sandbox %s: %v", id, err)
	}
}

// RemoveAll tears down every tracked handle and clears the registry. Called
// at the start of every run so no stale sandbox persists across runs.
func (r *Registry) RemoveAll(ctx context.Context) {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		if err := r.runtime.Stop(ctx, h.ContainerID); err != nil {
			log.Printf("stopping sandbox %s: %v", h.ID, err)
		}
	}
}

// List returns a snapshot of the live handles, unordered.
func (r *Registry) List() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
