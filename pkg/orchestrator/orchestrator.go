// Package orchestrator runs test files in sandboxes and drives each run from
// dispatch to its single terminal finalize.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runbox/runbox/pkg/eventbus"
	"github.com/runbox/runbox/pkg/hostrpc"
	"github.com/runbox/runbox/pkg/model"
	"github.com/runbox/runbox/pkg/notify"
	"github.com/runbox/runbox/pkg/registry"
	"github.com/runbox/runbox/pkg/signal"
	"github.com/runbox/runbox/pkg/store"
	"github.com/runbox/runbox/pkg/tracker"
	"github.com/runbox/runbox/pkg/ui"
	"github.com/runbox/runbox/pkg/viewport"
)

// Config holds the orchestrator's tunables.
type Config struct {
	// Policy is the default sandbox policy for runs that do not choose one.
	Policy model.Policy

	// ViewportWidth and ViewportHeight, when both positive, are applied to
	// each sandbox as it starts.
	ViewportWidth  int
	ViewportHeight int

	// SandboxTimeout bounds how long an isolated sandbox may run before it
	// is torn down and counted as failed. Zero disables the timeout.
	SandboxTimeout time.Duration
}

// Deps are the collaborators an Orchestrator is built from. Store, Bus,
// Adapter, and Notifiers may be nil or empty.
type Deps struct {
	Registry  *registry.Registry
	Channel   signal.Channel
	View      *viewport.Coordinator
	Host      hostrpc.Host
	Adapter   ui.Adapter
	Store     store.RunStore
	Bus       eventbus.Bus
	Notifiers []notify.Notifier
}

// Orchestrator owns run scheduling: at most one run is active at a time, and
// each run is finalized exactly once.
type Orchestrator struct {
	cfg Config

	registry  *registry.Registry
	tracker   *tracker.Tracker
	channel   signal.Channel
	view      *viewport.Coordinator
	host      hostrpc.Host
	adapter   ui.Adapter
	store     store.RunStore
	bus       eventbus.Bus
	notifiers []notify.Notifier

	mu      sync.Mutex
	current *run
	waiters map[string]chan struct{} // keyed by sandbox token

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// run is the in-flight state of one execution. failed is guarded by the
// orchestrator mutex; everything else is set once at creation.
type run struct {
	id      string
	files   []string
	policy  model.Policy
	started time.Time

	failed []string

	done   chan struct{} // closed when the run is finalized
	finish sync.Once
}

// New creates an Orchestrator. Call Start before requesting runs.
func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Host == nil {
		deps.Host = hostrpc.Nop{}
	}
	if cfg.Policy == "" {
		cfg.Policy = model.PolicyIsolated
	}
	return &Orchestrator{
		cfg:       cfg,
		registry:  deps.Registry,
		tracker:   tracker.New(),
		channel:   deps.Channel,
		view:      deps.View,
		host:      deps.Host,
		adapter:   deps.Adapter,
		store:     deps.Store,
		bus:       deps.Bus,
		notifiers: deps.Notifiers,
		waiters:   make(map[string]chan struct{}),
	}
}

// Start begins consuming signals. It returns immediately.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.wg.Add(1)
	go o.listen()
}

// Stop cancels the signal listener and any dispatch in flight, then waits
// for them to exit.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// RequestRun schedules a run over the given files. If a run is already
// active, the request blocks until that run finalizes, then starts. The
// returned ID identifies the scheduled run; dispatch happens asynchronously.
func (o *Orchestrator) RequestRun(ctx context.Context, files []string, policy model.Policy) (string, error) {
	if len(files) == 0 {
		return "", errors.New("no files to run")
	}
	if policy == "" {
		policy = o.cfg.Policy
	}

	r := &run{
		id:      uuid.New().String()[:8],
		files:   append([]string(nil), files...),
		policy:  policy,
		started: time.Now().UTC(),
		done:    make(chan struct{}),
	}

	for {
		o.mu.Lock()
		active := o.current
		if active == nil {
			o.current = r
			o.mu.Unlock()
			break
		}
		o.mu.Unlock()

		select {
		case <-active.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if o.store != nil {
		rec := &model.Run{
			ID:        r.id,
			Files:     r.files,
			Policy:    r.policy,
			Status:    model.StatusPending,
			CreatedAt: r.started,
			UpdatedAt: r.started,
		}
		if err := o.store.CreateRun(rec); err != nil {
			log.Printf("recording run %s: %v", r.id, err)
		}
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.dispatch(r)
	}()
	return r.id, nil
}

// CurrentRun returns a snapshot of the active run, if any.
func (o *Orchestrator) CurrentRun() (*model.Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil, false
	}
	return &model.Run{
		ID:        o.current.id,
		Files:     append([]string(nil), o.current.files...),
		Policy:    o.current.policy,
		Status:    model.StatusRunning,
		CreatedAt: o.current.started,
	}, true
}

// Remaining returns the files still awaiting completion in the active run.
func (o *Orchestrator) Remaining() []string {
	return o.tracker.Remaining()
}

// --- Dispatch ---

func (o *Orchestrator) dispatch(r *run) {
	ctx := o.ctx

	o.tracker.Init(r.files)
	o.registry.RemoveAll(ctx)
	o.setStatus(r, model.StatusRunning, "")
	o.emitEvent(r.id, "status", "running")

	if o.adapter != nil {
		if err := o.adapter.ContainerReady(ctx); err != nil {
			o.host.ReportError(ctx, fmt.Errorf("ui not ready: %w", err), "ui")
		}
	}

	if r.policy == model.PolicyShared {
		o.dispatchShared(ctx, r)
		return
	}
	o.dispatchIsolated(ctx, r)
}

func (o *Orchestrator) dispatchShared(ctx context.Context, r *run) {
	token := uuid.New().String()
	h, err := o.registry.Create(ctx, model.SentinelAll, token, r.files)
	if err != nil {
		o.host.ReportError(ctx, err, "sandbox")
		o.markFailed(r, r.files...)
		o.tracker.MarkAllDone()
		o.finalize(r, true)
		return
	}
	o.emitEvent(r.id, "sandbox", model.SentinelAll)
	o.applyViewport(ctx, r, h)
	// Completion arrives over the signal channel.
}

func (o *Orchestrator) dispatchIsolated(ctx context.Context, r *run) {
	for _, file := range r.files {
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		token := uuid.New().String()
		waitCh := o.registerWaiter(token)

		h, err := o.registry.Create(ctx, file, token, []string{file})
		if err != nil {
			o.unregisterWaiter(token)
			o.host.ReportError(ctx, err, "sandbox")
			o.markFailed(r, file)
			o.tracker.MarkDone([]string{file})
			o.emitEvent(r.id, "error", file+": "+err.Error())
			if o.tracker.Empty() {
				o.finalize(r, true)
				return
			}
			continue
		}

		if o.adapter != nil {
			o.adapter.SetCurrentFile(file)
		}
		o.emitEvent(r.id, "file", file)
		o.applyViewport(ctx, r, h)

		if !o.awaitSandbox(ctx, r, file, waitCh) {
			return
		}
	}
}

// awaitSandbox blocks until the file's sandbox reports, the run finalizes,
// or the sandbox times out. It reports whether dispatch should continue.
func (o *Orchestrator) awaitSandbox(ctx context.Context, r *run, file string, waitCh <-chan struct{}) bool {
	var timeout <-chan time.Time
	if o.cfg.SandboxTimeout > 0 {
		timer := time.NewTimer(o.cfg.SandboxTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-waitCh:
		return true
	case <-r.done:
		return false
	case <-ctx.Done():
		return false
	case <-timeout:
		o.host.ReportError(ctx, fmt.Errorf("sandbox for %q timed out after %s", file, o.cfg.SandboxTimeout), "timeout")
		o.registry.Remove(ctx, file)
		o.markFailed(r, file)
		o.tracker.MarkDone([]string{file})
		o.emitEvent(r.id, "error", file+": timed out")
		if o.tracker.Empty() {
			o.finalize(r, true)
			return false
		}
		return true
	}
}

func (o *Orchestrator) applyViewport(ctx context.Context, r *run, h *registry.Handle) {
	if o.cfg.ViewportWidth <= 0 || o.cfg.ViewportHeight <= 0 {
		return
	}
	if err := o.view.Apply(ctx, h, o.cfg.ViewportWidth, o.cfg.ViewportHeight); err != nil {
		o.host.ReportError(ctx, err, "viewport")
	}
}

// --- Signal handling ---

func (o *Orchestrator) listen() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case sig := <-o.channel.Inbound():
			o.route(o.ctx, sig)
		}
	}
}

func (o *Orchestrator) route(ctx context.Context, sig model.Signal) {
	switch sig.Type {
	case model.SignalViewport:
		o.handleViewport(ctx, sig)
	case model.SignalDone:
		o.handleDone(ctx, sig)
	case model.SignalError:
		o.handleError(ctx, sig)
	default:
		o.host.ReportError(ctx, fmt.Errorf("unexpected signal type %q from %q", sig.Type, sig.SandboxID), "protocol")
		o.mu.Lock()
		r := o.current
		o.mu.Unlock()
		if r != nil {
			// The channel state is no longer trustworthy. End the run
			// without touching the UI.
			o.finalize(r, false)
		}
	}
}

func (o *Orchestrator) handleViewport(ctx context.Context, sig model.Signal) {
	h, ok := o.registry.Get(sig.SandboxID)
	if !ok {
		o.host.ReportError(ctx, fmt.Errorf("viewport signal from unknown sandbox %q", sig.SandboxID), "protocol")
		o.ack(sig.SandboxID, model.AckViewportFail)
		return
	}
	if err := o.view.Apply(ctx, h, sig.Width, sig.Height); err != nil {
		o.host.ReportError(ctx, err, "viewport")
		o.ack(sig.SandboxID, model.AckViewportFail)
		return
	}
	o.ack(sig.SandboxID, model.AckViewportDone)
}

func (o *Orchestrator) handleDone(ctx context.Context, sig model.Signal) {
	o.mu.Lock()
	r := o.current
	o.mu.Unlock()
	if r == nil {
		log.Printf("dropping done signal from %q outside a run", sig.SandboxID)
		return
	}

	switch {
	case len(sig.Files) > 0:
		o.tracker.MarkDone(sig.Files)
	case sig.SandboxID == model.SentinelAll:
		o.tracker.MarkAllDone()
	default:
		o.tracker.MarkDone([]string{sig.SandboxID})
	}
	o.emitEvent(r.id, "done", strings.Join(sig.Files, ","))
	o.resolveWaiter(sig.Token)

	if o.tracker.Empty() {
		// The last sandbox stays registered so its output remains visible
		// after the run ends.
		o.finalize(r, true)
		return
	}
	if sig.SandboxID != model.SentinelAll {
		o.registry.Remove(ctx, sig.SandboxID)
	}
}

func (o *Orchestrator) handleError(ctx context.Context, sig model.Signal) {
	o.mu.Lock()
	r := o.current
	o.mu.Unlock()
	if r == nil {
		log.Printf("dropping error signal from %q outside a run", sig.SandboxID)
		return
	}

	kind := sig.Kind
	if kind == "" {
		kind = "sandbox"
	}
	o.host.ReportError(ctx, fmt.Errorf("sandbox %q: %s", sig.SandboxID, sig.Error), kind)
	o.registry.Remove(ctx, sig.SandboxID)
	o.emitEvent(r.id, "error", sig.SandboxID+": "+sig.Error)

	if sig.SandboxID == model.SentinelAll {
		// A shared sandbox failure fails every file in the run.
		o.markFailed(r, r.files...)
		o.tracker.MarkAllDone()
	} else {
		o.markFailed(r, sig.SandboxID)
		o.tracker.MarkDone([]string{sig.SandboxID})
	}
	o.resolveWaiter(sig.Token)

	if o.tracker.Empty() {
		o.finalize(r, true)
	}
}

func (o *Orchestrator) ack(sandboxID string, typ model.AckType) {
	if err := o.channel.Ack(sandboxID, model.Ack{Type: typ}); err != nil {
		log.Printf("acking %s to %s: %v", typ, sandboxID, err)
	}
}

// --- Finalize ---

// finalize ends the run exactly once. With notifyUI false the UI adapter is
// left untouched, which is the degraded path taken after a protocol fault.
func (o *Orchestrator) finalize(r *run, notifyUI bool) {
	r.finish.Do(func() {
		ctx := o.ctx
		defer func() {
			if notifyUI && o.adapter != nil {
				o.adapter.RunFinished()
			}
			o.closeRun(r)
		}()

		if err := o.host.Flush(ctx); err != nil {
			log.Printf("flushing host for run %s: %v", r.id, err)
		}
		if err := o.host.FinishRun(ctx); err != nil {
			log.Printf("finishing run %s: %v", r.id, err)
		}
	})
}

func (o *Orchestrator) closeRun(r *run) {
	o.mu.Lock()
	failed := append([]string(nil), r.failed...)
	if o.current == r {
		o.current = nil
	}
	o.waiters = make(map[string]chan struct{})
	o.mu.Unlock()

	status := model.StatusComplete
	errMsg := ""
	if len(failed) > 0 {
		status = model.StatusError
		errMsg = strings.Join(failed, ", ") + " failed"
	}
	o.setStatus(r, status, errMsg)
	o.emitEvent(r.id, "done", string(status))

	summary := model.RunSummary{
		RunID:    r.id,
		Files:    r.files,
		Failed:   failed,
		Duration: time.Since(r.started),
	}
	for _, n := range o.notifiers {
		o.wg.Add(1)
		go func(n notify.Notifier) {
			defer o.wg.Done()
			nctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := n.RunFinished(nctx, summary); err != nil {
				log.Printf("notifier %s for run %s: %v", n.Name(), r.id, err)
			}
		}(n)
	}

	close(r.done)
}

// --- Helpers ---

func (o *Orchestrator) registerWaiter(token string) chan struct{} {
	ch := make(chan struct{})
	o.mu.Lock()
	o.waiters[token] = ch
	o.mu.Unlock()
	return ch
}

func (o *Orchestrator) unregisterWaiter(token string) {
	o.mu.Lock()
	delete(o.waiters, token)
	o.mu.Unlock()
}

// resolveWaiter wakes the dispatch goroutine waiting on a token. Unknown
// tokens, including those from superseded sandboxes, are ignored.
func (o *Orchestrator) resolveWaiter(token string) {
	if token == "" {
		return
	}
	o.mu.Lock()
	ch, ok := o.waiters[token]
	if ok {
		delete(o.waiters, token)
	}
	o.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (o *Orchestrator) markFailed(r *run, files ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, f := range files {
		r.failed = append(r.failed, f)
	}
}

func (o *Orchestrator) setStatus(r *run, status model.RunStatus, errMsg string) {
	if o.store == nil {
		return
	}
	rec := &model.Run{
		ID:        r.id,
		Files:     r.files,
		Policy:    r.policy,
		Status:    status,
		Error:     errMsg,
		CreatedAt: r.started,
	}
	if err := o.store.UpdateRun(rec); err != nil {
		log.Printf("updating run %s: %v", r.id, err)
	}
}

func (o *Orchestrator) emitEvent(runID, typ, data string) {
	event := &model.Event{
		RunID:     runID,
		Type:      typ,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if o.store != nil {
		if err := o.store.AddEvent(event); err != nil {
			log.Printf("recording %s event for run %s: %v", typ, runID, err)
		}
	}
	if o.bus != nil {
		o.bus.Publish(runID, event)
	}
}
