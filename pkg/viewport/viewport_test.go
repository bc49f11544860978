package viewport

import (
	"context"
	"errors"
	"testing"

	"github.com/runbox/runbox/pkg/registry"
	"github.com/runbox/runbox/pkg/sandbox"
)

type fakeRuntime struct {
	sandbox.Runtime

	gotContainer string
	gotW, gotH   int
	err          error
}

func (f *fakeRuntime) SetViewport(ctx context.Context, containerID string, width, height int) error {
	f.gotContainer = containerID
	f.gotW, f.gotH = width, height
	return f.err
}

type fakeAdapter struct {
	gotW, gotH int
	err        error
}

func (f *fakeAdapter) ContainerReady(ctx context.Context) error { return nil }
func (f *fakeAdapter) SetCurrentFile(id string)                 {}
func (f *fakeAdapter) RunFinished()                             {}

func (f *fakeAdapter) SetViewport(width, height int) error {
	f.gotW, f.gotH = width, height
	return f.err
}

func TestApplyHeadlessGoesToRuntime(t *testing.T) {
	rt := &fakeRuntime{}
	c := New(rt, nil)
	h := &registry.Handle{ID: "a_test.go", ContainerID: "ctr-1"}

	if err := c.Apply(context.Background(), h, 1280, 720); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if rt.gotContainer != "ctr-1" || rt.gotW != 1280 || rt.gotH != 720 {
		t.Errorf("runtime got %s %dx%d", rt.gotContainer, rt.gotW, rt.gotH)
	}
}

func TestApplyPrefersAdapter(t *testing.T) {
	rt := &fakeRuntime{}
	ad := &fakeAdapter{}
	c := New(rt, ad)
	h := &registry.Handle{ID: "a_test.go", ContainerID: "ctr-1"}

	if err := c.Apply(context.Background(), h, 800, 600); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if ad.gotW != 800 || ad.gotH != 600 {
		t.Errorf("adapter got %dx%d, want 800x600", ad.gotW, ad.gotH)
	}
	if rt.gotContainer != "" {
		t.Error("runtime should not be touched when an adapter is attached")
	}
}

func TestApplyPropagatesAdapterError(t *testing.T) {
	boom := errors.New("window gone")
	c := New(&fakeRuntime{}, &fakeAdapter{err: boom})
	h := &registry.Handle{ID: "a_test.go", ContainerID: "ctr-1"}

	if err := c.Apply(context.Background(), h, 800, 600); !errors.Is(err, boom) {
		t.Fatalf("Apply err = %v, want wrapped %v", err, boom)
	}
}

func TestApplyRejectsBadGeometry(t *testing.T) {
	c := New(&fakeRuntime{}, nil)
	h := &registry.Handle{ID: "a_test.go", ContainerID: "ctr-1"}

	if err := c.Apply(context.Background(), h, 0, 600); err == nil {
		t.Fatal("expected error for zero width")
	}
	if err := c.Apply(context.Background(), h, 800, -1); err == nil {
		t.Fatal("expected error for negative height")
	}
}
