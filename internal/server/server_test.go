package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/runbox/runbox/internal/config"
	"github.com/runbox/runbox/pkg/eventbus"
	"github.com/runbox/runbox/pkg/model"
	"github.com/runbox/runbox/pkg/orchestrator"
	"github.com/runbox/runbox/pkg/registry"
	"github.com/runbox/runbox/pkg/sandbox"
	"github.com/runbox/runbox/pkg/signal"
	"github.com/runbox/runbox/pkg/store/sqlite"
	"github.com/runbox/runbox/pkg/viewport"
)

type fakeRuntime struct {
	mu      sync.Mutex
	next    int
	started []sandbox.StartOptions
}

func (f *fakeRuntime) Start(ctx context.Context, opts sandbox.StartOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.started = append(f.started, opts)
	return fmt.Sprintf("ctr-%d", f.next), nil
}

func (f *fakeRuntime) Stop(ctx context.Context, containerID string) error { return nil }

func (f *fakeRuntime) SetViewport(ctx context.Context, containerID string, width, height int) error {
	return nil
}

func (f *fakeRuntime) EnsureNetwork(ctx context.Context, name string) error { return nil }

func (f *fakeRuntime) IsRunning(ctx context.Context, containerID string) bool { return true }

func newTestServer(t *testing.T) (*httptest.Server, *fakeRuntime, *config.Config) {
	t.Helper()

	dataDir := t.TempDir()
	cfg := &config.Config{
		DataDir:      dataDir,
		DatabasePath: filepath.Join(dataDir, "runbox.db"),
		SuitesDir:    filepath.Join(dataDir, "suites"),
		Policy:       model.PolicyIsolated,
	}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	rt := &fakeRuntime{}
	reg := registry.New(rt, registry.Options{})
	hub := signal.NewHub()
	t.Cleanup(func() { hub.Close() })
	bus := eventbus.NewInMemoryBus()

	orch := orchestrator.New(orchestrator.Config{}, orchestrator.Deps{
		Registry: reg,
		Channel:  hub,
		View:     viewport.New(rt, nil),
		Store:    st,
		Bus:      bus,
	})
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	s := New(cfg, st, bus, orch, reg, rt, hub)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, rt, cfg
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateRun(t *testing.T) {
	srv, rt, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/runs", `{"files": ["a_test.go"], "policy": "shared"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var created struct {
		ID     string `json:"id"`
		Policy string `json:"policy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if created.ID == "" || created.Policy != "shared" {
		t.Errorf("response = %+v", created)
	}

	// Dispatch is asynchronous; the shared sandbox should appear.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rt.mu.Lock()
		n := len(rt.started)
		rt.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sandbox never started")
}

func TestCreateRunValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/runs", `{"files": []}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty files: status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/runs", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body: status = %d, want 400", resp.StatusCode)
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/runs/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListRuns(t *testing.T) {
	srv, _, _ := newTestServer(t)

	postJSON(t, srv.URL+"/api/runs", `{"files": ["a_test.go"]}`)

	resp, err := http.Get(srv.URL + "/api/runs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var runs []model.Run
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("got %d runs, want 1", len(runs))
	}
}

func TestSuites(t *testing.T) {
	srv, _, cfg := newTestServer(t)

	if err := os.MkdirAll(cfg.SuitesDir, 0o755); err != nil {
		t.Fatalf("creating suites dir: %v", err)
	}
	suite := "name: smoke\nfiles: [a_test.go]\npolicy: shared\n"
	if err := os.WriteFile(filepath.Join(cfg.SuitesDir, "smoke.yaml"), []byte(suite), 0o644); err != nil {
		t.Fatalf("writing suite: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/suites")
	if err != nil {
		t.Fatalf("GET suites: %v", err)
	}
	defer resp.Body.Close()
	var suites []struct {
		Name string `json:"Name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&suites); err != nil {
		t.Fatalf("decoding suites: %v", err)
	}
	if len(suites) != 1 {
		t.Fatalf("got %d suites, want 1", len(suites))
	}

	run := postJSON(t, srv.URL+"/api/suites/smoke/run", "")
	if run.StatusCode != http.StatusAccepted {
		t.Errorf("run suite status = %d, want 202", run.StatusCode)
	}

	missing := postJSON(t, srv.URL+"/api/suites/absent/run", "")
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing suite status = %d, want 404", missing.StatusCode)
	}
}

func TestListSandboxesEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/sandboxes")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var boxes []sandboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&boxes); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(boxes) != 0 {
		t.Errorf("got %d sandboxes, want 0", len(boxes))
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
