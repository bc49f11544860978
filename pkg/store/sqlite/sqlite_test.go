package sqlite_test

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/runbox/runbox/pkg/model"
	"github.com/runbox/runbox/pkg/store/sqlite"
)

// newTestStore creates a Store backed by a temporary SQLite database.
func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("New(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// makeRun returns a minimal Run with sensible defaults.
func makeRun(id string, files ...string) *model.Run {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Run{
		ID:        id,
		Files:     files,
		Policy:    model.PolicyIsolated,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := sqlite.New("/no/such/dir/test.db")
	if err == nil {
		t.Fatal("expected error for invalid path, got nil")
	}
}

func TestCreateAndGetRun(t *testing.T) {
	store := newTestStore(t)

	want := makeRun("run-1", "a_test.go", "b_test.go")
	if err := store.CreateRun(want); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ID != want.ID || got.Policy != want.Policy || got.Status != want.Status {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !reflect.DeepEqual(got.Files, want.Files) {
		t.Errorf("Files: want %v, got %v", want.Files, got.Files)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun("does-not-exist")
	if err == nil {
		t.Fatal("expected error for non-existent run, got nil")
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	store := newTestStore(t)

	r1 := makeRun("run-1", "a_test.go")
	r1.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r1.UpdatedAt = r1.CreatedAt

	r2 := makeRun("run-2", "b_test.go")
	r2.CreatedAt = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	r2.UpdatedAt = r2.CreatedAt

	for _, r := range []*model.Run{r1, r2} {
		if err := store.CreateRun(r); err != nil {
			t.Fatalf("CreateRun(%s): %v", r.ID, err)
		}
	}

	runs, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-2" || runs[1].ID != "run-1" {
		t.Errorf("order = [%s %s], want [run-2 run-1]", runs[0].ID, runs[1].ID)
	}
}

func TestUpdateRun(t *testing.T) {
	store := newTestStore(t)

	run := makeRun("run-u", "a_test.go")
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	run.Status = model.StatusError
	run.Error = "sandbox crashed"
	if err := store.UpdateRun(run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err := store.GetRun("run-u")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.StatusError {
		t.Errorf("Status: want %q, got %q", model.StatusError, got.Status)
	}
	if got.Error != "sandbox crashed" {
		t.Errorf("Error: want %q, got %q", "sandbox crashed", got.Error)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt is zero after update")
	}
}

func TestAddAndGetEvents(t *testing.T) {
	store := newTestStore(t)

	if err := store.CreateRun(makeRun("run-ev", "a_test.go")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	e1 := &model.Event{RunID: "run-ev", Type: "status", Data: "running", CreatedAt: now}
	e2 := &model.Event{RunID: "run-ev", Type: "done", Data: "a_test.go", CreatedAt: now}

	for _, e := range []*model.Event{e1, e2} {
		if err := store.AddEvent(e); err != nil {
			t.Fatalf("AddEvent: %v", err)
		}
	}
	if e1.ID == 0 || e2.ID <= e1.ID {
		t.Errorf("expected increasing IDs, got %d then %d", e1.ID, e2.ID)
	}

	events, err := store.GetEvents("run-ev", 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "status" || events[1].Type != "done" {
		t.Errorf("types = [%s %s], want [status done]", events[0].Type, events[1].Type)
	}
}

func TestGetEvents_AfterID(t *testing.T) {
	store := newTestStore(t)

	if err := store.CreateRun(makeRun("run-af", "a_test.go")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	var ids []int64
	for i := 0; i < 5; i++ {
		e := &model.Event{RunID: "run-af", Type: "output", Data: string(rune('A' + i)), CreatedAt: now}
		if err := store.AddEvent(e); err != nil {
			t.Fatalf("AddEvent[%d]: %v", i, err)
		}
		ids = append(ids, e.ID)
	}

	events, err := store.GetEvents("run-af", ids[2])
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after id %d, got %d", ids[2], len(events))
	}
	if events[0].ID != ids[3] || events[1].ID != ids[4] {
		t.Errorf("IDs = [%d %d], want [%d %d]", events[0].ID, events[1].ID, ids[3], ids[4])
	}
}
