// Package server provides the Runbox HTTP API server.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/runbox/runbox/internal/config"
	"github.com/runbox/runbox/pkg/eventbus"
	"github.com/runbox/runbox/pkg/manifest"
	"github.com/runbox/runbox/pkg/model"
	"github.com/runbox/runbox/pkg/orchestrator"
	"github.com/runbox/runbox/pkg/registry"
	"github.com/runbox/runbox/pkg/sandbox"
	"github.com/runbox/runbox/pkg/signal"
	"github.com/runbox/runbox/pkg/store"
)

// Server is the Runbox HTTP API server.
type Server struct {
	config   *config.Config
	store    store.RunStore
	bus      eventbus.Bus
	orch     *orchestrator.Orchestrator
	registry *registry.Registry
	runtime  sandbox.Runtime
	hub      *signal.Hub
	router   chi.Router
}

// New creates a Server wired to the given collaborators.
func New(cfg *config.Config, st store.RunStore, bus eventbus.Bus, orch *orchestrator.Orchestrator,
	reg *registry.Registry, rt sandbox.Runtime, hub *signal.Hub) *Server {
	s := &Server{
		config:   cfg,
		store:    st,
		bus:      bus,
		orch:     orch,
		registry: reg,
		runtime:  rt,
		hub:      hub,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.Timeout(5 * time.Minute)).Post("/runs", s.handleCreateRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/events", s.handleRunEvents)
		r.Get("/suites", s.handleListSuites)
		r.With(middleware.Timeout(5 * time.Minute)).Post("/suites/{name}/run", s.handleRunSuite)
		r.Get("/sandboxes", s.handleListSandboxes)
	})

	// Sandboxes connect here.
	r.Get("/signal", s.hub.Handler())

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type createRunRequest struct {
	Files  []string `json:"files"`
	Policy string   `json:"policy,omitempty"` // "isolated" (default) or "shared"
}

type createRunResponse struct {
	ID     string       `json:"id"`
	Policy model.Policy `json:"policy"`
}

type sandboxResponse struct {
	ID          string    `json:"id"`
	ContainerID string    `json:"container_id"`
	Running     bool      `json:"running"`
	CreatedAt   time.Time `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "files is required")
		return
	}

	policy := s.config.Policy
	if req.Policy != "" {
		policy = model.ParsePolicy(req.Policy)
	}

	id, err := s.orch.RequestRun(r.Context(), req.Files, policy)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		log.Printf("Error scheduling run: %v", err)
		return
	}
	writeJSON(w, http.StatusAccepted, createRunResponse{ID: id, Policy: policy})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		log.Printf("Error listing runs: %v", err)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify the run exists.
	if _, err := s.store.GetRun(id); err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Send historical events first.
	events, _ := s.store.GetEvents(id, 0)
	for _, e := range events {
		writeSSE(w, e)
	}
	flusher.Flush()

	// Subscribe to real-time events.
	ch := s.bus.Subscribe(id)
	defer s.bus.Unsubscribe(id, ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) handleListSuites(w http.ResponseWriter, r *http.Request) {
	suites, err := manifest.LoadDir(s.config.SuitesDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load suites")
		log.Printf("Error loading suites: %v", err)
		return
	}
	if suites == nil {
		suites = []*manifest.Suite{}
	}
	writeJSON(w, http.StatusOK, suites)
}

func (s *Server) handleRunSuite(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	suites, err := manifest.LoadDir(s.config.SuitesDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load suites")
		log.Printf("Error loading suites: %v", err)
		return
	}

	for _, suite := range suites {
		if suite.Name != name {
			continue
		}
		id, err := s.orch.RequestRun(r.Context(), suite.Files, suite.ParsedPolicy())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, createRunResponse{ID: id, Policy: suite.ParsedPolicy()})
		return
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("suite %q not found", name))
}

func (s *Server) handleListSandboxes(w http.ResponseWriter, r *http.Request) {
	handles := s.registry.List()
	out := make([]sandboxResponse, 0, len(handles))
	for _, h := range handles {
		out = append(out, sandboxResponse{
			ID:          h.ID,
			ContainerID: h.ContainerID,
			Running:     s.runtime.IsRunning(r.Context(), h.ContainerID),
			CreatedAt:   h.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, event *model.Event) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Type, string(data))
}
