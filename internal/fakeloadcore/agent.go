package fakeloadcore

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/yourorg/loadcore/pkg/types"
)

// AgentServer is the capture API of one agent.
type AgentServer struct {
	mu     sync.Mutex
	router chi.Router
	filter string
	state  string
	starts int
}

// NewAgent returns an agent with no filter and capture stopped.
func NewAgent() *AgentServer {
	a := &AgentServer{state: types.CaptureStopped}
	r := chi.NewRouter()
	r.Route("/api/v1/capture", func(r chi.Router) {
		r.Get("/filter", a.getFilter)
		r.Patch("/filter", a.patchFilter)
		r.Post("/start", a.start)
		r.Post("/stop", a.stop)
		r.Get("/status", a.status)
	})
	a.router = r
	return a
}

func (a *AgentServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Starts returns how many captures were started.
func (a *AgentServer) Starts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts
}

// Filter returns the current capture filter.
func (a *AgentServer) Filter() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.filter
}

func (a *AgentServer) getFilter(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	writeJSON(w, http.StatusOK, types.CaptureFilter{Value: a.filter})
}

func (a *AgentServer) patchFilter(w http.ResponseWriter, r *http.Request) {
	var in types.CaptureFilter
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.mu.Lock()
	a.filter = in.Value
	a.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (a *AgentServer) start(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.filter == "" {
		writeError(w, http.StatusBadRequest, "capture filter not set")
		return
	}
	a.state = types.CaptureRunning
	a.starts++
	writeJSON(w, http.StatusOK, types.CaptureStatus{State: a.state})
}

func (a *AgentServer) stop(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.state = types.CaptureStopped
	a.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (a *AgentServer) status(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	writeJSON(w, http.StatusOK, types.CaptureStatus{State: a.state})
}
