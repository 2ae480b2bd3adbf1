package server

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/yourorg/loadcore/internal/config"
	"github.com/yourorg/loadcore/internal/filter"
	"github.com/yourorg/loadcore/internal/har"
	"github.com/yourorg/loadcore/internal/metrics"
	"github.com/yourorg/loadcore/internal/store"
	"github.com/yourorg/loadcore/pkg/types"
)

var (
	//go:embed ui.html
	uiHTML string

	uiTemplate = template.Must(template.New("ui").Parse(uiHTML))
)

// Server serves the run ledger, the result folders and metrics.
type Server struct {
	cfg     *config.Config
	store   store.Store
	metrics *metrics.Metrics
	mux     *http.ServeMux
}

type uiData struct {
	RunID string
}

// New constructs a new Server with routes registered. m may be nil.
func New(cfg *config.Config, st store.Store, m *metrics.Metrics) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if st == nil {
		return nil, errors.New("store is nil")
	}

	srv := &Server{
		cfg:     cfg,
		store:   st,
		metrics: m,
		mux:     http.NewServeMux(),
	}
	srv.registerRoutes()
	return srv, nil
}

// Handler returns the http handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the server on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.mux)
}

func (s *Server) registerRoutes() {
	// Static file server for result folders.
	s.mux.Handle("/results/", http.StripPrefix("/results/", http.FileServer(http.Dir(s.cfg.Output.ResultsDir))))

	// UI routes.
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/run/", s.handleRunPage)

	// API routes.
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/runs/", s.handleRunRoutes)

	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.renderUI(w, "")
}

func (s *Server) handleRunPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, tail, ok := splitPath(r.URL.Path, "/run/")
	if !ok || id == "" || tail != "" {
		http.NotFound(w, r)
		return
	}
	s.renderUI(w, id)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	var opts []store.ListOption
	if v := q["status"]; len(v) > 0 {
		opts = append(opts, store.ByStatus(v...))
	}
	if v := q["config"]; len(v) > 0 {
		opts = append(opts, store.ByConfig(v...))
	}
	runs, err := s.store.ListRuns(opts...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []types.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, tail, ok := splitPath(r.URL.Path, "/api/runs/")
	if !ok || id == "" {
		http.NotFound(w, r)
		return
	}
	run, err := s.store.GetRun(id)
	if err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	switch tail {
	case "":
		s.handleRunDetail(w, run)
	case "traffic":
		s.handleRunTraffic(w, run)
	case "endpoints":
		s.handleRunEndpoints(w, run)
	case "har":
		s.handleRunHAR(w, run)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleRunDetail(w http.ResponseWriter, run *types.Run) {
	summaries, err := s.store.GetStatSummaries(run.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	artifacts, err := s.store.GetArtifacts(run.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := struct {
		Run       *types.Run          `json:"run"`
		Summaries []types.StatSummary `json:"summaries"`
		Artifacts []types.Artifact    `json:"artifacts"`
	}{
		Run:       run,
		Summaries: orEmpty(summaries),
		Artifacts: orEmpty(artifacts),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunTraffic(w http.ResponseWriter, run *types.Run) {
	logs, err := s.store.GetTraffic(run.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleRunEndpoints(w http.ResponseWriter, run *types.Run) {
	logs, err := s.store.GetTraffic(run.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(filter.Summarize(logs)))
}

func (s *Server) handleRunHAR(w http.ResponseWriter, run *types.Run) {
	logs, err := s.store.GetTraffic(run.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", run.ID+".har"))
	writeJSON(w, http.StatusOK, har.Build(logs, s.cfg.Middleware.Protocol, "serve"))
}

func (s *Server) renderUI(w http.ResponseWriter, runID string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_ = uiTemplate.Execute(w, uiData{RunID: runID})
}

func splitPath(fullPath, prefix string) (string, string, bool) {
	if !strings.HasPrefix(fullPath, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(fullPath, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	return id, tail, true
}

func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
