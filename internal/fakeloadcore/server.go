package fakeloadcore

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yourorg/loadcore/internal/stats"
	"github.com/yourorg/loadcore/pkg/types"
)

// BuiltinConfig is the config URL of the default full core session.
const BuiltinConfig = "wireless-fullcore-config"

// Options tunes the simulated middleware.
type Options struct {
	// Token, when set, must be sent in the authorization header.
	Token string
	// OperationPolls is the number of IN_PROGRESS answers before an
	// operation reports its final state.
	OperationPolls int
	// FailOperations makes the named operation kinds (start, stop,
	// generate-pdf, ...) end in ERROR with the given message.
	FailOperations map[string]string
	// RunPolls is the number of test status reads after which a started
	// test stops on its own.
	RunPolls int
	// FailTest reports status false once the test has started.
	FailTest      bool
	TestDuration  float64
	Agents        []types.Agent
	LicenseServer string
	Owner         string
	// Views overrides the stat views generated at test start.
	Views map[string]stats.View
	// SessionPrefix is prepended to new session IDs.
	SessionPrefix string
}

type session struct {
	id        string
	configURL string
	config    types.Config
	sustain   int
	status    types.TestStatus
	testID    string
	reads     int
	started   float64
	stopped   float64
}

type operation struct {
	id        string
	kind      string
	sessionID string
	testID    string
	polls     int
	state     string
	message   string
}

// Server is an in-memory LoadCore middleware.
type Server struct {
	mu         sync.Mutex
	opts       Options
	router     chi.Router
	sessions   map[string]*session
	order      []string
	configs    map[string]types.Config
	operations map[string]*operation
	views      map[string]map[string]stats.View
	settings   types.GlobalSettings
	seq        int
	calls      []string
	now        func() time.Time
}

// New returns a middleware with defaults filled in.
func New(opts Options) *Server {
	if opts.RunPolls <= 0 {
		opts.RunPolls = 2
	}
	if opts.TestDuration <= 0 {
		opts.TestDuration = 10
	}
	if opts.Owner == "" {
		opts.Owner = "admin"
	}
	if opts.SessionPrefix == "" {
		opts.SessionPrefix = "wireless-"
	}
	if opts.Agents == nil {
		opts.Agents = DefaultAgents()
	}
	s := &Server{
		opts:       opts,
		sessions:   map[string]*session{},
		configs:    map[string]types.Config{},
		operations: map[string]*operation{},
		views:      map[string]map[string]stats.View{},
		settings:   types.GlobalSettings{LicenseServer: opts.LicenseServer},
		now:        time.Now,
	}
	s.router = s.routes()
	return s
}

// DefaultAgents returns two agents with unsorted interfaces.
func DefaultAgents() []types.Agent {
	return []types.Agent{
		{ID: "agent-ran", IP: "10.0.0.11", Hostname: "agent1", Interfaces: []types.Interface{
			{Name: "ens192", Mac: "00:50:56:00:00:02"},
			{Name: "ens160", Mac: "00:50:56:00:00:01"},
		}},
		{ID: "agent-core", IP: "10.0.0.12", Hostname: "agent2", Interfaces: []types.Interface{
			{Name: "ens160", Mac: "00:50:56:00:00:11"},
		}},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Calls returns "METHOD path" for every request served so far.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// LicenseServer returns the current global license server.
func (s *Server) LicenseServer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.LicenseServer
}

// Config returns an uploaded config.
func (s *Server) Config(id string) (types.Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	return cfg, ok
}

// SessionIDs returns the live sessions in creation order.
func (s *Server) SessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// SustainTime returns the sustain time set on a session.
func (s *Server) SustainTime(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess.sustain
	}
	return 0
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)
	r.Use(s.authorize)

	r.Route("/api/v2", func(r chi.Router) {
		r.Get("/globalsettings", s.getSettings)
		r.Put("/globalsettings", s.putSettings)

		r.Get("/sessions", s.listSessions)
		r.Post("/sessions", s.createSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Get("/test", s.getTest)
			r.Get("/config", s.getSessionConfig)
			r.Put("/config/config", s.putSessionConfig)
			r.Get("/config/config/nodes/ue/ranges/1/controlPlane/primaryObjective/activeSubscribers", s.getSustain)
			r.Patch("/config/config/nodes/ue/ranges/1/controlPlane/primaryObjective/activeSubscribers", s.patchSustain)
			r.Post("/test-run/operations/{kind}", s.submitTestRun)
			r.Get("/test-run/operations/{kind}/{operationID}", s.getOperation)
		})

		r.Post("/configs", s.uploadConfig)
		r.Get("/configs/{configID}", s.getConfig)

		r.Get("/agents", s.listAgents)
		r.Get("/agents/{agentID}", s.getAgent)

		r.Get("/results/{testID}/stats/{view}", s.getStats)
		r.Post("/results/{testID}/operations/{kind}", s.submitResult)
		r.Get("/results/{testID}/operations/{kind}/{operationID}", s.getOperation)
		r.Get("/results/{testID}/downloads/{operationID}", s.download)
	})
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" && r.Header.Get("authorization") != s.opts.Token {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s%d", prefix, s.seq)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.settings)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var in types.GlobalSettings
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	s.settings = in
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) sessionInfo(sess *session) types.SessionInfo {
	return types.SessionInfo{ID: types.ID(sess.id), OwnerID: s.opts.Owner, ConfigURL: sess.configURL}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.SessionInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sessionInfo(s.sessions[id]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ConfigURL string `json:"ConfigUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var cfg types.Config
	switch {
	case in.ConfigURL == BuiltinConfig:
		cfg = types.Config{"name": BuiltinConfig}
	case strings.HasPrefix(in.ConfigURL, "configs/"):
		stored, ok := s.configs[strings.TrimPrefix(in.ConfigURL, "configs/")]
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown config "+in.ConfigURL)
			return
		}
		cfg = stored
	default:
		stored, ok := s.configs[in.ConfigURL]
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown config "+in.ConfigURL)
			return
		}
		cfg = stored
	}
	sess := &session{
		id:        s.nextID(s.opts.SessionPrefix),
		configURL: in.ConfigURL,
		config:    cfg,
		status:    types.TestStatus{State: types.TestStopped},
	}
	s.sessions[sess.id] = sess
	s.order = append(s.order, sess.id)
	writeJSON(w, http.StatusCreated, []types.Ref{{ID: types.ID(sess.id)}})
}

// lookup must be called with s.mu held.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, ok := s.sessions[chi.URLParam(r, "sessionID")]
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
	}
	return sess, ok
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, s.sessionInfo(sess))
	}
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	delete(s.sessions, sess.id)
	for i, id := range s.order {
		if id == sess.id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getTest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if sess.status.Is(types.TestStarted) {
		sess.reads++
		if sess.reads > s.opts.RunPolls {
			sess.status = types.TestStatus{State: types.TestStopped}
			sess.stopped = float64(s.now().Unix())
		}
	}
	writeJSON(w, http.StatusOK, types.SessionTest{
		Status:       sess.status,
		TestID:       types.ID(sess.testID),
		TestDuration: s.opts.TestDuration,
		TestStarted:  sess.started,
		TestStopped:  sess.stopped,
	})
}

func (s *Server) getSessionConfig(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, map[string]any{"Config": sess.config})
	}
}

func (s *Server) putSessionConfig(w http.ResponseWriter, r *http.Request) {
	var cfg types.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.lookup(w, r); ok {
		sess.config = cfg
		writeJSON(w, http.StatusOK, cfg)
	}
}

func (s *Server) getSustain(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, map[string]int{"sustain": sess.sustain})
	}
}

func (s *Server) patchSustain(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Sustain int `json:"sustain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.lookup(w, r); ok {
		sess.sustain = in.Sustain
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) submitTestRun(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if kind != "start" && kind != "stop" {
		writeError(w, http.StatusNotFound, "unknown operation "+kind)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	op := &operation{id: s.nextID(""), kind: kind, sessionID: sess.id, state: types.OperationInProgress}
	s.operations[op.id] = op
	writeJSON(w, http.StatusAccepted, types.Operation{ID: types.ID(op.id), Type: kind, State: op.state})
}

func (s *Server) submitResult(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	testID := chi.URLParam(r, "testID")
	switch kind {
	case "generate-pdf", "generate-csv", "export-results":
	default:
		writeError(w, http.StatusNotFound, "unknown operation "+kind)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.views[testID]; !ok {
		writeError(w, http.StatusNotFound, "unknown test "+testID)
		return
	}
	op := &operation{id: s.nextID(""), kind: kind, testID: testID, state: types.OperationInProgress}
	s.operations[op.id] = op
	writeJSON(w, http.StatusAccepted, types.Operation{ID: types.ID(op.id), Type: kind, State: op.state})
}

func (s *Server) getOperation(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operations[chi.URLParam(r, "operationID")]
	if !ok || op.kind != chi.URLParam(r, "kind") {
		writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if op.state == types.OperationInProgress {
		op.polls++
		if op.polls > s.opts.OperationPolls {
			s.finish(op)
		}
	}
	out := types.Operation{ID: types.ID(op.id), Type: op.kind, State: op.state, Message: op.message}
	if op.state == types.OperationSuccess && op.testID != "" {
		out.ResultURL = fmt.Sprintf("/api/v2/results/%s/downloads/%s", op.testID, op.id)
		out.Progress = 100
	}
	writeJSON(w, http.StatusOK, out)
}

// finish must be called with s.mu held.
func (s *Server) finish(op *operation) {
	if msg, fail := s.opts.FailOperations[op.kind]; fail {
		op.state = types.OperationError
		op.message = msg
		return
	}
	op.state = types.OperationSuccess
	sess, ok := s.sessions[op.sessionID]
	if !ok {
		return
	}
	now := s.now()
	switch op.kind {
	case "start":
		sess.testID = strconv.Itoa(s.seq + 1000)
		sess.started = float64(now.Unix())
		sess.stopped = 0
		sess.reads = 0
		sess.status = types.TestStatus{State: types.TestStarted}
		if s.opts.FailTest {
			sess.status = types.TestStatus{Failed: true}
		}
		views := s.opts.Views
		if views == nil {
			views = DefaultViews(int64(sess.started) * 1000)
		}
		s.views[sess.testID] = views
	case "stop":
		sess.status = types.TestStatus{State: types.TestStopped}
		sess.stopped = float64(now.Unix())
	}
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	var op operation
	stored, ok := s.operations[chi.URLParam(r, "operationID")]
	if ok {
		op = *stored
	}
	s.mu.Unlock()
	if !ok || op.state != types.OperationSuccess {
		writeError(w, http.StatusNotFound, "no result")
		return
	}
	var name, contentType string
	switch op.kind {
	case "generate-pdf":
		name, contentType = fmt.Sprintf("LoadCore_Report_%s.pdf", op.testID), "application/pdf"
	case "generate-csv":
		name, contentType = fmt.Sprintf("LoadCore_CSV_%s.zip", op.testID), "application/zip"
	default:
		name, contentType = fmt.Sprintf("LoadCore_Results_%s.zip", op.testID), "application/zip"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = fmt.Fprintf(w, "%s result of test %s", op.kind, op.testID)
}

func (s *Server) uploadConfig(w http.ResponseWriter, r *http.Request) {
	var cfg types.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID("config-")
	s.configs[id] = cfg
	writeJSON(w, http.StatusCreated, []types.Ref{{ID: types.ID(id)}})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[chi.URLParam(r, "configID")]
	if !ok {
		writeError(w, http.StatusNotFound, "config not found")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Agents)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentID")
	for _, a := range s.opts.Agents {
		if a.ID == id {
			writeJSON(w, http.StatusOK, a)
			return
		}
	}
	writeJSON(w, http.StatusOK, types.Agent{})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	views, ok := s.views[chi.URLParam(r, "testID")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown test")
		return
	}
	v, ok := views[chi.URLParam(r, "view")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown stat view")
		return
	}
	if from, err := strconv.ParseFloat(r.URL.Query().Get("from"), 64); err == nil && from > 0 {
		filtered := stats.View{Columns: v.Columns}
		for _, snap := range v.Snapshots {
			if snap.Timestamp == 0 || snap.Timestamp >= from {
				filtered.Snapshots = append(filtered.Snapshots, snap)
			}
		}
		v = filtered
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}
