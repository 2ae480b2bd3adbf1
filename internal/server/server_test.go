package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yourorg/loadcore/internal/config"
	"github.com/yourorg/loadcore/internal/filter"
	"github.com/yourorg/loadcore/internal/har"
	"github.com/yourorg/loadcore/internal/metrics"
	"github.com/yourorg/loadcore/internal/store"
	"github.com/yourorg/loadcore/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *store.SQLiteStore, *config.Config) {
	t.Helper()

	tmpDir := t.TempDir()
	cfg := &config.Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatal(err)
	}
	cfg.Output.ResultsDir = filepath.Join(tmpDir, "results")
	if err := os.MkdirAll(cfg.Output.ResultsDir, 0o755); err != nil {
		t.Fatalf("mkdir results: %v", err)
	}

	st, err := store.NewSQLiteStore(filepath.Join(tmpDir, "loadcore.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})

	m := metrics.New()
	m.ObserveRun(types.RunStatusPassed)
	srv, err := New(cfg, st, m)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, st, cfg
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func seedRun(t *testing.T, st *store.SQLiteStore, status string) *types.Run {
	t.Helper()
	run, err := st.CreateRun("fullcore")
	if err != nil {
		t.Fatal(err)
	}
	run.Status = status
	run.SessionID = "wireless-7"
	if err := st.UpdateRun(run); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	logs := []types.TrafficLog{
		{Seq: 1, RequestID: "a", Timestamp: now, Method: "POST", Host: "mw:443", Path: "/api/v2/sessions", StatusCode: 201, LatencyMs: 5},
		{Seq: 2, RequestID: "b", Timestamp: now, Method: "GET", Host: "mw:443", Path: "/api/v2/sessions/wireless-7/test-run/operations/start/3", StatusCode: 200, LatencyMs: 2},
		{Seq: 3, RequestID: "c", Timestamp: now, Method: "GET", Host: "mw:443", Path: "/api/v2/sessions/wireless-7/test-run/operations/start/3", StatusCode: 200, LatencyMs: 8},
	}
	if err := st.SaveTraffic(run.ID, logs); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveStatSummaries(run.ID, []types.StatSummary{{View: "RegisteredUEs", Column: "Registered", Summary: "max", Value: 100}}); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveArtifact(&types.Artifact{RunID: run.ID, Kind: types.ArtifactHTML, Path: "/r/LoadCore_fullcore_20240305_102030/x.html"}); err != nil {
		t.Fatal(err)
	}
	return run
}

func TestServerRunsEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv, "/api/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var runs []types.Run
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected empty runs, got %d", len(runs))
	}
}

func TestServerRunsFilterAndDetail(t *testing.T) {
	srv, st, _ := newTestServer(t)
	passed := seedRun(t, st, types.RunStatusPassed)
	seedRun(t, st, types.RunStatusFailed)

	var runs []types.Run
	if err := json.NewDecoder(get(t, srv, "/api/runs?status=passed").Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != passed.ID {
		t.Fatalf("unexpected filtered runs %+v", runs)
	}

	rec := get(t, srv, "/api/runs/"+passed.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("detail status = %d", rec.Code)
	}
	var detail struct {
		Run       *types.Run          `json:"run"`
		Summaries []types.StatSummary `json:"summaries"`
		Artifacts []types.Artifact    `json:"artifacts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if detail.Run.SessionID != "wireless-7" || len(detail.Summaries) != 1 || len(detail.Artifacts) != 1 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	if rec := get(t, srv, "/api/runs/run_nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := get(t, srv, "/api/runs/"+passed.ID+"/bogus"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown tail, got %d", rec.Code)
	}
}

func TestServerTrafficEndpointsAndHAR(t *testing.T) {
	srv, st, _ := newTestServer(t)
	run := seedRun(t, st, types.RunStatusPassed)

	var logs []types.TrafficLog
	if err := json.NewDecoder(get(t, srv, "/api/runs/"+run.ID+"/traffic").Body).Decode(&logs); err != nil {
		t.Fatal(err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 logs, got %d", len(logs))
	}

	var endpoints []filter.EndpointSummary
	if err := json.NewDecoder(get(t, srv, "/api/runs/"+run.ID+"/endpoints").Body).Decode(&endpoints); err != nil {
		t.Fatal(err)
	}
	if len(endpoints) != 2 || endpoints[1].Calls != 2 || endpoints[1].MaxLatencyMs != 8 {
		t.Fatalf("unexpected endpoints %+v", endpoints)
	}

	rec := get(t, srv, "/api/runs/"+run.ID+"/har")
	if !strings.Contains(rec.Header().Get("Content-Disposition"), run.ID+".har") {
		t.Fatalf("missing attachment header")
	}
	var f har.File
	if err := json.NewDecoder(rec.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if len(f.Log.Entries) != 3 || !strings.HasPrefix(f.Log.Entries[0].Request.URL, "https://mw:443/") {
		t.Fatalf("unexpected har %+v", f.Log.Entries)
	}
}

func TestServerResultsAndMetrics(t *testing.T) {
	srv, _, cfg := newTestServer(t)
	folder := filepath.Join(cfg.Output.ResultsDir, "LoadCore_fullcore_20240305_102030")
	if err := os.MkdirAll(folder, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(folder, "report.html"), []byte("<h1>report</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := get(t, srv, "/results/LoadCore_fullcore_20240305_102030/report.html")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "report") {
		t.Fatalf("static results: %d %s", rec.Code, rec.Body)
	}

	rec = get(t, srv, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "loadcore_runs_total") {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestServerIndexHTML(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := get(t, srv, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("LoadCore runs")) {
		t.Fatalf("expected body to contain title")
	}

	rec = get(t, srv, "/run/run_20240305_001")
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"run_20240305_001"`)) {
		t.Fatalf("expected run id in page")
	}
	if rec := get(t, srv, "/nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
