package fakeloadcore

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/yourorg/loadcore/internal/stats"
	"github.com/yourorg/loadcore/pkg/types"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("authorization", "tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestRejectsMissingToken(t *testing.T) {
	s := New(Options{Token: "secret"})
	rec := do(t, s, http.MethodGet, "/api/v2/sessions", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := New(Options{})
	rec := do(t, s, http.MethodPost, "/api/v2/sessions", `{"ConfigUrl":"`+BuiltinConfig+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	refs := decode[[]types.Ref](t, rec)
	id := refs[0].ID.String()
	if !strings.Contains(id, "wireless") {
		t.Fatalf("unexpected session id %s", id)
	}

	if rec := do(t, s, http.MethodGet, "/api/v2/sessions/"+id, ""); rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodDelete, "/api/v2/sessions/"+id, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/v2/sessions/"+id, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
	if len(s.SessionIDs()) != 0 {
		t.Fatalf("expected no sessions, got %v", s.SessionIDs())
	}
}

func TestStartOperationCompletesAfterPolls(t *testing.T) {
	s := New(Options{OperationPolls: 2, RunPolls: 1})
	refs := decode[[]types.Ref](t, do(t, s, http.MethodPost, "/api/v2/sessions", `{"ConfigUrl":"`+BuiltinConfig+`"}`))
	id := refs[0].ID.String()

	rec := do(t, s, http.MethodPost, "/api/v2/sessions/"+id+"/test-run/operations/start", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start: %d", rec.Code)
	}
	op := decode[types.Operation](t, rec)
	path := "/api/v2/sessions/" + id + "/test-run/operations/start/" + op.ID.String()

	var states []string
	for i := 0; i < 3; i++ {
		states = append(states, decode[types.Operation](t, do(t, s, http.MethodGet, path, "")).State)
	}
	want := []string{types.OperationInProgress, types.OperationInProgress, types.OperationSuccess}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("unexpected states %v", states)
		}
	}

	test := decode[types.SessionTest](t, do(t, s, http.MethodGet, "/api/v2/sessions/"+id+"/test", ""))
	if !test.Status.Is(types.TestStarted) || test.TestID == "" {
		t.Fatalf("expected started test, got %+v", test)
	}
	test = decode[types.SessionTest](t, do(t, s, http.MethodGet, "/api/v2/sessions/"+id+"/test", ""))
	if !test.Status.Is(types.TestStopped) {
		t.Fatalf("expected test to stop on its own, got %s", test.Status)
	}

	view := decode[stats.View](t, do(t, s, http.MethodGet, "/api/v2/results/"+test.TestID.String()+"/stats/RegisteredUEs", ""))
	if !view.IsTimeSeries() || len(view.Snapshots) != 5 {
		t.Fatalf("unexpected view %+v", view)
	}
	from := int64(view.Snapshots[3].Timestamp)
	filtered := decode[stats.View](t, do(t, s, http.MethodGet,
		"/api/v2/results/"+test.TestID.String()+"/stats/RegisteredUEs?from="+strconv.FormatInt(from, 10), ""))
	if len(filtered.Snapshots) != 2 {
		t.Fatalf("expected from filter to keep 2 snapshots, got %d", len(filtered.Snapshots))
	}
}

func TestFailingOperation(t *testing.T) {
	s := New(Options{FailOperations: map[string]string{"stop": "agent unreachable"}})
	refs := decode[[]types.Ref](t, do(t, s, http.MethodPost, "/api/v2/sessions", `{"ConfigUrl":"`+BuiltinConfig+`"}`))
	id := refs[0].ID.String()
	op := decode[types.Operation](t, do(t, s, http.MethodPost, "/api/v2/sessions/"+id+"/test-run/operations/stop", ""))
	got := decode[types.Operation](t, do(t, s, http.MethodGet, "/api/v2/sessions/"+id+"/test-run/operations/stop/"+op.ID.String(), ""))
	if got.State != types.OperationError || got.Message != "agent unreachable" {
		t.Fatalf("unexpected operation %+v", got)
	}
}

func TestUploadedConfigBacksSession(t *testing.T) {
	s := New(Options{})
	refs := decode[[]types.Ref](t, do(t, s, http.MethodPost, "/api/v2/configs", `{"configData":{"Config":{}}}`))
	cfgID := refs[0].ID.String()
	if _, ok := s.Config(cfgID); !ok {
		t.Fatalf("config %s not stored", cfgID)
	}
	if rec := do(t, s, http.MethodPost, "/api/v2/sessions", `{"ConfigUrl":"configs/`+cfgID+`"}`); rec.Code != http.StatusCreated {
		t.Fatalf("create from config: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/v2/sessions", `{"ConfigUrl":"configs/nope"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown config, got %d", rec.Code)
	}
}

func TestAgentStartNeedsFilter(t *testing.T) {
	a := NewAgent()
	if rec := do(t, a, http.MethodPost, "/api/v1/capture/start", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := do(t, a, http.MethodPatch, "/api/v1/capture/filter", `{"value":"-i ens160"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("filter: %d", rec.Code)
	}
	if rec := do(t, a, http.MethodPost, "/api/v1/capture/start", ""); rec.Code != http.StatusOK {
		t.Fatalf("start: %d", rec.Code)
	}
	st := decode[types.CaptureStatus](t, do(t, a, http.MethodGet, "/api/v1/capture/status", ""))
	if st.State != types.CaptureRunning {
		t.Fatalf("expected running, got %s", st.State)
	}
}
