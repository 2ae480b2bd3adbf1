package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/yourorg/loadcore/internal/config"
	"github.com/yourorg/loadcore/internal/filter"
	"github.com/yourorg/loadcore/pkg/types"
)

type memRecorder struct {
	mu   sync.Mutex
	logs []types.TrafficLog
}

func (m *memRecorder) Record(l types.TrafficLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
}

func TestVerbsSendHeadersAndJSON(t *testing.T) {
	var gotMethod, gotAuth, gotBody, gotQuery, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("authorization")
		gotQuery = r.URL.RawQuery
		gotRequestID = r.Header.Get(RequestIDHeader)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":"wireless-1"}]`))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, Headers: map[string]string{"authorization": "tok", "Content-Type": "application/json"}})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Post(context.Background(), "/api/v2/sessions", map[string]string{"ConfigUrl": "configs/1"})
	if err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPost || gotAuth != "tok" {
		t.Fatalf("unexpected request %s auth=%s", gotMethod, gotAuth)
	}
	if gotBody != `{"ConfigUrl":"configs/1"}` {
		t.Fatalf("unexpected body %s", gotBody)
	}
	if gotRequestID == "" {
		t.Fatalf("expected request id header")
	}
	var refs []types.Ref
	if err := resp.ExpectJSON(&refs, http.StatusCreated); err != nil {
		t.Fatal(err)
	}
	if refs[0].ID != "wireless-1" {
		t.Fatalf("unexpected id %s", refs[0].ID)
	}

	if _, err := c.Get(context.Background(), "/api/v2/results/1/stats/x", url.Values{"from": {"1000"}}); err != nil {
		t.Fatal(err)
	}
	if gotQuery != "from=1000" || gotBody != "" {
		t.Fatalf("unexpected get query=%s body=%s", gotQuery, gotBody)
	}

	if _, err := c.Post(context.Background(), "/x", nil); err != nil {
		t.Fatal(err)
	}
	if gotBody != "" {
		t.Fatalf("nil payload must send no body, got %q", gotBody)
	}
}

func TestExpectReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Delete(context.Background(), "/api/v2/sessions/wireless-1")
	if err != nil {
		t.Fatal(err)
	}
	err = resp.Expect(http.StatusNoContent, http.StatusOK)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Got != 500 || se.Body != "boom" || len(se.Expected) != 2 {
		t.Fatalf("unexpected status error %+v", se)
	}
}

func TestGetURLAbsoluteAndRecording(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/download" {
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "leak", "state": "SUCCESS"})
	}))
	defer srv.Close()

	rec := &memRecorder{}
	c, err := New(Options{
		BaseURL:  srv.URL,
		Headers:  map[string]string{"Authorization": "tok"},
		Recorder: rec,
		Sanitizer: filter.NewSanitizer(config.SanitizeConfig{
			Headers: []string{"Authorization"}, BodyFields: []string{"token"}, Replacement: "***",
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), "/op", nil); err != nil {
		t.Fatal(err)
	}
	resp, err := c.GetURL(context.Background(), srv.URL+"/download")
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "%PDF" {
		t.Fatalf("unexpected download body %q", resp.Body)
	}

	if len(rec.logs) != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", len(rec.logs))
	}
	first := rec.logs[0]
	if first.RequestHeaders["Authorization"] != "***" {
		t.Fatalf("expected authorization redacted, got %v", first.RequestHeaders)
	}
	if first.ResponseBody != `{"state":"SUCCESS","token":"***"}` {
		t.Fatalf("unexpected recorded body %s", first.ResponseBody)
	}
	if rec.logs[1].ResponseBody != "" {
		t.Fatalf("binary downloads must not be recorded")
	}
	if first.RequestID == "" || first.RequestID == rec.logs[1].RequestID {
		t.Fatalf("expected distinct request ids")
	}
}

func TestTransportErrorIsRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	rec := &memRecorder{}
	c, err := New(Options{BaseURL: base, Recorder: rec})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), "/api/v2/sessions", nil); err == nil {
		t.Fatalf("expected connection error")
	}
	if len(rec.logs) != 1 || rec.logs[0].Error == "" || rec.logs[0].StatusCode != 0 {
		t.Fatalf("expected failed call recorded, got %+v", rec.logs)
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	if _, err := New(Options{BaseURL: "10.0.0.1"}); err == nil {
		t.Fatalf("expected invalid base url error")
	}
	if _, err := New(Options{BaseURL: "https://10.0.0.1:443", HTTP2: true}); err != nil {
		t.Fatalf("http2 client: %v", err)
	}
}
