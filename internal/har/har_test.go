package har

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yourorg/loadcore/pkg/types"
)

func sampleLogs() []types.TrafficLog {
	t0 := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	return []types.TrafficLog{
		{Seq: 2, Timestamp: t0.Add(time.Second), Method: "GET", Host: "10.0.0.1:443", Path: "/api/v2/sessions/wireless-1/config",
			QueryParams: map[string][]string{"include": {"all"}}, StatusCode: 200, ResponseContentType: "application/json",
			ResponseBody: `{"Config":{}}`, LatencyMs: 12},
		{Seq: 1, Timestamp: t0, Method: "POST", Host: "10.0.0.1:443", Path: "/api/v2/sessions",
			RequestHeaders: map[string]string{"authorization": "***REDACTED***"}, RequestBody: `{"ConfigUrl":"configs/1"}`,
			ContentType: "application/json", StatusCode: 201, LatencyMs: 40},
		{Seq: 3, Timestamp: t0.Add(2 * time.Second), Method: "GET", Host: "10.0.0.1:443", Path: "/api/v2/agents", Error: "connection reset"},
	}
}

func TestBuildOrdersBySeq(t *testing.T) {
	f := Build(sampleLogs(), "https", "dev")
	if f.Log.Version != "1.2" || f.Log.Creator.Name != "loadcore" {
		t.Fatalf("unexpected log header %+v", f.Log)
	}
	if len(f.Log.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(f.Log.Entries))
	}
	first := f.Log.Entries[0]
	if first.Request.Method != "POST" || first.Request.URL != "https://10.0.0.1:443/api/v2/sessions" {
		t.Fatalf("unexpected first entry %+v", first.Request)
	}
	if first.Request.PostData == nil || first.Request.PostData.Text != `{"ConfigUrl":"configs/1"}` {
		t.Fatalf("missing post data")
	}
	second := f.Log.Entries[1]
	if second.Request.URL != "https://10.0.0.1:443/api/v2/sessions/wireless-1/config?include=all" {
		t.Fatalf("unexpected url %s", second.Request.URL)
	}
	if len(second.Request.QueryString) != 1 || second.Request.PostData != nil {
		t.Fatalf("unexpected request %+v", second.Request)
	}
	if f.Log.Entries[2].Comment != "connection reset" {
		t.Fatalf("expected transport error as comment")
	}
}

func TestWriteThenParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.har")
	if err := Write(path, sampleLogs(), "https", "dev"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(data) {
		t.Fatalf("invalid json")
	}

	logs, err := Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 3 || logs[0].Seq != 1 || logs[0].Method != "POST" {
		t.Fatalf("unexpected logs %+v", logs)
	}
	if logs[1].QueryParams["include"][0] != "all" || logs[1].ResponseBody != `{"Config":{}}` {
		t.Fatalf("unexpected second log %+v", logs[1])
	}
	if logs[0].RequestHeaders["authorization"] != "***REDACTED***" {
		t.Fatalf("headers lost: %v", logs[0].RequestHeaders)
	}
}

func TestParseBase64Body(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b64.har")
	body := `{"log":{"version":"1.2","entries":[{"startedDateTime":"2024-03-05T10:00:00Z","time":1,
"request":{"method":"get","url":"https://mw/api/v2/agents","headers":[]},
"response":{"status":200,"headers":[],"content":{"mimeType":"application/json","text":"eyJvayI6dHJ1ZX0=","encoding":"base64"}}}]}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	logs, err := Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Method != "GET" || logs[0].ResponseBody != `{"ok":true}` {
		t.Fatalf("unexpected logs %+v", logs)
	}
}

func TestParseMissingFile(t *testing.T) {
	if _, err := Parse(filepath.Join(t.TempDir(), "not-exist.har")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
