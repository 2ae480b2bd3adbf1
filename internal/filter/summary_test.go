package filter

import (
	"testing"

	"github.com/yourorg/loadcore/pkg/types"
)

func TestTemplatePath(t *testing.T) {
	cases := map[string]string{
		"/api/v2/sessions/wireless-7f3a/test-run/operations/start/12": "/api/v2/sessions/{sessionId}/test-run/operations/start/{id}",
		"/api/v2/results/3/stats/RegisteredUEs":                       "/api/v2/results/{id}/stats/RegisteredUEs",
		"/api/v1/capture/status":                                      "/api/v1/capture/status",
		"/api/v2/configs/0b5c6a8e-1c57-4a55-8f6c-5f0f0a8c9e11":        "/api/v2/configs/{id}",
	}
	for in, want := range cases {
		if got := TemplatePath(in); got != want {
			t.Fatalf("TemplatePath(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestSummarizeCollapsesPolls(t *testing.T) {
	logs := []types.TrafficLog{
		{Method: "POST", Path: "/api/v2/sessions/wireless-1/test-run/operations/start", StatusCode: 202, LatencyMs: 5},
		{Method: "GET", Path: "/api/v2/sessions/wireless-1/test-run/operations/start/1", StatusCode: 200, LatencyMs: 3},
		{Method: "GET", Path: "/api/v2/sessions/wireless-1/test-run/operations/start/1", StatusCode: 200, LatencyMs: 9},
		{Method: "get", Path: "/api/v2/sessions/wireless-1/test-run/operations/start/1", StatusCode: 500, LatencyMs: 1},
	}
	out := Summarize(logs)
	if len(out) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(out))
	}
	poll := out[1]
	if poll.Calls != 3 || poll.Failures != 1 {
		t.Fatalf("unexpected poll summary %+v", poll)
	}
	if poll.MaxLatencyMs != 9 || poll.LastStatus != 500 {
		t.Fatalf("unexpected poll latency/status %+v", poll)
	}
}
