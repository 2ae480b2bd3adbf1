package types

import "time"

// Run records one orchestrated test run in the local ledger.
type Run struct {
	ID         string    `json:"id"`
	ConfigName string    `json:"config_name"`
	SessionID  string    `json:"session_id"`
	TestID     string    `json:"test_id"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Run statuses.
const (
	RunStatusCreated = "created"
	RunStatusRunning = "running"
	RunStatusPassed  = "passed"
	RunStatusFailed  = "failed"
)

// TrafficLog is one request/response pair sent to the middleware or an agent.
type TrafficLog struct {
	ID                  int64               `json:"id"`
	RunID               string              `json:"run_id"`
	RequestID           string              `json:"request_id"`
	Seq                 int                 `json:"seq"`
	Timestamp           time.Time           `json:"timestamp"`
	Method              string              `json:"method"`
	Host                string              `json:"host"`
	Path                string              `json:"path"`
	QueryParams         map[string][]string `json:"query_params,omitempty"`
	RequestHeaders      map[string]string   `json:"request_headers,omitempty"`
	RequestBody         string              `json:"request_body,omitempty"`
	ContentType         string              `json:"content_type,omitempty"`
	StatusCode          int                 `json:"status_code"`
	ResponseHeaders     map[string]string   `json:"response_headers,omitempty"`
	ResponseBody        string              `json:"response_body,omitempty"`
	ResponseContentType string              `json:"response_content_type,omitempty"`
	LatencyMs           int64               `json:"latency_ms"`
	Error               string              `json:"error,omitempty"`
}

// Artifact is a file produced by a run.
type Artifact struct {
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	RemoteURL string    `json:"remote_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Artifact kinds.
const (
	ArtifactHTML     = "html"
	ArtifactWorkbook = "xlsx"
	ArtifactPDF      = "pdf"
	ArtifactCSV      = "csv"
	ArtifactCaptures = "captures"
	ArtifactHAR      = "har"
)

// StatSummary is one summarised statistic column of a stat view.
type StatSummary struct {
	RunID   string  `json:"run_id"`
	View    string  `json:"view"`
	Column  string  `json:"column"`
	Summary string  `json:"summary"`
	Value   float64 `json:"value"`
}
