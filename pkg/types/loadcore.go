package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ID is an identifier the platform sends either as a JSON string or a number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Ref is the {"id": ...} element returned by create calls.
type Ref struct {
	ID ID `json:"id"`
}

// SessionInfo is the body of GET /api/v2/sessions/{id}.
type SessionInfo struct {
	ID          ID     `json:"id"`
	OwnerID     string `json:"ownerID"`
	ConfigURL   string `json:"configUrl,omitempty"`
	ConfigName  string `json:"configName,omitempty"`
	IsActive    bool   `json:"isActive,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
	Description string `json:"description,omitempty"`
}

// TestStatus is the status field of a session test. The platform reports a
// plain string in normal operation and the boolean false when the test failed.
type TestStatus struct {
	State  string
	Failed bool
}

func (s *TestStatus) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "false":
		*s = TestStatus{Failed: true}
		return nil
	case "true", "null":
		*s = TestStatus{State: strings.Trim(string(data), `"`)}
		return nil
	}
	var state string
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("test status: %w", err)
	}
	*s = TestStatus{State: state}
	return nil
}

func (s TestStatus) MarshalJSON() ([]byte, error) {
	if s.Failed {
		return []byte("false"), nil
	}
	return json.Marshal(s.State)
}

// Is reports whether the status matches want, ignoring case.
func (s TestStatus) Is(want string) bool {
	return !s.Failed && strings.EqualFold(s.State, want)
}

func (s TestStatus) String() string {
	if s.Failed {
		return "false"
	}
	return s.State
}

// Common session test states.
const (
	TestStarted = "Started"
	TestStopped = "Stopped"
	TestError   = "ERROR"
)

// SessionTest is the body of GET /api/v2/sessions/{id}/test.
type SessionTest struct {
	Status       TestStatus `json:"status"`
	TestID       ID         `json:"testId"`
	TestDuration float64    `json:"testDuration"`
	TestStarted  float64    `json:"testStarted"`
	TestStopped  float64    `json:"testStopped"`
}

// Operation is an asynchronous platform-side job.
type Operation struct {
	ID        ID      `json:"id"`
	Type      string  `json:"type,omitempty"`
	State     string  `json:"state"`
	Progress  float64 `json:"progress,omitempty"`
	Message   string  `json:"message,omitempty"`
	ResultURL string  `json:"resultUrl,omitempty"`
}

// Operation states.
const (
	OperationSuccess    = "SUCCESS"
	OperationError      = "ERROR"
	OperationInProgress = "IN_PROGRESS"
)

// Agent is a traffic generator registered with the middleware.
type Agent struct {
	ID         string      `json:"id"`
	IP         string      `json:"IP"`
	Hostname   string      `json:"Hostname,omitempty"`
	Interfaces []Interface `json:"Interfaces"`
}

// Interface is a network interface of an agent.
type Interface struct {
	Name string `json:"Name"`
	Mac  string `json:"Mac"`
}

// AgentMapping assigns an agent and its test interface to a simulated node.
type AgentMapping struct {
	AgentID   string
	Interface string
	Mac       string
}

// GlobalSettings is the body of /api/v2/globalsettings.
type GlobalSettings struct {
	LicenseServer string `json:"licenseServer"`
}

// Config is a LoadCore configuration document.
type Config map[string]any

// CaptureFilter is the body of the agent capture filter resource.
type CaptureFilter struct {
	Value string `json:"value"`
}

// CaptureStatus is the body of the agent capture status resource.
type CaptureStatus struct {
	State string `json:"state"`
}

// Capture states.
const (
	CaptureRunning = "running"
	CaptureStopped = "stopped"
)
