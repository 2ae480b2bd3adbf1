package loadcore

import (
	"fmt"
	"net/url"
)

// Endpoints contains the middleware REST paths.
type Endpoints struct{}

func (Endpoints) Sessions() string { return "/api/v2/sessions" }

func (Endpoints) Session(sessionID string) string {
	return fmt.Sprintf("/api/v2/sessions/%s", url.PathEscape(sessionID))
}

func (Endpoints) SessionTest(sessionID string) string {
	return fmt.Sprintf("/api/v2/sessions/%s/test", url.PathEscape(sessionID))
}

func (Endpoints) SessionConfig(sessionID string) string {
	return fmt.Sprintf("/api/v2/sessions/%s/config", url.PathEscape(sessionID))
}

func (Endpoints) SessionConfigDocument(sessionID string) string {
	return fmt.Sprintf("/api/v2/sessions/%s/config/config", url.PathEscape(sessionID))
}

func (Endpoints) ActiveSubscribers(sessionID string) string {
	return fmt.Sprintf("/api/v2/sessions/%s/config/config/nodes/ue/ranges/1/controlPlane/primaryObjective/activeSubscribers",
		url.PathEscape(sessionID))
}

// Test run operations: kind is start or stop.
func (Endpoints) TestRunOperation(sessionID, kind string) string {
	return fmt.Sprintf("/api/v2/sessions/%s/test-run/operations/%s", url.PathEscape(sessionID), kind)
}

func (Endpoints) TestRunOperationStatus(sessionID, kind, operationID string) string {
	return fmt.Sprintf("/api/v2/sessions/%s/test-run/operations/%s/%s",
		url.PathEscape(sessionID), kind, url.PathEscape(operationID))
}

func (Endpoints) Configs() string { return "/api/v2/configs" }

func (Endpoints) Config(configID string) string {
	return fmt.Sprintf("/api/v2/configs/%s", url.PathEscape(configID))
}

func (Endpoints) Agents() string { return "/api/v2/agents" }

func (Endpoints) Agent(agentID string) string {
	return fmt.Sprintf("/api/v2/agents/%s", url.PathEscape(agentID))
}

func (Endpoints) GlobalSettings() string { return "/api/v2/globalsettings" }

func (Endpoints) Stats(testID, view string) string {
	return fmt.Sprintf("/api/v2/results/%s/stats/%s", url.PathEscape(testID), url.PathEscape(view))
}

// Result operations: generate-pdf, generate-csv or export-results.
func (Endpoints) ResultOperation(testID, op string) string {
	return fmt.Sprintf("/api/v2/results/%s/operations/%s", url.PathEscape(testID), op)
}

func (Endpoints) ResultOperationStatus(testID, op, operationID string) string {
	return fmt.Sprintf("/api/v2/results/%s/operations/%s/%s",
		url.PathEscape(testID), op, url.PathEscape(operationID))
}
