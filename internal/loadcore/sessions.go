package loadcore

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/yourorg/loadcore/pkg/types"
)

// DefaultSessionType creates a full core session.
const DefaultSessionType = "fullCore"

var sessionTypeConfigs = map[string]string{
	strings.ToLower(DefaultSessionType): "wireless-fullcore-config",
}

// ConfigSelection chooses the configuration a new session starts from. At
// most one of ConfigName, ConfigID and ConfigJSON may be set; none selects
// the session type's built-in config.
type ConfigSelection struct {
	// ConfigName is a local JSON file, loaded and uploaded first.
	ConfigName string
	// ConfigID is a config already stored on the middleware.
	ConfigID string
	// ConfigJSON is uploaded as is.
	ConfigJSON  types.Config
	SessionType string
}

func (s ConfigSelection) sources() []string {
	var set []string
	if s.ConfigName != "" {
		set = append(set, "name")
	}
	if s.ConfigID != "" {
		set = append(set, "id")
	}
	if s.ConfigJSON != nil {
		set = append(set, "json")
	}
	return set
}

// NewSession creates a session and makes it active.
func (c *Client) NewSession(ctx context.Context, sel ConfigSelection) (string, error) {
	if set := sel.sources(); len(set) > 1 {
		c.log.Errorw("NewSession: unhandled config selection", "sources", set)
		return "", fmt.Errorf("%w: %s", ErrAmbiguousConfig, strings.Join(set, ", "))
	}

	var configURL string
	switch {
	case sel.ConfigID != "":
		configURL = sel.ConfigID
	case sel.ConfigName != "":
		cfg, err := c.LoadConfig(sel.ConfigName)
		if err != nil {
			return "", err
		}
		id, err := c.UploadConfig(ctx, cfg)
		if err != nil {
			return "", err
		}
		configURL = "configs/" + id
	case sel.ConfigJSON != nil:
		id, err := c.UploadConfig(ctx, sel.ConfigJSON)
		if err != nil {
			return "", err
		}
		configURL = "configs/" + id
	default:
		sessionType := sel.SessionType
		if sessionType == "" {
			sessionType = DefaultSessionType
		}
		builtin, ok := sessionTypeConfigs[strings.ToLower(sessionType)]
		if !ok {
			return "", c.log.Report(fmt.Errorf("%w: %s", ErrUnknownSessionType, sessionType))
		}
		configURL = builtin
	}

	resp, err := c.tr.Post(ctx, c.ep.Sessions(), map[string]string{"ConfigUrl": configURL})
	if err != nil {
		return "", err
	}
	var refs []types.Ref
	if err := resp.ExpectJSON(&refs, http.StatusCreated); err != nil {
		return "", err
	}
	if len(refs) == 0 {
		return "", c.log.Report(fmt.Errorf("%w: empty create response", ErrInvalidSessionID))
	}
	id := refs[0].ID.String()
	if !strings.Contains(id, "wireless") {
		return "", c.log.Report(fmt.Errorf("%w: failed to create new session: %q", ErrInvalidSessionID, id))
	}
	c.sessionID = id
	c.log.Infow("session created", "session", id, "config", configURL)
	return id, nil
}

// DeleteSession deletes the active session and checks it is no longer
// listed. Without an active session it does nothing.
func (c *Client) DeleteSession(ctx context.Context) error {
	if c.sessionID == "" {
		return nil
	}
	id := c.sessionID
	resp, err := c.tr.Delete(ctx, c.ep.Session(id))
	if err != nil {
		return err
	}
	if err := resp.Expect(http.StatusNoContent, http.StatusOK); err != nil {
		return err
	}
	ids, err := c.ListSessions(ctx)
	if err != nil {
		return err
	}
	for _, other := range ids {
		if other == id {
			return c.log.Report(fmt.Errorf("session %s still listed after delete", id))
		}
	}
	c.sessionID = ""
	c.log.Infow("session deleted", "session", id)
	return nil
}

// ListSessions returns the IDs of all sessions.
func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	resp, err := c.tr.Get(ctx, c.ep.Sessions(), nil)
	if err != nil {
		return nil, err
	}
	var refs []types.Ref
	if err := resp.ExpectJSON(&refs, http.StatusOK); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID.String())
	}
	return ids, nil
}

// SessionInfo returns the active session's resource.
func (c *Client) SessionInfo(ctx context.Context) (types.SessionInfo, error) {
	id, err := c.requireSession()
	if err != nil {
		return types.SessionInfo{}, err
	}
	resp, err := c.tr.Get(ctx, c.ep.Session(id), nil)
	if err != nil {
		return types.SessionInfo{}, err
	}
	var info types.SessionInfo
	if err := resp.ExpectJSON(&info, http.StatusOK); err != nil {
		return types.SessionInfo{}, err
	}
	return info, nil
}

// SessionExists reports whether the middleware still knows id.
func (c *Client) SessionExists(ctx context.Context, id string) (bool, error) {
	resp, err := c.tr.Get(ctx, c.ep.Session(id), nil)
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, resp.Expect(http.StatusOK, http.StatusNotFound)
	}
}

// SessionTest returns the active session's test resource.
func (c *Client) SessionTest(ctx context.Context) (types.SessionTest, error) {
	id, err := c.requireSession()
	if err != nil {
		return types.SessionTest{}, err
	}
	resp, err := c.tr.Get(ctx, c.ep.SessionTest(id), nil)
	if err != nil {
		return types.SessionTest{}, err
	}
	var test types.SessionTest
	if err := resp.ExpectJSON(&test, http.StatusOK); err != nil {
		return types.SessionTest{}, err
	}
	return test, nil
}

// SessionStatus returns the status field of the session test.
func (c *Client) SessionStatus(ctx context.Context) (types.TestStatus, error) {
	test, err := c.SessionTest(ctx)
	if err != nil {
		return types.TestStatus{}, err
	}
	return test.Status, nil
}

func (c *Client) IsSessionStarted(ctx context.Context) (bool, error) {
	status, err := c.SessionStatus(ctx)
	if err != nil {
		return false, err
	}
	return status.State == types.TestStarted, nil
}

// PickExistingSession returns the active session, or else the first listed
// session whose ID contains wildcard.
func (c *Client) PickExistingSession(ctx context.Context, wildcard string) (string, error) {
	if c.sessionID != "" {
		return c.sessionID, nil
	}
	ids, err := c.ListSessions(ctx)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		if strings.Contains(id, wildcard) {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: nothing matches %q", ErrNoSession, wildcard)
}

// SetLicenseServer points the middleware at the configured license server,
// writing only when it differs. It reports whether a change was made.
func (c *Client) SetLicenseServer(ctx context.Context) (bool, error) {
	if c.opts.LicenseServer == "" {
		return false, nil
	}
	resp, err := c.tr.Get(ctx, c.ep.GlobalSettings(), nil)
	if err != nil {
		return false, err
	}
	var settings types.GlobalSettings
	if err := resp.ExpectJSON(&settings, http.StatusOK); err != nil {
		return false, err
	}
	if settings.LicenseServer == c.opts.LicenseServer {
		return false, nil
	}
	resp, err = c.tr.Put(ctx, c.ep.GlobalSettings(), types.GlobalSettings{LicenseServer: c.opts.LicenseServer})
	if err != nil {
		return false, err
	}
	if err := resp.Expect(http.StatusOK, http.StatusNoContent); err != nil {
		return false, err
	}
	c.log.Infow("license server updated", "from", settings.LicenseServer, "to", c.opts.LicenseServer)
	return true, nil
}
