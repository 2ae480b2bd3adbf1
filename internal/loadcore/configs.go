package loadcore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/yourorg/loadcore/pkg/types"
)

// LoadConfig reads a saved config file. ".json" is appended when name has no
// extension; comments in the file are tolerated.
func (c *Client) LoadConfig(name string) (types.Config, error) {
	path := name
	if !strings.HasSuffix(strings.ToLower(path), ".json") {
		path += ".json"
	}
	c.log.Infow("selected config file to load", "file", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := decodeConfig(jsonc.ToJSON(data))
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeConfig(data []byte) (types.Config, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var cfg types.Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config is not a JSON object")
	}
	return cfg, nil
}

// UploadConfig stores cfg on the middleware and returns its ID.
func (c *Client) UploadConfig(ctx context.Context, cfg types.Config) (string, error) {
	resp, err := c.tr.Post(ctx, c.ep.Configs(), cfg)
	if err != nil {
		return "", err
	}
	var refs []types.Ref
	if err := resp.ExpectJSON(&refs, http.StatusCreated); err != nil {
		return "", err
	}
	if len(refs) == 0 || refs[0].ID == "" {
		return "", c.log.Report(fmt.Errorf("upload config: empty response"))
	}
	c.log.Infow("config uploaded", "config", refs[0].ID)
	return refs[0].ID.String(), nil
}

// UploadedConfig fetches a stored config.
func (c *Client) UploadedConfig(ctx context.Context, id string) (types.Config, error) {
	resp, err := c.tr.Get(ctx, c.ep.Config(id), nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Expect(http.StatusOK); err != nil {
		return nil, err
	}
	return decodeConfig(resp.Body)
}

// SessionConfig returns the Config document of the active session.
func (c *Client) SessionConfig(ctx context.Context) (types.Config, error) {
	id, err := c.requireSession()
	if err != nil {
		return nil, err
	}
	resp, err := c.tr.Get(ctx, c.ep.SessionConfig(id), url.Values{"include": {"all"}})
	if err != nil {
		return nil, err
	}
	if err := resp.Expect(http.StatusOK); err != nil {
		return nil, err
	}
	body, err := decodeConfig(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	cfg, ok := body["Config"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("session config: missing Config object")
	}
	return cfg, nil
}

// SetSessionConfig replaces the active session's config. A saved config
// wrapper (configData.Config) is unwrapped first.
func (c *Client) SetSessionConfig(ctx context.Context, cfg types.Config) error {
	id, err := c.requireSession()
	if err != nil {
		return err
	}
	if data, ok := cfg["configData"].(map[string]any); ok {
		inner, ok := data["Config"].(map[string]any)
		if !ok {
			return fmt.Errorf("set session config: configData has no Config object")
		}
		cfg = inner
	}
	resp, err := c.tr.Put(ctx, c.ep.SessionConfigDocument(id), cfg)
	if err != nil {
		return err
	}
	return resp.Expect(http.StatusOK, http.StatusNoContent)
}

type sustain struct {
	Sustain int `json:"sustain"`
}

// ConfigSustainTime sets the UE sustain time in seconds.
func (c *Client) ConfigSustainTime(ctx context.Context, seconds int) error {
	id, err := c.requireSession()
	if err != nil {
		return err
	}
	resp, err := c.tr.Patch(ctx, c.ep.ActiveSubscribers(id), sustain{Sustain: seconds})
	if err != nil {
		return err
	}
	return resp.Expect(http.StatusNoContent)
}

// SustainTime returns the UE sustain time in seconds.
func (c *Client) SustainTime(ctx context.Context) (int, error) {
	id, err := c.requireSession()
	if err != nil {
		return 0, err
	}
	resp, err := c.tr.Get(ctx, c.ep.ActiveSubscribers(id), nil)
	if err != nil {
		return 0, err
	}
	var out sustain
	if err := resp.ExpectJSON(&out, http.StatusOK); err != nil {
		return 0, err
	}
	return out.Sustain, nil
}
