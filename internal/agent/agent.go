// Package agent controls packet capture on a single LoadCore agent.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/yourorg/loadcore/internal/logging"
	"github.com/yourorg/loadcore/internal/transport"
	"github.com/yourorg/loadcore/pkg/types"
)

// ErrFilterNotEnabled is returned by StartCapture when the agent has no
// capture filter.
var ErrFilterNotEnabled = errors.New("capture filter not enabled")

const (
	filterPath = "/api/v1/capture/filter"
	startPath  = "/api/v1/capture/start"
	stopPath   = "/api/v1/capture/stop"
	statusPath = "/api/v1/capture/status"
)

// Agent is the capture API of one agent. Each agent needs its own value.
type Agent struct {
	ip  string
	tr  *transport.Client
	log *logging.Logger
}

// New returns an Agent reachable at http://ip. BaseURL in opts, when set,
// overrides the address.
func New(ip string, opts transport.Options) (*Agent, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://" + ip
	}
	if opts.Target == "" {
		opts.Target = "agent"
	}
	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range opts.Headers {
		headers[k] = v
	}
	opts.Headers = headers
	tr, err := transport.New(opts)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", ip, err)
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Agent{ip: ip, tr: tr, log: log.Named("agent")}, nil
}

func (a *Agent) IP() string { return a.ip }

// EnableFilter captures on iface.
func (a *Agent) EnableFilter(ctx context.Context, iface string) error {
	resp, err := a.tr.Patch(ctx, filterPath, types.CaptureFilter{Value: "-i " + iface})
	if err != nil {
		return err
	}
	if err := resp.Expect(http.StatusNoContent); err != nil {
		return a.log.Report(err, "agent", a.ip)
	}
	a.log.Infow("capture filter enabled", "agent", a.ip, "interface", iface)
	return nil
}

// Filter returns the capture filter, e.g. "-i ens160".
func (a *Agent) Filter(ctx context.Context) (string, error) {
	resp, err := a.tr.Get(ctx, filterPath, nil)
	if err != nil {
		return "", err
	}
	var f types.CaptureFilter
	if err := resp.ExpectJSON(&f, http.StatusOK); err != nil {
		return "", a.log.Report(err, "agent", a.ip)
	}
	return f.Value, nil
}

// StartCapture starts capturing. The filter must be enabled first.
func (a *Agent) StartCapture(ctx context.Context) error {
	f, err := a.Filter(ctx)
	if err != nil {
		return err
	}
	if f == "" {
		return a.log.Report(fmt.Errorf("%w on agent %s", ErrFilterNotEnabled, a.ip))
	}
	resp, err := a.tr.Post(ctx, startPath, nil)
	if err != nil {
		return err
	}
	if err := resp.Expect(http.StatusOK); err != nil {
		return a.log.Report(err, "agent", a.ip)
	}
	a.log.Infow("capture started", "agent", a.ip, "filter", f)
	return nil
}

func (a *Agent) StopCapture(ctx context.Context) error {
	resp, err := a.tr.Post(ctx, stopPath, nil)
	if err != nil {
		return err
	}
	if err := resp.Expect(http.StatusNoContent); err != nil {
		return a.log.Report(err, "agent", a.ip)
	}
	a.log.Infow("capture stopped", "agent", a.ip)
	return nil
}

// CaptureStatus returns running or stopped.
func (a *Agent) CaptureStatus(ctx context.Context) (string, error) {
	resp, err := a.tr.Get(ctx, statusPath, nil)
	if err != nil {
		return "", err
	}
	var s types.CaptureStatus
	if err := resp.ExpectJSON(&s, http.StatusOK); err != nil {
		return "", a.log.Report(err, "agent", a.ip)
	}
	return s.State, nil
}
