package loadcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/yourorg/loadcore/internal/config"
	"github.com/yourorg/loadcore/internal/logging"
	"github.com/yourorg/loadcore/internal/metrics"
	"github.com/yourorg/loadcore/internal/transport"
)

var (
	ErrNoSession          = errors.New("no active session")
	ErrAmbiguousConfig    = errors.New("more than one config source given")
	ErrUnknownSessionType = errors.New("unknown session type")
	ErrInvalidSessionID   = errors.New("invalid session id")
	ErrOperationFailed    = errors.New("operation failed")
	ErrPollTimeout        = errors.New("operation did not finish in time")
	ErrTestFailed         = errors.New("test failed")
	ErrNoStats            = errors.New("no stats available")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrNodeNotInConfig    = errors.New("node not in config")
)

// OperationError carries the platform's message for an operation that ended
// in the ERROR state.
type OperationError struct {
	Kind    string
	State   string
	Message string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: state %s: %s", e.Kind, e.State, e.Message)
}

func (e *OperationError) Unwrap() error { return ErrOperationFailed }

// TransientPolicy decides what a poll loop does when a status request fails.
type TransientPolicy string

const (
	// TransientFail returns the error.
	TransientFail TransientPolicy = "fail"
	// TransientRetry counts the failure as an attempt and keeps polling.
	TransientRetry TransientPolicy = "retry"
	// TransientAcknowledge stops polling and returns the submit
	// acknowledgement as a non-terminal result.
	TransientAcknowledge TransientPolicy = "acknowledge"
)

// Options tunes polling and global settings.
type Options struct {
	LicenseServer     string
	OperationInterval time.Duration
	OperationAttempts int
	SessionInterval   time.Duration
	ArtifactInterval  time.Duration
	ArtifactAttempts  int
	Transient         TransientPolicy
	Metrics           *metrics.Metrics
}

// OptionsFromConfig maps the middleware and polling sections to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		LicenseServer:     cfg.Middleware.LicenseServer,
		OperationInterval: cfg.Polling.OperationInterval,
		OperationAttempts: cfg.Polling.OperationAttempts,
		SessionInterval:   cfg.Polling.SessionInterval,
		ArtifactInterval:  cfg.Polling.ArtifactInterval,
		ArtifactAttempts:  cfg.Polling.ArtifactAttempts,
		Transient:         TransientPolicy(cfg.Polling.TransientErrors),
	}
}

// Connect builds a Client for the configured middleware. extra supplies the
// HTTP client, recorder, metrics and sanitizer; its connection fields are
// taken from cfg.
func Connect(cfg *config.Config, log *logging.Logger, extra transport.Options) (*Client, error) {
	if log == nil {
		log = logging.Nop()
	}
	mw := cfg.Middleware
	extra.BaseURL = mw.BaseURL()
	extra.Target = "middleware"
	extra.Headers = map[string]string{
		"authorization": mw.AuthToken,
		"Content-Type":  "application/json",
	}
	extra.HTTP2 = mw.HTTP2
	extra.InsecureSkipVerify = mw.InsecureSkipVerify
	extra.Timeout = mw.RequestTimeout
	if extra.Logger == nil {
		extra.Logger = log.Named("rest")
	}
	tr, err := transport.New(extra)
	if err != nil {
		return nil, err
	}
	opts := OptionsFromConfig(cfg)
	opts.Metrics = extra.Metrics
	return New(tr, log, opts), nil
}

func (o *Options) setDefaults() {
	if o.OperationInterval <= 0 {
		o.OperationInterval = 2 * time.Second
	}
	if o.OperationAttempts <= 0 {
		o.OperationAttempts = 40
	}
	if o.SessionInterval <= 0 {
		o.SessionInterval = 5 * time.Second
	}
	if o.ArtifactInterval <= 0 {
		o.ArtifactInterval = 5 * time.Second
	}
	if o.ArtifactAttempts <= 0 {
		o.ArtifactAttempts = 40
	}
	if o.Transient == "" {
		o.Transient = TransientFail
	}
}

// Client is a session-scoped middleware client. It is not safe for
// concurrent use.
type Client struct {
	tr        *transport.Client
	log       *logging.Logger
	opts      Options
	ep        Endpoints
	sessionID string
}

// New returns a Client that talks through tr.
func New(tr *transport.Client, log *logging.Logger, opts Options) *Client {
	opts.setDefaults()
	if log == nil {
		log = logging.Nop()
	}
	return &Client{tr: tr, log: log, opts: opts}
}

// SessionID returns the active session, or "" when there is none.
func (c *Client) SessionID() string { return c.sessionID }

// UseSession makes id the active session.
func (c *Client) UseSession(id string) { c.sessionID = id }

func (c *Client) requireSession() (string, error) {
	if c.sessionID == "" {
		return "", ErrNoSession
	}
	return c.sessionID, nil
}
