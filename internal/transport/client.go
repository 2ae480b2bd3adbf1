package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"github.com/yourorg/loadcore/internal/filter"
	"github.com/yourorg/loadcore/internal/logging"
	"github.com/yourorg/loadcore/internal/metrics"
	"github.com/yourorg/loadcore/pkg/types"
)

// RequestIDHeader carries a per-call id that also keys recorded traffic.
const RequestIDHeader = "X-Request-Id"

// Recorder receives every call made through a Client.
type Recorder interface {
	Record(types.TrafficLog)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// Target labels metrics, e.g. "middleware" or "agent".
	Target             string
	Headers            map[string]string
	HTTP2              bool
	InsecureSkipVerify bool
	Timeout            time.Duration
	HTTPClient         *http.Client
	Logger             *logging.Logger
	Recorder           Recorder
	Metrics            *metrics.Metrics
	Sanitizer          *filter.Sanitizer
}

// Client issues REST calls against one base URL. It never retries.
type Client struct {
	baseURL   string
	target    string
	headers   map[string]string
	http      *http.Client
	log       *logging.Logger
	recorder  Recorder
	metrics   *metrics.Metrics
	sanitizer *filter.Sanitizer
}

// New builds a Client from opts.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}
	client := opts.HTTPClient
	if client == nil {
		client, err = buildHTTPClient(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
		}
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	target := opts.Target
	if target == "" {
		target = u.Host
	}
	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		target:    target,
		headers:   headers,
		http:      client,
		log:       log,
		recorder:  opts.Recorder,
		metrics:   opts.Metrics,
		sanitizer: opts.Sanitizer,
	}, nil
}

func buildHTTPClient(opts Options) (*http.Client, error) {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		// The platform ships self-signed certificates.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}, //nolint:gosec
	}
	if opts.HTTP2 {
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, fmt.Errorf("enable http2: %w", err)
		}
	}
	return &http.Client{Transport: tr, Timeout: opts.Timeout}, nil
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// SetHeader sets a default header sent on every call.
func (c *Client) SetHeader(key, value string) { c.headers[key] = value }

func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, query, nil, "")
}

// GetURL fetches an absolute URL, or a path relative to the base URL.
func (c *Client) GetURL(ctx context.Context, rawURL string) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, nil, "")
}

func (c *Client) Put(ctx context.Context, path string, payload any) (*Response, error) {
	body, err := encode(payload)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPut, path, nil, body, "")
}

// PutText sends text as is, without JSON encoding.
func (c *Client) PutText(ctx context.Context, path, text string) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, nil, []byte(text), "text/plain")
}

func (c *Client) Post(ctx context.Context, path string, payload any) (*Response, error) {
	body, err := encode(payload)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, path, nil, body, "")
}

func (c *Client) Patch(ctx context.Context, path string, payload any) (*Response, error) {
	body, err := encode(payload)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPatch, path, nil, body, "")
}

func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil, nil, "")
}

func encode(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return body, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	full := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		full = c.baseURL + path
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(full, "?") {
			sep = "&"
		}
		full += sep + query.Encode()
	}
	return full
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, contentType string) (*Response, error) {
	fullURL := c.resolve(path, query)
	requestID := uuid.NewString()

	c.log.Infow(method, "url", fullURL, "payload", c.sanitizer.Body(string(body)))

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(RequestIDHeader, requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.observe(req, requestID, body, nil, nil, start, elapsed, err)
		return nil, fmt.Errorf("%s %s: %w", method, fullURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(req, requestID, body, resp, nil, start, elapsed, err)
		return nil, fmt.Errorf("%s %s: reading response body: %w", method, fullURL, err)
	}
	c.observe(req, requestID, body, resp, data, start, elapsed, nil)
	c.log.Debugw("response", "method", method, "url", fullURL, "status", resp.StatusCode, "elapsed", elapsed)

	return &Response{
		Method:     method,
		URL:        fullURL,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (c *Client) observe(req *http.Request, requestID string, reqBody []byte, resp *http.Response, respBody []byte, start time.Time, elapsed time.Duration, callErr error) {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	c.metrics.ObserveRequest(c.target, req.Method, status, elapsed)
	if c.recorder == nil {
		return
	}

	l := types.TrafficLog{
		RequestID:      requestID,
		Timestamp:      start,
		Method:         req.Method,
		Host:           req.URL.Host,
		Path:           req.URL.Path,
		RequestHeaders: flatten(req.Header),
		RequestBody:    string(reqBody),
		ContentType:    req.Header.Get("Content-Type"),
		StatusCode:     status,
		LatencyMs:      elapsed.Milliseconds(),
	}
	if q := req.URL.Query(); len(q) > 0 {
		l.QueryParams = q
	}
	if resp != nil {
		l.ResponseHeaders = flatten(resp.Header)
		l.ResponseContentType = resp.Header.Get("Content-Type")
		if isTextual(l.ResponseContentType) {
			l.ResponseBody = string(respBody)
		}
	}
	if callErr != nil {
		l.Error = callErr.Error()
	}
	if c.sanitizer != nil {
		l = c.sanitizer.Log(l)
	}
	c.recorder.Record(l)
}

func flatten(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

// Downloads (pdf, zip) are not kept in the ledger.
func isTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "json") || strings.HasPrefix(ct, "text/")
}
