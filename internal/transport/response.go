package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Response is a fully read HTTP response.
type Response struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// StatusError reports a response whose status was not one of the expected codes.
type StatusError struct {
	Method   string
	URL      string
	Expected []int
	Got      int
	Body     string
}

func (e *StatusError) Error() string {
	want := make([]string, len(e.Expected))
	for i, c := range e.Expected {
		want[i] = fmt.Sprint(c)
	}
	msg := fmt.Sprintf("%s %s: unexpected status code: expected %s, got %d", e.Method, e.URL, strings.Join(want, " or "), e.Got)
	if body := strings.TrimSpace(e.Body); body != "" {
		if len(body) > 512 {
			body = body[:512] + "..."
		}
		msg += ", body: " + body
	}
	return msg
}

// Expect returns a *StatusError unless the status is one of codes.
func (r *Response) Expect(codes ...int) error {
	for _, c := range codes {
		if r.StatusCode == c {
			return nil
		}
	}
	return &StatusError{
		Method:   r.Method,
		URL:      r.URL,
		Expected: codes,
		Got:      r.StatusCode,
		Body:     string(r.Body),
	}
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", r.Method, r.URL, err)
	}
	return nil
}

// ExpectJSON checks the status and decodes the body.
func (r *Response) ExpectJSON(v any, codes ...int) error {
	if err := r.Expect(codes...); err != nil {
		return err
	}
	return r.JSON(v)
}
