package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yourorg/loadcore/internal/fakeloadcore"
	"github.com/yourorg/loadcore/internal/transport"
	"github.com/yourorg/loadcore/pkg/types"
)

func newTestAgent(t *testing.T, h http.Handler) *Agent {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	a, err := New("10.0.0.11", transport.Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestCaptureLifecycle(t *testing.T) {
	ctx := context.Background()
	a := newTestAgent(t, fakeloadcore.NewAgent())

	if err := a.EnableFilter(ctx, "eth0"); err != nil {
		t.Fatal(err)
	}
	f, err := a.Filter(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f != "-i eth0" {
		t.Fatalf("unexpected filter %q", f)
	}
	if err := a.StartCapture(ctx); err != nil {
		t.Fatal(err)
	}
	state, err := a.CaptureStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state != types.CaptureRunning {
		t.Fatalf("expected running, got %s", state)
	}
	if err := a.StopCapture(ctx); err != nil {
		t.Fatal(err)
	}
	state, err = a.CaptureStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state != types.CaptureStopped {
		t.Fatalf("expected stopped, got %s", state)
	}
}

func TestStartCaptureRequiresFilter(t *testing.T) {
	fake := fakeloadcore.NewAgent()
	a := newTestAgent(t, fake)
	err := a.StartCapture(context.Background())
	if !errors.Is(err, ErrFilterNotEnabled) {
		t.Fatalf("expected ErrFilterNotEnabled, got %v", err)
	}
	if fake.Starts() != 0 {
		t.Fatalf("start should not be sent without a filter")
	}
}

func TestUnexpectedStatus(t *testing.T) {
	a := newTestAgent(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	err := a.EnableFilter(context.Background(), "ens160")
	var se *transport.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Got != http.StatusOK {
		t.Fatalf("unexpected status %d", se.Got)
	}
}

func TestNewDefaultsToAgentIP(t *testing.T) {
	a, err := New("10.0.0.12", transport.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if a.tr.BaseURL() != "http://10.0.0.12" || a.IP() != "10.0.0.12" {
		t.Fatalf("unexpected base url %s", a.tr.BaseURL())
	}
}
