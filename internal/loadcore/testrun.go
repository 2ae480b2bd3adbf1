package loadcore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/yourorg/loadcore/internal/poll"
	"github.com/yourorg/loadcore/pkg/types"
)

// OperationResult is the outcome of a start or stop request. Terminal is
// false only when TransientAcknowledge returned the submit acknowledgement.
type OperationResult struct {
	Operation types.Operation
	Terminal  bool
	Attempts  int
}

var errAcknowledged = errors.New("status request failed, returning acknowledgement")

// StartTest starts the active session's test and waits for SUCCESS.
func (c *Client) StartTest(ctx context.Context) (OperationResult, error) {
	return c.testRunOperation(ctx, "start")
}

// StopTest stops the active session's test and waits for SUCCESS.
func (c *Client) StopTest(ctx context.Context) (OperationResult, error) {
	return c.testRunOperation(ctx, "stop")
}

func (c *Client) testRunOperation(ctx context.Context, kind string) (OperationResult, error) {
	id, err := c.requireSession()
	if err != nil {
		return OperationResult{}, err
	}
	resp, err := c.tr.Post(ctx, c.ep.TestRunOperation(id, kind), nil)
	if err != nil {
		return OperationResult{}, err
	}
	var ack types.Operation
	if err := resp.ExpectJSON(&ack, http.StatusAccepted); err != nil {
		return OperationResult{}, err
	}
	c.log.Debugw("operation accepted", "kind", kind, "operation", ack.ID, "state", ack.State)

	statusPath := c.ep.TestRunOperationStatus(id, kind, ack.ID.String())
	op, attempts, err := poll.Until(ctx, poll.Options{
		Interval: c.opts.OperationInterval,
		MaxTries: c.opts.OperationAttempts,
	}, c.operationCheck(kind, statusPath, c.opts.Transient))

	switch {
	case err == nil:
		c.opts.Metrics.ObservePoll(kind, "success", attempts)
		return OperationResult{Operation: op, Terminal: true, Attempts: attempts}, nil
	case errors.Is(err, errAcknowledged):
		c.opts.Metrics.ObservePoll(kind, "acknowledged", attempts)
		c.log.Warnw("returning operation acknowledgement", "kind", kind, "attempts", attempts)
		return OperationResult{Operation: ack, Terminal: false, Attempts: attempts}, nil
	case errors.Is(err, poll.ErrExhausted):
		c.opts.Metrics.ObservePoll(kind, "timeout", attempts)
		wait := time.Duration(c.opts.OperationAttempts) * c.opts.OperationInterval
		return OperationResult{Operation: op, Attempts: attempts},
			c.log.Report(fmt.Errorf("%w: test failed to %s in %s (last state %q): %w", ErrPollTimeout, kind, wait, op.State, err))
	default:
		c.opts.Metrics.ObservePoll(kind, "error", attempts)
		return OperationResult{Operation: op, Attempts: attempts}, c.log.Report(err)
	}
}

// operationCheck polls an operation status resource until SUCCESS. ERROR
// stops the loop with an *OperationError.
func (c *Client) operationCheck(kind, path string, policy TransientPolicy) poll.Check[types.Operation] {
	return func(ctx context.Context) (types.Operation, bool, error) {
		resp, err := c.tr.Get(ctx, path, nil)
		if err == nil {
			err = resp.Expect(http.StatusOK)
		}
		var op types.Operation
		if err == nil {
			err = resp.JSON(&op)
		}
		if err != nil {
			return op, false, c.transient(ctx, kind, err, policy)
		}
		c.log.Debugw("operation state", "kind", kind, "operation", op.ID, "state", op.State, "progress", op.Progress)
		switch op.State {
		case types.OperationSuccess:
			return op, true, nil
		case types.OperationError:
			return op, false, poll.Permanent(&OperationError{Kind: kind, State: op.State, Message: op.Message})
		}
		return op, false, nil
	}
}

func (c *Client) transient(ctx context.Context, kind string, err error, policy TransientPolicy) error {
	if ctx.Err() != nil {
		return err
	}
	c.log.Warnw("status request failed", "kind", kind, "policy", policy, "error", err)
	switch policy {
	case TransientRetry:
		return err
	case TransientAcknowledge:
		return poll.Permanent(errAcknowledged)
	default:
		return poll.Permanent(err)
	}
}

// CheckSessionState polls the session test status every session interval
// until it matches status (case-insensitive) or timeout passes. A timeout of
// zero checks once. It reports whether the status was reached. A status of
// false means the test failed and yields ErrTestFailed.
func (c *Client) CheckSessionState(ctx context.Context, status string, timeout time.Duration) (bool, error) {
	if _, err := c.requireSession(); err != nil {
		return false, err
	}
	opts := poll.Options{Interval: c.opts.SessionInterval, Timeout: timeout}
	if timeout <= 0 {
		opts = poll.Options{MaxTries: 1}
	}
	last, attempts, err := poll.Until(ctx, opts, func(ctx context.Context) (types.TestStatus, bool, error) {
		test, err := c.SessionTest(ctx)
		if err != nil {
			return types.TestStatus{}, false, c.transient(ctx, "session-state", err, TransientRetry)
		}
		if test.Status.Failed {
			return test.Status, false, poll.Permanent(ErrTestFailed)
		}
		return test.Status, test.Status.Is(status), nil
	})

	switch {
	case err == nil:
		c.opts.Metrics.ObservePoll("session-state", "success", attempts)
		c.log.Infow("session state reached", "status", last.String(), "attempts", attempts)
		return true, nil
	case errors.Is(err, ErrTestFailed):
		c.opts.Metrics.ObservePoll("session-state", "failed", attempts)
		return false, c.log.Report(fmt.Errorf("%w: the test failed to start", ErrTestFailed))
	case errors.Is(err, poll.ErrExhausted):
		c.opts.Metrics.ObservePoll("session-state", "timeout", attempts)
		c.log.Warnw("session state not reached", "want", status, "last", last.String(), "timeout", timeout)
		return false, nil
	default:
		return false, err
	}
}

// TestID returns the ID of the active session's test.
func (c *Client) TestID(ctx context.Context) (string, error) {
	test, err := c.SessionTest(ctx)
	if err != nil {
		return "", err
	}
	if test.TestID == "" {
		return "", fmt.Errorf("session %s has no test id", c.sessionID)
	}
	return test.TestID.String(), nil
}

// TestDuration returns the configured test duration times multiplier, to
// leave room for retries inside the test.
func (c *Client) TestDuration(ctx context.Context, multiplier float64) (time.Duration, error) {
	test, err := c.SessionTest(ctx)
	if err != nil {
		return 0, err
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	return time.Duration(test.TestDuration * multiplier * float64(time.Second)), nil
}

// TestWindow returns the test start and stop times in Unix milliseconds.
func (c *Client) TestWindow(ctx context.Context) (int64, int64, error) {
	test, err := c.SessionTest(ctx)
	if err != nil {
		return 0, 0, err
	}
	return int64(test.TestStarted * 1000), int64(test.TestStopped * 1000), nil
}
