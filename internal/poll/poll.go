package poll

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned when every attempt ran without reaching the target.
var ErrExhausted = errors.New("poll: attempts exhausted")

// Options bounds a poll loop. Either MaxTries or Timeout must be set; when
// both are set the loop stops at whichever comes first.
type Options struct {
	Interval time.Duration
	MaxTries int
	Timeout  time.Duration
}

// Check reports the value observed on one attempt and whether it is final.
// Wrapping an error with Permanent stops the loop immediately.
type Check[T any] func(ctx context.Context) (T, bool, error)

// Permanent marks err as fatal for the loop.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// errPending keeps backoff.Retry going while a check has not reached its target.
var errPending = errors.New("poll: not done")

// newBackOff returns the wait schedule between attempts.
var newBackOff = func(interval time.Duration) backoff.BackOff {
	return backoff.NewConstantBackOff(interval)
}

// Until runs check until it reports done, returns a permanent error, the
// attempts or time budget run out, or ctx ends. It returns the last observed
// value and the number of attempts made. A non-permanent check error counts
// as an unsuccessful attempt; the last one is joined to ErrExhausted.
func Until[T any](ctx context.Context, opts Options, check Check[T]) (T, int, error) {
	var last T
	if opts.MaxTries <= 0 && opts.Timeout <= 0 {
		return last, 0, errors.New("poll: MaxTries or Timeout is required")
	}
	parent := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var (
		attempts int
		lastErr  error
		permErr  error
	)
	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(newBackOff(opts.Interval)),
		backoff.WithMaxElapsedTime(opts.Timeout),
	}
	if opts.MaxTries > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxTries(uint(opts.MaxTries)))
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		v, done, err := check(ctx)
		if err != nil {
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				permErr = perm.Unwrap()
				return struct{}{}, err
			}
			lastErr = err
			return struct{}{}, err
		}
		last = v
		if !done {
			return struct{}{}, errPending
		}
		return struct{}{}, nil
	}, retryOpts...)

	switch {
	case err == nil:
		return last, attempts, nil
	case permErr != nil:
		return last, attempts, permErr
	case parent.Err() != nil:
		return last, attempts, parent.Err()
	default:
		return last, attempts, exhausted(lastErr)
	}
}

func exhausted(lastErr error) error {
	if lastErr == nil {
		return ErrExhausted
	}
	return errors.Join(ErrExhausted, lastErr)
}

// WaitForState polls get until it returns want.
func WaitForState[T comparable](ctx context.Context, opts Options, get func(ctx context.Context) (T, error), want T) (T, error) {
	got, _, err := Until(ctx, opts, func(ctx context.Context) (T, bool, error) {
		v, err := get(ctx)
		if err != nil {
			var zero T
			return zero, false, err
		}
		return v, v == want, nil
	})
	return got, err
}

// EnsureDir creates path and any missing parents.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create folder %s: %w", path, err)
	}
	return nil
}
