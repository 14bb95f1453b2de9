// Package retry provides the exponential-backoff executor and deadline
// wrapper used by every outbound provider call.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// ErrTimeout is returned by WithTimeout when the operation outlives its
// deadline. It is distinct from context.DeadlineExceeded so callers can
// tell our ceiling from one inherited through the context.
var ErrTimeout = errors.New("operation timed out")

type Options struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
	IsRetryable func(error) bool

	// sleep is overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

func (o *Options) normalize() {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 200 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 10 * time.Second
	}
	if o.Multiplier < 1 {
		o.Multiplier = 2.0
	}
	if o.IsRetryable == nil {
		o.IsRetryable = IsRetryable
	}
	if o.sleep == nil {
		o.sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}
}

// Do runs op up to 1+MaxRetries times. Non-retryable errors propagate
// immediately; after the attempts are exhausted the last error propagates.
func Do[T any](ctx context.Context, opts Options, op func(context.Context) (T, error)) (T, error) {
	opts.normalize()

	var zero T
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := opts.sleep(ctx, opts.delay(attempt)); err != nil {
				return zero, err
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !opts.IsRetryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

func (o Options) delay(attempt int) time.Duration {
	d := float64(o.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= o.Multiplier
	}
	if d > float64(o.MaxDelay) {
		d = float64(o.MaxDelay)
	}
	if o.Jitter {
		// Uniform scale in [0.5, 1.0].
		d *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(d)
}

// WithTimeout races op against a timer. On expiry the caller gets
// ErrTimeout; the operation keeps the cancelled context and is expected to
// unwind on its own.
func WithTimeout[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := op(ctx)
		done <- outcome{result, err}
	}()

	var zero T
	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		return zero, ctx.Err()
	}
}

// DoWithTimeout applies the per-attempt timeout inside the retry loop.
func DoWithTimeout[T any](ctx context.Context, opts Options, attemptTimeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	return Do(ctx, opts, func(ctx context.Context) (T, error) {
		return WithTimeout(ctx, attemptTimeout, op)
	})
}

// StatusError carries an upstream HTTP status so the retry predicate can
// distinguish transient server failures from terminal client errors.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}

var transientSubstrings = []string{
	"connection reset",
	"econnreset",
	"connection refused",
	"broken pipe",
	"timeout",
	"timed out",
	"temporary failure",
	"unexpected eof",
	"rate limit",
}

// IsRetryable is the default retryability predicate: network-flavored
// errors, timeouts, 5xx statuses and 429.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500 || statusErr.Status == 429
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
