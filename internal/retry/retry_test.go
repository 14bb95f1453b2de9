package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleep() func(context.Context, time.Duration) error {
	return func(context.Context, time.Duration) error { return nil }
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	opts := DefaultOptions()
	opts.sleep = noSleep()

	calls := 0
	result, err := Do(context.Background(), opts, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want ok", result)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesTransientError(t *testing.T) {
	opts := DefaultOptions()
	opts.sleep = noSleep()

	calls := 0
	result, err := Do(context.Background(), opts, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("read tcp: connection reset by peer")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if result != 42 {
		t.Errorf("result = %d, want 42", result)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRetries = 3
	opts.sleep = noSleep()

	calls := 0
	transient := errors.New("dial tcp: i/o timeout")
	_, err := Do(context.Background(), opts, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, transient
	})
	if !errors.Is(err, transient) {
		t.Errorf("err = %v, want last transient error", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (1 initial + 3 retries)", calls)
	}
}

func TestDoNonRetryableFailsFast(t *testing.T) {
	opts := DefaultOptions()
	opts.sleep = noSleep()

	calls := 0
	fatal := &StatusError{Status: 404, Message: "not found"}
	_, err := Do(context.Background(), opts, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, fatal
	})
	if !errors.Is(err, fatal) {
		t.Errorf("err = %v, want the 404 error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRespectsContextDuringSleep(t *testing.T) {
	opts := DefaultOptions()
	opts.BaseDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	opts.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := Do(ctx, opts, func(context.Context) (struct{}, error) {
		return struct{}{}, errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestWithTimeout(t *testing.T) {
	_, err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (struct{}, error) {
		<-ctx.Done()
		return struct{}{}, ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}

	result, err := WithTimeout(context.Background(), time.Second, func(context.Context) (string, error) {
		return "fast", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if result != "fast" {
		t.Errorf("result = %q, want fast", result)
	}
}

func TestDelayGrowthAndCap(t *testing.T) {
	opts := Options{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2.0}
	opts.normalize()

	if d := opts.delay(1); d != 100*time.Millisecond {
		t.Errorf("delay(1) = %v, want 100ms", d)
	}
	if d := opts.delay(2); d != 200*time.Millisecond {
		t.Errorf("delay(2) = %v, want 200ms", d)
	}
	if d := opts.delay(4); d != 300*time.Millisecond {
		t.Errorf("delay(4) = %v, want capped 300ms", d)
	}
}

func TestDelayJitterRange(t *testing.T) {
	opts := Options{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0, Jitter: true}
	opts.normalize()

	for i := 0; i < 100; i++ {
		d := opts.delay(1)
		if d < 50*time.Millisecond || d > 100*time.Millisecond {
			t.Fatalf("jittered delay %v outside [50ms, 100ms]", d)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrTimeout, true},
		{context.DeadlineExceeded, true},
		{&StatusError{Status: 500}, true},
		{&StatusError{Status: 503}, true},
		{&StatusError{Status: 429}, true},
		{&StatusError{Status: 400}, false},
		{&StatusError{Status: 404}, false},
		{errors.New("read: connection reset by peer"), true},
		{errors.New("ECONNRESET"), true},
		{errors.New("invalid credentials"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
