// Package ratelimit implements the sliding-window throttle used by the
// download gateway and the admin auth endpoints.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// Presets. Same primitive, different knobs.
var (
	// DownloadPolicy guards the token-gated download endpoint.
	DownloadPolicy = Policy{MaxRequests: 5, Window: 15 * time.Minute}
	// AuthPolicy is stricter; it fronts passphrase validation.
	AuthPolicy = Policy{MaxRequests: 10, Window: time.Minute}
	// PublicPolicy is the loose default for unauthenticated reads.
	PublicPolicy = Policy{MaxRequests: 60, Window: time.Minute}
)

type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter is the call-site contract. The in-memory implementation is
// per-process; the Redis implementation shares state across replicas
// without changing callers.
type Limiter interface {
	Check(ctx context.Context, identifier string, policy Policy) (Result, error)
	Clear(ctx context.Context, identifier string) error
}

type entry struct {
	timestamps   []time.Time
	blocked      bool
	blockedUntil time.Time
}

// MemoryLimiter keeps per-identifier request timestamps in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Check(_ context.Context, identifier string, policy Policy) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[identifier]
	if !ok {
		e = &entry{}
		l.entries[identifier] = e
	}

	cutoff := now.Add(-policy.Window)
	kept := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.timestamps = kept

	if len(e.timestamps) >= policy.MaxRequests {
		oldest := e.timestamps[0]
		e.blocked = true
		e.blockedUntil = oldest.Add(policy.Window)
		retryAfter := e.blockedUntil.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    e.blockedUntil,
			RetryAfter: retryAfter,
		}, nil
	}

	e.timestamps = append(e.timestamps, now)
	e.blocked = false
	e.blockedUntil = time.Time{}

	resetAt := e.timestamps[0].Add(policy.Window)
	return Result{
		Allowed:   true,
		Remaining: policy.MaxRequests - len(e.timestamps),
		ResetAt:   resetAt,
	}, nil
}

func (l *MemoryLimiter) Clear(_ context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, identifier)
	return nil
}

// ClearAll drops all state. Testing hook.
func (l *MemoryLimiter) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*entry)
}

// Sweep evicts identifiers whose window and block have both lapsed,
// bounding memory. maxAge should be at least the largest policy window in
// use. Returns the number of evicted entries.
func (l *MemoryLimiter) Sweep(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-maxAge)
	evicted := 0
	for id, e := range l.entries {
		stale := true
		for _, ts := range e.timestamps {
			if ts.After(cutoff) {
				stale = false
				break
			}
		}
		if stale && (!e.blocked || e.blockedUntil.Before(now)) {
			delete(l.entries, id)
			evicted++
		}
	}
	return evicted
}
