// Package ratelimit provides per-tenant fixed-window request limiting.
// The counter for a key gets a TTL equal to the window on its first
// increment and resets implicitly when the key expires. A burst at a
// window boundary can momentarily permit up to ~2x the limit; this is an
// accepted trade-off for O(1) backend cost.
//
// Rate limiting is a protective control, not a security one: on backend
// failure the limiter fails open and allows the request. This is the
// deliberate opposite of the quota ledger's fail-closed policy.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// FallbackRetryAfter is used when the window TTL cannot be read.
const FallbackRetryAfter = 60 * time.Second

// Limiter defines the rate limiting backend.
type Limiter interface {
	// CheckRateLimit increments the counter for key and reports whether the
	// request fits in the current window, plus the remaining allowance.
	CheckRateLimit(ctx context.Context, key string, maxRequests int64, window time.Duration) (allowed bool, remaining int64)

	// RetryAfter returns the time until the current window resets, or
	// FallbackRetryAfter when the TTL cannot be determined.
	RetryAfter(ctx context.Context, key string) time.Duration

	// GetRemaining reads the remaining allowance without incrementing.
	GetRemaining(ctx context.Context, key string, maxRequests int64) int64

	// Reset clears the counter for key (administrative use).
	Reset(ctx context.Context, key string) error
}

// InMemoryLimiter implements fixed windows in process memory. Suitable for
// single-instance deployments and tests.
type InMemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int64
	resetAt time.Time
}

func NewInMemoryLimiter() *InMemoryLimiter {
	return &InMemoryLimiter{windows: make(map[string]*window)}
}

func (l *InMemoryLimiter) CheckRateLimit(ctx context.Context, key string, maxRequests int64, windowDur time.Duration) (bool, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(windowDur)}
		l.windows[key] = w
	}

	w.count++
	allowed := w.count <= maxRequests
	remaining := maxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}

func (l *InMemoryLimiter) RetryAfter(ctx context.Context, key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		return FallbackRetryAfter
	}
	ttl := time.Until(w.resetAt)
	if ttl <= 0 {
		return FallbackRetryAfter
	}
	return ttl
}

func (l *InMemoryLimiter) GetRemaining(ctx context.Context, key string, maxRequests int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || time.Now().After(w.resetAt) {
		return maxRequests
	}
	remaining := maxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (l *InMemoryLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.windows, key)
	return nil
}
