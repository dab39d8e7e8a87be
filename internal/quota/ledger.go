// Package quota tracks per-tenant usage counters and cached quota limits.
// Counters are monotonic (api_calls, vector_count, storage_bytes) and have
// no TTL; they persist until an administrative reset. The check-then-
// increment primitive is atomic and fails closed: when the backend is
// unavailable the operation is denied rather than risking quota bypass.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aeluslabs/tenantgate/internal/domain"
	"github.com/aeluslabs/tenantgate/internal/tenantctx"
)

// DefaultQPS is the hard fallback when no cached or explicit limit exists.
const DefaultQPS = 50

// DefaultLimitsTTL bounds how long cached limits may lag the tenant record.
const DefaultLimitsTTL = 5 * time.Minute

// Ledger defines the quota accounting backend.
type Ledger interface {
	// GetUsage reads the three usage counters; missing counters read as zero.
	GetUsage(ctx context.Context, tenantID string) (domain.Usage, error)

	// Increment unconditionally adds amount to a counter and returns the new
	// value. Used for monotonic accounting where overshoot is acceptable.
	Increment(ctx context.Context, tenantID, resource string, amount int64) (int64, error)

	// CheckAndIncrement atomically increments the counter only if the result
	// stays within limit. Returns (allowed, new value) on success and
	// (false, current value) on denial. On any backend failure it returns
	// (false, 0): denial is favored over quota bypass.
	CheckAndIncrement(ctx context.Context, tenantID, resource string, amount, limit int64) (bool, int64)

	// GetLimits returns the cached limits for a tenant. An empty map is a
	// cache miss, not an error; callers fall back to defaults.
	GetLimits(ctx context.Context, tenantID string) (map[string]int64, error)

	// SetLimits caches the authoritative limits with a TTL.
	SetLimits(ctx context.Context, tenantID string, limits map[string]int64, ttl time.Duration) error

	// GetQPSLimit reads the cached qps limit, falling back to def on any
	// error or absence.
	GetQPSLimit(ctx context.Context, tenantID string, def int64) int64

	// Reset clears a counter (administrative use only).
	Reset(ctx context.Context, tenantID, resource string) error
}

// ValidateQuotaUpdates normalizes an admin quota update. Unknown keys are
// dropped; values must lie within [0, max] for their resource.
func ValidateQuotaUpdates(updates, maxLimits map[string]int64) (map[string]int64, error) {
	allowed := map[string]bool{
		domain.QuotaVectors:   true,
		domain.QuotaQPS:       true,
		domain.QuotaStorageGB: true,
		domain.QuotaRepos:     true,
	}

	normalized := make(map[string]int64)
	for k, v := range updates {
		if !allowed[k] {
			continue
		}
		max := maxLimits[k]
		if v < 0 || v > max {
			return nil, fmt.Errorf("%w: %s=%d out of bounds [0, %d]", domain.ErrInvalidQuota, k, v, max)
		}
		normalized[k] = v
	}
	return normalized, nil
}

// InMemoryLedger implements Ledger with process-local state. Suitable for
// single-instance deployments and tests.
type InMemoryLedger struct {
	mu       sync.Mutex
	counters map[string]int64
	limits   map[string]cachedLimits
}

type cachedLimits struct {
	limits    map[string]int64
	expiresAt time.Time
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		counters: make(map[string]int64),
		limits:   make(map[string]cachedLimits),
	}
}

func (l *InMemoryLedger) GetUsage(ctx context.Context, tenantID string) (domain.Usage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return domain.Usage{
		APICalls:     l.counters[tenantctx.QuotaKey(tenantID, domain.ResourceAPICalls)],
		VectorCount:  l.counters[tenantctx.QuotaKey(tenantID, domain.ResourceVectorCount)],
		StorageBytes: l.counters[tenantctx.QuotaKey(tenantID, domain.ResourceStorageBytes)],
	}, nil
}

func (l *InMemoryLedger) Increment(ctx context.Context, tenantID, resource string, amount int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := tenantctx.QuotaKey(tenantID, resource)
	l.counters[key] += amount
	return l.counters[key], nil
}

func (l *InMemoryLedger) CheckAndIncrement(ctx context.Context, tenantID, resource string, amount, limit int64) (bool, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := tenantctx.QuotaKey(tenantID, resource)
	current := l.counters[key]
	next := current + amount
	if next > limit {
		return false, current
	}
	l.counters[key] = next
	return true, next
}

func (l *InMemoryLedger) GetLimits(ctx context.Context, tenantID string) (map[string]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cached, ok := l.limits[tenantID]
	if !ok || time.Now().After(cached.expiresAt) {
		return map[string]int64{}, nil
	}

	out := make(map[string]int64, len(cached.limits))
	for k, v := range cached.limits {
		out[k] = v
	}
	return out, nil
}

func (l *InMemoryLedger) SetLimits(ctx context.Context, tenantID string, limits map[string]int64, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := make(map[string]int64, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	l.limits[tenantID] = cachedLimits{limits: copied, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (l *InMemoryLedger) GetQPSLimit(ctx context.Context, tenantID string, def int64) int64 {
	limits, err := l.GetLimits(ctx, tenantID)
	if err != nil {
		return def
	}
	if qps, ok := limits[domain.QuotaQPS]; ok {
		return qps
	}
	return def
}

func (l *InMemoryLedger) Reset(ctx context.Context, tenantID, resource string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.counters, tenantctx.QuotaKey(tenantID, resource))
	return nil
}
