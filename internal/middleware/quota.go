package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/aeluslabs/tenantgate/internal/domain"
	"github.com/aeluslabs/tenantgate/internal/metrics"
	"github.com/aeluslabs/tenantgate/internal/quota"
	"github.com/aeluslabs/tenantgate/internal/ratelimit"
	"github.com/aeluslabs/tenantgate/internal/telemetry"
	"github.com/aeluslabs/tenantgate/internal/tenantctx"
)

// rateLimitWindow is the fixed accounting window for the per-tenant QPS
// limiter.
const rateLimitWindow = 60 * time.Second

// excludedSuffixes skip rate limiting entirely. Monitoring and usage
// reads must stay reachable for a tenant that is already throttled.
var excludedSuffixes = []string{
	"/health",
	"/metrics",
	"/usage",
}

// Quota enforces the per-tenant request rate and records api_calls usage.
// It runs after Auth and only acts when a tenant context is present.
type Quota struct {
	ledger  quota.Ledger
	limiter ratelimit.Limiter

	// QPSOverride, when positive, takes precedence over the tenant's
	// cached limit. Used for load tests and emergency throttling.
	QPSOverride int64
}

func NewQuota(ledger quota.Ledger, limiter ratelimit.Limiter) *Quota {
	return &Quota{ledger: ledger, limiter: limiter}
}

func (q *Quota) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := tenantctx.From(r.Context())
		if rc == nil || q.isExcluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := telemetry.StartSpan(r.Context(), "gate.ratelimit")
		defer span.End()
		r = r.WithContext(ctx)

		tenantID := rc.TenantID.String()
		telemetry.AddRequestAttributes(span, tenantID, r.URL.Path, rc.RequestID)

		maxRequests := q.QPSOverride
		if maxRequests <= 0 {
			maxRequests = q.ledger.GetQPSLimit(ctx, tenantID, quota.DefaultQPS)
		}

		key := tenantctx.RateLimitKey(tenantID, "api:qps")
		allowed, remaining := q.limiter.CheckRateLimit(ctx, key, maxRequests, rateLimitWindow)
		resetIn := q.limiter.RetryAfter(ctx, key)
		resetSec := int64(math.Ceil(resetIn.Seconds()))
		telemetry.AddRateLimitAttributes(span, maxRequests, remaining)

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(maxRequests, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetSec, 10))

		if !allowed {
			slog.Warn("rate limit exceeded",
				"tenant_id", tenantID,
				"path", r.URL.Path,
				"limit", maxRequests,
				"retry_after_s", resetSec,
				"request_id", rc.RequestID,
			)
			metrics.RecordRateLimitHit(tenantID)
			telemetry.AddErrorAttribute(span, domain.ErrRateLimitExceeded)
			w.Header().Set("Retry-After", strconv.FormatInt(resetSec, 10))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"detail":      domain.ErrRateLimitExceeded.Error(),
				"retry_after": resetSec,
				"remaining":   remaining,
			})
			return
		}

		// Reporting only. A failed increment never fails the request.
		if _, err := q.ledger.Increment(r.Context(), tenantID, domain.ResourceAPICalls, 1); err != nil {
			slog.Warn("api_calls increment failed",
				"tenant_id", tenantID,
				"error", err,
				"request_id", rc.RequestID,
			)
		}
		start := time.Now()
		next.ServeHTTP(w, r)
		metrics.RecordAPICall(tenantID, r.URL.Path, r.Method, time.Since(start).Seconds())
	})
}

func (q *Quota) isExcluded(path string) bool {
	for _, suffix := range excludedSuffixes {
		if len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}
