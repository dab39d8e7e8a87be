package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_api_calls_total",
			Help: "Total number of authenticated API calls",
		},
		[]string{"tenant_id", "endpoint", "method"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantgate_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"tenant_id", "endpoint", "method"},
	)

	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_auth_failures_total",
			Help: "Total number of rejected authentication attempts",
		},
		[]string{"reason"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"tenant_id"},
	)

	QuotaDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_quota_denials_total",
			Help: "Total number of operations denied by quota enforcement",
		},
		[]string{"tenant_id", "resource"},
	)

	ScopeViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_scope_violations_total",
			Help: "Storage queries rejected for missing or mismatched tenant scope",
		},
		[]string{"tenant_id"},
	)

	QuotaUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenantgate_quota_usage",
			Help: "Last observed usage counter value per tenant resource",
		},
		[]string{"tenant_id", "resource"},
	)
)

func RecordAPICall(tenantID, endpoint, method string, durationSec float64) {
	APICallsTotal.WithLabelValues(tenantID, endpoint, method).Inc()
	RequestDuration.WithLabelValues(tenantID, endpoint, method).Observe(durationSec)
}

func RecordAuthFailure(reason string) {
	AuthFailuresTotal.WithLabelValues(reason).Inc()
}

func RecordRateLimitHit(tenantID string) {
	RateLimitHits.WithLabelValues(tenantID).Inc()
}

func RecordQuotaDenial(tenantID, resource string) {
	QuotaDenials.WithLabelValues(tenantID, resource).Inc()
}

func RecordScopeViolation(tenantID string) {
	ScopeViolations.WithLabelValues(tenantID).Inc()
}

func SetQuotaUsage(tenantID, resource string, value int64) {
	QuotaUsage.WithLabelValues(tenantID, resource).Set(float64(value))
}
