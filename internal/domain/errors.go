package domain

import "errors"

var (
	ErrTokenExpired      = errors.New("token has expired")
	ErrTokenInvalid      = errors.New("invalid token")
	ErrTenantNotFound    = errors.New("tenant not found")
	ErrTenantInactive    = errors.New("tenant is inactive")
	ErrTenantDeleted     = errors.New("tenant has been deleted")
	ErrTenantMismatch    = errors.New("tenant ID in token does not match X-Tenant-ID header")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrTenantScope       = errors.New("tenant isolation failed")
	ErrStorageScope      = errors.New("query is not scoped to the calling tenant")
	ErrInvalidQuota      = errors.New("invalid quota value")

	// ErrCircuitBreakerOpen is returned by outbound delivery guards when a
	// target has failed repeatedly and calls are being shed.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)
