// Package tenantctx carries the resolved tenant identity through a request.
// The context entry is created by the authentication middleware and is the
// single authoritative source of tenant identity for every later check in
// the same request. It is never stored outside the request's context.
package tenantctx

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/aeluslabs/tenantgate/internal/domain"
)

type contextKey struct{}

// RequestContext is the per-request resolved tenant state.
type RequestContext struct {
	Tenant    *domain.Tenant
	TenantID  uuid.UUID
	UserID    *uuid.UUID
	RequestID string
}

// With returns a child context carrying rc.
func With(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// From returns the request tenant context, or nil if the request was not
// authenticated (public paths).
func From(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rc
}

// TenantID returns the resolved tenant id and whether one is set.
func TenantID(ctx context.Context) (uuid.UUID, bool) {
	rc := From(ctx)
	if rc == nil {
		return uuid.Nil, false
	}
	return rc.TenantID, true
}

// Key builds a tenant-namespaced Redis key: tenant:{id}:{kind}:{parts...}.
func Key(tenantID, kind string, parts ...string) string {
	elems := append([]string{"tenant", tenantID, kind}, parts...)
	return strings.Join(elems, ":")
}

// QuotaKey is the counter/limit key for one tenant resource.
func QuotaKey(tenantID, resource string) string {
	return Key(tenantID, "quota", resource)
}

// RateLimitKey is the fixed-window counter key for one tenant limiter.
func RateLimitKey(tenantID, name string) string {
	return Key(tenantID, "ratelimit", name)
}
