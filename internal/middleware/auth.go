package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/aeluslabs/tenantgate/internal/domain"
	"github.com/aeluslabs/tenantgate/internal/metrics"
	"github.com/aeluslabs/tenantgate/internal/repository"
	"github.com/aeluslabs/tenantgate/internal/tenantctx"
	"github.com/aeluslabs/tenantgate/internal/token"
)

const tenantIDHeader = "X-Tenant-ID"

// publicPaths pass through the gate untouched. Exact matches plus prefix
// matches for trailing-slash entries.
var publicPaths = []string{
	"/",
	"/health",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/auth/token",
	"/admin/",
}

// Auth resolves the calling tenant from a bearer token and the
// X-Tenant-ID header, cross-checks the two, loads the tenant record and
// publishes the result on the request context. It is the single place a
// request's tenant identity is decided.
type Auth struct {
	codec     *token.Codec
	directory repository.TenantDirectory
	public    []string
}

func NewAuth(codec *token.Codec, directory repository.TenantDirectory) *Auth {
	return &Auth{codec: codec, directory: directory, public: publicPaths}
}

func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		requestID := r.Header.Get(requestIDHeader)

		tokenStr := bearerToken(r)
		if tokenStr == "" {
			metrics.RecordAuthFailure("missing_token")
			writeDetail(w, http.StatusUnauthorized, "missing or malformed Authorization header")
			return
		}

		headerTenant := r.Header.Get(tenantIDHeader)
		if headerTenant == "" {
			metrics.RecordAuthFailure("missing_tenant_header")
			writeDetail(w, http.StatusBadRequest, "missing X-Tenant-ID header")
			return
		}
		tenantID, err := uuid.Parse(headerTenant)
		if err != nil {
			metrics.RecordAuthFailure("malformed_tenant_header")
			writeDetail(w, http.StatusBadRequest, "X-Tenant-ID must be a valid UUID")
			return
		}

		claims, err := a.codec.Decode(tokenStr)
		if err != nil {
			if errors.Is(err, domain.ErrTokenExpired) {
				metrics.RecordAuthFailure("token_expired")
				writeDetail(w, http.StatusUnauthorized, domain.ErrTokenExpired.Error())
				return
			}
			metrics.RecordAuthFailure("token_invalid")
			writeDetail(w, http.StatusUnauthorized, domain.ErrTokenInvalid.Error())
			return
		}

		if claims.TenantID != tenantID {
			slog.Warn("tenant header does not match token claim",
				"header_tenant_id", tenantID,
				"claim_tenant_id", claims.TenantID,
				"request_id", requestID,
			)
			metrics.RecordAuthFailure("tenant_mismatch")
			writeDetail(w, http.StatusForbidden, domain.ErrTenantMismatch.Error())
			return
		}

		tenant, err := a.directory.GetByID(r.Context(), tenantID)
		if err != nil {
			metrics.RecordAuthFailure("tenant_not_found")
			writeDetail(w, http.StatusForbidden, domain.ErrTenantNotFound.Error())
			return
		}
		if tenant.DeletedAt != nil {
			metrics.RecordAuthFailure("tenant_deleted")
			writeDetail(w, http.StatusForbidden, domain.ErrTenantDeleted.Error())
			return
		}
		if !tenant.IsActive {
			metrics.RecordAuthFailure("tenant_inactive")
			writeDetail(w, http.StatusForbidden, domain.ErrTenantInactive.Error())
			return
		}

		rc := &tenantctx.RequestContext{
			Tenant:    tenant,
			TenantID:  tenantID,
			UserID:    claims.UserID,
			RequestID: requestID,
		}
		next.ServeHTTP(w, r.WithContext(tenantctx.With(r.Context(), rc)))
	})
}

func (a *Auth) isPublic(path string) bool {
	for _, p := range a.public {
		if path == p {
			return true
		}
		if strings.HasSuffix(p, "/") && p != "/" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}
