package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aeluslabs/tenantgate/internal/domain"
	"github.com/aeluslabs/tenantgate/internal/notifications"
	"github.com/aeluslabs/tenantgate/internal/quota"
	"github.com/aeluslabs/tenantgate/internal/repository"
	"github.com/aeluslabs/tenantgate/internal/security"
)

// AdminHandler provisions and manages tenants. It sits outside the
// tenant auth gate; when SecretHash is set every request must carry the
// operator secret in X-Admin-Secret.
type AdminHandler struct {
	directory  repository.TenantDirectory
	ledger     quota.Ledger
	notifier   notifications.Notifier
	secretHash string
	maxLimits  map[string]int64
	cacheTTL   time.Duration
	mux        *http.ServeMux
}

type AdminConfig struct {
	Directory  repository.TenantDirectory
	Ledger     quota.Ledger
	Notifier   notifications.Notifier
	SecretHash string
	MaxLimits  map[string]int64
	CacheTTL   time.Duration
}

func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = quota.DefaultLimitsTTL
	}

	h := &AdminHandler{
		directory:  cfg.Directory,
		ledger:     cfg.Ledger,
		notifier:   cfg.Notifier,
		secretHash: cfg.SecretHash,
		maxLimits:  cfg.MaxLimits,
		cacheTTL:   cacheTTL,
		mux:        http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /admin/tenants", h.listTenants)
	h.mux.HandleFunc("POST /admin/tenants", h.createTenant)
	h.mux.HandleFunc("GET /admin/tenants/{id}", h.getTenant)
	h.mux.HandleFunc("PUT /admin/tenants/{id}/quotas", h.updateQuotas)
	h.mux.HandleFunc("DELETE /admin/tenants/{id}", h.deleteTenant)
	h.mux.HandleFunc("POST /admin/tenants/{id}/rotate-key", h.rotateAPIKey)

	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// No configured hash means no way to authenticate an operator, so
	// every admin call is refused rather than allowed through.
	if h.secretHash == "" {
		writeError(w, http.StatusServiceUnavailable, "admin API disabled: no admin secret configured")
		return
	}
	if !security.VerifyAdminSecret(r.Header.Get("X-Admin-Secret"), h.secretHash) {
		writeError(w, http.StatusUnauthorized, "invalid admin secret")
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) listTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.directory.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tenants")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tenants": tenants,
		"count":   len(tenants),
	})
}

type createTenantRequest struct {
	Name       string           `json:"name"`
	WebhookURL string           `json:"webhook_url,omitempty"`
	Quotas     map[string]int64 `json:"quotas,omitempty"`
}

// createTenant provisions a tenant and returns the generated API key.
// The key is shown exactly once; only its hash is stored.
func (h *AdminHandler) createTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	quotas := domain.DefaultQuotas()
	if len(req.Quotas) > 0 {
		validated, err := quota.ValidateQuotaUpdates(req.Quotas, h.maxLimits)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		for k, v := range validated {
			quotas[k] = v
		}
	}

	apiKey, err := security.GenerateAPIKey()
	if err != nil {
		slog.Error("api key generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create tenant")
		return
	}

	now := time.Now().UTC()
	tenant := &domain.Tenant{
		ID:         uuid.New(),
		Name:       req.Name,
		APIKeyHash: security.HashAPIKey(apiKey),
		WebhookURL: req.WebhookURL,
		Quotas:     quotas,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.directory.Create(ctx, tenant); err != nil {
		slog.Error("failed to create tenant", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create tenant")
		return
	}

	h.refreshLimitsCache(r, tenant.ID, quotas)
	h.notify(ctx, notifications.Notification{
		Type:     notifications.NotificationTenantCreated,
		TenantID: tenant.ID.String(),
		Message:  "tenant provisioned",
	})

	slog.Info("tenant created", "tenant_id", tenant.ID, "name", tenant.Name)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tenant":  tenant,
		"api_key": apiKey,
	})
}

func (h *AdminHandler) getTenant(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	tenant, err := h.directory.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tenant)
}

// updateQuotas merges the supplied quota values into the tenant record
// and refreshes the Redis limits cache so the new values take effect
// without waiting for the old cache entry to expire.
func (h *AdminHandler) updateQuotas(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	var updates map[string]int64
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	validated, err := quota.ValidateQuotaUpdates(updates, h.maxLimits)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(validated) == 0 {
		writeError(w, http.StatusBadRequest, "no recognized quota keys in request")
		return
	}

	if err := h.directory.UpdateQuotas(ctx, id, validated); err != nil {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}

	tenant, err := h.directory.GetByID(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reload tenant")
		return
	}
	h.refreshLimitsCache(r, id, tenant.Quotas)

	slog.Info("tenant quotas updated", "tenant_id", id, "quotas", validated)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tenant)
}

func (h *AdminHandler) deleteTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	if err := h.directory.SoftDelete(ctx, id); err != nil {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}

	h.notify(ctx, notifications.Notification{
		Type:     notifications.NotificationTenantDeleted,
		TenantID: id.String(),
		Message:  "tenant soft-deleted",
	})

	slog.Info("tenant deleted", "tenant_id", id)

	w.WriteHeader(http.StatusNoContent)
}

// rotateAPIKey issues a fresh key and invalidates the old one. As with
// provisioning, the plaintext key appears only in this response.
func (h *AdminHandler) rotateAPIKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	tenant, err := h.directory.GetByID(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}

	apiKey, err := security.GenerateAPIKey()
	if err != nil {
		slog.Error("api key generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to rotate API key")
		return
	}

	tenant.APIKeyHash = security.HashAPIKey(apiKey)
	tenant.UpdatedAt = time.Now().UTC()

	if err := h.directory.Update(ctx, tenant); err != nil {
		slog.Error("failed to rotate API key", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to rotate API key")
		return
	}

	slog.Info("API key rotated", "tenant_id", tenant.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"api_key": apiKey,
	})
}

func (h *AdminHandler) refreshLimitsCache(r *http.Request, id uuid.UUID, limits map[string]int64) {
	if err := h.ledger.SetLimits(r.Context(), id.String(), limits, h.cacheTTL); err != nil {
		slog.Warn("limits cache refresh failed", "tenant_id", id, "error", err)
	}
}

func (h *AdminHandler) notify(ctx context.Context, note notifications.Notification) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.Send(ctx, note); err != nil {
		slog.Warn("admin notification failed", "type", note.Type, "error", err)
	}
}
