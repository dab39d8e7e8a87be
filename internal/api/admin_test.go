package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/aeluslabs/tenantgate/internal/domain"
	"github.com/aeluslabs/tenantgate/internal/notifications"
	"github.com/aeluslabs/tenantgate/internal/quota"
	"github.com/aeluslabs/tenantgate/internal/repository"
	"github.com/aeluslabs/tenantgate/internal/security"
)

const testAdminSecret = "test-admin-secret"

// Hashed once; bcrypt per test would dominate the suite's runtime.
var testAdminHash = func() string {
	hash, err := security.HashAdminSecret(testAdminSecret)
	if err != nil {
		panic(err)
	}
	return hash
}()

func newTestAdmin() (*AdminHandler, *repository.InMemoryTenantDirectory, *quota.InMemoryLedger, *notifications.InMemoryNotifier) {
	directory := repository.NewInMemoryTenantDirectory()
	ledger := quota.NewInMemoryLedger()
	notifier := notifications.NewInMemoryNotifier()
	h := NewAdminHandler(AdminConfig{
		Directory:  directory,
		Ledger:     ledger,
		Notifier:   notifier,
		SecretHash: testAdminHash,
		MaxLimits: map[string]int64{
			"vectors":    10_000_000,
			"qps":        1000,
			"storage_gb": 1000,
			"repos":      500,
		},
	})
	return h, directory, ledger, notifier
}

func doAdmin(h *AdminHandler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("X-Admin-Secret", testAdminSecret)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createTestTenant(t *testing.T, h *AdminHandler) (uuid.UUID, string) {
	t.Helper()
	rec := doAdmin(h, http.MethodPost, "/admin/tenants", strings.NewReader(`{"name": "acme"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Tenant domain.Tenant `json:"tenant"`
		APIKey string        `json:"api_key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	return body.Tenant.ID, body.APIKey
}

func TestAdmin_CreateTenant(t *testing.T) {
	h, directory, ledger, notifier := newTestAdmin()

	id, apiKey := createTestTenant(t, h)
	if !strings.HasPrefix(apiKey, "aelus_") {
		t.Fatalf("api key missing prefix: %q", apiKey)
	}

	tenant, err := directory.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if !tenant.IsActive {
		t.Error("new tenant must be active")
	}
	if tenant.APIKeyHash == "" || tenant.APIKeyHash == apiKey {
		t.Error("plaintext key must not be stored")
	}
	if tenant.Quotas[domain.QuotaVectors] != 500000 {
		t.Errorf("default vectors quota = %d", tenant.Quotas[domain.QuotaVectors])
	}

	// Key lookup must work through the stored hash.
	if _, err := directory.GetByAPIKey(context.Background(), apiKey); err != nil {
		t.Errorf("GetByAPIKey failed: %v", err)
	}

	limits, err := ledger.GetLimits(context.Background(), id.String())
	if err != nil {
		t.Fatal(err)
	}
	if limits[domain.QuotaQPS] != 50 {
		t.Errorf("limits cache not primed: %v", limits)
	}

	sent := notifier.GetNotifications()
	if len(sent) != 1 || sent[0].Type != notifications.NotificationTenantCreated {
		t.Errorf("creation notification missing: %+v", sent)
	}
}

func TestAdmin_CreateTenant_CustomQuotas(t *testing.T) {
	h, directory, _, _ := newTestAdmin()

	rec := doAdmin(h, http.MethodPost, "/admin/tenants",
		strings.NewReader(`{"name": "acme", "quotas": {"qps": 100, "unknown_key": 5}}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", rec.Code)
	}

	var body struct {
		Tenant domain.Tenant `json:"tenant"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}

	tenant, err := directory.GetByID(context.Background(), body.Tenant.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tenant.Quotas[domain.QuotaQPS] != 100 {
		t.Errorf("qps = %d, want 100", tenant.Quotas[domain.QuotaQPS])
	}
	if _, ok := tenant.Quotas["unknown_key"]; ok {
		t.Error("unknown quota keys must be dropped")
	}
	// Unspecified quotas keep their defaults.
	if tenant.Quotas[domain.QuotaRepos] != 10 {
		t.Errorf("repos = %d, want default 10", tenant.Quotas[domain.QuotaRepos])
	}
}

func TestAdmin_CreateTenant_RejectsOverMax(t *testing.T) {
	h, _, _, _ := newTestAdmin()

	rec := doAdmin(h, http.MethodPost, "/admin/tenants",
		strings.NewReader(`{"name": "acme", "quotas": {"qps": 999999}}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for quota above maximum, got %d", rec.Code)
	}
}

func TestAdmin_CreateTenant_RequiresName(t *testing.T) {
	h, _, _, _ := newTestAdmin()

	rec := doAdmin(h, http.MethodPost, "/admin/tenants", strings.NewReader(`{}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAdmin_UpdateQuotas(t *testing.T) {
	h, directory, ledger, _ := newTestAdmin()
	id, _ := createTestTenant(t, h)

	rec := doAdmin(h, http.MethodPut, "/admin/tenants/"+id.String()+"/quotas",
		strings.NewReader(`{"qps": 200}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("update failed: %d %s", rec.Code, rec.Body.String())
	}

	tenant, err := directory.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if tenant.Quotas[domain.QuotaQPS] != 200 {
		t.Errorf("qps = %d, want 200", tenant.Quotas[domain.QuotaQPS])
	}
	// Partial update must not clobber other keys.
	if tenant.Quotas[domain.QuotaVectors] != 500000 {
		t.Errorf("vectors = %d, want 500000", tenant.Quotas[domain.QuotaVectors])
	}

	limits, err := ledger.GetLimits(context.Background(), id.String())
	if err != nil {
		t.Fatal(err)
	}
	if limits[domain.QuotaQPS] != 200 {
		t.Errorf("limits cache stale: %v", limits)
	}
}

func TestAdmin_UpdateQuotas_NoRecognizedKeys(t *testing.T) {
	h, _, _, _ := newTestAdmin()
	id, _ := createTestTenant(t, h)

	rec := doAdmin(h, http.MethodPut, "/admin/tenants/"+id.String()+"/quotas",
		strings.NewReader(`{"bogus": 1}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAdmin_DeleteTenant(t *testing.T) {
	h, directory, _, notifier := newTestAdmin()
	id, _ := createTestTenant(t, h)

	rec := doAdmin(h, http.MethodDelete, "/admin/tenants/"+id.String(), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	// Soft delete: record stays readable but unusable.
	tenant, err := directory.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if tenant.Usable() {
		t.Error("deleted tenant must not be usable")
	}
	if tenant.DeletedAt == nil {
		t.Error("deleted_at not set")
	}

	var sawDeleted bool
	for _, note := range notifier.GetNotifications() {
		if note.Type == notifications.NotificationTenantDeleted {
			sawDeleted = true
		}
	}
	if !sawDeleted {
		t.Error("deletion notification missing")
	}
}

func TestAdmin_RotateAPIKey(t *testing.T) {
	h, directory, _, _ := newTestAdmin()
	id, oldKey := createTestTenant(t, h)

	rec := doAdmin(h, http.MethodPost, "/admin/tenants/"+id.String()+"/rotate-key", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rotate failed: %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	newKey := body["api_key"]
	if newKey == "" || newKey == oldKey {
		t.Fatalf("rotation returned bad key: %q", newKey)
	}

	ctx := context.Background()
	if _, err := directory.GetByAPIKey(ctx, newKey); err != nil {
		t.Errorf("new key should resolve: %v", err)
	}
	if _, err := directory.GetByAPIKey(ctx, oldKey); err == nil {
		t.Error("old key must stop working after rotation")
	}
}

func TestAdmin_UnknownTenant(t *testing.T) {
	h, _, _, _ := newTestAdmin()
	missing := uuid.New().String()

	paths := map[string]string{
		http.MethodGet:    "/admin/tenants/" + missing,
		http.MethodDelete: "/admin/tenants/" + missing,
	}
	for method, path := range paths {
		rec := doAdmin(h, method, path, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", method, path, rec.Code)
		}
	}
}

func TestAdmin_SecretRequired(t *testing.T) {
	h, _, _, _ := newTestAdmin()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", rec.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "/admin/tenants", nil)
	r.Header.Set("X-Admin-Secret", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong secret, got %d", rec.Code)
	}

	if rec := doAdmin(h, http.MethodGet, "/admin/tenants", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct secret, got %d", rec.Code)
	}
}

// A handler built without a secret hash must reject everything: there is
// no operator identity to verify, so the admin surface stays closed.
func TestAdmin_DisabledWithoutSecret(t *testing.T) {
	h := NewAdminHandler(AdminConfig{
		Directory: repository.NewInMemoryTenantDirectory(),
		Ledger:    quota.NewInMemoryLedger(),
	})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/admin/tenants", strings.NewReader(`{"name": "acme"}`)),
		httptest.NewRequest(http.MethodGet, "/admin/tenants", nil),
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: expected 503, got %d", req.Method, req.URL.Path, rec.Code)
		}
	}

	// Even the right header cannot open a handler with no configured hash.
	req := httptest.NewRequest(http.MethodPost, "/admin/tenants", strings.NewReader(`{"name": "acme"}`))
	req.Header.Set("X-Admin-Secret", "anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
