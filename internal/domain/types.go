package domain

import (
	"time"

	"github.com/google/uuid"
)

// Quota resource names tracked per tenant.
const (
	ResourceAPICalls     = "api_calls"
	ResourceVectorCount  = "vector_count"
	ResourceStorageBytes = "storage_bytes"
)

// Quota limit keys accepted in Tenant.Quotas.
const (
	QuotaVectors   = "vectors"
	QuotaQPS       = "qps"
	QuotaStorageGB = "storage_gb"
	QuotaRepos     = "repos"
)

// DefaultQuotas applied to newly provisioned tenants.
func DefaultQuotas() map[string]int64 {
	return map[string]int64{
		QuotaVectors:   500000,
		QuotaQPS:       50,
		QuotaStorageGB: 10,
		QuotaRepos:     10,
	}
}

type Tenant struct {
	ID         uuid.UUID              `json:"id"`
	Name       string                 `json:"name"`
	APIKeyHash string                 `json:"-"`
	WebhookURL string                 `json:"webhook_url,omitempty"`
	Quotas     map[string]int64       `json:"quotas"`
	Settings   map[string]interface{} `json:"settings"`
	IsActive   bool                   `json:"is_active"`
	DeletedAt  *time.Time             `json:"deleted_at,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Usable reports whether the tenant may serve authenticated requests.
func (t *Tenant) Usable() bool {
	return t.IsActive && t.DeletedAt == nil
}

// Usage is a point-in-time snapshot of a tenant's monotonic counters.
type Usage struct {
	APICalls     int64 `json:"api_calls"`
	VectorCount  int64 `json:"vector_count"`
	StorageBytes int64 `json:"storage_bytes"`
}
