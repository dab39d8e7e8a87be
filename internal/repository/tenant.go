// Package repository provides the tenant directory and the row-level
// security session scope for tenant-scoped relational access.
package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aeluslabs/tenantgate/internal/domain"
	"github.com/aeluslabs/tenantgate/internal/security"
)

// TenantDirectory looks up tenant records. Lookups return the record even
// when the tenant is inactive or soft-deleted; callers decide how to treat
// those states (the authentication gate maps them to distinct 403 reasons).
type TenantDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.Tenant, error)
	Create(ctx context.Context, tenant *domain.Tenant) error
	Update(ctx context.Context, tenant *domain.Tenant) error
	UpdateQuotas(ctx context.Context, id uuid.UUID, quotas map[string]int64) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*domain.Tenant, error)
}

// InMemoryTenantDirectory is a map-backed directory for single-instance
// runs and tests.
type InMemoryTenantDirectory struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]*domain.Tenant
	byKey   map[string]uuid.UUID
}

func NewInMemoryTenantDirectory() *InMemoryTenantDirectory {
	return &InMemoryTenantDirectory{
		tenants: make(map[uuid.UUID]*domain.Tenant),
		byKey:   make(map[string]uuid.UUID),
	}
}

func (d *InMemoryTenantDirectory) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tenant, ok := d.tenants[id]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	copied := *tenant
	return &copied, nil
}

func (d *InMemoryTenantDirectory) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byKey[security.HashAPIKey(apiKey)]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	copied := *d.tenants[id]
	return &copied, nil
}

func (d *InMemoryTenantDirectory) Create(ctx context.Context, tenant *domain.Tenant) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	copied := *tenant
	d.tenants[tenant.ID] = &copied
	d.byKey[tenant.APIKeyHash] = tenant.ID
	return nil
}

func (d *InMemoryTenantDirectory) Update(ctx context.Context, tenant *domain.Tenant) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.tenants[tenant.ID]
	if !ok {
		return domain.ErrTenantNotFound
	}
	delete(d.byKey, existing.APIKeyHash)

	copied := *tenant
	copied.UpdatedAt = time.Now()
	d.tenants[tenant.ID] = &copied
	d.byKey[copied.APIKeyHash] = tenant.ID
	return nil
}

func (d *InMemoryTenantDirectory) UpdateQuotas(ctx context.Context, id uuid.UUID, quotas map[string]int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tenant, ok := d.tenants[id]
	if !ok {
		return domain.ErrTenantNotFound
	}
	if tenant.Quotas == nil {
		tenant.Quotas = make(map[string]int64)
	}
	for k, v := range quotas {
		tenant.Quotas[k] = v
	}
	tenant.UpdatedAt = time.Now()
	return nil
}

func (d *InMemoryTenantDirectory) SoftDelete(ctx context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tenant, ok := d.tenants[id]
	if !ok {
		return domain.ErrTenantNotFound
	}
	now := time.Now()
	tenant.DeletedAt = &now
	tenant.IsActive = false
	tenant.UpdatedAt = now
	return nil
}

func (d *InMemoryTenantDirectory) List(ctx context.Context) ([]*domain.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*domain.Tenant, 0, len(d.tenants))
	for _, tenant := range d.tenants {
		copied := *tenant
		out = append(out, &copied)
	}
	return out, nil
}
