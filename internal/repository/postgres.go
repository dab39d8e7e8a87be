package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aeluslabs/tenantgate/internal/domain"
	"github.com/aeluslabs/tenantgate/internal/security"
)

const tenantColumns = `id, name, api_key_hash, webhook_url, quotas, settings, is_active, deleted_at, created_at, updated_at`

type PostgresTenantDirectory struct {
	db *sql.DB
}

func NewPostgresTenantDirectory(db *sql.DB) *PostgresTenantDirectory {
	return &PostgresTenantDirectory{db: db}
}

func (d *PostgresTenantDirectory) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return d.scanTenant(d.db.QueryRowContext(ctx, query, id))
}

func (d *PostgresTenantDirectory) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE api_key_hash = $1`
	return d.scanTenant(d.db.QueryRowContext(ctx, query, security.HashAPIKey(apiKey)))
}

func (d *PostgresTenantDirectory) scanTenant(row *sql.Row) (*domain.Tenant, error) {
	var tenant domain.Tenant
	var webhookURL sql.NullString
	var quotasRaw, settingsRaw []byte
	var deletedAt sql.NullTime

	err := row.Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.APIKeyHash,
		&webhookURL,
		&quotasRaw,
		&settingsRaw,
		&tenant.IsActive,
		&deletedAt,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant: %w", err)
	}

	if webhookURL.Valid {
		tenant.WebhookURL = webhookURL.String
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		tenant.DeletedAt = &t
	}
	if err := json.Unmarshal(quotasRaw, &tenant.Quotas); err != nil {
		return nil, fmt.Errorf("decode tenant quotas: %w", err)
	}
	if len(settingsRaw) > 0 {
		if err := json.Unmarshal(settingsRaw, &tenant.Settings); err != nil {
			return nil, fmt.Errorf("decode tenant settings: %w", err)
		}
	}

	return &tenant, nil
}

func (d *PostgresTenantDirectory) Create(ctx context.Context, tenant *domain.Tenant) error {
	quotasRaw, err := json.Marshal(tenant.Quotas)
	if err != nil {
		return fmt.Errorf("encode tenant quotas: %w", err)
	}
	settingsRaw, err := json.Marshal(tenant.Settings)
	if err != nil {
		return fmt.Errorf("encode tenant settings: %w", err)
	}

	query := `
		INSERT INTO tenants (id, name, api_key_hash, webhook_url, quotas, settings, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = d.db.ExecContext(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.APIKeyHash,
		sql.NullString{String: tenant.WebhookURL, Valid: tenant.WebhookURL != ""},
		quotasRaw,
		settingsRaw,
		tenant.IsActive,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (d *PostgresTenantDirectory) Update(ctx context.Context, tenant *domain.Tenant) error {
	quotasRaw, err := json.Marshal(tenant.Quotas)
	if err != nil {
		return fmt.Errorf("encode tenant quotas: %w", err)
	}
	settingsRaw, err := json.Marshal(tenant.Settings)
	if err != nil {
		return fmt.Errorf("encode tenant settings: %w", err)
	}

	query := `
		UPDATE tenants
		SET name = $2, api_key_hash = $3, webhook_url = $4, quotas = $5,
		    settings = $6, is_active = $7, updated_at = $8
		WHERE id = $1
	`
	result, err := d.db.ExecContext(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.APIKeyHash,
		sql.NullString{String: tenant.WebhookURL, Valid: tenant.WebhookURL != ""},
		quotasRaw,
		settingsRaw,
		tenant.IsActive,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

func (d *PostgresTenantDirectory) UpdateQuotas(ctx context.Context, id uuid.UUID, quotas map[string]int64) error {
	quotasRaw, err := json.Marshal(quotas)
	if err != nil {
		return fmt.Errorf("encode quotas: %w", err)
	}

	// Merge into the existing quota map so partial updates keep other keys.
	query := `
		UPDATE tenants
		SET quotas = quotas || $2::jsonb, updated_at = $3
		WHERE id = $1
	`
	result, err := d.db.ExecContext(ctx, query, id, quotasRaw, time.Now())
	if err != nil {
		return fmt.Errorf("update tenant quotas: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

func (d *PostgresTenantDirectory) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tenants
		SET is_active = false, deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`
	result, err := d.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("soft delete tenant: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

func (d *PostgresTenantDirectory) List(ctx context.Context) ([]*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY created_at DESC`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*domain.Tenant
	for rows.Next() {
		var tenant domain.Tenant
		var webhookURL sql.NullString
		var quotasRaw, settingsRaw []byte
		var deletedAt sql.NullTime

		err := rows.Scan(
			&tenant.ID,
			&tenant.Name,
			&tenant.APIKeyHash,
			&webhookURL,
			&quotasRaw,
			&settingsRaw,
			&tenant.IsActive,
			&deletedAt,
			&tenant.CreatedAt,
			&tenant.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}

		if webhookURL.Valid {
			tenant.WebhookURL = webhookURL.String
		}
		if deletedAt.Valid {
			t := deletedAt.Time
			tenant.DeletedAt = &t
		}
		if err := json.Unmarshal(quotasRaw, &tenant.Quotas); err != nil {
			return nil, fmt.Errorf("decode tenant quotas: %w", err)
		}
		if len(settingsRaw) > 0 {
			if err := json.Unmarshal(settingsRaw, &tenant.Settings); err != nil {
				return nil, fmt.Errorf("decode tenant settings: %w", err)
			}
		}

		tenants = append(tenants, &tenant)
	}
	return tenants, rows.Err()
}
