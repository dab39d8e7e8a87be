package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aeluslabs/tenantgate/internal/domain"
)

// WithTenant runs fn inside a transaction whose session-local
// app.current_tenant_id variable is set to tenantID before any statement
// in fn executes. Row-level-security policies on tenant-scoped tables
// compare against this variable, so every query inside fn is provably
// scoped to the tenant.
//
// set_config is called with is_local=true: the setting dies with the
// transaction, so pooled connections can never leak a tenant into a later
// request. Failure to set the variable denies the whole operation.
func WithTenant(ctx context.Context, db *sql.DB, tenantID uuid.UUID, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tenant transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`SELECT set_config('app.current_tenant_id', $1, true)`,
		tenantID.String(),
	); err != nil {
		slog.Error("failed to set tenant context, denying database access",
			"tenant_id", tenantID.String(),
			"error", err,
		)
		_ = tx.Rollback()
		return fmt.Errorf("%w: %v", domain.ErrTenantScope, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tenant transaction: %w", err)
	}
	return nil
}

// WithoutTenant runs fn in a transaction with no tenant context set.
// Only provisioning-style operations may use it: the RLS policies on the
// tenants table fall back to allow exactly when the session variable is
// unset, and every other tenant-scoped table stays default-deny.
func WithoutTenant(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin admin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit admin transaction: %w", err)
	}
	return nil
}
