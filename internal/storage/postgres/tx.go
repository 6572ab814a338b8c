package postgres

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/tenantctx"
)

// The enforcement settings read by the row-level-security policies.
// set_config(..., is_local => true) is transaction-scoped: it resets when
// the transaction ends, so a pooled connection handed to the next request
// carries no tenant from the previous one.
const (
	setTenant = `SELECT set_config('app.tenant_id', $1, true)`
	setAdmin  = `SELECT set_config('app.is_admin', 'on', true)`
)

// withTenantTx requires an active tenant context, opens a transaction, binds
// the tenant to it, and runs fn. Commit and rollback are all-or-nothing with
// whatever fn writes (mutations and their audit entries included).
//
// The admin flag of the context is deliberately NOT applied here: an admin
// acting on their own data is scoped like anyone else. Row filtering is only
// lifted by withAdminTx, which audits the bypass.
func (db *DB) withTenantTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	if _, err = tx.Exec(ctx, setTenant, tc.TenantID.String()); err != nil {
		return fmt.Errorf("bind tenant: %w", err)
	}
	return fn(ctx, tx)
}

// withAdminTx lifts row filtering for one transaction. It fails closed for
// non-admin contexts and writes the admin-tagged audit entry in the same
// transaction, so an unaudited bypass cannot exist.
func (db *DB) withAdminTx(ctx context.Context, table string, op model.Operation, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tc, err := tenantctx.RequireAdmin(ctx)
	if err != nil {
		return err
	}

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	if _, err = tx.Exec(ctx, setTenant, tc.TenantID.String()); err != nil {
		return fmt.Errorf("bind tenant: %w", err)
	}
	if _, err = tx.Exec(ctx, setAdmin); err != nil {
		return fmt.Errorf("bind admin: %w", err)
	}

	actor := tc.TenantID
	if err = appendAudit(ctx, tx, model.AuditEntry{
		ActorUserID: &actor,
		TableName:   table,
		Operation:   op,
		AdminAction: true,
		ClientIP:    tenantctx.ClientIP(ctx),
	}); err != nil {
		return err
	}
	return fn(ctx, tx)
}

// withSystemTx is the privileged path for scheduled sweeps. It is not
// reachable from request handling: it ignores any tenant context and must
// only be wired to the sweep jobs. Row filtering is lifted via the same
// transaction-scoped setting as the admin path.
func (db *DB) withSystemTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	if _, err = tx.Exec(ctx, setAdmin); err != nil {
		return fmt.Errorf("bind system: %w", err)
	}
	return fn(ctx, tx)
}

// appendAudit writes one audit entry inside the caller's transaction.
// Mutations and their audit entries commit atomically or not at all.
func appendAudit(ctx context.Context, tx pgx.Tx, e model.AuditEntry) error {
	const q = `
INSERT INTO audit_entries (actor_user_id, table_name, operation, record_id, admin_action, client_ip)
VALUES ($1, $2, $3, $4, $5, $6)`
	var actor any
	if e.ActorUserID != nil {
		actor = *e.ActorUserID
	}
	_, err := tx.Exec(ctx, q, actor, e.TableName, string(e.Operation), e.RecordID, e.AdminAction, e.ClientIP)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}

// auditFor builds the audit entry for a tenant-scoped mutation.
func auditFor(ctx context.Context, table string, op model.Operation, recordID uuid.UUID) (model.AuditEntry, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		// unreachable after withTenantTx, but never write an unattributed entry
		return model.AuditEntry{}, errs.ErrNoTenant
	}
	actor := tc.TenantID
	return model.AuditEntry{
		ActorUserID: &actor,
		TableName:   table,
		Operation:   op,
		RecordID:    recordID.String(),
		ClientIP:    tenantctx.ClientIP(ctx),
	}, nil
}
