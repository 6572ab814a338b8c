package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/tenantctx"
)

// EntryRepo implements EntryRepository using PostgreSQL. All statements run
// inside tenant-bound transactions; the row-level-security policies do the
// actual filtering, so the SQL never needs (and never trusts) an owner
// predicate from the caller.
type EntryRepo struct{ db *DB }

// NewEntryRepo constructs an entry repository.
func NewEntryRepo(db *DB) *EntryRepo { return &EntryRepo{db: db} }

// tableFor maps a kind to its table. Kinds are a closed set; anything else
// is a programming error surfaced as an enforcement violation rather than
// interpolated into SQL.
func tableFor(kind model.EntryKind) (string, error) {
	switch kind {
	case model.KindMood, model.KindDream, model.KindTherapy:
		return string(kind), nil
	}
	return "", &errs.EnforcementViolation{Op: "entries", Detail: fmt.Sprintf("unknown kind %q", kind)}
}

// Create inserts an entry owned by the active tenant and its audit entry in
// one transaction. The owner comes from the context, never from the payload.
func (r *EntryRepo) Create(ctx context.Context, kind model.EntryKind, payload []byte) (*model.Entry, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	e := &model.Entry{ID: id, OwnerID: tc.TenantID, Kind: kind, Payload: payload, DeletionState: model.StateActive}
	err = r.db.withTenantTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		q := fmt.Sprintf(`
INSERT INTO %s (id, owner_id, payload)
VALUES ($1, $2, $3)
RETURNING created_at, updated_at`, table)
		if err := tx.QueryRow(ctx, q, id, tc.TenantID, payload).Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
			return err
		}
		ae, err := auditFor(ctx, table, model.OpCreate, id)
		if err != nil {
			return err
		}
		return appendAudit(ctx, tx, ae)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Get loads one of the tenant's entries. A foreign id scans zero rows under
// the row policies and comes back as ErrNotFound.
func (r *EntryRepo) Get(ctx context.Context, kind model.EntryKind, id uuid.UUID) (*model.Entry, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	var e model.Entry
	err = r.db.withTenantTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		q := fmt.Sprintf(`
SELECT id, owner_id, payload, deletion_state, deleted_at, created_at, updated_at
FROM %s WHERE id=$1 AND deletion_state='active'`, table)
		return scanEntry(tx.QueryRow(ctx, q, id), kind, &e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns the tenant's entries matching the filter, oldest first.
func (r *EntryRepo) List(ctx context.Context, kind model.EntryKind, f model.EntryFilter) ([]model.Entry, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	var out []model.Entry
	err = r.db.withTenantTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		q, args := listQuery(table, f)
		rows, err := tx.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = collectEntries(rows, kind)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update patches one of the tenant's entries. Foreign rows behave exactly
// like missing rows.
func (r *EntryRepo) Update(ctx context.Context, kind model.EntryKind, id uuid.UUID, patch model.EntryPatch) (*model.Entry, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if patch.Payload == nil {
		return nil, errs.Validation("payload", "empty patch")
	}
	var e model.Entry
	err = r.db.withTenantTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		q := fmt.Sprintf(`
UPDATE %s SET payload=$2, updated_at=now()
WHERE id=$1 AND deletion_state='active'
RETURNING id, owner_id, payload, deletion_state, deleted_at, created_at, updated_at`, table)
		if err := scanEntry(tx.QueryRow(ctx, q, id, patch.Payload), kind, &e); err != nil {
			return err
		}
		ae, err := auditFor(ctx, table, model.OpUpdate, id)
		if err != nil {
			return err
		}
		return appendAudit(ctx, tx, ae)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Delete soft-deletes one of the tenant's entries.
func (r *EntryRepo) Delete(ctx context.Context, kind model.EntryKind, id uuid.UUID) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	return r.db.withTenantTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		q := fmt.Sprintf(`
UPDATE %s SET deletion_state='soft_deleted', deleted_at=now(), updated_at=now()
WHERE id=$1 AND deletion_state='active'`, table)
		tag, err := tx.Exec(ctx, q, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotFound
		}
		ae, err := auditFor(ctx, table, model.OpDelete, id)
		if err != nil {
			return err
		}
		return appendAudit(ctx, tx, ae)
	})
}

// AdminListAll lists entries across all owners under an admin context. The
// bypass and its audit entry commit together.
func (r *EntryRepo) AdminListAll(ctx context.Context, kind model.EntryKind, f model.EntryFilter) ([]model.Entry, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	var out []model.Entry
	err = r.db.withAdminTx(ctx, table, model.OpRead, func(ctx context.Context, tx pgx.Tx) error {
		q, args := listQuery(table, f)
		rows, err := tx.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = collectEntries(rows, kind)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EraseOwner hard-deletes every entry of the active tenant across all kinds.
// Part of the GDPR erasure flow; the deletes are audited per table.
func (r *EntryRepo) EraseOwner(ctx context.Context) error {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	return r.db.withTenantTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, kind := range []model.EntryKind{model.KindMood, model.KindDream, model.KindTherapy} {
			table, err := tableFor(kind)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE owner_id=$1`, table), tc.TenantID); err != nil {
				return err
			}
			ae, err := auditFor(ctx, table, model.OpDelete, tc.TenantID)
			if err != nil {
				return err
			}
			if err := appendAudit(ctx, tx, ae); err != nil {
				return err
			}
		}
		return nil
	})
}

func listQuery(table string, f model.EntryFilter) (string, []any) {
	q := fmt.Sprintf(`
SELECT id, owner_id, payload, deletion_state, deleted_at, created_at, updated_at
FROM %s WHERE 1=1`, table)
	var args []any
	if !f.IncludeDeleted {
		q += ` AND deletion_state='active'`
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		q += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		q += fmt.Sprintf(` AND created_at < $%d`, len(args))
	}
	q += ` ORDER BY created_at ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return q, args
}

func scanEntry(row pgx.Row, kind model.EntryKind, e *model.Entry) error {
	var state string
	var deletedAt *time.Time
	err := row.Scan(&e.ID, &e.OwnerID, &e.Payload, &state, &deletedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}
	e.Kind = kind
	e.DeletionState = model.DeletionState(state)
	e.DeletedAt = deletedAt
	return nil
}

func collectEntries(rows pgx.Rows, kind model.EntryKind) ([]model.Entry, error) {
	var out []model.Entry
	for rows.Next() {
		var e model.Entry
		var state string
		var deletedAt *time.Time
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Payload, &state, &deletedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Kind = kind
		e.DeletionState = model.DeletionState(state)
		e.DeletedAt = deletedAt
		out = append(out, e)
	}
	return out, rows.Err()
}
