package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/tenantctx"
)

// AuditRepo implements AuditRepository using PostgreSQL. Entries are
// append-only; the only mutation is the suspicious flag set by FlagBursts.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

const auditColumns = `id, actor_user_id, table_name, operation, record_id, admin_action, flagged_suspicious, client_ip, created_at`

// Append writes one entry outside any transaction. Only the async read
// logger uses this; mutation audit rides the mutation's own transaction.
func (r *AuditRepo) Append(ctx context.Context, e model.AuditEntry) error {
	const q = `
INSERT INTO audit_entries (actor_user_id, table_name, operation, record_id, admin_action, client_ip)
VALUES ($1, $2, $3, $4, $5, $6)`
	var actor any
	if e.ActorUserID != nil {
		actor = *e.ActorUserID
	}
	_, err := r.db.pool.Exec(ctx, q, actor, e.TableName, string(e.Operation), e.RecordID, e.AdminAction, e.ClientIP)
	return err
}

// Query returns entries matching the filter, newest first. Admin only.
func (r *AuditRepo) Query(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
	if _, err := tenantctx.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	q := `SELECT ` + auditColumns + ` FROM audit_entries WHERE 1=1`
	var args []any
	if f.ActorUserID != nil {
		args = append(args, *f.ActorUserID)
		q += fmt.Sprintf(` AND actor_user_id = $%d`, len(args))
	}
	if f.TableName != "" {
		args = append(args, f.TableName)
		q += fmt.Sprintf(` AND table_name = $%d`, len(args))
	}
	if f.Operation != "" {
		args = append(args, string(f.Operation))
		q += fmt.Sprintf(` AND operation = $%d`, len(args))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		q += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		q += fmt.Sprintf(` AND created_at < $%d`, len(args))
	}
	if f.OnlyAdmin {
		q += ` AND admin_action`
	}
	if f.OnlySuspicious {
		q += ` AND flagged_suspicious`
	}
	q += ` ORDER BY created_at DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)
	q += fmt.Sprintf(` LIMIT $%d`, len(args))

	rows, err := r.db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var op string
		if err := rows.Scan(&e.ID, &e.ActorUserID, &e.TableName, &op, &e.RecordID, &e.AdminAction, &e.FlaggedSuspicious, &e.ClientIP, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Operation = model.Operation(op)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Suspicious returns flagged entries, newest first. Admin only.
func (r *AuditRepo) Suspicious(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	return r.Query(ctx, model.AuditFilter{OnlySuspicious: true, Limit: limit})
}

// FlagBursts marks, per actor, the entries ranked past the threshold within
// the window. Flags only: no entry is ever blocked or deleted here, and
// already-flagged rows are left alone. The update goes through the
// audit_flag_bursts SECURITY DEFINER function, the single mutation the
// otherwise append-only table allows.
func (r *AuditRepo) FlagBursts(ctx context.Context, window time.Duration, threshold int) (int64, error) {
	const q = `SELECT audit_flag_bursts($1::interval, $2)`
	var n int64
	if err := r.db.pool.QueryRow(ctx, q, window, threshold).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteOlderThan removes entries past the retention window. By design this
// sweep writes no audit entry about itself.
func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM audit_entries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
