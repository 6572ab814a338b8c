package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/tenantctx"
)

// AIContextRepo implements AIContextRepository using PostgreSQL.
type AIContextRepo struct{ db *DB }

// NewAIContextRepo constructs an AI context repository.
func NewAIContextRepo(db *DB) *AIContextRepo { return &AIContextRepo{db: db} }

// GetOrCreate loads the tenant's AI context, creating an empty row on first
// use. The upsert bumps access_count either way, so the counter reflects
// every inference touch.
func (r *AIContextRepo) GetOrCreate(ctx context.Context, ttl time.Duration) (*model.AIContext, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	var c model.AIContext
	err = r.db.withTenantTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		const q = `
INSERT INTO ai_contexts (user_id, encrypted_state, expires_at, access_count)
VALUES ($1, ''::bytea, now() + $2::interval, 1)
ON CONFLICT (user_id) DO UPDATE SET access_count = ai_contexts.access_count + 1
RETURNING user_id, encrypted_state, last_updated, expires_at, access_count`
		return tx.QueryRow(ctx, q, tc.TenantID, ttl).
			Scan(&c.UserID, &c.EncryptedState, &c.LastUpdated, &c.ExpiresAt, &c.AccessCount)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Update replaces the encrypted state and pushes the expiry out, writing the
// audit entry in the same transaction.
func (r *AIContextRepo) Update(ctx context.Context, state model.EncryptedBlob, ttl time.Duration) (*model.AIContext, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	var c model.AIContext
	err = r.db.withTenantTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		const q = `
INSERT INTO ai_contexts (user_id, encrypted_state, expires_at, access_count)
VALUES ($1, $2, now() + $3::interval, 1)
ON CONFLICT (user_id) DO UPDATE
SET encrypted_state = EXCLUDED.encrypted_state,
    last_updated = now(),
    expires_at = EXCLUDED.expires_at
RETURNING user_id, encrypted_state, last_updated, expires_at, access_count`
		if err := tx.QueryRow(ctx, q, tc.TenantID, []byte(state), ttl).
			Scan(&c.UserID, &c.EncryptedState, &c.LastUpdated, &c.ExpiresAt, &c.AccessCount); err != nil {
			return err
		}
		ae, err := auditFor(ctx, "ai_contexts", model.OpUpdate, tc.TenantID)
		if err != nil {
			return err
		}
		return appendAudit(ctx, tx, ae)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Delete removes the tenant's AI context. Missing rows are fine: erasure is
// idempotent.
func (r *AIContextRepo) Delete(ctx context.Context) error {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	return r.db.withTenantTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM ai_contexts WHERE user_id=$1`, tc.TenantID); err != nil {
			return err
		}
		ae, err := auditFor(ctx, "ai_contexts", model.OpDelete, tc.TenantID)
		if err != nil {
			return err
		}
		return appendAudit(ctx, tx, ae)
	})
}

// DeleteExpired removes contexts past expiry. Sweep-only.
func (r *AIContextRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.db.withSystemTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM ai_contexts WHERE expires_at < $1`, now)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		if n == 0 {
			return nil
		}
		return appendAudit(ctx, tx, model.AuditEntry{
			TableName: "ai_contexts",
			Operation: model.OpDelete,
			RecordID:  "expiry-sweep",
		})
	})
	return n, err
}
