package postgres

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/tenantctx"
)

// ConversationRepo implements ConversationRepository using PostgreSQL.
type ConversationRepo struct{ db *DB }

// NewConversationRepo constructs a conversation repository.
func NewConversationRepo(db *DB) *ConversationRepo { return &ConversationRepo{db: db} }

// Append inserts the next message of a session. The session counter row is
// upserted with next_seq+1 in the same transaction as the insert, so
// concurrent writers to one session serialize on that row and sequence
// numbers stay strictly monotonic with no gaps on rollback.
func (r *ConversationRepo) Append(ctx context.Context, sessionID uuid.UUID, role model.MessageRole, content model.EncryptedBlob) (*model.ConversationMessage, error) {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	m := &model.ConversationMessage{
		ID:               id,
		UserID:           tc.TenantID,
		SessionID:        sessionID,
		Role:             role,
		EncryptedContent: content,
	}
	err = r.db.withTenantTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		const bump = `
INSERT INTO conversation_sessions (user_id, session_id, next_seq)
VALUES ($1, $2, 1)
ON CONFLICT (user_id, session_id)
DO UPDATE SET next_seq = conversation_sessions.next_seq + 1
RETURNING next_seq`
		if err := tx.QueryRow(ctx, bump, tc.TenantID, sessionID).Scan(&m.SequenceNumber); err != nil {
			return err
		}

		const ins = `
INSERT INTO conversation_messages (id, user_id, session_id, sequence_number, role, encrypted_content)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at`
		if err := tx.QueryRow(ctx, ins, id, tc.TenantID, sessionID, m.SequenceNumber, string(role), []byte(content)).
			Scan(&m.CreatedAt); err != nil {
			return err
		}
		ae, err := auditFor(ctx, "conversation_messages", model.OpCreate, id)
		if err != nil {
			return err
		}
		return appendAudit(ctx, tx, ae)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetSession returns the tenant's messages for a session in sequence order.
// A foreign session scans zero rows and comes back empty.
func (r *ConversationRepo) GetSession(ctx context.Context, sessionID uuid.UUID) ([]model.ConversationMessage, error) {
	var out []model.ConversationMessage
	err := r.db.withTenantTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		const q = `
SELECT id, user_id, session_id, sequence_number, role, encrypted_content, created_at
FROM conversation_messages
WHERE session_id=$1
ORDER BY sequence_number ASC`
		rows, err := tx.Query(ctx, q, sessionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = collectMessages(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Recent returns the tenant's latest messages across sessions, oldest of the
// window first. Feeds the inference adapter.
func (r *ConversationRepo) Recent(ctx context.Context, limit int) ([]model.ConversationMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []model.ConversationMessage
	err := r.db.withTenantTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		const q = `
SELECT id, user_id, session_id, sequence_number, role, encrypted_content, created_at
FROM (
    SELECT id, user_id, session_id, sequence_number, role, encrypted_content, created_at
    FROM conversation_messages
    ORDER BY created_at DESC, sequence_number DESC
    LIMIT $1
) latest
ORDER BY created_at ASC, sequence_number ASC`
		rows, err := tx.Query(ctx, q, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = collectMessages(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSession bulk-deletes one of the tenant's sessions and its counter.
func (r *ConversationRepo) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	return r.db.withTenantTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM conversation_messages WHERE session_id=$1`, sessionID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM conversation_sessions WHERE user_id=$1 AND session_id=$2`, tc.TenantID, sessionID); err != nil {
			return err
		}
		ae, err := auditFor(ctx, "conversation_messages", model.OpDelete, sessionID)
		if err != nil {
			return err
		}
		return appendAudit(ctx, tx, ae)
	})
}

// EraseOwner hard-deletes all of the tenant's sessions and messages.
func (r *ConversationRepo) EraseOwner(ctx context.Context) error {
	tc, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	return r.db.withTenantTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM conversation_messages WHERE user_id=$1`, tc.TenantID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM conversation_sessions WHERE user_id=$1`, tc.TenantID); err != nil {
			return err
		}
		ae, err := auditFor(ctx, "conversation_messages", model.OpDelete, tc.TenantID)
		if err != nil {
			return err
		}
		return appendAudit(ctx, tx, ae)
	})
}

// DeleteOlderThan removes messages past the retention window. Sweep-only.
func (r *ConversationRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.withSystemTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM conversation_messages WHERE created_at < $1`, cutoff)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		if n == 0 {
			return nil
		}
		return appendAudit(ctx, tx, model.AuditEntry{
			TableName: "conversation_messages",
			Operation: model.OpDelete,
			RecordID:  "retention-sweep",
		})
	})
	return n, err
}

func collectMessages(rows pgx.Rows) ([]model.ConversationMessage, error) {
	var out []model.ConversationMessage
	for rows.Next() {
		var m model.ConversationMessage
		var role string
		if err := rows.Scan(&m.ID, &m.UserID, &m.SessionID, &m.SequenceNumber, &role, &m.EncryptedContent, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = model.MessageRole(role)
		out = append(out, m)
	}
	return out, rows.Err()
}
