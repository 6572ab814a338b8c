package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
)

// AIContextRepository stores the per-user AI state blob. One row per user,
// created lazily, always scoped to the active tenant.
type AIContextRepository interface {
	// GetOrCreate loads the tenant's AI context, creating an empty one with
	// the given TTL on first use. Bumps access_count on every call.
	GetOrCreate(ctx context.Context, ttl time.Duration) (*model.AIContext, error)
	// Update replaces the encrypted state and pushes out the expiry.
	Update(ctx context.Context, state model.EncryptedBlob, ttl time.Duration) (*model.AIContext, error)
	// Delete removes the tenant's AI context (GDPR erasure).
	Delete(ctx context.Context) error
	// DeleteExpired removes contexts past expiry. Sweep-only: runs on the
	// privileged system path, never from a request.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ConversationRepository stores append-only per-session messages with
// strictly monotonic sequence numbers.
type ConversationRepository interface {
	// Append inserts the next message of a session. Sequence assignment
	// serializes on the session counter row inside the same transaction.
	Append(ctx context.Context, sessionID uuid.UUID, role model.MessageRole, content model.EncryptedBlob) (*model.ConversationMessage, error)
	// GetSession returns the tenant's messages for a session in order.
	GetSession(ctx context.Context, sessionID uuid.UUID) ([]model.ConversationMessage, error)
	// Recent returns the tenant's latest messages across sessions, newest last.
	Recent(ctx context.Context, limit int) ([]model.ConversationMessage, error)
	// DeleteSession bulk-deletes one of the tenant's sessions.
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
	// EraseOwner hard-deletes all of the tenant's sessions and messages.
	EraseOwner(ctx context.Context) error
	// DeleteOlderThan removes messages past the retention window.
	// Sweep-only; runs on the privileged system path.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
