package repository

import (
	"context"
	"time"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
)

// AuditRepository is the query and maintenance surface of the audit trail.
// Writes coupled to mutations happen inside the storage layer's transactions,
// not through this interface; Append here is for best-effort read logging.
type AuditRepository interface {
	// Append writes one entry outside any mutation transaction. Used by the
	// async read logger; must never be on a mutating path.
	Append(ctx context.Context, e model.AuditEntry) error
	// Query returns entries matching the filter. Admin context required.
	Query(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error)
	// Suspicious returns flagged entries. Admin context required.
	Suspicious(ctx context.Context, limit int) ([]model.AuditEntry, error)
	// FlagBursts marks entries of actors exceeding threshold operations
	// within the window ending now. Flags only; nothing is blocked or
	// deleted. Returns the number of newly flagged entries.
	FlagBursts(ctx context.Context, window time.Duration, threshold int) (int64, error)
	// DeleteOlderThan removes entries past the retention window. This sweep
	// is the one mutation exempt from generating further audit entries.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
