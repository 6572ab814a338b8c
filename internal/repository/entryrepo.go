// Package repository defines storage interfaces implemented by concrete backends.
//
// None of the tenant-scoped methods accept a tenant id: the active tenant is
// always taken from the request context, so a caller cannot smuggle a foreign
// owner through a parameter.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
)

// EntryRepository provides tenant-scoped CRUD over journal entries
// (mood, dream, therapy). A foreign row is indistinguishable from a
// missing row on every method.
type EntryRepository interface {
	// Create inserts an entry owned by the active tenant. The owner is taken
	// from the context regardless of anything in the payload.
	Create(ctx context.Context, kind model.EntryKind, payload []byte) (*model.Entry, error)

	// Get loads one of the tenant's entries by id.
	Get(ctx context.Context, kind model.EntryKind, id uuid.UUID) (*model.Entry, error)

	// List returns the tenant's entries matching the filter.
	List(ctx context.Context, kind model.EntryKind, f model.EntryFilter) ([]model.Entry, error)

	// Update patches one of the tenant's entries.
	Update(ctx context.Context, kind model.EntryKind, id uuid.UUID, patch model.EntryPatch) (*model.Entry, error)

	// Delete soft-deletes one of the tenant's entries.
	Delete(ctx context.Context, kind model.EntryKind, id uuid.UUID) error

	// AdminListAll lists entries across all owners. Requires an admin
	// context; the bypass is audited in the same transaction.
	AdminListAll(ctx context.Context, kind model.EntryKind, f model.EntryFilter) ([]model.Entry, error)

	// EraseOwner hard-deletes all of the active tenant's entries of every
	// kind (GDPR erasure).
	EraseOwner(ctx context.Context) error
}
