package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
)

// UserRepository provides account access. Users are not tenant-owned rows
// themselves; identity resolution has to work before a tenant context exists.
type UserRepository interface {
	// Create inserts a new user.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads an active user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// SetRole updates the role, the only mutable field.
	SetRole(ctx context.Context, id uuid.UUID, role model.Role) error
	// Erase marks the account erased and clears credential material.
	Erase(ctx context.Context, id uuid.UUID) error
}
