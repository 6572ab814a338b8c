package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL. The users table is
// not row-filtered: identity resolution runs before a tenant context exists.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, username, pwd_hash, salt_auth, role)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.pool.Exec(ctx, q, u.ID, u.Username, u.PwdHash, u.SaltAuth, string(u.Role))
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `
SELECT id, username, pwd_hash, salt_auth, role, deletion_state, deleted_at, created_at
FROM users WHERE id=$1`
	return r.scanUser(r.db.pool.QueryRow(ctx, q, id))
}

// GetByUsername selects an active user by username. Erased accounts never
// resolve.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	const q = `
SELECT id, username, pwd_hash, salt_auth, role, deletion_state, deleted_at, created_at
FROM users WHERE username=$1 AND deletion_state='active'`
	return r.scanUser(r.db.pool.QueryRow(ctx, q, username))
}

// SetRole updates the role, the only field mutable after registration.
func (r *UserRepo) SetRole(ctx context.Context, id uuid.UUID, role model.Role) error {
	const q = `UPDATE users SET role=$2 WHERE id=$1 AND deletion_state='active'`
	tag, err := r.db.pool.Exec(ctx, q, id, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Erase marks the account erased and wipes credential material. The row
// itself stays so audit entries keep a referent until their own retention
// removes them.
func (r *UserRepo) Erase(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE users
SET deletion_state='erased', deleted_at=now(), pwd_hash=''::bytea, salt_auth=''::bytea
WHERE id=$1 AND deletion_state <> 'erased'`
	tag, err := r.db.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// the id came from an authenticated context, so a missing update
		// means the account was already erased
		return errs.ErrErased
	}
	return nil
}

func (r *UserRepo) scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role, state string
	err := row.Scan(&u.ID, &u.Username, &u.PwdHash, &u.SaltAuth, &role, &state, &u.DeletedAt, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	u.Role = model.Role(role)
	u.DeletionState = model.DeletionState(state)
	return &u, nil
}
