// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist or is not
	// visible to the active tenant. The two cases are indistinguishable on
	// purpose: a foreign row must look exactly like a missing row.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoTenant indicates data access was attempted without an active
	// tenant context. Requests hitting this are rejected, never degraded to
	// an unscoped query.
	ErrNoTenant = errors.New("no tenant context")

	// ErrPermission indicates the tenant context is valid but does not own
	// the record in question. Read paths surface this as ErrNotFound.
	ErrPermission = errors.New("permission denied")

	// ErrAdminRequired indicates an admin-only operation was attempted with
	// a standard tenant context.
	ErrAdminRequired = errors.New("admin required")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrErased indicates the account has been erased and can no longer act
	// or be acted upon.
	ErrErased = errors.New("account erased")
)

// ValidationError reports malformed input with field-level detail.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validation constructs a field-level validation error.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// EnforcementViolation marks a code path that reached tenant-owned data
// without going through the policy layer. This is a programming-error
// class: logged at highest severity, fails the request, never degraded.
type EnforcementViolation struct {
	Op     string
	Detail string
}

func (e *EnforcementViolation) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("enforcement violation: %s", e.Op)
	}
	return fmt.Sprintf("enforcement violation: %s: %s", e.Op, e.Detail)
}

// IsEnforcementViolation reports whether err is (or wraps) an EnforcementViolation.
func IsEnforcementViolation(err error) bool {
	var ev *EnforcementViolation
	return errors.As(err, &ev)
}
