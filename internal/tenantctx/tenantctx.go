// Package tenantctx carries the per-request tenant identity through
// context.Context. It is the only sanctioned way to tell the storage layer
// who is asking; repositories refuse to run without it.
package tenantctx

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
)

// TenantContext is the immutable identity under which all data access for a
// request is scoped. Constructed once per request by the HTTP middleware from
// a verified token, never from client-supplied fields.
type TenantContext struct {
	TenantID uuid.UUID
	IsAdmin  bool
}

type ctxKey string

const tenantKey ctxKey = "mh.tenant"

// With binds a tenant context to ctx. The binding lives and dies with the
// derived context, so it cannot outlast the request that created it.
func With(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, tenantKey, tc)
}

// From fetches the tenant context from ctx.
func From(ctx context.Context) (TenantContext, bool) {
	v := ctx.Value(tenantKey)
	if v == nil {
		return TenantContext{}, false
	}
	tc, ok := v.(TenantContext)
	return tc, ok
}

// Require fetches the tenant context or fails closed with ErrNoTenant.
// Data-access helpers call this first so that a request whose context setup
// failed can never fall back to an unscoped query.
func Require(ctx context.Context) (TenantContext, error) {
	tc, ok := From(ctx)
	if !ok || tc.TenantID == uuid.Nil {
		return TenantContext{}, errs.ErrNoTenant
	}
	return tc, nil
}

// RequireAdmin fetches the tenant context and verifies the admin flag.
func RequireAdmin(ctx context.Context) (TenantContext, error) {
	tc, err := Require(ctx)
	if err != nil {
		return TenantContext{}, err
	}
	if !tc.IsAdmin {
		return TenantContext{}, errs.ErrAdminRequired
	}
	return tc, nil
}

// Scope runs fn with the tenant context bound. Teardown is guaranteed on all
// exit paths because the binding exists only in the derived context passed to
// fn; the caller's ctx is never mutated. Panics propagate after the derived
// context is out of scope.
func Scope(ctx context.Context, tc TenantContext, fn func(ctx context.Context) error) error {
	if tc.TenantID == uuid.Nil {
		return errs.ErrNoTenant
	}
	return fn(With(ctx, tc))
}
