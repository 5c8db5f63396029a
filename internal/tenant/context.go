// internal/tenant/context.go
//
// Tenant context carrier.
//
// Context
// -------
// The active organization id travels with the request's context.Context,
// not with a package variable, so two requests served by the same pool of
// goroutines never observe each other's tenant.  Code deep in a call chain
// asks `tenant.Get(ctx)` instead of threading an org id through every
// signature.
//
// Usage
// -----
//
//	ctx, clear := tenant.Set(r.Context(), "acme")
//	defer clear()
//	id, err := tenant.Get(ctx) // "acme", nil
//
//	err = tenant.Scope(ctx, "acme", func(ctx context.Context) error { … })
//
// Notes
// -----
//   • A cleared carrier reads as absent even through contexts derived from
//     it, so goroutines that outlive the request cannot keep acting for the
//     tenant.
//   • Two spaces after periods.

package tenant

import (
	"context"
	"sync/atomic"
)

type carrierKey struct{}
type provisioningKey struct{}

type carrier struct {
	id      string
	cleared atomic.Bool
}

// Set attaches orgID to a context derived from ctx.  The returned function
// clears the carrier and is safe to call more than once.
func Set(ctx context.Context, orgID string) (context.Context, func()) {
	c := &carrier{id: orgID}
	return context.WithValue(ctx, carrierKey{}, c), func() { c.cleared.Store(true) }
}

// Get returns the organization id attached to ctx, or ErrNoTenantContext
// when none was set or the carrier has been cleared.
func Get(ctx context.Context) (string, error) {
	c, _ := ctx.Value(carrierKey{}).(*carrier)
	if c == nil || c.id == "" || c.cleared.Load() {
		return "", ErrNoTenantContext
	}
	return c.id, nil
}

// MustGet is Get for code paths where a missing tenant is a bug.
func MustGet(ctx context.Context) string {
	id, err := Get(ctx)
	if err != nil {
		panic(err)
	}
	return id
}

// Clear detaches the carrier visible through ctx.  No-op when none is set.
func Clear(ctx context.Context) {
	if c, _ := ctx.Value(carrierKey{}).(*carrier); c != nil {
		c.cleared.Store(true)
	}
}

// Scope runs fn with orgID attached and always clears afterwards, including
// when fn returns an error, panics, or its context is cancelled.
func Scope(ctx context.Context, orgID string, fn func(context.Context) error) error {
	ctx, clear := Set(ctx, orgID)
	defer clear()
	return fn(ctx)
}

// WithProvisioning marks ctx as running on behalf of provisioning or schema
// maintenance.  Only such contexts may resolve organizations that are not
// yet active.
func WithProvisioning(ctx context.Context) context.Context {
	return context.WithValue(ctx, provisioningKey{}, true)
}

// IsProvisioning reports whether ctx was marked by WithProvisioning.
func IsProvisioning(ctx context.Context) bool {
	v, _ := ctx.Value(provisioningKey{}).(bool)
	return v
}
