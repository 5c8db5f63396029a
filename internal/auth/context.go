// internal/auth/context.go
//
// Principal helpers.
//
// Usage
// -----
//     // Authenticate middleware attaches the verified token.
//     ctx = auth.WithPrincipal(ctx, p)
//
//     // Downstream code retrieves it.
//     p, ok := auth.PrincipalFrom(ctx)
//
// Notes
// -----
// • The principal is independent of the tenant carrier.  A tenant-scoped
//   principal names a tenant; the boundary adapter checks that it matches
//   the tenant the request is routed to.
// • Two spaces after periods.

package auth

import "context"

// Scope tells which database a token's subject lives in.
type Scope string

const (
	ScopeCore   Scope = "core"
	ScopeTenant Scope = "tenant"
)

// Principal is the authenticated caller.
type Principal struct {
	Subject  string // user id in the scope's users table
	Email    string
	Scope    Scope
	TenantID string // set only for ScopeTenant
}

// principalKey is unexported to avoid context-key collisions.
type principalKey struct{}

// WithPrincipal returns a new context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the principal from ctx.  It returns false if none
// is set.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
