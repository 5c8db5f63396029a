// internal/middleware/tenant.go
//
// Request boundary: header → tenant carrier.
//
// Context
// -------
// Every tenant-scoped route sits behind Tenant.  The middleware
//
//  1. reads the tenant id from the configured header (X-Tenant-Id);
//  2. asks the registry for that tenant's pool, which checks the id
//     against the organization directory and opens the pool if needed;
//  3. attaches the id to the request context and clears it when the
//     handler returns, panics included.
//
// A missing header is 400, an unknown or not-yet-active tenant is 404, and
// an unreachable tenant database is 503.  In all three cases no tenant is
// attached and the handler never runs.
//
// Notes
// -----
//   • Two spaces after periods.

package middleware

import (
	"context"
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/tenancy/internal/tenant"
)

// DefaultTenantHeader is used when Tenant is given an empty header name.
const DefaultTenantHeader = "X-Tenant-Id"

// Resolver returns a tenant's pool.  *tenant.Registry satisfies it.
type Resolver interface {
	Tenant(ctx context.Context, orgID string) (*sqlx.DB, error)
}

// Tenant binds each request to the tenant named in header.
func Tenant(res Resolver, header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultTenantHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(header)
			if id == "" {
				WriteError(w, r, tenant.ErrMissingTenantHeader)
				return
			}
			if _, err := res.Tenant(r.Context(), id); err != nil {
				WriteError(w, r, err)
				return
			}

			ctx, clear := tenant.Set(r.Context(), id)
			defer clear()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
