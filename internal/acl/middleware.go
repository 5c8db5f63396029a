// internal/acl/middleware.go
//
// Chi middleware helpers that enforce tenant roles.

package acl

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/tenancy/internal/auth"
	"github.com/yanizio/tenancy/internal/middleware"
	"github.com/yanizio/tenancy/internal/tenantuser"
)

// Pools resolves the tenant pool bound to a request.  *tenant.Registry
// satisfies it.
type Pools interface {
	Current(ctx context.Context) (*sqlx.DB, error)
}

// RequireRole admits tenant principals holding at least one of the supplied
// roles in the current tenant.  It belongs after middleware.Tenant and
// middleware.RequireScope(auth.ScopeTenant).
func RequireRole(pools Pools, roles ...tenantuser.Role) func(http.Handler) http.Handler {
	if len(roles) == 0 {
		panic("acl.RequireRole: at least one role must be supplied")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFrom(r.Context())
			if !ok || p.Scope != auth.ScopeTenant {
				middleware.WriteError(w, r, middleware.ErrUnauthenticated)
				return
			}

			db, err := pools.Current(r.Context())
			if err != nil {
				middleware.WriteError(w, r, err)
				return
			}
			role, err := UserRole(r.Context(), db, p.Subject)
			switch {
			case errors.Is(err, ErrNoRole):
				middleware.WriteError(w, r, fmt.Errorf("%w: %w", middleware.ErrForbidden, err))
				return
			case err != nil:
				middleware.WriteError(w, r, err)
				return
			}
			if !Satisfies(role, roles...) {
				middleware.WriteError(w, r, fmt.Errorf("%w: role %s", middleware.ErrForbidden, role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
