package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/yanizio/tenancy/internal/auth"
	"github.com/yanizio/tenancy/internal/tenant"
)

// Verifier checks bearer tokens.  *auth.Issuer satisfies it.
type Verifier interface {
	Verify(raw string) (auth.Principal, error)
}

// Authenticate requires a valid bearer token and attaches its principal.
func Authenticate(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok {
				WriteError(w, r, ErrUnauthenticated)
				return
			}
			p, err := v.Verify(raw)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireScope admits principals of scope only.  Tenant-scoped principals
// must also belong to the tenant the request is routed to, so RequireScope
// for ScopeTenant goes after Tenant in the chain.
func RequireScope(scope auth.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFrom(r.Context())
			if !ok {
				WriteError(w, r, ErrUnauthenticated)
				return
			}
			if p.Scope != scope {
				WriteError(w, r, fmt.Errorf("%w: %s token on %s route", ErrForbidden, p.Scope, scope))
				return
			}
			if scope == auth.ScopeTenant {
				id, err := tenant.Get(r.Context())
				if err != nil {
					WriteError(w, r, err)
					return
				}
				if id != p.TenantID {
					WriteError(w, r, fmt.Errorf("%w: token is not valid for this tenant", ErrForbidden))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
