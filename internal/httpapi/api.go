// internal/httpapi/api.go
//
// HTTP surface.
//
// Context
// -------
// Two route families share one chi router:
//
//	/v1/auth/…, /v1/organizations…   core routes, core-scoped tokens
//	/v1/tenant/…                     tenant routes behind middleware.Tenant
//
// Tenant handlers never receive a tenant id.  They ask the registry for
// the pool bound to the request context (Registry.Current), so a handler
// cannot reach another tenant's database by mistake.
//
// Notes
// -----
//   • Every error goes through middleware.WriteError.
//   • /health and /metrics sit outside both families.
//   • Two spaces after periods.

package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanizio/tenancy/internal/account"
	"github.com/yanizio/tenancy/internal/acl"
	"github.com/yanizio/tenancy/internal/auth"
	"github.com/yanizio/tenancy/internal/database"
	"github.com/yanizio/tenancy/internal/middleware"
	"github.com/yanizio/tenancy/internal/org"
	"github.com/yanizio/tenancy/internal/provision"
	"github.com/yanizio/tenancy/internal/tenantuser"
)

// Accounts is the core user store.
type Accounts interface {
	Create(ctx context.Context, u *account.User) error
	ByID(ctx context.Context, id string) (*account.User, error)
	ByEmail(ctx context.Context, email string) (*account.User, error)
}

// Organizations is the read side of the organization directory.
type Organizations interface {
	ByID(ctx context.Context, id string) (*org.Organization, error)
	ByOwner(ctx context.Context, ownerID string) ([]org.Organization, error)
}

// Provisioner creates organizations.  *provision.Provisioner satisfies it.
type Provisioner interface {
	CreateOrganization(ctx context.Context, req provision.Request) (*org.Organization, *provision.Attempt, error)
}

// Pools resolves tenant pools.  *tenant.Registry satisfies it.
type Pools interface {
	Tenant(ctx context.Context, orgID string) (*sqlx.DB, error)
	Current(ctx context.Context) (*sqlx.DB, error)
}

// Deps wires the API.
type Deps struct {
	Accounts      Accounts
	Organizations Organizations
	Provisioner   Provisioner
	Pools         Pools
	Dialect       database.Dialect
	Tokens        *auth.Issuer
	TenantHeader  string
	ForceHTTPS    bool
	Health        func(ctx context.Context) error
	Log           *zap.SugaredLogger
}

type api struct {
	Deps
	validate *validator.Validate
}

// New returns the root handler.
func New(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.S()
	}
	if d.TenantHeader == "" {
		d.TenantHeader = middleware.DefaultTenantHeader
	}
	a := &api{Deps: d, validate: validator.New()}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(d.Log, d.TenantHeader))
	r.Use(chimw.Recoverer)
	r.Use(middleware.ForceHTTPS(d.ForceHTTPS))
	r.Use(middleware.APIHeaders(d.ForceHTTPS))

	r.Get("/health", a.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/register", a.coreRegister)
		r.Post("/auth/login", a.coreLogin)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(d.Tokens), middleware.RequireScope(auth.ScopeCore))
			r.Post("/organizations", a.createOrganization)
			r.Get("/organizations", a.listOrganizations)
			r.Get("/organizations/{id}", a.getOrganization)
		})

		r.Route("/tenant", func(r chi.Router) {
			r.Use(middleware.Tenant(d.Pools, d.TenantHeader))
			r.Post("/auth/register", a.tenantRegister)
			r.Post("/auth/login", a.tenantLogin)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Authenticate(d.Tokens), middleware.RequireScope(auth.ScopeTenant))
				r.Get("/users/me", a.tenantMe)
				r.Get("/users/{id}", a.tenantUser)

				r.Group(func(r chi.Router) {
					r.Use(acl.RequireRole(d.Pools, tenantuser.RoleAdmin))
					r.Get("/users", a.tenantList)
					r.Post("/users", a.tenantCreate)
				})
			})
		})
	})
	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if a.Health != nil {
		if err := a.Health(r.Context()); err != nil {
			a.Log.Warnw("health check failed", "err", err)
			middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into v and validates it.
func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", middleware.ErrBadRequest, err)
	}
	return a.validate.Struct(v)
}

type tokenResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}
