// internal/tenant/errors.go
//
// Error taxonomy for tenant routing and provisioning.
//
// Context
// -------
// Every failure the tenancy layer surfaces wraps one of these sentinels, so
// callers classify with errors.Is and the HTTP layer maps them to status
// codes in one place (middleware.WriteError).
//
// Notes
// -----
//   • ErrNoTenantContext is a programming error.  Handlers that hit it fail
//     the request; they never fall back to the core database.
//   • ErrDatabaseUnavailable is transient.  The registry does not retry.

package tenant

import "errors"

var (
	// ErrUnknownTenant: the organization does not exist or is not routable.
	ErrUnknownTenant = errors.New("unknown tenant")

	// ErrMissingTenantHeader: a tenant-scoped request carried no tenant id.
	ErrMissingTenantHeader = errors.New("missing tenant header")

	// ErrNoTenantContext: tenant-scoped code ran outside a tenant scope.
	ErrNoTenantContext = errors.New("no tenant context")

	// ErrTenantAlreadyRegistered: Register found a live pool still in use.
	ErrTenantAlreadyRegistered = errors.New("tenant already registered")

	// ErrProvisionConflict: the organization or its database already exists.
	ErrProvisionConflict = errors.New("provision conflict")

	// ErrDatabaseUnavailable: a pool could not be established.
	ErrDatabaseUnavailable = errors.New("database unavailable")

	// ErrMigrationFailure: applying schema migrations failed.
	ErrMigrationFailure = errors.New("migration failure")
)
