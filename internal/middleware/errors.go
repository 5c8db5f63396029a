// internal/middleware/errors.go
//
// Error → HTTP status mapping.
//
// Context
// -------
// Handlers and middleware never pick status codes for domain errors
// themselves.  They pass the error to WriteError, which walks one table
// with errors.Is and writes a small JSON body:
//
//	{"error": "unknown_tenant", "message": "…"}
//
// Anything not in the table is a 500 with a generic message; the detail is
// logged, not returned.
//
// Notes
// -----
//   • ErrNoTenantContext is a programming error.  It maps to 500 and is
//     never answered from the core database instead.
//   • Two spaces after periods.

package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/yanizio/tenancy/internal/account"
	"github.com/yanizio/tenancy/internal/auth"
	"github.com/yanizio/tenancy/internal/org"
	"github.com/yanizio/tenancy/internal/provision"
	"github.com/yanizio/tenancy/internal/tenant"
	"github.com/yanizio/tenancy/internal/tenantuser"
)

var (
	// ErrUnauthenticated: no or unusable credentials.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden: the principal may not use this route.
	ErrForbidden = errors.New("forbidden")
	// ErrBadRequest: the request body could not be decoded.
	ErrBadRequest = errors.New("malformed request")
)

type mapping struct {
	err    error
	status int
	code   string
}

var statusTable = []mapping{
	{tenant.ErrMissingTenantHeader, http.StatusBadRequest, "missing_tenant_header"},
	{tenant.ErrUnknownTenant, http.StatusNotFound, "unknown_tenant"},
	{tenant.ErrDatabaseUnavailable, http.StatusServiceUnavailable, "database_unavailable"},
	{tenant.ErrRegistryClosed, http.StatusServiceUnavailable, "shutting_down"},
	{tenant.ErrProvisionConflict, http.StatusConflict, "provision_conflict"},
	{tenant.ErrTenantAlreadyRegistered, http.StatusConflict, "tenant_busy"},
	{tenant.ErrMigrationFailure, http.StatusInternalServerError, "migration_failure"},
	{tenant.ErrNoTenantContext, http.StatusInternalServerError, "no_tenant_context"},

	{ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{auth.ErrBadCredentials, http.StatusUnauthorized, "bad_credentials"},
	{ErrForbidden, http.StatusForbidden, "forbidden"},
	{ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{provision.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},

	{org.ErrNotFound, http.StatusNotFound, "not_found"},
	{tenantuser.ErrNotFound, http.StatusNotFound, "not_found"},
	{account.ErrNotFound, http.StatusNotFound, "not_found"},
	{org.ErrConflict, http.StatusConflict, "conflict"},
	{account.ErrEmailTaken, http.StatusConflict, "email_taken"},
	{tenantuser.ErrEmailTaken, http.StatusConflict, "email_taken"},
	{tenantuser.ErrBadMetadata, http.StatusBadRequest, "invalid_request"},
}

// Classify returns the status and stable error code for err.
func Classify(err error) (int, string) {
	for _, m := range statusTable {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return http.StatusBadRequest, "invalid_request"
	}
	return http.StatusInternalServerError, "internal"
}

// WriteError answers the request with the status mapped from err.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		zap.S().Errorw("request failed", "path", r.URL.Path, "code", code, "err", err)
		msg = http.StatusText(status)
	}
	WriteJSON(w, status, map[string]string{"error": code, "message": msg})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
