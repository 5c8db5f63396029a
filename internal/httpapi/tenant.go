package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/yanizio/tenancy/internal/auth"
	"github.com/yanizio/tenancy/internal/middleware"
	"github.com/yanizio/tenancy/internal/tenant"
	"github.com/yanizio/tenancy/internal/tenantuser"
)

// users returns a store bound to the request's tenant pool.
func (a *api) users(r *http.Request) (*tenantuser.Store, error) {
	db, err := a.Pools.Current(r.Context())
	if err != nil {
		return nil, err
	}
	return tenantuser.NewStore(db, a.Dialect), nil
}

// issueTenant signs a token for u in the request's tenant.
func (a *api) issueTenant(r *http.Request, u *tenantuser.User) (string, error) {
	id, err := tenant.Get(r.Context())
	if err != nil {
		return "", err
	}
	return a.Tokens.IssueTenant(id, u.ID, u.Email)
}

func (a *api) tenantRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := a.decode(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	store, err := a.users(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	u := &tenantuser.User{
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		Role:         tenantuser.RoleMember,
		IsActive:     true,
	}
	if err := store.Create(r.Context(), u); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	tok, err := a.issueTenant(r, u)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, tokenResponse{Token: tok, User: u})
}

func (a *api) tenantLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := a.decode(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	store, err := a.users(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	u, err := store.ByEmail(r.Context(), req.Email)
	switch {
	case errors.Is(err, tenantuser.ErrNotFound):
		middleware.WriteError(w, r, auth.ErrBadCredentials)
		return
	case err != nil:
		middleware.WriteError(w, r, err)
		return
	}
	if !u.IsActive {
		middleware.WriteError(w, r, auth.ErrBadCredentials)
		return
	}
	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	tok, err := a.issueTenant(r, u)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tokenResponse{Token: tok, User: u})
}

func (a *api) tenantMe(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	a.writeTenantUser(w, r, p.Subject)
}

func (a *api) tenantUser(w http.ResponseWriter, r *http.Request) {
	a.writeTenantUser(w, r, chi.URLParam(r, "id"))
}

func (a *api) writeTenantUser(w http.ResponseWriter, r *http.Request, id string) {
	store, err := a.users(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	u, err := store.ByID(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, u)
}

func (a *api) tenantList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	store, err := a.users(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	users, err := store.List(r.Context(), limit, offset)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if users == nil {
		users = []tenantuser.User{}
	}
	middleware.WriteJSON(w, http.StatusOK, users)
}

type createTenantUserRequest struct {
	registerRequest
	Phone    string          `json:"phone"    validate:"max=32"`
	Role     tenantuser.Role `json:"role"     validate:"omitempty,oneof=admin member"`
	Metadata string          `json:"metadata" validate:"max=65535"`
}

// tenantCreate lets tenant admins add users.  Ownership is never granted
// here; only owner sync creates owners.
func (a *api) tenantCreate(w http.ResponseWriter, r *http.Request) {
	var req createTenantUserRequest
	if err := a.decode(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	store, err := a.users(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	u := &tenantuser.User{
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		Phone:        req.Phone,
		Role:         req.Role,
		IsActive:     true,
		Metadata:     req.Metadata,
	}
	if err := store.Create(r.Context(), u); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, u)
}
