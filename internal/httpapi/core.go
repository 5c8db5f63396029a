package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/yanizio/tenancy/internal/account"
	"github.com/yanizio/tenancy/internal/auth"
	"github.com/yanizio/tenancy/internal/middleware"
	"github.com/yanizio/tenancy/internal/org"
	"github.com/yanizio/tenancy/internal/provision"
)

type registerRequest struct {
	Email    string `json:"email"     validate:"required,email,max=255"`
	Password string `json:"password"  validate:"required,min=8,max=72"`
	FullName string `json:"full_name" validate:"max=255"`
}

type loginRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

//
// Core users
//

func (a *api) coreRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := a.decode(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	u := &account.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		IsActive:     true,
	}
	if err := a.Accounts.Create(r.Context(), u); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	tok, err := a.Tokens.IssueCore(u.ID, u.Email)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	a.Log.Infow("core user registered", "user", u.ID)
	middleware.WriteJSON(w, http.StatusCreated, tokenResponse{Token: tok, User: u})
}

func (a *api) coreLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := a.decode(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	u, err := a.Accounts.ByEmail(r.Context(), req.Email)
	switch {
	case errors.Is(err, account.ErrNotFound):
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
	tok, err := a.Tokens.IssueCore(u.ID, u.Email)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tokenResponse{Token: tok, User: u})
}

//
// Organizations
//

type createOrganizationRequest struct {
	Name string `json:"name" validate:"required,max=255"`
	Slug string `json:"slug" validate:"omitempty,max=100"`
}

type organizationResponse struct {
	*org.Organization
	States  []provision.State `json:"states,omitempty"`
	Applied []int64           `json:"migrations_applied,omitempty"`
}

// createOrganization provisions synchronously.  A failed attempt still
// answers with the organization so the client can poll its status; the
// status code comes from the failure.
func (a *api) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if err := a.decode(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())

	o, attempt, err := a.Provisioner.CreateOrganization(r.Context(), provision.Request{
		Name:    req.Name,
		Slug:    req.Slug,
		OwnerID: p.Subject,
	})
	if err != nil {
		if o == nil {
			middleware.WriteError(w, r, err)
			return
		}
		status, code := middleware.Classify(err)
		middleware.WriteJSON(w, status, map[string]any{
			"error":        code,
			"organization": o,
		})
		return
	}
	resp := organizationResponse{Organization: o}
	if attempt != nil {
		resp.States, resp.Applied = attempt.States, attempt.Applied
	}
	middleware.WriteJSON(w, http.StatusCreated, resp)
}

func (a *api) listOrganizations(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	orgs, err := a.Organizations.ByOwner(r.Context(), p.Subject)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if orgs == nil {
		orgs = []org.Organization{}
	}
	middleware.WriteJSON(w, http.StatusOK, orgs)
}

// getOrganization doubles as the provisioning status poll.  Organizations
// of other owners read as not found.
func (a *api) getOrganization(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	o, err := a.Organizations.ByID(r.Context(), chi.URLParam(r, "id"))
	if err == nil && o.OwnerID != p.Subject {
		err = org.ErrNotFound
	}
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, o)
}
