// internal/httpapi/api_test.go
//
// Router tests with httptest.  Core stores and the provisioner are
// in-memory fakes; tenant pools are sqlmock databases, one per tenant, so
// the tests can assert which tenant database a request touched.

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanizio/tenancy/internal/account"
	"github.com/yanizio/tenancy/internal/auth"
	"github.com/yanizio/tenancy/internal/database"
	"github.com/yanizio/tenancy/internal/org"
	"github.com/yanizio/tenancy/internal/provision"
	"github.com/yanizio/tenancy/internal/tenant"
)

//
// fakes
//

type fakeAccounts struct {
	mu    sync.Mutex
	users map[string]*account.User
}

func (f *fakeAccounts) Create(_ context.Context, u *account.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.Email = account.NormalizeEmail(u.Email)
	for _, x := range f.users {
		if x.Email == u.Email {
			return account.ErrEmailTaken
		}
	}
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeAccounts) ByID(_ context.Context, id string) (*account.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, account.ErrNotFound
}

func (f *fakeAccounts) ByEmail(_ context.Context, email string) (*account.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == account.NormalizeEmail(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, account.ErrNotFound
}

type fakeOrgs struct {
	mu   sync.Mutex
	rows map[string]*org.Organization
}

func (f *fakeOrgs) ByID(_ context.Context, id string) (*org.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.rows[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, org.ErrNotFound
}

func (f *fakeOrgs) ByOwner(_ context.Context, owner string) ([]org.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []org.Organization
	for _, o := range f.rows {
		if o.OwnerID == owner {
			out = append(out, *o)
		}
	}
	return out, nil
}

type fakeProvisioner struct {
	orgs *fakeOrgs
	fail error
	got  provision.Request
}

func (f *fakeProvisioner) CreateOrganization(_ context.Context, req provision.Request) (*org.Organization, *provision.Attempt, error) {
	f.got = req
	o := &org.Organization{ID: "acme", Name: req.Name, Slug: org.Slugify(req.Name), OwnerID: req.OwnerID, Status: org.StatusActive}
	if f.fail != nil {
		o.Status, o.FailureReason = org.StatusFailed, f.fail.Error()
	}
	f.orgs.mu.Lock()
	f.orgs.rows[o.ID] = o
	f.orgs.mu.Unlock()
	return o, &provision.Attempt{OrganizationID: o.ID}, f.fail
}

// fakePools hands out one sqlmock database per known tenant.
type fakePools struct {
	dbs   map[string]*sqlx.DB
	mocks map[string]sqlmock.Sqlmock
}

func newFakePools(t *testing.T, ids ...string) *fakePools {
	p := &fakePools{dbs: map[string]*sqlx.DB{}, mocks: map[string]sqlmock.Sqlmock{}}
	for _, id := range ids {
		raw, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { raw.Close() })
		p.dbs[id] = sqlx.NewDb(raw, "mysql")
		p.mocks[id] = mock
	}
	return p
}

func (p *fakePools) Tenant(_ context.Context, id string) (*sqlx.DB, error) {
	if db, ok := p.dbs[id]; ok {
		return db, nil
	}
	return nil, fmt.Errorf("%w: %s", tenant.ErrUnknownTenant, id)
}

func (p *fakePools) Current(ctx context.Context) (*sqlx.DB, error) {
	id, err := tenant.Get(ctx)
	if err != nil {
		return nil, err
	}
	return p.Tenant(ctx, id)
}

//
// harness
//

type harness struct {
	h        http.Handler
	tokens   *auth.Issuer
	accounts *fakeAccounts
	orgs     *fakeOrgs
	prov     *fakeProvisioner
	pools    *fakePools
	healthy  error
}

func newHarness(t *testing.T, tenants ...string) *harness {
	tokens, err := auth.NewIssuer(strings.Repeat("s", 32), "test", time.Minute)
	require.NoError(t, err)
	x := &harness{
		tokens:   tokens,
		accounts: &fakeAccounts{users: map[string]*account.User{}},
		orgs:     &fakeOrgs{rows: map[string]*org.Organization{}},
		pools:    newFakePools(t, tenants...),
	}
	x.prov = &fakeProvisioner{orgs: x.orgs}
	x.h = New(Deps{
		Accounts:      x.accounts,
		Organizations: x.orgs,
		Provisioner:   x.prov,
		Pools:         x.pools,
		Dialect:       database.MySQL{},
		Tokens:        tokens,
		Health:        func(context.Context) error { return x.healthy },
		Log:           zaptest.NewLogger(t).Sugar(),
	})
	return x
}

type call struct {
	method, path string
	body         any
	token        string
	tenant       string
}

func (x *harness) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.tenant != "" {
		req.Header.Set("X-Tenant-Id", c.tenant)
	}
	rec := httptest.NewRecorder()
	x.h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	s, _ := body["error"].(string)
	return s
}

var tenantUserCols = []string{
	"id", "email", "hashed_password", "full_name", "phone", "avatar_url",
	"role", "is_owner", "is_active", "metadata", "created_at", "updated_at",
}

//
// tests
//

func TestHealth(t *testing.T) {
	x := newHarness(t)
	assert.Equal(t, http.StatusOK, x.do(t, call{method: http.MethodGet, path: "/health"}).Code)

	x.healthy = errors.New("core down")
	assert.Equal(t, http.StatusServiceUnavailable, x.do(t, call{method: http.MethodGet, path: "/health"}).Code)
}

func TestCoreRegisterLoginAndOrganizations(t *testing.T) {
	x := newHarness(t)

	rec := x.do(t, call{method: http.MethodPost, path: "/v1/auth/register",
		body: map[string]string{"email": "Ada@Example.com", "password": "correct horse", "full_name": "Ada"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = x.do(t, call{method: http.MethodPost, path: "/v1/auth/register",
		body: map[string]string{"email": "ada@example.com", "password": "correct horse"}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = x.do(t, call{method: http.MethodPost, path: "/v1/auth/login",
		body: map[string]string{"email": "ada@example.com", "password": "wrong password"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = x.do(t, call{method: http.MethodPost, path: "/v1/auth/login",
		body: map[string]string{"email": "ada@example.com", "password": "correct horse"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var login struct {
		Token string       `json:"token"`
		User  account.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))

	rec = x.do(t, call{method: http.MethodPost, path: "/v1/organizations", token: login.Token,
		body: map[string]string{"name": "Acme Corp"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, login.User.ID, x.prov.got.OwnerID)

	rec = x.do(t, call{method: http.MethodGet, path: "/v1/organizations/acme", token: login.Token})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = x.do(t, call{method: http.MethodGet, path: "/v1/organizations", token: login.Token})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"acme"`)

	other, _ := x.tokens.IssueCore("someone-else", "x@example.com")
	rec = x.do(t, call{method: http.MethodGet, path: "/v1/organizations/acme", token: other})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateOrganizationFailureReturnsOrganization(t *testing.T) {
	x := newHarness(t)
	x.prov.fail = fmt.Errorf("provision acme: migrate: %w", tenant.ErrMigrationFailure)
	tok, _ := x.tokens.IssueCore("u1", "a@b.c")

	rec := x.do(t, call{method: http.MethodPost, path: "/v1/organizations", token: tok,
		body: map[string]string{"name": "Acme Corp"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "migration_failure", errorCode(t, rec))
	assert.Contains(t, rec.Body.String(), `"status":"failed"`)
}

func TestOrganizationsNeedCoreToken(t *testing.T) {
	x := newHarness(t, "acme")
	tok, _ := x.tokens.IssueTenant("acme", "t1", "a@b.c")

	assert.Equal(t, http.StatusUnauthorized, x.do(t, call{method: http.MethodGet, path: "/v1/organizations"}).Code)
	assert.Equal(t, http.StatusForbidden, x.do(t, call{method: http.MethodGet, path: "/v1/organizations", token: tok}).Code)
}

func TestRequestValidation(t *testing.T) {
	x := newHarness(t)
	rec := x.do(t, call{method: http.MethodPost, path: "/v1/auth/register",
		body: map[string]string{"email": "not-an-email", "password": "correct horse"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorCode(t, rec))

	rec = x.do(t, call{method: http.MethodPost, path: "/v1/auth/register",
		body: map[string]string{"email": "a@b.co", "password": "correct horse", "extra": "x"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", errorCode(t, rec))
}

func TestTenantRoutesRejectMissingAndUnknownTenant(t *testing.T) {
	x := newHarness(t, "acme")
	body := map[string]string{"email": "a@b.co", "password": "correct horse"}

	rec := x.do(t, call{method: http.MethodPost, path: "/v1/tenant/auth/login", body: body})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_tenant_header", errorCode(t, rec))

	rec = x.do(t, call{method: http.MethodPost, path: "/v1/tenant/auth/login", body: body, tenant: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_tenant", errorCode(t, rec))
	assert.NoError(t, x.pools.mocks["acme"].ExpectationsWereMet())
}

// A user registered in acme is read back through acme's pool only, and an
// acme token is refused on beta.
func TestTenantUserLivesInItsTenantDatabase(t *testing.T) {
	x := newHarness(t, "acme", "beta")
	acme, beta := x.pools.mocks["acme"], x.pools.mocks["beta"]

	acme.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WithArgs(sqlmock.AnyArg(), "ada@example.com", sqlmock.AnyArg(), "Ada", nil, nil,
			"member", false, true, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := x.do(t, call{method: http.MethodPost, path: "/v1/tenant/auth/register", tenant: "acme",
		body: map[string]string{"email": "ada@example.com", "password": "correct horse", "full_name": "Ada"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var reg struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	p, err := x.tokens.Verify(reg.Token)
	require.NoError(t, err)
	assert.Equal(t, "acme", p.TenantID)

	now := time.Now()
	acme.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = ?`)).
		WithArgs(reg.User.ID).
		WillReturnRows(sqlmock.NewRows(tenantUserCols).
			AddRow(reg.User.ID, "ada@example.com", "h", "Ada", "", "", "member", false, true, "", now, now))

	rec = x.do(t, call{method: http.MethodGet, path: "/v1/tenant/users/me", tenant: "acme", token: reg.Token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "ada@example.com")
	assert.NotContains(t, rec.Body.String(), "hashed_password")

	rec = x.do(t, call{method: http.MethodGet, path: "/v1/tenant/users/me", tenant: "beta", token: reg.Token})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.NoError(t, acme.ExpectationsWereMet())
	assert.NoError(t, beta.ExpectationsWereMet())
}

func TestTenantAdminRoutesNeedRole(t *testing.T) {
	x := newHarness(t, "acme")
	acme := x.pools.mocks["acme"]
	tok, _ := x.tokens.IssueTenant("acme", "t1", "m@example.com")

	acme.ExpectQuery(regexp.QuoteMeta(`SELECT role, is_owner, is_active FROM users WHERE id = ?`)).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"role", "is_owner", "is_active"}).AddRow("member", false, true))

	rec := x.do(t, call{method: http.MethodGet, path: "/v1/tenant/users", tenant: "acme", token: tok})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NoError(t, acme.ExpectationsWereMet())
}

// A phone longer than the column is a 400, not a failed INSERT.
func TestTenantCreateRejectsOverlongPhone(t *testing.T) {
	x := newHarness(t, "acme")
	acme := x.pools.mocks["acme"]
	tok, _ := x.tokens.IssueTenant("acme", "t1", "admin@example.com")

	acme.ExpectQuery(regexp.QuoteMeta(`SELECT role, is_owner, is_active FROM users WHERE id = ?`)).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"role", "is_owner", "is_active"}).AddRow("admin", false, true))

	rec := x.do(t, call{method: http.MethodPost, path: "/v1/tenant/users", tenant: "acme", token: tok,
		body: map[string]string{"email": "bo@example.com", "password": "correct horse", "phone": strings.Repeat("5", 33)}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "invalid_request", errorCode(t, rec))
	assert.NoError(t, acme.ExpectationsWereMet())
}
