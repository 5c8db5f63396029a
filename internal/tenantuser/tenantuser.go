// internal/tenantuser/tenantuser.go
//
// Users stored inside one tenant database.
//
// Context
// -------
// A Store is bound to a single tenant pool, normally the one returned by
// Registry.Current for the request.  Email uniqueness is enforced by the
// tenant database's own index, so the same address may exist in several
// tenants and never collides across them.
//
// Notes
// -----
//   • Optional text columns are read through COALESCE so the struct keeps
//     plain strings.
//   • Two spaces after periods.

package tenantuser

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/tenancy/internal/database"
)

// Role is a tenant-scoped role name.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

var (
	ErrNotFound    = errors.New("tenant user not found")
	ErrEmailTaken  = errors.New("email already registered in this tenant")
	ErrBadMetadata = errors.New("metadata must be a JSON object")
)

// User is one row of a tenant database's users table.
type User struct {
	ID           string    `db:"id"              json:"id"`
	Email        string    `db:"email"           json:"email"`
	PasswordHash string    `db:"hashed_password" json:"-"`
	FullName     string    `db:"full_name"       json:"full_name"`
	Phone        string    `db:"phone"           json:"phone,omitempty"`
	AvatarURL    string    `db:"avatar_url"      json:"avatar_url,omitempty"`
	Role         Role      `db:"role"            json:"role"`
	IsOwner      bool      `db:"is_owner"        json:"is_owner"`
	IsActive     bool      `db:"is_active"       json:"is_active"`
	Metadata     string    `db:"metadata"        json:"metadata,omitempty"`
	CreatedAt    time.Time `db:"created_at"      json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"      json:"updated_at"`
}

const selectColumns = `id, email, hashed_password, full_name,
	COALESCE(phone, '') AS phone, COALESCE(avatar_url, '') AS avatar_url,
	role, is_owner, is_active, COALESCE(metadata, '') AS metadata,
	created_at, updated_at`

// Store reads and writes users of one tenant database.
type Store struct {
	db      *sqlx.DB
	dialect database.Dialect
	now     func() time.Time
}

// NewStore binds a Store to a tenant pool.
func NewStore(db *sqlx.DB, d database.Dialect) *Store {
	return &Store{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts u.  Missing id and role default to a UUID and member.
func (s *Store) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleMember
	}
	if !u.Role.Valid() {
		return fmt.Errorf("create tenant user: unknown role %q", u.Role)
	}
	if u.Metadata != "" && !isJSONObject(u.Metadata) {
		return ErrBadMetadata
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now

	q := s.db.Rebind(`INSERT INTO users
	    (id, email, hashed_password, full_name, phone, avatar_url, role, is_owner, is_active, metadata, created_at, updated_at)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q,
		u.ID, u.Email, u.PasswordHash, u.FullName,
		nullable(u.Phone), nullable(u.AvatarURL),
		u.Role, u.IsOwner, u.IsActive, nullable(u.Metadata),
		u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if s.dialect.IsDuplicateKey(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("create tenant user: %w", err)
	}
	return nil
}

func (s *Store) ByID(ctx context.Context, id string) (*User, error) {
	return s.one(ctx, `WHERE id = ?`, id)
}

func (s *Store) ByEmail(ctx context.Context, email string) (*User, error) {
	return s.one(ctx, `WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
}

// List returns users ordered by creation.
func (s *Store) List(ctx context.Context, limit, offset int) ([]User, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []User
	q := s.db.Rebind(`SELECT ` + selectColumns + ` FROM users ORDER BY created_at, id LIMIT ? OFFSET ?`)
	if err := s.db.SelectContext(ctx, &out, q, limit, offset); err != nil {
		return nil, fmt.Errorf("list tenant users: %w", err)
	}
	return out, nil
}

// Owner seeds the tenant owner from the core account that created the
// organization.
type Owner struct {
	Email        string
	FullName     string
	PasswordHash string
}

// EnsureOwner makes the user with o.Email the tenant owner, creating it when
// absent.  It reports whether a row was created.  Running it twice is safe.
func (s *Store) EnsureOwner(ctx context.Context, o Owner) (bool, error) {
	existing, err := s.ByEmail(ctx, o.Email)
	switch {
	case err == nil:
		return false, s.promote(ctx, existing.ID)
	case !errors.Is(err, ErrNotFound):
		return false, err
	}

	u := &User{
		Email:        o.Email,
		FullName:     o.FullName,
		PasswordHash: o.PasswordHash,
		Role:         RoleOwner,
		IsOwner:      true,
		IsActive:     true,
	}
	if err := s.Create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			// Lost a race with a concurrent registration; promote instead.
			existing, err := s.ByEmail(ctx, o.Email)
			if err != nil {
				return false, err
			}
			return false, s.promote(ctx, existing.ID)
		}
		return false, err
	}
	return true, nil
}

func (s *Store) promote(ctx context.Context, id string) error {
	q := s.db.Rebind(`UPDATE users SET is_owner = ?, role = ?, updated_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, q, true, RoleOwner, s.now(), id); err != nil {
		return fmt.Errorf("promote tenant owner: %w", err)
	}
	return nil
}

func (s *Store) one(ctx context.Context, where string, arg any) (*User, error) {
	var u User
	q := s.db.Rebind(`SELECT ` + selectColumns + ` FROM users ` + where)
	if err := s.db.GetContext(ctx, &u, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tenant user: %w", err)
	}
	return &u, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isJSONObject(s string) bool {
	var m map[string]any
	return json.Unmarshal([]byte(s), &m) == nil
}
