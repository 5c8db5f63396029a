// Package account stores platform-level (core) users.  Email is unique
// across the whole platform; tenant users live in tenantuser instead.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/tenancy/internal/database"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
)

// User is one row of the core users table.
type User struct {
	ID           string    `db:"id"              json:"id"`
	Email        string    `db:"email"           json:"email"`
	PasswordHash string    `db:"hashed_password" json:"-"`
	FullName     string    `db:"full_name"       json:"full_name"`
	IsActive     bool      `db:"is_active"       json:"is_active"`
	CreatedAt    time.Time `db:"created_at"      json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"      json:"updated_at"`
}

const columns = `id, email, hashed_password, full_name, is_active, created_at, updated_at`

// Store reads and writes core users.
type Store struct {
	db      *sqlx.DB
	dialect database.Dialect
	now     func() time.Time
}

func NewStore(db *sqlx.DB, d database.Dialect) *Store {
	return &Store{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts u with a lower-cased email.
func (s *Store) Create(ctx context.Context, u *User) error {
	u.Email = NormalizeEmail(u.Email)
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now

	q := s.db.Rebind(`INSERT INTO users (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.IsActive, u.CreatedAt, u.UpdatedAt); err != nil {
		if s.dialect.IsDuplicateKey(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) ByID(ctx context.Context, id string) (*User, error) {
	return s.one(ctx, `WHERE id = ?`, id)
}

func (s *Store) ByEmail(ctx context.Context, email string) (*User, error) {
	return s.one(ctx, `WHERE email = ?`, NormalizeEmail(email))
}

func (s *Store) one(ctx context.Context, where string, arg any) (*User, error) {
	var u User
	if err := s.db.GetContext(ctx, &u, s.db.Rebind(`SELECT `+columns+` FROM users `+where), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
