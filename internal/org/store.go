package org

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/tenancy/internal/database"
)

const columns = `id, name, slug, owner_id, database_name, status, failure_reason, created_at, updated_at`

// maxReason matches the failure_reason column width.
const maxReason = 1024

// Store reads and writes organizations in the core database.
type Store struct {
	db      *sqlx.DB
	dialect database.Dialect
	now     func() time.Time
}

// NewStore binds a Store to the core pool.
func NewStore(db *sqlx.DB, d database.Dialect) *Store {
	return &Store{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts o.  CreatedAt and UpdatedAt are stamped here.  A duplicate
// id, name, or slug yields ErrConflict.
func (s *Store) Create(ctx context.Context, o *Organization) error {
	now := s.now()
	o.CreatedAt, o.UpdatedAt = now, now

	q := s.db.Rebind(`INSERT INTO organizations (` + columns + `)
	                  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q,
		o.ID, o.Name, o.Slug, o.OwnerID, o.DatabaseName,
		o.Status, o.FailureReason, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if s.dialect.IsDuplicateKey(err) {
			return fmt.Errorf("create organization %s: %w", o.ID, ErrConflict)
		}
		return fmt.Errorf("create organization %s: %w", o.ID, err)
	}
	return nil
}

// ByID returns the organization with id, or ErrNotFound.
func (s *Store) ByID(ctx context.Context, id string) (*Organization, error) {
	return s.one(ctx, `WHERE id = ?`, id)
}

// BySlug returns the organization with slug, or ErrNotFound.
func (s *Store) BySlug(ctx context.Context, slug string) (*Organization, error) {
	return s.one(ctx, `WHERE slug = ?`, slug)
}

// ByName returns the organization with the exact display name, or ErrNotFound.
func (s *Store) ByName(ctx context.Context, name string) (*Organization, error) {
	return s.one(ctx, `WHERE name = ?`, name)
}

// ByOwner lists organizations owned by a core user, oldest first.
func (s *Store) ByOwner(ctx context.Context, ownerID string) ([]Organization, error) {
	return s.many(ctx, `WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
}

// All lists every organization, oldest first.
func (s *Store) All(ctx context.Context) ([]Organization, error) {
	return s.many(ctx, `ORDER BY created_at, id`)
}

// SetStatus moves an organization to status.  reason is stored for failed
// organizations and cleared otherwise.
func (s *Store) SetStatus(ctx context.Context, id string, status Status, reason string) error {
	if status != StatusFailed {
		reason = ""
	}
	if len(reason) > maxReason {
		reason = reason[:maxReason]
	}
	q := s.db.Rebind(`UPDATE organizations
	                     SET status = ?, failure_reason = ?, updated_at = ?
	                   WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, status, reason, s.now(), id)
	if err != nil {
		return fmt.Errorf("set organization %s status: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL without clientFoundRows reports 0 for an UPDATE that
		// matched but changed nothing.
		return s.exists(ctx, id)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, id string) error {
	var one int
	q := s.db.Rebind(`SELECT 1 FROM organizations WHERE id = ?`)
	err := s.db.GetContext(ctx, &one, q, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("set organization %s status: %w", id, ErrNotFound)
	case err != nil:
		return fmt.Errorf("set organization %s status: %w", id, err)
	}
	return nil
}

func (s *Store) one(ctx context.Context, where string, args ...any) (*Organization, error) {
	var o Organization
	q := s.db.Rebind(`SELECT ` + columns + ` FROM organizations ` + where)
	if err := s.db.GetContext(ctx, &o, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &o, nil
}

func (s *Store) many(ctx context.Context, tail string, args ...any) ([]Organization, error) {
	var out []Organization
	q := s.db.Rebind(`SELECT ` + columns + ` FROM organizations ` + tail)
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return out, nil
}
