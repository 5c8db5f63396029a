// internal/database/admin.go
//
// Server-level helpers run against the cluster's admin connection.
//
// Notes
// -----
//   • CREATE DATABASE cannot take bind parameters, so the name is quoted via
//     the Dialect.  Callers pass names they built themselves.
//   • ErrDatabaseExists is returned both when the probe sees the database
//     and when the server rejects the CREATE as a duplicate (race with a
//     concurrent creator on another node).

package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrDatabaseExists reports that CREATE DATABASE hit an existing database.
var ErrDatabaseExists = errors.New("database already exists")

// Admin wraps a pool connected to the cluster's admin database.
type Admin struct {
	db      *sqlx.DB
	dialect Dialect
}

// NewAdmin binds an admin pool to its dialect.
func NewAdmin(db *sqlx.DB, d Dialect) *Admin {
	return &Admin{db: db, dialect: d}
}

// DatabaseExists reports whether a database named name exists on the cluster.
func (a *Admin) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var n int
	q := a.db.Rebind(a.dialect.DatabaseExistsQuery())
	if err := a.db.GetContext(ctx, &n, q, name); err != nil {
		return false, fmt.Errorf("probe database %s: %w", name, err)
	}
	return n > 0, nil
}

// CreateDatabase creates name.  A duplicate is reported as ErrDatabaseExists.
func (a *Admin) CreateDatabase(ctx context.Context, name string) error {
	if _, err := a.db.ExecContext(ctx, a.dialect.CreateDatabaseSQL(name)); err != nil {
		if a.dialect.IsDuplicateDatabase(err) {
			return fmt.Errorf("create database %s: %w", name, ErrDatabaseExists)
		}
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

// Close releases the admin pool.
func (a *Admin) Close() error { return a.db.Close() }
