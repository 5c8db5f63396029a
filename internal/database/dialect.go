// internal/database/dialect.go
//
// Dialect abstraction.
//
// Context
// -------
// The tenancy layer creates physical databases at runtime and must tell a
// "database already exists" failure apart from a transient one.  Those
// details differ per server, so they sit behind a small interface:
//
//   • DSN building from a shared Cluster definition,
//   • CREATE DATABASE and existence-probe SQL,
//   • classification of driver errors.
//
// Notes
// -----
//   • Identifiers are quoted, never interpolated raw.  Callers still
//     validate names before they reach this package.
//   • Two spaces after periods.

package database

import (
	"fmt"
	"strings"
)

// Cluster describes the shared database server every tenant lives on.
type Cluster struct {
	Host     string            `koanf:"host"     validate:"required"`
	Port     int               `koanf:"port"     validate:"required,min=1,max=65535"`
	User     string            `koanf:"user"     validate:"required"`
	Password string            `koanf:"password"`
	Params   map[string]string `koanf:"params"`
}

// Dialect isolates server-specific SQL and error codes.
type Dialect interface {
	// Name is the short dialect name ("mysql" or "postgres").
	Name() string
	// DriverName is the database/sql driver registered for this dialect.
	DriverName() string
	// DSN renders a connection string for database on c.
	DSN(c Cluster, database string) string
	// AdminDatabase is the maintenance database used for CREATE DATABASE.
	AdminDatabase() string
	// QuoteIdent quotes an identifier for this server.
	QuoteIdent(name string) string
	// CreateDatabaseSQL returns the statement creating database name.
	CreateDatabaseSQL(name string) string
	// DatabaseExistsQuery counts databases named by its single ? argument.
	DatabaseExistsQuery() string

	IsDuplicateDatabase(err error) bool
	IsDuplicateKey(err error) bool
	IsUnknownDatabase(err error) bool
}

// ByName maps a configured dialect name to its implementation.
func ByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "mysql", "mariadb":
		return MySQL{}, nil
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	default:
		return nil, fmt.Errorf("database: unknown dialect %q", name)
	}
}

func quoteWith(name string, q string) string {
	return q + strings.ReplaceAll(name, q, q+q) + q
}
