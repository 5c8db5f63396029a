package database

import (
	"errors"
	"net"
	"net/url"
	"sort"
	"strconv"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// Postgres is the pgx dialect, reached through pgx's database/sql driver so
// sqlx and goose work unchanged.
type Postgres struct{}

func (Postgres) Name() string          { return "postgres" }
func (Postgres) DriverName() string    { return "pgx" }
func (Postgres) AdminDatabase() string { return "postgres" }

// DSN renders a postgres:// URL.  Params become query arguments in a stable
// order so DSNs compare equal across calls.
func (Postgres) DSN(c Cluster, database string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + database,
	}
	if len(c.Params) > 0 {
		keys := make([]string, 0, len(c.Params))
		for k := range c.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		q := url.Values{}
		for _, k := range keys {
			q.Set(k, c.Params[k])
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (Postgres) QuoteIdent(name string) string { return quoteWith(name, `"`) }

func (d Postgres) CreateDatabaseSQL(name string) string {
	return "CREATE DATABASE " + d.QuoteIdent(name)
}

func (Postgres) DatabaseExistsQuery() string {
	return `SELECT COUNT(*) FROM pg_database WHERE datname = ?`
}

func (Postgres) IsDuplicateDatabase(err error) bool { return pgCode(err) == pgerrcode.DuplicateDatabase }
func (Postgres) IsDuplicateKey(err error) bool      { return pgCode(err) == pgerrcode.UniqueViolation }
func (Postgres) IsUnknownDatabase(err error) bool   { return pgCode(err) == pgerrcode.InvalidCatalogName }

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
