// internal/migrate/migrate.go
//
// Embedded schema migrations for the core and tenant databases.
//
// Context
// -------
// SQL files under sql/core and sql/tenant are embedded into the binary and
// applied with goose's Provider API.  Goose records every applied version
// in `goose_db_version` inside the migrated database itself, so:
//
//   • re-running Up on a fully migrated database applies nothing,
//   • a run that failed at version N resumes at N on the next call.
//
// The SQL is written to run unchanged on MySQL and PostgreSQL.
//
// Notes
// -----
//   • Provider.Close would close the caller's *sql.DB, so the provider is
//     dropped instead.  The pool belongs to the caller.
//   • Two spaces after periods.

package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
	"go.uber.org/zap"

	"github.com/yanizio/tenancy/internal/database"
	"github.com/yanizio/tenancy/internal/tenant"
)

//go:embed sql/core/*.sql sql/tenant/*.sql
var embedded embed.FS

// Set selects which embedded migration set a Runner applies.
type Set string

const (
	Core   Set = "core"
	Tenant Set = "tenant"
)

// Result summarises one Up call.
type Result struct {
	Applied []int64 // versions applied by this call, ascending
	Current int64   // schema version after the call
}

// Runner applies one migration set to databases of one dialect.
type Runner struct {
	set     Set
	fsys    fs.FS
	dialect goose.Dialect
	locking bool
	log     *zap.SugaredLogger
}

// New returns a Runner for set on dialect d.
func New(set Set, d database.Dialect, log *zap.SugaredLogger) (*Runner, error) {
	sub, err := fs.Sub(embedded, "sql/"+string(set))
	if err != nil {
		return nil, fmt.Errorf("migrate: %s set: %w", set, err)
	}
	return NewFromFS(set, sub, d, log)
}

// NewFromFS is New with an explicit migration directory (tests).
func NewFromFS(set Set, fsys fs.FS, d database.Dialect, log *zap.SugaredLogger) (*Runner, error) {
	if log == nil {
		log = zap.S()
	}
	r := &Runner{set: set, fsys: fsys, log: log}
	switch d.Name() {
	case "mysql":
		r.dialect = goose.DialectMySQL
	case "postgres":
		r.dialect = goose.DialectPostgres
		r.locking = true
	default:
		return nil, fmt.Errorf("migrate: unsupported dialect %q", d.Name())
	}
	return r, nil
}

func (r *Runner) provider(db *sql.DB) (*goose.Provider, error) {
	var opts []goose.ProviderOption
	if r.locking {
		// Advisory lock so two processes never migrate one database at once.
		locker, err := lock.NewPostgresSessionLocker()
		if err != nil {
			return nil, err
		}
		opts = append(opts, goose.WithSessionLocker(locker))
	}
	return goose.NewProvider(r.dialect, db, r.fsys, opts...)
}

// Up applies every pending migration to db.  On failure the returned Result
// still lists the versions applied before the failing one, and the error
// wraps tenant.ErrMigrationFailure.
func (r *Runner) Up(ctx context.Context, db *sql.DB) (Result, error) {
	p, err := r.provider(db)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s provider: %w", tenant.ErrMigrationFailure, r.set, err)
	}

	results, err := p.Up(ctx)
	var res Result
	var partial *goose.PartialError
	if errors.As(err, &partial) {
		results = partial.Applied
	}
	for _, mr := range results {
		res.Applied = append(res.Applied, mr.Source.Version)
		r.log.Infow("migration applied",
			"set", r.set, "version", mr.Source.Version, "duration", mr.Duration)
	}

	if err != nil {
		if partial != nil && partial.Failed != nil {
			r.log.Errorw("migration failed",
				"set", r.set, "version", partial.Failed.Source.Version, "err", partial.Err)
			err = fmt.Errorf("%w: %s version %d: %w",
				tenant.ErrMigrationFailure, r.set, partial.Failed.Source.Version, partial.Err)
		} else {
			err = fmt.Errorf("%w: %s: %w", tenant.ErrMigrationFailure, r.set, err)
		}
	}

	cur, verr := p.GetDBVersion(ctx)
	if verr == nil {
		res.Current = cur
	} else if err == nil {
		err = fmt.Errorf("%w: %s version: %w", tenant.ErrMigrationFailure, r.set, verr)
	}
	return res, err
}

// Pending reports how many migrations have not been applied to db yet.
func (r *Runner) Pending(ctx context.Context, db *sql.DB) (int, error) {
	p, err := r.provider(db)
	if err != nil {
		return 0, err
	}
	st, err := p.Status(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s status: %w", r.set, err)
	}
	n := 0
	for _, s := range st {
		if s.State == goose.StatePending {
			n++
		}
	}
	return n, nil
}

// Latest returns the highest version in the set.
func (r *Runner) Latest() (int64, error) {
	names, err := fs.Glob(r.fsys, "*.sql")
	if err != nil {
		return 0, err
	}
	var latest int64
	for _, n := range names {
		v, err := goose.NumericComponent(n)
		if err != nil {
			return 0, fmt.Errorf("%s migration %s: %w", r.set, n, err)
		}
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}
