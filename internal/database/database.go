// Package database centralises sqlx connection helpers.  Two drivers are
// wired: go-sql-driver/mysql (MySQL, MariaDB) and pgx's database/sql shim
// (PostgreSQL).  The driver is picked through a Dialect so callers never
// hard-code a driver name.
//
// Public entry points:
//
//	Open(ctx, d, dsn)                    – conservative pool sizes.
//	OpenWithOptions(ctx, d, dsn, opts)   – fine-grained control.
//
// Both helpers Ping the database before returning so callers can fail fast.
// Callers should Close() the returned *sqlx.DB when no longer needed.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Options tunes a single pool.  Zero values fall back to DefaultOptions.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration

	// Retries is the number of extra Ping attempts.  Tenant pools use 0;
	// retry policy there belongs to the caller.
	Retries      int
	RetryBackoff time.Duration
}

// DefaultOptions returns the process-wide pool defaults: 15 max open, 5 idle,
// and a 30-minute connection lifetime.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    15,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = d.MaxOpenConns
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = d.MaxIdleConns
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = d.ConnMaxLifetime
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = d.PingTimeout
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	return o
}

// Open returns a *sqlx.DB with DefaultOptions.
func Open(ctx context.Context, d Dialect, dsn string) (*sqlx.DB, error) {
	return OpenWithOptions(ctx, d, dsn, DefaultOptions())
}

// OpenWithOptions opens and pings a pool.  The pool is closed again when
// every ping attempt fails, so a failed open never leaks connections.
func OpenWithOptions(ctx context.Context, d Dialect, dsn string, opts Options) (*sqlx.DB, error) {
	opts = opts.withDefaults()

	db, err := sqlx.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name(), err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	var pingErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				_ = db.Close()
				return nil, ctx.Err()
			case <-time.After(opts.RetryBackoff * time.Duration(attempt)):
			}
		}
		pctx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
		pingErr = db.PingContext(pctx)
		cancel()
		if pingErr == nil {
			return db, nil
		}
	}

	_ = db.Close()
	return nil, fmt.Errorf("ping %s: %w", d.Name(), pingErr)
}
