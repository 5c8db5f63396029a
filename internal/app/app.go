// internal/app/app.go
//
// Process wiring shared by cmd/web and cmd/tenantctl.
//
// Context
// -------
// Build turns a loaded Config into the running object graph:
//
//	Registry ─┬─ core pool ── account.Store, org.Store (directory)
//	          ├─ admin pool ── CREATE DATABASE
//	          └─ tenant pools
//	Dispatcher ── owner sync subscriber
//	Provisioner (orgs, cluster, registry, tenant migrations, dispatcher)
//
// The core pool is opened eagerly, with the configured ping retries, so a
// misconfigured cluster fails at startup instead of on the first request.
// Tenant pools stay lazy.
//
// Notes
// -----
//   • Close releases every pool the registry opened.
//   • Two spaces after periods.

package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/tenancy/internal/account"
	"github.com/yanizio/tenancy/internal/auth"
	"github.com/yanizio/tenancy/internal/config"
	"github.com/yanizio/tenancy/internal/database"
	"github.com/yanizio/tenancy/internal/events"
	"github.com/yanizio/tenancy/internal/httpapi"
	"github.com/yanizio/tenancy/internal/migrate"
	"github.com/yanizio/tenancy/internal/org"
	"github.com/yanizio/tenancy/internal/provision"
	"github.com/yanizio/tenancy/internal/tenant"
	"github.com/yanizio/tenancy/internal/tenantuser"
)

// App is the wired object graph.
type App struct {
	Config      *config.Config
	Log         *zap.SugaredLogger
	Dialect     database.Dialect
	Registry    *tenant.Registry
	Core        *sqlx.DB
	Accounts    *account.Store
	Orgs        *org.Store
	Events      *events.Dispatcher
	CoreSchema  *migrate.Runner
	Tenants     *migrate.Runner
	Provisioner *provision.Provisioner
	Tokens      *auth.Issuer
}

// Option customises Build.
type Option func(*buildOpts)

type buildOpts struct {
	registry []tenant.Option
}

// WithRegistryOptions passes options to tenant.NewRegistry (tests).
func WithRegistryOptions(opts ...tenant.Option) Option {
	return func(b *buildOpts) { b.registry = append(b.registry, opts...) }
}

// Build wires every component from cfg.
func Build(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger, opts ...Option) (*App, error) {
	var bo buildOpts
	for _, o := range opts {
		o(&bo)
	}

	d, err := database.ByName(cfg.Database.Dialect)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, Dialect: d}

	regOpts := append([]tenant.Option{tenant.WithLogger(log)}, bo.registry...)
	a.Registry = tenant.NewRegistry(cfg.RegistryConfig(d),
		func(core *sqlx.DB) tenant.Directory { return org.NewStore(core, d) },
		regOpts...)

	if a.Core, err = a.Registry.Core(ctx); err != nil {
		_ = a.Registry.Close()
		return nil, err
	}
	a.Accounts = account.NewStore(a.Core, d)
	a.Orgs = org.NewStore(a.Core, d)

	if a.CoreSchema, err = migrate.New(migrate.Core, d, log); err != nil {
		_ = a.Registry.Close()
		return nil, err
	}
	if a.Tenants, err = migrate.New(migrate.Tenant, d, log); err != nil {
		_ = a.Registry.Close()
		return nil, err
	}

	a.Events = events.NewDispatcher(log)
	tenantuser.NewOwnerSync(a.Registry, a.Accounts, d, log).Register(a.Events)

	a.Provisioner = provision.New(
		a.Orgs,
		provision.ClusterDatabases{Source: a.Registry},
		a.Registry,
		a.Tenants,
		a.Events,
		provision.Options{Parallelism: cfg.Tenancy.MigrateParallelism},
		log,
	)

	if a.Tokens, err = auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL); err != nil {
		_ = a.Registry.Close()
		return nil, err
	}
	return a, nil
}

// MigrateCore brings the core database up to date.
func (a *App) MigrateCore(ctx context.Context) (migrate.Result, error) {
	res, err := a.CoreSchema.Up(ctx, a.Core.DB)
	if err != nil {
		return res, fmt.Errorf("core schema: %w", err)
	}
	return res, nil
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return httpapi.New(httpapi.Deps{
		Accounts:      a.Accounts,
		Organizations: a.Orgs,
		Provisioner:   a.Provisioner,
		Pools:         a.Registry,
		Dialect:       a.Dialect,
		Tokens:        a.Tokens,
		TenantHeader:  a.Config.HTTP.TenantHeader,
		ForceHTTPS:    a.Config.HTTP.ForceHTTPS,
		Health:        func(ctx context.Context) error { return a.Core.PingContext(ctx) },
		Log:           a.Log,
	})
}

// Close releases every pool.
func (a *App) Close() error { return a.Registry.Close() }
