// internal/tenant/registry.go
//
// Connection registry: core pool plus one lazily opened pool per tenant.
//
// Context
// -------
// Request handling only reads from the registry.  A cache hit is a single
// sync.Map load.  A miss goes through singleflight (one opener per org id
// at a time) and then through a per-key lock that Register and Evict also
// take, so a pool is never opened while the provisioner replaces or removes
// the same tenant.  Unrelated tenants never wait on each other.
//
// A pool is only opened for organizations the directory knows.  Active
// organizations are routable from any context; organizations still
// provisioning (or failed) are reachable only from a context marked with
// WithProvisioning.
//
// Notes
// -----
//   • Open failures are returned as ErrDatabaseUnavailable and never cached.
//     The registry does not retry; callers decide.
//   • The evictor (evictor.go) is optional and started with Start.
//   • Two spaces after periods.

package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/tenancy/internal/database"
	"github.com/yanizio/tenancy/internal/keylock"
	"github.com/yanizio/tenancy/internal/metrics"
	"github.com/yanizio/tenancy/internal/org"
)

// Static defaults used when Config leaves a field zero.
const (
	IdleTTL       = 30 * time.Minute
	MaxEntries    = 100
	EvictInterval = 5 * time.Minute

	// ResolveTimeout bounds a shared first-access lookup (lock wait,
	// directory read, pool open).  It runs detached from any one caller.
	ResolveTimeout = 15 * time.Second
)

// ErrRegistryClosed is returned after Close.
var ErrRegistryClosed = errors.New("tenant registry closed")

// Directory answers "which organizations exist" from the core database.
type Directory interface {
	ByID(ctx context.Context, id string) (*org.Organization, error)
}

// DirectoryFunc builds a Directory on top of the core pool.  It is called
// with the registry's own core pool, which breaks the registry ↔ org store
// construction cycle.
type DirectoryFunc func(core *sqlx.DB) Directory

// Opener opens and pings a pool.  database.OpenWithOptions in production.
type Opener func(ctx context.Context, d database.Dialect, dsn string, opts database.Options) (*sqlx.DB, error)

// Config holds everything the registry needs to reach the cluster.
type Config struct {
	Dialect       database.Dialect
	Cluster       database.Cluster
	CoreDatabase  string
	CorePool      database.Options
	TenantPool    database.Options
	IdleTTL       time.Duration
	MaxEntries    int
	EvictInterval time.Duration
}

// Option customises a Registry.
type Option func(*Registry)

// WithOpener swaps the pool opener (tests).
func WithOpener(o Opener) Option { return func(r *Registry) { r.open = o } }

// WithLogger sets the logger.  Defaults to zap.S().
func WithLogger(l *zap.SugaredLogger) Option { return func(r *Registry) { r.log = l } }

// Registry caches the core pool and tenant pools.  Safe for concurrent use.
type Registry struct {
	cfg  Config
	dir  DirectoryFunc
	open Opener
	log  *zap.SugaredLogger

	coreMu sync.Mutex
	core   *sqlx.DB

	adminMu sync.Mutex
	admin   *database.Admin

	sfg    singleflight.Group
	locks  *keylock.Map
	m      sync.Map // org id → *entry
	closed atomic.Bool

	stopEvict context.CancelFunc
	evictDone chan struct{}
}

// NewRegistry constructs a Registry.  No connection is opened until first use.
func NewRegistry(cfg Config, dir DirectoryFunc, opts ...Option) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = IdleTTL
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = MaxEntries
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = EvictInterval
	}
	// Tenant pools never retry inside the registry.
	cfg.TenantPool.Retries = 0

	r := &Registry{
		cfg:   cfg,
		dir:   dir,
		open:  database.OpenWithOptions,
		log:   zap.S(),
		locks: keylock.New(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

//
// Core and admin pools
//

// Core returns the shared core pool, opening it on first use.  A failed
// open is not remembered.
func (r *Registry) Core(ctx context.Context) (*sqlx.DB, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}
	r.coreMu.Lock()
	defer r.coreMu.Unlock()
	if r.core != nil {
		return r.core, nil
	}
	dsn := r.cfg.Dialect.DSN(r.cfg.Cluster, r.cfg.CoreDatabase)
	db, err := r.open(ctx, r.cfg.Dialect, dsn, r.cfg.CorePool)
	if err != nil {
		return nil, fmt.Errorf("%w: core: %w", ErrDatabaseUnavailable, err)
	}
	r.core = db
	r.log.Infow("core pool online", "database", r.cfg.CoreDatabase, "dialect", r.cfg.Dialect.Name())
	return db, nil
}

// Admin returns a helper bound to the cluster's maintenance database, used
// to create tenant databases.
func (r *Registry) Admin(ctx context.Context) (*database.Admin, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}
	r.adminMu.Lock()
	defer r.adminMu.Unlock()
	if r.admin != nil {
		return r.admin, nil
	}
	dsn := r.cfg.Dialect.DSN(r.cfg.Cluster, r.cfg.Dialect.AdminDatabase())
	db, err := r.open(ctx, r.cfg.Dialect, dsn, database.Options{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return nil, fmt.Errorf("%w: admin: %w", ErrDatabaseUnavailable, err)
	}
	r.admin = database.NewAdmin(db, r.cfg.Dialect)
	return r.admin, nil
}

// Dialect exposes the configured dialect to collaborators (migrations).
func (r *Registry) Dialect() database.Dialect { return r.cfg.Dialect }

//
// Tenant pools
//

// ConnInfo describes how to reach orgID's database on the shared cluster.
func (r *Registry) ConnInfo(orgID string) ConnInfo {
	name := DatabaseName(orgID)
	return ConnInfo{
		OrgID:    orgID,
		Database: name,
		DSN:      r.cfg.Dialect.DSN(r.cfg.Cluster, name),
	}
}

// Tenant returns the pool for orgID.  Repeated calls return the same
// instance until the pool is evicted.
func (r *Registry) Tenant(ctx context.Context, orgID string) (*sqlx.DB, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}
	if e, ok := r.load(orgID); ok {
		e.touch()
		return e.db, nil
	}
	if !ValidID(orgID) {
		metrics.TenantLoadErrorsTotal.WithLabelValues("invalid_id").Inc()
		return nil, fmt.Errorf("%w: %q", ErrUnknownTenant, orgID)
	}

	// Provisioning callers may admit more organizations than regular ones,
	// so their flights must not share a result.
	flight := orgID
	if IsProvisioning(ctx) {
		flight = "provisioning:" + orgID
	}
	// The flight outlives whichever caller started it; each caller waits
	// on its own ctx and may leave early without failing the others.
	ch := r.sfg.DoChan(flight, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ResolveTimeout)
		defer cancel()
		return r.resolve(fctx, orgID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sqlx.DB), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("tenant %s: %w", orgID, ctx.Err())
	}
}

// Current resolves the pool for the tenant attached to ctx.
func (r *Registry) Current(ctx context.Context) (*sqlx.DB, error) {
	id, err := Get(ctx)
	if err != nil {
		return nil, err
	}
	return r.Tenant(ctx, id)
}

func (r *Registry) resolve(ctx context.Context, orgID string) (*sqlx.DB, error) {
	unlock, err := r.locks.Lock(ctx, orgID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Double-check after the barrier: Register may have installed a pool.
	if e, ok := r.load(orgID); ok {
		e.touch()
		return e.db, nil
	}

	core, err := r.Core(ctx)
	if err != nil {
		metrics.TenantLoadErrorsTotal.WithLabelValues("core_unavailable").Inc()
		return nil, err
	}
	o, err := r.dir(core).ByID(ctx, orgID)
	switch {
	case errors.Is(err, org.ErrNotFound):
		metrics.TenantLoadErrorsTotal.WithLabelValues("unknown").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, orgID)
	case err != nil:
		metrics.TenantLoadErrorsTotal.WithLabelValues("directory").Inc()
		return nil, fmt.Errorf("%w: directory lookup %s: %w", ErrDatabaseUnavailable, orgID, err)
	}
	if !o.Routable() && !IsProvisioning(ctx) {
		metrics.TenantLoadErrorsTotal.WithLabelValues("not_active").Inc()
		return nil, fmt.Errorf("%w: %s is %s", ErrUnknownTenant, orgID, o.Status)
	}

	info := r.ConnInfo(orgID)
	db, err := r.open(ctx, r.cfg.Dialect, info.DSN, r.cfg.TenantPool)
	if err != nil {
		metrics.TenantLoadErrorsTotal.WithLabelValues("open").Inc()
		r.log.Warnw("tenant pool open failed", "tenant", orgID, "err", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrDatabaseUnavailable, orgID, err)
	}

	r.m.Store(orgID, newEntry(db, info))
	metrics.TenantLoadTotal.Inc()
	metrics.ActiveTenants.Inc()
	r.log.Debugw("tenant pool opened", "tenant", orgID, "database", info.Database)
	return db, nil
}

// Open opens a pool for info without caching it.  The caller owns and
// closes it.  Used for migrations before a tenant is registered.
func (r *Registry) Open(ctx context.Context, info ConnInfo) (*sqlx.DB, error) {
	db, err := r.open(ctx, r.cfg.Dialect, info.DSN, database.Options{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDatabaseUnavailable, info.OrgID, err)
	}
	return db, nil
}

// Register installs a fresh pool for orgID.  An existing pool is replaced
// only when none of its connections is in use; otherwise
// ErrTenantAlreadyRegistered is returned and the old pool stays.
func (r *Registry) Register(ctx context.Context, orgID string, info ConnInfo) (*sqlx.DB, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}
	unlock, err := r.locks.Lock(ctx, orgID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Only organizations that are not yet active are registered, so no
	// request holds the old pool between queries.
	old, hadOld := r.load(orgID)
	if hadOld && old.inUse() {
		return nil, fmt.Errorf("%w: %s", ErrTenantAlreadyRegistered, orgID)
	}

	db, err := r.open(ctx, r.cfg.Dialect, info.DSN, r.cfg.TenantPool)
	if err != nil {
		metrics.TenantLoadErrorsTotal.WithLabelValues("open").Inc()
		return nil, fmt.Errorf("%w: %s: %w", ErrDatabaseUnavailable, orgID, err)
	}

	r.m.Store(orgID, newEntry(db, info))
	metrics.TenantLoadTotal.Inc()
	if hadOld {
		_ = old.db.Close()
		metrics.TenantEvictTotal.WithLabelValues("replaced").Inc()
	} else {
		metrics.ActiveTenants.Inc()
	}
	r.log.Infow("tenant pool registered", "tenant", orgID, "database", info.Database, "replaced", hadOld)
	return db, nil
}

// Evict closes and forgets orgID's pool.  Evicting an absent tenant is a
// no-op.
func (r *Registry) Evict(orgID string) error {
	unlock, err := r.locks.Lock(context.Background(), orgID)
	if err != nil {
		return err
	}
	defer unlock()

	v, ok := r.m.LoadAndDelete(orgID)
	if !ok {
		return nil
	}
	metrics.TenantEvictTotal.WithLabelValues("explicit").Inc()
	metrics.ActiveTenants.Dec()
	r.log.Infow("tenant pool evicted", "tenant", orgID)
	return v.(*entry).db.Close()
}

// Len reports the number of cached tenant pools.
func (r *Registry) Len() int {
	n := 0
	r.m.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Close stops the evictor and closes every pool.  The registry is unusable
// afterwards.
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.stopEvict != nil {
		r.stopEvict()
		<-r.evictDone
	}

	var err error
	r.m.Range(func(k, v any) bool {
		r.m.Delete(k)
		metrics.ActiveTenants.Dec()
		err = multierr.Append(err, v.(*entry).db.Close())
		return true
	})

	r.coreMu.Lock()
	if r.core != nil {
		err = multierr.Append(err, r.core.Close())
		r.core = nil
	}
	r.coreMu.Unlock()

	r.adminMu.Lock()
	if r.admin != nil {
		err = multierr.Append(err, r.admin.Close())
		r.admin = nil
	}
	r.adminMu.Unlock()

	return err
}

func (r *Registry) load(orgID string) (*entry, bool) {
	v, ok := r.m.Load(orgID)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}
