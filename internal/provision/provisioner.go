// internal/provision/provisioner.go
//
// Tenant provisioner.
//
// Context
// -------
// Creating an organization walks a fixed state machine:
//
//	requested → db_created → migrated → owner_synced → complete
//	        ↘ failed(reason), reachable from every step
//
//  1. Insert the organization row (status `provisioning`).
//  2. Create `tenant_{id}`.  An existing database is a conflict.
//  3. Apply tenant migrations over a short-lived, uncached pool.
//  4. Register the tenant pool with the registry.
//  5. Publish `organization.created`.  Owner sync is a subscriber.
//  6. Mark the organization `active` and publish `organization.activated`.
//
// Any failure persists status `failed` plus the reason, evicts a pool that
// may already be registered, publishes `organization.failed`, and leaves the
// tenant database in place.  Resume re-enters the same sequence for such an
// organization, reusing the database and applying only missing migrations.
//
// Notes
// -----
//   • At most one provisioning or maintenance run per organization id at a
//     time (keylock).  Other organizations proceed in parallel.
//   • The failed status is written with a context detached from the
//     caller's cancellation, so a client hang-up cannot leave a row stuck in
//     `provisioning` after a failure was observed.
//   • Two spaces after periods.

package provision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/tenancy/internal/database"
	"github.com/yanizio/tenancy/internal/events"
	"github.com/yanizio/tenancy/internal/keylock"
	"github.com/yanizio/tenancy/internal/metrics"
	"github.com/yanizio/tenancy/internal/migrate"
	"github.com/yanizio/tenancy/internal/org"
	"github.com/yanizio/tenancy/internal/tenant"
)

// ErrInvalidRequest reports a CreateOrganization request that cannot be
// provisioned as given.
var ErrInvalidRequest = errors.New("invalid organization request")

//
// Collaborators
//

// Organizations is the core-database organization directory.
type Organizations interface {
	Create(ctx context.Context, o *org.Organization) error
	ByID(ctx context.Context, id string) (*org.Organization, error)
	ByName(ctx context.Context, name string) (*org.Organization, error)
	BySlug(ctx context.Context, slug string) (*org.Organization, error)
	All(ctx context.Context) ([]org.Organization, error)
	SetStatus(ctx context.Context, id string, status org.Status, reason string) error
}

// Databases creates physical databases on the cluster.
type Databases interface {
	DatabaseExists(ctx context.Context, name string) (bool, error)
	CreateDatabase(ctx context.Context, name string) error
}

// Pools is the subset of *tenant.Registry the provisioner drives.
type Pools interface {
	ConnInfo(orgID string) tenant.ConnInfo
	Open(ctx context.Context, info tenant.ConnInfo) (*sqlx.DB, error)
	Register(ctx context.Context, orgID string, info tenant.ConnInfo) (*sqlx.DB, error)
	Tenant(ctx context.Context, orgID string) (*sqlx.DB, error)
	Evict(orgID string) error
}

// Migrator applies the tenant migration set.  *migrate.Runner satisfies it.
type Migrator interface {
	Up(ctx context.Context, db *sql.DB) (migrate.Result, error)
	Pending(ctx context.Context, db *sql.DB) (int, error)
}

// Publisher delivers lifecycle events.  *events.Dispatcher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Request describes a new organization.  ID defaults to a UUID and Slug to
// the slugified Name.
type Request struct {
	ID      string
	Name    string
	Slug    string
	OwnerID string
}

// Options tunes a Provisioner.
type Options struct {
	// Parallelism bounds concurrent organizations in MigrateTenants.
	Parallelism int
}

// Provisioner creates and repairs tenant databases.  Safe for concurrent use.
type Provisioner struct {
	orgs     Organizations
	dbs      Databases
	pools    Pools
	migrator Migrator
	events   Publisher
	locks    *keylock.Map
	opts     Options
	log      *zap.SugaredLogger
	now      func() time.Time
}

// New wires a Provisioner.  A nil logger means zap.S().
func New(orgs Organizations, dbs Databases, pools Pools, m Migrator, pub Publisher, opts Options, log *zap.SugaredLogger) *Provisioner {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if log == nil {
		log = zap.S()
	}
	return &Provisioner{
		orgs:     orgs,
		dbs:      dbs,
		pools:    pools,
		migrator: m,
		events:   pub,
		locks:    keylock.New(),
		opts:     opts,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

//
// Create and resume
//

// CreateOrganization provisions a new organization end to end.  The
// returned Attempt is non-nil whenever the organization row was inserted,
// including on failure.
func (p *Provisioner) CreateOrganization(ctx context.Context, req Request) (*org.Organization, *Attempt, error) {
	req, err := normalize(req)
	if err != nil {
		return nil, nil, err
	}

	unlock, err := p.locks.Lock(ctx, req.ID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()
	ctx = tenant.WithProvisioning(ctx)

	if err := p.checkUnique(ctx, req); err != nil {
		return nil, nil, err
	}

	o := &org.Organization{
		ID:           req.ID,
		Name:         req.Name,
		Slug:         req.Slug,
		OwnerID:      req.OwnerID,
		DatabaseName: tenant.DatabaseName(req.ID),
		Status:       org.StatusProvisioning,
	}
	if err := p.orgs.Create(ctx, o); err != nil {
		if errors.Is(err, org.ErrConflict) {
			return nil, nil, fmt.Errorf("%w: %w", tenant.ErrProvisionConflict, err)
		}
		return nil, nil, fmt.Errorf("provision %s: insert organization: %w", o.ID, err)
	}
	p.log.Infow("organization provisioning", "tenant", o.ID, "name", o.Name, "owner", o.OwnerID)

	a := newAttempt(o.ID, p.now())
	return o, a, p.run(ctx, o, a, false)
}

// Resume re-runs provisioning for an organization left in `provisioning` or
// `failed`.  The tenant database is reused when present and only missing
// migrations are applied.  Resuming an active organization is a no-op and
// returns a nil Attempt.
func (p *Provisioner) Resume(ctx context.Context, orgID string) (*org.Organization, *Attempt, error) {
	unlock, err := p.locks.Lock(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()
	ctx = tenant.WithProvisioning(ctx)

	o, err := p.orgs.ByID(ctx, orgID)
	if errors.Is(err, org.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", tenant.ErrUnknownTenant, orgID)
	}
	if err != nil {
		return nil, nil, err
	}
	return p.resumeLocked(ctx, o)
}

func (p *Provisioner) resumeLocked(ctx context.Context, o *org.Organization) (*org.Organization, *Attempt, error) {
	if o.Status == org.StatusActive {
		return o, nil, nil
	}
	if err := p.orgs.SetStatus(ctx, o.ID, org.StatusProvisioning, ""); err != nil {
		return o, nil, fmt.Errorf("provision %s: reset status: %w", o.ID, err)
	}
	o.Status, o.FailureReason = org.StatusProvisioning, ""
	p.log.Infow("organization provisioning resumed", "tenant", o.ID)

	a := newAttempt(o.ID, p.now())
	a.Resumed = true
	return o, a, p.run(ctx, o, a, true)
}

// run drives the state machine from requested.  The caller holds the
// organization's lock.
func (p *Provisioner) run(ctx context.Context, o *org.Organization, a *Attempt, resume bool) error {
	start := time.Now()
	defer func() {
		a.FinishedAt = p.now()
		metrics.ProvisionTotal.WithLabelValues(string(a.State())).Inc()
		metrics.ProvisionDuration.Observe(time.Since(start).Seconds())
	}()

	// requested → db_created
	exists, err := p.dbs.DatabaseExists(ctx, o.DatabaseName)
	if err != nil {
		return p.fail(ctx, o, a, "probe database", fmt.Errorf("%w: %w", tenant.ErrDatabaseUnavailable, err))
	}
	switch {
	case exists && !resume:
		return p.fail(ctx, o, a, "create database",
			fmt.Errorf("%w: database %s already exists", tenant.ErrProvisionConflict, o.DatabaseName))
	case !exists:
		if err := p.dbs.CreateDatabase(ctx, o.DatabaseName); err != nil {
			if !resume || !errors.Is(err, database.ErrDatabaseExists) {
				if errors.Is(err, database.ErrDatabaseExists) {
					err = fmt.Errorf("%w: %w", tenant.ErrProvisionConflict, err)
				}
				return p.fail(ctx, o, a, "create database", err)
			}
		}
	}
	a.step(StateDBCreated)

	// db_created → migrated
	info := p.pools.ConnInfo(o.ID)
	applied, err := p.migrateOver(ctx, info)
	a.Applied = applied
	if err != nil {
		return p.fail(ctx, o, a, "migrate", err)
	}
	a.step(StateMigrated)

	// migrated → owner_synced
	if _, err := p.pools.Register(ctx, o.ID, info); err != nil {
		return p.fail(ctx, o, a, "register pool", err)
	}
	created := events.New(events.OrganizationCreated, o.ID, map[string]string{
		"owner_id": o.OwnerID,
		"name":     o.Name,
		"slug":     o.Slug,
		"database": o.DatabaseName,
	})
	if err := p.events.Publish(ctx, created); err != nil {
		return p.fail(ctx, o, a, "publish "+events.OrganizationCreated, err)
	}
	a.step(StateOwnerSynced)

	// owner_synced → complete
	if err := p.orgs.SetStatus(ctx, o.ID, org.StatusActive, ""); err != nil {
		return p.fail(ctx, o, a, "activate", err)
	}
	o.Status, o.FailureReason = org.StatusActive, ""
	a.step(StateComplete)

	p.log.Infow("organization active", "tenant", o.ID, "applied", a.Applied, "resumed", a.Resumed)
	if err := p.events.Publish(ctx, events.New(events.OrganizationActivated, o.ID, map[string]string{
		"owner_id": o.OwnerID,
	})); err != nil {
		p.log.Warnw("activation subscribers failed", "tenant", o.ID, "err", err)
	}
	return nil
}

// migrateOver applies tenant migrations through a pool that is closed again
// before returning.  The registry's cached pool is not involved.
func (p *Provisioner) migrateOver(ctx context.Context, info tenant.ConnInfo) ([]int64, error) {
	db, err := p.pools.Open(ctx, info)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	res, err := p.migrator.Up(ctx, db.DB)
	metrics.MigrationsAppliedTotal.Add(float64(len(res.Applied)))
	return res.Applied, err
}

// fail moves the attempt to failed and records it.  The returned error wraps
// cause.
func (p *Provisioner) fail(ctx context.Context, o *org.Organization, a *Attempt, step string, cause error) error {
	a.Reason = step + ": " + cause.Error()
	a.step(StateFailed)
	o.Status, o.FailureReason = org.StatusFailed, a.Reason

	pctx := context.WithoutCancel(ctx)
	if err := p.orgs.SetStatus(pctx, o.ID, org.StatusFailed, a.Reason); err != nil {
		p.log.Errorw("persist failed status", "tenant", o.ID, "err", err)
	}
	if err := p.pools.Evict(o.ID); err != nil {
		p.log.Warnw("evict after failure", "tenant", o.ID, "err", err)
	}
	if err := p.events.Publish(pctx, events.New(events.OrganizationFailed, o.ID, map[string]string{
		"owner_id": o.OwnerID,
		"step":     step,
		"reason":   a.Reason,
	})); err != nil {
		p.log.Warnw("failure subscribers failed", "tenant", o.ID, "err", err)
	}

	p.log.Errorw("organization provisioning failed",
		"tenant", o.ID, "step", step, "applied", a.Applied, "err", cause)
	return fmt.Errorf("provision %s: %s: %w", o.ID, step, cause)
}

//
// Validation
//

func normalize(req Request) (Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if !tenant.ValidID(req.ID) {
		return req, fmt.Errorf("%w: id %q", ErrInvalidRequest, req.ID)
	}
	if req.Name == "" {
		return req, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if req.OwnerID == "" {
		return req, fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}
	if req.Slug == "" {
		req.Slug = org.Slugify(req.Name)
	}
	if req.Slug == "" || req.Slug != org.Slugify(req.Slug) {
		return req, fmt.Errorf("%w: slug %q", ErrInvalidRequest, req.Slug)
	}
	return req, nil
}

// checkUnique rejects a request whose id, name, or slug is taken.  The
// unique indexes still catch races; this gives callers a precise reason.
func (p *Provisioner) checkUnique(ctx context.Context, req Request) error {
	checks := []struct {
		what string
		get  func() (*org.Organization, error)
	}{
		{"id", func() (*org.Organization, error) { return p.orgs.ByID(ctx, req.ID) }},
		{"name", func() (*org.Organization, error) { return p.orgs.ByName(ctx, req.Name) }},
		{"slug", func() (*org.Organization, error) { return p.orgs.BySlug(ctx, req.Slug) }},
	}
	for _, c := range checks {
		_, err := c.get()
		switch {
		case err == nil:
			return fmt.Errorf("%w: organization %s already taken", tenant.ErrProvisionConflict, c.what)
		case !errors.Is(err, org.ErrNotFound):
			return fmt.Errorf("provision %s: check %s: %w", req.ID, c.what, err)
		}
	}
	return nil
}
