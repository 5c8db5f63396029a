package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/yanizio/tenancy/internal/database"
	"github.com/yanizio/tenancy/internal/org"
	"github.com/yanizio/tenancy/internal/tenant"
)

// AdminSource hands out the cluster admin helper.  *tenant.Registry
// satisfies it.
type AdminSource interface {
	Admin(ctx context.Context) (*database.Admin, error)
}

// ClusterDatabases adapts an AdminSource to Databases, resolving the admin
// pool lazily on each call.
type ClusterDatabases struct{ Source AdminSource }

func (c ClusterDatabases) DatabaseExists(ctx context.Context, name string) (bool, error) {
	a, err := c.Source.Admin(ctx)
	if err != nil {
		return false, err
	}
	return a.DatabaseExists(ctx, name)
}

func (c ClusterDatabases) CreateDatabase(ctx context.Context, name string) error {
	a, err := c.Source.Admin(ctx)
	if err != nil {
		return err
	}
	return a.CreateDatabase(ctx, name)
}

// Report is the outcome of MigrateTenants for one organization.
type Report struct {
	OrganizationID string
	Status         org.Status // status after the run
	Applied        []int64
	Resumed        bool
	Err            error
}

// MigrateTenants brings tenant databases up to the latest schema.  With an
// empty orgID every organization is visited; otherwise only that one.
// Active organizations get pending migrations applied through their cached
// pool.  Organizations in `provisioning` or `failed` are resumed.  One
// organization failing does not stop the others; the returned error
// combines every failure.
func (p *Provisioner) MigrateTenants(ctx context.Context, orgID string) ([]Report, error) {
	var orgs []org.Organization
	if orgID != "" {
		o, err := p.orgs.ByID(ctx, orgID)
		if errors.Is(err, org.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", tenant.ErrUnknownTenant, orgID)
		}
		if err != nil {
			return nil, err
		}
		orgs = []org.Organization{*o}
	} else {
		all, err := p.orgs.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("list organizations: %w", err)
		}
		orgs = all
	}

	reports := make([]Report, len(orgs))
	var (
		mu   sync.Mutex
		errs error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Parallelism)
	for i := range orgs {
		o := orgs[i]
		g.Go(func() error {
			rep := p.migrateOne(gctx, &o)
			reports[i] = rep
			if rep.Err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", o.ID, rep.Err))
				mu.Unlock()
			}
			// Per-org failures are collected, not propagated, so the
			// group keeps going.
			return nil
		})
	}
	_ = g.Wait()
	return reports, errs
}

func (p *Provisioner) migrateOne(ctx context.Context, o *org.Organization) Report {
	rep := Report{OrganizationID: o.ID, Status: o.Status}

	unlock, err := p.locks.Lock(ctx, o.ID)
	if err != nil {
		rep.Err = err
		return rep
	}
	defer unlock()
	ctx = tenant.WithProvisioning(ctx)

	if o.Status != org.StatusActive {
		after, a, err := p.resumeLocked(ctx, o)
		if a != nil {
			rep.Applied, rep.Resumed = a.Applied, true
		}
		rep.Status, rep.Err = after.Status, err
		return rep
	}

	db, err := p.pools.Tenant(ctx, o.ID)
	if err != nil {
		rep.Err = err
		return rep
	}
	res, err := p.migrator.Up(ctx, db.DB)
	rep.Applied, rep.Err = res.Applied, err
	if err != nil {
		p.log.Errorw("tenant migration failed", "tenant", o.ID, "applied", res.Applied, "err", err)
	} else if len(res.Applied) > 0 {
		p.log.Infow("tenant migrated", "tenant", o.ID, "applied", res.Applied, "version", res.Current)
	}
	return rep
}

// Inspection is a point-in-time view of one organization.
type Inspection struct {
	Organization   *org.Organization
	DatabaseExists bool
	Pending        int // -1 when the database could not be reached
}

// Inspect reports an organization's status, whether its database exists,
// and how many tenant migrations are pending.
func (p *Provisioner) Inspect(ctx context.Context, orgID string) (*Inspection, error) {
	o, err := p.orgs.ByID(ctx, orgID)
	if errors.Is(err, org.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", tenant.ErrUnknownTenant, orgID)
	}
	if err != nil {
		return nil, err
	}
	in := &Inspection{Organization: o, Pending: -1}

	in.DatabaseExists, err = p.dbs.DatabaseExists(ctx, o.DatabaseName)
	if err != nil || !in.DatabaseExists {
		return in, err
	}

	db, err := p.pools.Open(ctx, p.pools.ConnInfo(o.ID))
	if err != nil {
		return in, err
	}
	defer db.Close()
	if in.Pending, err = p.migrator.Pending(ctx, db.DB); err != nil {
		in.Pending = -1
		return in, err
	}
	return in, nil
}
