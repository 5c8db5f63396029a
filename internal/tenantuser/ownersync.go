package tenantuser

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/tenancy/internal/account"
	"github.com/yanizio/tenancy/internal/database"
	"github.com/yanizio/tenancy/internal/events"
	"github.com/yanizio/tenancy/internal/tenant"
)

// Pools resolves tenant pools.  *tenant.Registry satisfies it.
type Pools interface {
	Tenant(ctx context.Context, orgID string) (*sqlx.DB, error)
}

// Accounts looks up core users.  *account.Store satisfies it.
type Accounts interface {
	ByID(ctx context.Context, id string) (*account.User, error)
}

// OwnerSync mirrors an organization's core owner into its tenant database
// when the organization is created.  The owner keeps the core password.
type OwnerSync struct {
	pools    Pools
	accounts Accounts
	dialect  database.Dialect
	log      *zap.SugaredLogger
}

func NewOwnerSync(pools Pools, accounts Accounts, d database.Dialect, log *zap.SugaredLogger) *OwnerSync {
	if log == nil {
		log = zap.S()
	}
	return &OwnerSync{pools: pools, accounts: accounts, dialect: d, log: log}
}

// Register subscribes the handler to organization.created.
func (s *OwnerSync) Register(d *events.Dispatcher) (unsubscribe func()) {
	return d.Subscribe(events.OrganizationCreated, "owner-sync", s.Handle)
}

// Handle is the events.HandlerFunc.
func (s *OwnerSync) Handle(ctx context.Context, ev events.Event) error {
	ownerID := ev.Data["owner_id"]
	if ownerID == "" {
		return errors.New("owner sync: event carries no owner_id")
	}
	owner, err := s.accounts.ByID(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("owner sync: load core user %s: %w", ownerID, err)
	}

	// The organization is still provisioning while this runs.
	db, err := s.pools.Tenant(tenant.WithProvisioning(ctx), ev.OrganizationID)
	if err != nil {
		return fmt.Errorf("owner sync: %w", err)
	}

	created, err := NewStore(db, s.dialect).EnsureOwner(ctx, Owner{
		Email:        owner.Email,
		FullName:     owner.FullName,
		PasswordHash: owner.PasswordHash,
	})
	if err != nil {
		return fmt.Errorf("owner sync: %w", err)
	}
	s.log.Infow("tenant owner synced", "tenant", ev.OrganizationID, "owner", ownerID, "created", created)
	return nil
}
