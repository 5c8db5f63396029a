// internal/acl/store.go
//
// Role lookups for tenant-scoped access control.
//
// Context
// -------
// The role model lives entirely inside each tenant database, on the users
// table itself:
//
//	users (id PK, …, role, is_owner, is_active)
//
// Middleware needs one answer: which role does user X hold in the tenant
// this request is routed to?  `UserRole()` answers it with a single
// parameterised query against the tenant pool.  Inactive users hold no role.
//
// Notes
// -----
// • Owners always rank as RoleOwner, whatever the role column says.
// • Two spaces after periods.
package acl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/tenancy/internal/tenantuser"
)

// ErrNoRole is returned for unknown or inactive users.
var ErrNoRole = errors.New("user holds no role in this tenant")

// UserRole returns the role of userID in the tenant database db.
func UserRole(ctx context.Context, db *sqlx.DB, userID string) (tenantuser.Role, error) {
	var row struct {
		Role     tenantuser.Role `db:"role"`
		IsOwner  bool            `db:"is_owner"`
		IsActive bool            `db:"is_active"`
	}
	q := db.Rebind(`SELECT role, is_owner, is_active FROM users WHERE id = ?`)
	if err := db.GetContext(ctx, &row, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoRole
		}
		return "", fmt.Errorf("acl role lookup: %w", err)
	}
	if !row.IsActive {
		return "", ErrNoRole
	}
	if row.IsOwner {
		return tenantuser.RoleOwner, nil
	}
	return row.Role, nil
}

// rank orders roles; a higher rank includes every lower one.
var rank = map[tenantuser.Role]int{
	tenantuser.RoleMember: 1,
	tenantuser.RoleAdmin:  2,
	tenantuser.RoleOwner:  3,
}

// Satisfies reports whether have is at least as privileged as any role in
// want.  Empty want returns false.
func Satisfies(have tenantuser.Role, want ...tenantuser.Role) bool {
	h := rank[have]
	if h == 0 {
		return false
	}
	for _, w := range want {
		if h >= rank[w] {
			return true
		}
	}
	return false
}
