// internal/org/org.go
//
// Organization records in the core database.
//
// Context
// -------
// One row per tenant organization.  The row is created by the provisioner
// with status `provisioning` and later flipped to `active` or `failed`.
// Rows are never deleted; decommissioning is a status change.
//
//	organizations (id PK, name UNIQUE, slug UNIQUE, owner_id, database_name,
//	               status, failure_reason, created_at, updated_at)
//
// Notes
// -----
//   • Queries are written with `?` and rebound through sqlx, so the same
//     text runs on MySQL and PostgreSQL.
//   • Two spaces after periods.

package org

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Status is the provisioning lifecycle state exposed to clients.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusActive       Status = "active"
	StatusFailed       Status = "failed"
)

var (
	// ErrNotFound: no organization row matched.
	ErrNotFound = errors.New("organization not found")
	// ErrConflict: id, name, or slug is already taken.
	ErrConflict = errors.New("organization already exists")
)

// Organization mirrors one row of the organizations table.
type Organization struct {
	ID            string    `db:"id"             json:"id"`
	Name          string    `db:"name"           json:"name"`
	Slug          string    `db:"slug"           json:"slug"`
	OwnerID       string    `db:"owner_id"       json:"owner_id"`
	DatabaseName  string    `db:"database_name"  json:"database_name"`
	Status        Status    `db:"status"         json:"status"`
	FailureReason string    `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`
}

// Routable reports whether regular requests may be served from this
// organization's database.
func (o *Organization) Routable() bool { return o.Status == StatusActive }

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a display name into a URL-safe slug: "Acme Corp!" → "acme-corp".
func Slugify(name string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(s, "-")
}
