package tenant

import "regexp"

// DatabasePrefix prefixes every tenant database name.  Ops tooling that
// inspects the cluster relies on tenant_{organization_id} staying stable.
const DatabasePrefix = "tenant_"

// MaxIDLength keeps tenant_{id} inside the 63/64-byte identifier limits of
// PostgreSQL and MySQL.
const MaxIDLength = 56

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidID reports whether id can be used as an organization identifier and
// therefore as part of a database name.
func ValidID(id string) bool {
	return len(id) <= MaxIDLength && idPattern.MatchString(id)
}

// DatabaseName returns the physical database name for orgID.
func DatabaseName(orgID string) string {
	return DatabasePrefix + orgID
}
