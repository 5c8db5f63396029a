// internal/tenant/entry.go
//
// Registry cache entry and connection info.
//
// Context
// -------
// The registry stores one *entry per organization id in a sync.Map.  The
// entry owns the tenant's *sqlx.DB and a `lastSeen` UnixNano timestamp the
// evictor reads for idle and LRU eviction.

package tenant

import (
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
)

// ConnInfo is everything needed to open a tenant pool.
type ConnInfo struct {
	OrgID    string
	Database string
	DSN      string
}

type entry struct {
	db       *sqlx.DB
	info     ConnInfo
	lastSeen atomic.Int64 // UnixNano
}

func newEntry(db *sqlx.DB, info ConnInfo) *entry {
	e := &entry{db: db, info: info}
	e.touch()
	return e
}

func (e *entry) touch() { e.lastSeen.Store(time.Now().UnixNano()) }

// inUse reports whether any connection of the pool is checked out.
func (e *entry) inUse() bool { return e.db.Stats().InUse > 0 }
