// evictor.go houses the eviction loop for Registry.  Every EvictInterval it
// scans the cached tenant pools and closes:
//
//   - pools idle longer than IdleTTL
//   - least-recently-used pools when the map size exceeds MaxEntries
//
// Pools with a connection checked out are skipped in both passes.  Each
// eviction is logged and updates Prometheus counters.
package tenant

import (
	"context"
	"sort"
	"time"

	"github.com/yanizio/tenancy/internal/metrics"
)

// Start launches the background evictor.  It stops when ctx is done or the
// registry is closed.  Calling Start twice is a no-op.
func (r *Registry) Start(ctx context.Context) {
	if r.stopEvict != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.stopEvict = cancel
	r.evictDone = make(chan struct{})

	go func() {
		defer close(r.evictDone)
		t := time.NewTicker(r.cfg.EvictInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				r.evictPass(now)
			}
		}
	}()
}

// evictPass runs one idle pass and one LRU pass.  It returns the number of
// pools closed.
func (r *Registry) evictPass(now time.Time) int {
	var count, evicted int

	// ----------------------------------------------------------------
	// Idle eviction pass
	// ----------------------------------------------------------------
	r.m.Range(func(key, value any) bool {
		count++
		ent := value.(*entry)
		idle := now.Sub(time.Unix(0, ent.lastSeen.Load()))
		if idle > r.cfg.IdleTTL && !ent.inUse() {
			if r.m.CompareAndDelete(key, ent) {
				_ = ent.db.Close()
				evicted++
				count--
				r.log.Infow("tenant pool evicted", "tenant", key, "idle", idle.Truncate(time.Second))
				metrics.TenantEvictTotal.WithLabelValues("idle").Inc()
				metrics.ActiveTenants.Dec()
			}
		}
		return true
	})

	// ----------------------------------------------------------------
	// LRU eviction pass
	// ----------------------------------------------------------------
	if r.cfg.MaxEntries > 0 && count > r.cfg.MaxEntries {
		type kv struct {
			key string
			ent *entry
			at  int64
		}
		var all []kv
		r.m.Range(func(key, value any) bool {
			ent := value.(*entry)
			all = append(all, kv{key: key.(string), ent: ent, at: ent.lastSeen.Load()})
			return true
		})
		sort.Slice(all, func(i, j int) bool { return all[i].at < all[j].at })

		excess := len(all) - r.cfg.MaxEntries
		for i := 0; i < len(all) && excess > 0; i++ {
			if all[i].ent.inUse() {
				continue
			}
			if r.m.CompareAndDelete(all[i].key, all[i].ent) {
				_ = all[i].ent.db.Close()
				evicted++
				excess--
				r.log.Infow("tenant pool evicted (LRU pressure)", "tenant", all[i].key)
				metrics.TenantEvictTotal.WithLabelValues("lru").Inc()
				metrics.ActiveTenants.Dec()
			}
		}
	}
	return evicted
}
