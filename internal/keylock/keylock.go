// Package keylock provides per-key mutual exclusion with context-aware
// acquisition.  Entries are reference counted and removed once no holder or
// waiter remains, so the map stays proportional to in-flight keys.
package keylock

import (
	"context"
	"sync"
)

// Map is a set of independent locks addressed by string key.  The zero value
// is ready to use.
type Map struct {
	mu    sync.Mutex
	locks map[string]*slot
}

type slot struct {
	token chan struct{} // capacity 1; holding the token means holding the lock
	refs  int
}

// New returns an empty Map.
func New() *Map { return &Map{} }

// Lock blocks until key is held or ctx is done.  The returned unlock function
// is idempotent.
func (m *Map) Lock(ctx context.Context, key string) (func(), error) {
	s := m.acquire(key)
	select {
	case s.token <- struct{}{}:
		return m.unlocker(key, s), nil
	case <-ctx.Done():
		m.release(key)
		return nil, ctx.Err()
	}
}

// TryLock acquires key only if it is free right now.
func (m *Map) TryLock(key string) (func(), bool) {
	s := m.acquire(key)
	select {
	case s.token <- struct{}{}:
		return m.unlocker(key, s), true
	default:
		m.release(key)
		return nil, false
	}
}

// Len reports how many keys currently have a holder or waiter.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Map) acquire(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[string]*slot)
	}
	s, ok := m.locks[key]
	if !ok {
		s = &slot{token: make(chan struct{}, 1)}
		m.locks[key] = s
	}
	s.refs++
	return s
}

func (m *Map) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.locks[key]
	s.refs--
	if s.refs == 0 {
		delete(m.locks, key)
	}
}

func (m *Map) unlocker(key string, s *slot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.token
			m.release(key)
		})
	}
}
