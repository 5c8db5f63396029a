package keylock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockSerializesSameKey(t *testing.T) {
	m := New()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background(), "acme")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				old := atomic.LoadInt32(&maxInside)
				if n <= old || atomic.CompareAndSwapInt32(&maxInside, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, m.Len())
}

func TestLockDifferentKeysIndependent(t *testing.T) {
	m := New()
	unlockA, err := m.Lock(context.Background(), "acme")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := m.Lock(ctx, "other-org")
	require.NoError(t, err)
	unlockB()
}

func TestLockHonoursContext(t *testing.T) {
	m := New()
	unlock, err := m.Lock(context.Background(), "acme")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "acme")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	unlock() // idempotent
	assert.Equal(t, 0, m.Len())
}

func TestTryLock(t *testing.T) {
	var m Map
	unlock, ok := m.TryLock("acme")
	require.True(t, ok)

	_, ok = m.TryLock("acme")
	assert.False(t, ok)

	unlock()
	unlock2, ok := m.TryLock("acme")
	require.True(t, ok)
	unlock2()
}
