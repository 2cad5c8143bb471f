package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisCache(WithRedisAddr(mr.Addr()), WithRedisPrefix("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func TestBackends_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	_, rc := newRedis(t)
	_, rc2 := newRedis(t)
	mem := NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	backends := map[string]Service{
		"memory":  mem,
		"redis":   rc,
		"layered": NewLayeredCache(rc2),
	}
	for name, svc := range backends {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, svc.Set(ctx, "k", entry{Name: "doji", Count: 2}, time.Minute))

			got, err := GetTyped[entry](ctx, svc, "k")
			require.NoError(t, err)
			assert.Equal(t, entry{Name: "doji", Count: 2}, got)

			ok, err := svc.Exists(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, svc.Delete(ctx, "k"))
			_, err = GetTyped[entry](ctx, svc, "k")
			assert.ErrorIs(t, err, ErrCacheMiss)
		})
	}
}

func TestMemoryCache_ExpiryAndEviction(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	advance := func(d time.Duration) { mu.Lock(); now = now.Add(d); mu.Unlock() }

	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryCleanup(0), WithMemoryClock(clock))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "a", "1", time.Second))
	advance(2 * time.Second)
	var s string
	assert.ErrorIs(t, mc.Get(ctx, "a", &s), ErrCacheMiss)

	require.NoError(t, mc.Set(ctx, "x", "1", 0))
	advance(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "y", "2", 0))
	advance(time.Millisecond)
	require.NoError(t, mc.Get(ctx, "x", &s)) // x is now most recently used
	advance(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "z", "3", 0))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "y", &s), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "x", &s))
	assert.Equal(t, "1", s)
}

func TestLayeredCache_ReadsThroughToRedis(t *testing.T) {
	ctx := context.Background()
	_, rc := newRedis(t)
	lc := NewLayeredCache(rc)

	// Written by another process directly to Redis.
	require.NoError(t, rc.Set(ctx, "k", entry{Name: "hammer"}, time.Minute))

	got, err := GetTyped[entry](ctx, lc, "k")
	require.NoError(t, err)
	assert.Equal(t, "hammer", got.Name)
	ok, err := lc.memCache.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "L2 hit is promoted to L1")
}

func TestWithLock_Exclusive(t *testing.T) {
	ctx := context.Background()
	_, rc := newRedis(t)
	mem := NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	for name, svc := range map[string]Service{"redis": rc, "memory": mem} {
		t.Run(name, func(t *testing.T) {
			ok, err := svc.TryLock(ctx, "pair", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			err = WithLock(short, svc, "pair", time.Minute, 10*time.Millisecond, func() error { return nil })
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			require.NoError(t, svc.Unlock(ctx, "pair"))
			ran := false
			require.NoError(t, WithLock(ctx, svc, "pair", time.Minute, 10*time.Millisecond, func() error { ran = true; return nil }))
			assert.True(t, ran)

			ok, err = svc.TryLock(ctx, "pair", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "lock released after fn")
			require.NoError(t, svc.Unlock(ctx, "pair"))
		})
	}
}

func TestWithLock_DataUnderSameKeySurvives(t *testing.T) {
	ctx := context.Background()
	_, rc := newRedis(t)
	mem := NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	for name, svc := range map[string]Service{"redis": rc, "memory": mem} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, svc.Set(ctx, "history", entry{Name: "doji", Count: 1}, time.Hour))

			lctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			err := WithLock(lctx, svc, "history", time.Minute, 10*time.Millisecond, func() error {
				got, err := GetTyped[entry](lctx, svc, "history")
				if err != nil {
					return err
				}
				got.Count++
				return svc.Set(lctx, "history", got, time.Hour)
			})
			require.NoError(t, err)

			got, err := GetTyped[entry](ctx, svc, "history")
			require.NoError(t, err)
			assert.Equal(t, entry{Name: "doji", Count: 2}, got, "unlock leaves the value in place")
		})
	}
}

func TestMemoryCache_LockExpires(t *testing.T) {
	now := time.Now()
	mem := NewMemoryCache(WithMemoryCleanup(0), WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	ok, err := mem.TryLock(ctx, "pair", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	ok, _ = mem.TryLock(ctx, "pair", time.Second)
	assert.False(t, ok)

	now = now.Add(2 * time.Second)
	ok, err = mem.TryLock(ctx, "pair", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock can be taken again")
}
