package cron

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketcore/pkg/redis"
)

func newLockStore(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	return redis.NewFromRaw(raw), srv
}

func TestRedisLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	store, srv := newLockStore(t)
	key := store.LockKey("cron", "test")

	first, err := NewRedisLock(store, key, time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, key, time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, second.Release(ctx))
	assert.True(t, srv.Exists(key), "non-owner must not release")

	require.NoError(t, first.Release(ctx))
	assert.False(t, srv.Exists(key))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockExpiresAndIgnoresStaleRelease(t *testing.T) {
	ctx := context.Background()
	store, srv := newLockStore(t)
	key := store.LockKey("cron", "test")

	stale, err := NewRedisLock(store, key, time.Minute)
	require.NoError(t, err)
	ok, err := stale.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	srv.FastForward(2 * time.Minute)

	successor, err := NewRedisLock(store, key, time.Minute)
	require.NoError(t, err)
	ok, err = successor.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, srv.Exists(key), "stale owner freed the successor's lock")
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "k", 0)
	assert.Error(t, err)
	store, _ := newLockStore(t)
	_, err = NewRedisLock(store, "", 0)
	assert.Error(t, err)
	lock, err := NewRedisLock(store, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, lock.ttl)
}
