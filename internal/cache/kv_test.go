package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisKVStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisKVStore(client), mr
}

func TestRedisKVStore_GetSet(t *testing.T) {
	ctx := context.Background()
	kv, mr := newTestStore(t)

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	mr.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisKVStore_TTL(t *testing.T) {
	ctx := context.Background()
	kv, _ := newTestStore(t)

	_, err := kv.TTL(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, kv.Set(ctx, "forever", "1", 0))
	d, err := kv.TTL(ctx, "forever")
	require.NoError(t, err)
	assert.Zero(t, d)

	require.NoError(t, kv.Set(ctx, "blocked", "1", 10*time.Second))
	d, err = kv.TTL(ctx, "blocked")
	require.NoError(t, err)
	assert.InDelta(t, float64(10*time.Second), float64(d), float64(time.Second))
}

func TestMarkOnce(t *testing.T) {
	ctx := context.Background()
	kv, mr := newTestStore(t)

	first, err := MarkOnce(ctx, kv, "seen:1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := MarkOnce(ctx, kv, "seen:1", time.Hour)
	require.NoError(t, err)
	assert.False(t, again)

	mr.FastForward(2 * time.Hour)
	afterExpiry, err := MarkOnce(ctx, kv, "seen:1", time.Hour)
	require.NoError(t, err)
	assert.True(t, afterExpiry)
}

func TestTryLock(t *testing.T) {
	ctx := context.Background()
	kv, mr := newTestStore(t)

	lock, ok, err := TryLock(ctx, kv, "lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = TryLock(ctx, kv, "lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx))
	second, ok, err := TryLock(ctx, kv, "lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// an expired lock taken over by someone else is not released by the old holder
	mr.FastForward(2 * time.Minute)
	third, ok, err := TryLock(ctx, kv, "lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, second.Release(ctx))
	_, ok, _ = TryLock(ctx, kv, "lock", time.Minute)
	assert.False(t, ok)
	require.NoError(t, third.Release(ctx))
}

func TestLock_Refresh(t *testing.T) {
	ctx := context.Background()
	kv, mr := newTestStore(t)

	lock, ok, err := TryLock(ctx, kv, "lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lock.Refresh(ctx, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	d, err := kv.TTL(ctx, "lock")
	require.NoError(t, err)
	assert.Greater(t, d, 30*time.Minute)

	// expired and free: refresh takes it back
	mr.FastForward(2 * time.Hour)
	ok, err = lock.Refresh(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// expired and taken by someone else: refresh reports the loss
	mr.FastForward(2 * time.Minute)
	_, ok, err = TryLock(ctx, kv, "lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = lock.Refresh(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLock_ReleaseKeepsForeignHolder(t *testing.T) {
	ctx := context.Background()
	kv, mr := newTestStore(t)

	lock, ok, err := TryLock(ctx, kv, "lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// the lock expired and another holder took it
	mr.Set("lock", "other-token")

	require.NoError(t, lock.Release(ctx))
	got, err := mr.Get("lock")
	require.NoError(t, err)
	assert.Equal(t, "other-token", got)

	ok, err = lock.Refresh(ctx, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	got, err = mr.Get("lock")
	require.NoError(t, err)
	assert.Equal(t, "other-token", got)
	assert.Zero(t, mr.TTL("lock"), "foreign lock lifetime must not change")
}

func TestRedisKVStore_CompareOperations(t *testing.T) {
	ctx := context.Background()
	kv, mr := newTestStore(t)

	deleted, err := kv.DeleteIfValue(ctx, "k", "a")
	require.NoError(t, err)
	assert.False(t, deleted)

	ok, err := kv.ExtendIfValue(ctx, "k", "a", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "missing key is created")
	assert.Equal(t, 30*time.Second, mr.TTL("k"))

	ok, err = kv.ExtendIfValue(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("k"))

	deleted, err = kv.DeleteIfValue(ctx, "k", "b")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.True(t, mr.Exists("k"))

	deleted, err = kv.DeleteIfValue(ctx, "k", "a")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, mr.Exists("k"))
}
