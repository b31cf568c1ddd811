package cacheinfra

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, client
}

func newTestRedisStore(t *testing.T, mutate func(*DistributedConfig)) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, client := newTestRedis(t)
	t.Cleanup(func() { _ = client.Close() })

	cfg := DefaultConfig().Distributed
	cfg.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}
	return mr, NewRedisStore(client, testCodec(), cfg)
}

func TestRedisStorePutGet(t *testing.T) {
	ctx := context.Background()
	mr, store := newTestRedisStore(t, nil)

	keys, err := store.PutMany(ctx, []cache.Entity{newDoc("a", "A"), newDoc("b", "B")}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc:n:a", "doc:n:b"}, keys)
	assert.True(t, mr.Exists("layercache:doc:n:a"))

	got, err := store.GetMany(ctx, []string{"doc:n:b", "doc:n:missing", "doc:n:a"})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, "A", titleOf(got["doc:n:a"]))
	assert.Equal(t, "B", titleOf(got["doc:n:b"]))
	assert.Nil(t, got["doc:n:missing"])
	assert.Equal(t, "doc:n:a", got["doc:n:a"].Key().Encode())
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	mr, store := newTestRedisStore(t, nil)

	_, err := store.PutMany(ctx, []cache.Entity{newDoc("a", "A")}, 2*time.Second)
	require.NoError(t, err)

	mr.FastForward(3 * time.Second)

	got, err := store.GetMany(ctx, []string{"doc:n:a"})
	require.NoError(t, err)
	assert.Nil(t, got["doc:n:a"])
}

func TestRedisStoreDefaultTTL(t *testing.T) {
	ctx := context.Background()

	mr, store := newTestRedisStore(t, func(c *DistributedConfig) { c.DefaultTTL = time.Hour })
	_, err := store.PutMany(ctx, []cache.Entity{newDoc("a", "A")}, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL("layercache:doc:n:a"))

	mr, store = newTestRedisStore(t, nil)
	_, err = store.PutMany(ctx, []cache.Entity{newDoc("a", "A")}, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), mr.TTL("layercache:doc:n:a"))
}

func TestRedisStoreDelete(t *testing.T) {
	ctx := context.Background()
	_, store := newTestRedisStore(t, nil)

	_, err := store.PutMany(ctx, []cache.Entity{newDoc("a", "A"), newDoc("b", "B")}, 0)
	require.NoError(t, err)

	require.NoError(t, store.DeleteMany(ctx, []string{"doc:n:a", "doc:n:never"}))
	require.NoError(t, store.DeleteMany(ctx, nil))

	got, err := store.GetMany(ctx, []string{"doc:n:a", "doc:n:b"})
	require.NoError(t, err)
	assert.Nil(t, got["doc:n:a"])
	assert.NotNil(t, got["doc:n:b"])
}

func TestRedisStoreUndecodableValueIsMiss(t *testing.T) {
	ctx := context.Background()
	mr, store := newTestRedisStore(t, nil)

	require.NoError(t, mr.Set("layercache:doc:n:junk", "not msgpack"))

	got, err := store.GetMany(ctx, []string{"doc:n:junk"})
	require.NoError(t, err)
	assert.Nil(t, got["doc:n:junk"])
}

func TestRedisStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, store := newTestRedisStore(t, nil)
	mr.Close()

	_, err := store.GetMany(ctx, []string{"doc:n:a"})
	assert.Error(t, err)

	_, err = store.PutMany(ctx, []cache.Entity{newDoc("a", "A")}, 0)
	assert.Error(t, err)
}

func TestRedisStoreTimeoutIsMarked(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, store := newTestRedisStore(t, nil)

	_, err := store.GetMany(ctx, []string{"doc:n:a"})
	require.Error(t, err)
	assert.True(t, cache.IsTimeout(err), "got %v", err)
}
