package layered

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/goliatone/go-layered-cache/internal/cacheinfra"
	"github.com/goliatone/go-layered-cache/pkg/testsupport"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceKey(t *testing.T) {
	key, err := ReferenceKey(cache.NewNameKey("article", "a", nil), "comments")
	require.NoError(t, err)
	assert.Equal(t, ReferenceIndexKind, key.Kind)
	assert.Equal(t, "article:n:a|comments", key.Name)

	_, err = ReferenceKey(cache.NewIncompleteKey("article", nil), "comments")
	assert.ErrorIs(t, err, cache.ErrInvalidKeyInput)
}

func TestReferenceIndexCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	index := NewReferenceIndex(s.coord)
	owner := cache.NewNameKey("article", "a", nil)

	_, hit, err := index.Get(ctx, owner, "authors")
	require.NoError(t, err)
	assert.False(t, hit)

	members := []cache.Entity{newAuthorByID(2, "Grace"), newAuthorByID(1, "Ada")}
	keys, err := index.Create(ctx, owner, "authors", members, time.Minute)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "author:i:2", keys[0].Encode())

	got, hit, err := index.Get(ctx, owner, "authors")
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, got, 2)
	assert.Equal(t, "author:i:2", got[0].Encode())
	assert.Equal(t, "author:i:1", got[1].Encode())

	assert.Equal(t, 1, s.distributed.Len())
	assert.Equal(t, 0, s.local.Len())
	assert.Equal(t, 0, s.backing.Len())

	entryKey, _ := ReferenceKey(owner, "authors")
	assert.Equal(t, time.Minute, s.distributed.TTL(entryKey.Encode()))
}

func TestReferenceIndexRejectsIncompleteMembers(t *testing.T) {
	s := newStack()
	index := NewReferenceIndex(s.coord)

	_, err := index.Create(context.Background(), cache.NewNameKey("article", "a", nil), "drafts",
		[]cache.Entity{newDraftArticle("x")}, time.Minute)
	assert.ErrorIs(t, err, cache.ErrInvalidKeyInput)
	assert.Equal(t, 0, s.distributed.Len())
}

func TestReferenceIndexReadFailureIsMiss(t *testing.T) {
	s := newStack()
	index := NewReferenceIndex(s.coord)
	s.distributed.FailNext(testsupport.OpGet, errUnavailable)

	_, hit, err := index.Get(context.Background(), cache.NewNameKey("article", "a", nil), "authors")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestReferenceIndexWithoutDistributedTier(t *testing.T) {
	ctx := context.Background()
	coord := New(Tiers{Backing: testsupport.NewMemoryBacking("backing")})
	index := NewReferenceIndex(coord)
	owner := cache.NewNameKey("article", "a", nil)

	keys, err := index.Create(ctx, owner, "authors", []cache.Entity{newAuthorByID(1, "Ada")}, time.Minute)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	_, hit, err := index.Get(ctx, owner, "authors")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestReferenceIndexOverRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	codec := cache.NewEntityCodec()
	RegisterKinds(codec)

	cfg := cacheinfra.DefaultConfig().Distributed
	cfg.Enabled = true
	coord := New(Tiers{Distributed: cacheinfra.NewRedisStore(client, codec, cfg)})
	index := NewReferenceIndex(coord)
	owner := cache.NewIDKey("article", 9, nil)

	_, err := index.Create(ctx, owner, "authors", []cache.Entity{newAuthorByID(1, "Ada")}, time.Minute)
	require.NoError(t, err)

	got, hit, err := index.Get(ctx, owner, "authors")
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, got, 1)
	assert.Equal(t, "author:i:1", got[0].Encode())

	mr.FastForward(2 * time.Minute)
	_, hit, err = index.Get(ctx, owner, "authors")
	require.NoError(t, err)
	assert.False(t, hit, "entries expire by ttl only")
}
