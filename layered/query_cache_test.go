package layered

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-layered-cache/cache"
	"github.com/goliatone/go-layered-cache/pkg/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededQueryStack() *stack {
	s := newStack()
	s.backing.Seed(newArticle("a", "A"), newArticle("b", "B"), newArticle("c", "C"))
	return s
}

func titles(entities []cache.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = titleOf(e)
	}
	return out
}

func TestQueryCacheKey(t *testing.T) {
	qc := NewQueryCache(newStack().coord, 0)
	q := cache.Query{Kind: "article", Name: "recent", Params: []any{42, "en"}}

	key := qc.Key(q, 10, 0)
	assert.True(t, strings.HasPrefix(key, cache.QueryRoot(q.Describe())+cache.KeySeparator))
	assert.True(t, strings.HasSuffix(key, "42::en::__limit__10"))
	assert.NotContains(t, key, offsetSuffix)

	assert.Equal(t, key, qc.Key(q, 10, 0), "keys are deterministic")
	assert.True(t, strings.HasSuffix(qc.Key(q, 10, 20), "__limit__10::__offset__20"))
	assert.NotEqual(t, key, qc.Key(q, 20, 0))

	other := q
	other.Params = []any{43, "en"}
	assert.NotEqual(t, key, qc.Key(other, 10, 0))

	desc := q
	desc.Descending = true
	assert.NotEqual(t, key, qc.Key(desc, 10, 0))
}

func TestQueryCacheKeyParamsCannotMimicPaging(t *testing.T) {
	qc := NewQueryCache(newStack().coord, 0)
	q := cache.Query{Kind: "article", Name: "tagged"}

	joined := q
	joined.Params = []any{"a::b"}
	split := q
	split.Params = []any{"a", "b"}
	assert.NotEqual(t, qc.Key(joined, 10, 0), qc.Key(split, 10, 0))

	mimic := q
	mimic.Params = []any{"__limit__5"}
	assert.NotEqual(t, qc.Key(q, 5, 0), qc.Key(mimic, 5, 0))
	assert.NotEqual(t, qc.Key(q, 5, 3), qc.Key(mimic, 5, 3))

	offsetMimic := q
	offsetMimic.Params = []any{"__limit__5", "__offset__3"}
	assert.NotEqual(t, qc.Key(q, 5, 3), qc.Key(offsetMimic, 5, 0))
}

func TestQueryCacheUncached(t *testing.T) {
	s := seededQueryStack()
	qc := NewQueryCache(s.coord, 0)

	res, err := qc.Fetch(context.Background(), cache.Query{Kind: "article"}, 2, 0, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, titles(res.Entities))
	assert.Equal(t, "article:n:b", res.Cursor)

	assert.Zero(t, s.local.Len())
	assert.Zero(t, s.distributed.Len())
}

func TestQueryCacheMissThenHit(t *testing.T) {
	ctx := context.Background()
	s := seededQueryStack()
	qc := NewQueryCache(s.coord, 0)
	q := cache.Query{Kind: "article"}
	opts := FetchOptions{Cache: cache.AllCache}

	first, err := qc.Fetch(ctx, q, 2, 1, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, titles(first.Entities))
	require.Len(t, s.backing.Calls(testsupport.OpQuery), 1)

	entryKey := cache.NewNameKey(QueryResultKind, qc.Key(q, 2, 1), nil).Encode()
	assert.True(t, s.local.Has(entryKey))
	assert.True(t, s.distributed.Has(entryKey))
	assert.Equal(t, DefaultQueryTTL, s.local.TTL(entryKey))
	assert.True(t, s.local.Has("article:n:b"), "page members are cached with the page")

	s.reset()
	second, err := qc.Fetch(ctx, q, 2, 1, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, titles(second.Entities))
	assert.Equal(t, first.Cursor, second.Cursor)
	assert.Empty(t, s.backing.Calls(""), "a hit never reaches the backing store")
	assert.Empty(t, s.distributed.Calls(""), "a local hit stops the lookup")
}

func TestQueryCacheDistributedHitRefreshesLocal(t *testing.T) {
	ctx := context.Background()
	s := seededQueryStack()
	qc := NewQueryCache(s.coord, time.Minute)
	q := cache.Query{Kind: "article", Descending: true}

	_, err := qc.Fetch(ctx, q, 1, 0, FetchOptions{Cache: only(cache.Distributed)})
	require.NoError(t, err)
	entryKey := cache.NewNameKey(QueryResultKind, qc.Key(q, 1, 0), nil).Encode()
	require.False(t, s.local.Has(entryKey))
	assert.Equal(t, time.Minute, s.distributed.TTL(entryKey))

	s.reset()
	res, err := qc.Fetch(ctx, q, 1, 0, FetchOptions{Cache: cache.AllCache, LocalTTL: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, titles(res.Entities))
	assert.Empty(t, s.backing.Calls(testsupport.OpQuery))

	assert.True(t, s.local.Has(entryKey), "local is backfilled from a distributed hit")
	assert.Equal(t, 5*time.Second, s.local.TTL(entryKey))
	assert.True(t, s.local.Has("article:n:c"), "members are refreshed into local")
}

func TestQueryCacheSkipsDeletedMembers(t *testing.T) {
	ctx := context.Background()
	s := seededQueryStack()
	qc := NewQueryCache(s.coord, 0)
	q := cache.Query{Kind: "article"}
	opts := FetchOptions{Cache: cache.AllCache}

	_, err := qc.Fetch(ctx, q, 3, 0, opts)
	require.NoError(t, err)
	require.NoError(t, s.coord.Delete(ctx, cache.AllStorage, "article:n:b"))

	res, err := qc.Fetch(ctx, q, 3, 0, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, titles(res.Entities))
}

func TestQueryCacheStoreFailureIsLogged(t *testing.T) {
	s := seededQueryStack()
	qc := NewQueryCache(s.coord, 0)
	s.local.FailNext(testsupport.OpPut, errUnavailable)

	res, err := qc.Fetch(context.Background(), cache.Query{Kind: "article"}, 1, 0, FetchOptions{Cache: cache.AllCache})
	require.NoError(t, err)
	assert.Len(t, res.Entities, 1)
}

func TestQueryCacheValidation(t *testing.T) {
	ctx := context.Background()
	s := seededQueryStack()
	qc := NewQueryCache(s.coord, 0)

	_, err := qc.Fetch(ctx, cache.Query{Kind: "article"}, 1, 0, FetchOptions{Cache: cache.AllStorage})
	assert.ErrorIs(t, err, cache.ErrInvalidCacheLayer)
	assert.Empty(t, s.backing.Calls(""))

	noBacking := NewQueryCache(New(Tiers{Local: testsupport.NewMemoryStore("local")}), 0)
	_, err = noBacking.Fetch(ctx, cache.Query{Kind: "article"}, 1, 0, FetchOptions{})
	assert.Error(t, err)
	_, err = noBacking.Count(ctx, cache.Query{Kind: "article"}, 0)
	assert.Error(t, err)
}

func TestQueryCacheFirstAndCount(t *testing.T) {
	ctx := context.Background()
	s := seededQueryStack()
	qc := NewQueryCache(s.coord, 0)

	first, err := qc.First(ctx, cache.Query{Kind: "article", Descending: true}, FetchOptions{Cache: cache.AllCache})
	require.NoError(t, err)
	assert.Equal(t, "C", titleOf(first))

	none, err := qc.First(ctx, cache.Query{Kind: "comment"}, FetchOptions{})
	require.NoError(t, err)
	assert.Nil(t, none)

	n, err := qc.Count(ctx, cache.Query{Kind: "article"}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQueryCacheCursorPassthrough(t *testing.T) {
	ctx := context.Background()
	s := seededQueryStack()
	qc := NewQueryCache(s.coord, 0)
	opts := FetchOptions{Cache: cache.AllCache}

	page, err := qc.Fetch(ctx, cache.Query{Kind: "article"}, 2, 0, opts)
	require.NoError(t, err)

	next, err := qc.Fetch(ctx, cache.Query{Kind: "article"}.WithCursor(page.Cursor, ""), 2, 0, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, titles(next.Entities))
}
