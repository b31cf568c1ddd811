package layered

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/rs/zerolog"
)

// QueryResultKind is the entity kind of cached query results.
const QueryResultKind = "_query_result"

// DefaultQueryTTL is used for cached query results when no TTL is given.
const DefaultQueryTTL = 300 * time.Second

const (
	limitSuffix  = "__limit__"
	offsetSuffix = "__offset__"
)

// QueryEntry is the stored form of a query result page: the ordered keys of
// its entities and the cursor after the page.
type QueryEntry struct {
	cache.Base `msgpack:"-"`
	Keys       []string `msgpack:"keys"`
	Cursor     string   `msgpack:"cursor,omitempty"`
}

// FetchOptions selects the cache tiers for one Fetch. An empty Cache runs
// the query against the backing store only.
type FetchOptions struct {
	Cache cache.StorageSet

	// LocalTTL and DistributedTTL expire the cached page; zero means the
	// query cache TTL.
	LocalTTL       time.Duration
	DistributedTTL time.Duration
}

// QueryCache caches backing store query pages in the cache tiers. Pages are
// keyed by a hash of Query.Describe plus the bound params and paging bounds.
// Filter predicates are not part of the description: queries that differ only
// by Filter must use different names.
type QueryCache struct {
	coord      *Coordinator
	serializer cache.KeySerializer
	ttl        time.Duration
	logger     zerolog.Logger
}

// NewQueryCache returns a query cache over the coordinator's tiers. A zero
// ttl means DefaultQueryTTL.
func NewQueryCache(c *Coordinator, ttl time.Duration) *QueryCache {
	if ttl <= 0 {
		ttl = DefaultQueryTTL
	}
	return &QueryCache{
		coord:      c,
		serializer: cache.NewDefaultKeySerializer(),
		ttl:        ttl,
		logger:     c.logger.With().Str("component", "query_cache").Logger(),
	}
}

// Key returns the cache name of the page of q at limit and offset.
func (qc *QueryCache) Key(q cache.Query, limit, offset int) string {
	args := make([]any, 0, len(q.Params)+2)
	args = append(args, q.Params...)
	args = append(args, limitSuffix+strconv.Itoa(limit))
	if offset != 0 {
		args = append(args, offsetSuffix+strconv.Itoa(offset))
	}
	return qc.serializer.SerializeKey(cache.QueryRoot(q.Describe()), args...)
}

func (qc *QueryCache) ttlFor(tier cache.Tier, opts FetchOptions) time.Duration {
	if ttl := tierTTL(tier, opts.LocalTTL, opts.DistributedTTL); ttl > 0 {
		return ttl
	}
	return qc.ttl
}

// Fetch returns one page of q. With cache tiers selected it looks the page
// up in Local, then Distributed, backfilling Local from a Distributed hit.
// On a miss the query runs against the backing store and the page and its
// entities are stored in every selected cache tier.
func (qc *QueryCache) Fetch(ctx context.Context, q cache.Query, limit, offset int, opts FetchOptions) (*cache.QueryResult, error) {
	if err := opts.Cache.ValidateCache(); err != nil {
		return nil, err
	}
	backing := qc.coord.Backing()
	if backing == nil {
		return nil, errors.New("query cache requires a backing store")
	}

	if opts.Cache.Empty() {
		return backing.Query(ctx, q, limit, offset)
	}

	entryKey := cache.NewNameKey(QueryResultKind, qc.Key(q, limit, offset), nil)
	if entry := qc.lookup(ctx, entryKey, opts); entry != nil {
		return qc.resolve(ctx, entry, opts)
	}

	result, err := backing.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", q.Kind)
	}
	qc.store(ctx, entryKey, result, opts)
	return result, nil
}

func (qc *QueryCache) lookup(ctx context.Context, entryKey *cache.Key, opts FetchOptions) *QueryEntry {
	canonical := entryKey.Encode()
	var missedLocal bool

	for _, tier := range opts.Cache.Tiers() {
		store := qc.coord.Store(tier)
		if store == nil {
			continue
		}

		got, err := store.GetMany(ctx, []string{canonical})
		if err != nil {
			qc.logger.Warn().Err(err).Str("tier", tier.String()).Msg("query cache read failed")
		}
		entry, ok := got[canonical].(*QueryEntry)
		if !ok || entry == nil {
			missedLocal = missedLocal || tier == cache.Local
			continue
		}

		if tier == cache.Distributed && missedLocal {
			if local := qc.coord.Store(cache.Local); local != nil {
				if _, err := local.PutMany(ctx, []cache.Entity{entry}, qc.ttlFor(cache.Local, opts)); err != nil {
					qc.logger.Warn().Err(err).Msg("query cache local refresh failed")
				}
			}
		}
		return entry
	}
	return nil
}

// resolve loads the members of a cached page through the coordinator.
// Members deleted since the page was cached are left out.
func (qc *QueryCache) resolve(ctx context.Context, entry *QueryEntry, opts FetchOptions) (*cache.QueryResult, error) {
	result := &cache.QueryResult{Cursor: entry.Cursor}
	if len(entry.Keys) == 0 {
		return result, nil
	}

	res, err := qc.coord.Get(ctx, GetOptions{
		Storage:        opts.Cache.With(cache.Backing),
		Refresh:        opts.Cache,
		LocalTTL:       qc.ttlFor(cache.Local, opts),
		DistributedTTL: qc.ttlFor(cache.Distributed, opts),
	}, entry.Keys)
	if err != nil {
		return nil, err
	}

	result.Entities = make([]cache.Entity, 0, len(res.List))
	for _, e := range res.List {
		if e != nil {
			result.Entities = append(result.Entities, e)
		}
	}
	return result, nil
}

func (qc *QueryCache) store(ctx context.Context, entryKey *cache.Key, result *cache.QueryResult, opts FetchOptions) {
	entry := &QueryEntry{
		Base:   cache.NewBase(entryKey),
		Keys:   make([]string, 0, len(result.Entities)),
		Cursor: result.Cursor,
	}
	for _, e := range result.Entities {
		entry.Keys = append(entry.Keys, e.Key().Encode())
	}

	_, err := qc.coord.Put(ctx, PutOptions{
		Storage:        opts.Cache,
		LocalTTL:       qc.ttlFor(cache.Local, opts),
		DistributedTTL: qc.ttlFor(cache.Distributed, opts),
	}, append([]cache.Entity{entry}, result.Entities...)...)
	if err != nil {
		qc.logger.Warn().Err(err).Str("key", entryKey.Encode()).Msg("query cache store failed")
	}
}

// First returns the first entity of q, or nil when the query is empty.
func (qc *QueryCache) First(ctx context.Context, q cache.Query, opts FetchOptions) (cache.Entity, error) {
	result, err := qc.Fetch(ctx, q, 1, 0, opts)
	if err != nil {
		return nil, err
	}
	if len(result.Entities) == 0 {
		return nil, nil
	}
	return result.Entities[0], nil
}

// Count returns the number of entities matching q, up to limit. Counts are
// not cached.
func (qc *QueryCache) Count(ctx context.Context, q cache.Query, limit int) (int, error) {
	backing := qc.coord.Backing()
	if backing == nil {
		return 0, errors.New("query cache requires a backing store")
	}
	return backing.Count(ctx, q, limit)
}
