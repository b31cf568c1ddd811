package layered

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/rs/zerolog"
)

// ReferenceIndexKind is the entity kind of materialized back-reference lists.
const ReferenceIndexKind = "_reference_index"

const referenceDelimiter = "|"

// ReferenceEntry is the stored form of a reference index: the ordered
// canonical keys of the entities related to an owner.
type ReferenceEntry struct {
	cache.Base `msgpack:"-"`
	Members    []string `msgpack:"members"`
}

// ReferenceIndex caches the member keys of a relation in the Distributed
// tier only. Entries expire by TTL; membership changes are not tracked, so a
// hit may be stale for up to the TTL used at creation.
type ReferenceIndex struct {
	store  cache.Store
	logger zerolog.Logger
}

// NewReferenceIndex returns an index over the coordinator's Distributed
// tier. Without one, every lookup misses and Create writes nothing.
func NewReferenceIndex(c *Coordinator) *ReferenceIndex {
	return &ReferenceIndex{
		store:  c.Store(cache.Distributed),
		logger: c.logger.With().Str("component", "reference_index").Logger(),
	}
}

// ReferenceKey returns the key of the index entry for owner and relation.
func ReferenceKey(owner *cache.Key, relation string) (*cache.Key, error) {
	ownerKey, err := cache.Normalize(owner)
	if err != nil {
		return nil, err
	}
	return cache.NewNameKey(ReferenceIndexKind, ownerKey+referenceDelimiter+relation, nil), nil
}

// Get returns the cached member keys. A read failure is logged and reported
// as a miss.
func (ri *ReferenceIndex) Get(ctx context.Context, owner *cache.Key, relation string) ([]*cache.Key, bool, error) {
	key, err := ReferenceKey(owner, relation)
	if err != nil {
		return nil, false, err
	}
	if ri.store == nil {
		return nil, false, nil
	}

	canonical := key.Encode()
	got, err := ri.store.GetMany(ctx, []string{canonical})
	if err != nil {
		ri.logger.Warn().Err(err).Str("key", canonical).Msg("reference index read failed")
		return nil, false, nil
	}

	entry, ok := got[canonical].(*ReferenceEntry)
	if !ok || entry == nil {
		return nil, false, nil
	}

	members := make([]*cache.Key, 0, len(entry.Members))
	for _, m := range entry.Members {
		k, err := cache.DecodeKey(m)
		if err != nil {
			return nil, false, errors.Wrapf(err, "reference index %s", canonical)
		}
		members = append(members, k)
	}
	return members, true, nil
}

// Create stores the keys of members under owner and relation with ttl and
// returns them. Members must have identifiers.
func (ri *ReferenceIndex) Create(ctx context.Context, owner *cache.Key, relation string, members []cache.Entity, ttl time.Duration) ([]*cache.Key, error) {
	key, err := ReferenceKey(owner, relation)
	if err != nil {
		return nil, err
	}

	entry := &ReferenceEntry{Base: cache.NewBase(key), Members: make([]string, 0, len(members))}
	keys := make([]*cache.Key, 0, len(members))
	for _, m := range members {
		canonical, err := cache.Normalize(m)
		if err != nil {
			return nil, errors.Wrap(err, "reference member")
		}
		entry.Members = append(entry.Members, canonical)
		keys = append(keys, m.Key())
	}

	if ri.store == nil {
		return keys, nil
	}
	if _, err := ri.store.PutMany(ctx, []cache.Entity{entry}, ttl); err != nil {
		return nil, errors.Wrapf(err, "put reference index %s", key.Encode())
	}
	return keys, nil
}
