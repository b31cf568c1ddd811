package cacheinfra

import (
	"context"
	"time"

	"github.com/goliatone/go-layered-cache/cache"
	"github.com/viccon/sturdyc"
)

// localItem is what the local store keeps per key. sturdyc has a single
// client-wide TTL, so per entry TTLs are enforced with an expiry stamp.
type localItem struct {
	entity    cache.Entity
	expiresAt time.Time
}

func (i localItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// LocalStore is the in-process tier backed by a sturdyc client.
// Entities are stored by reference; callers must not mutate entities
// after writing them.
type LocalStore struct {
	client *sturdyc.Client[localItem]
	now    func() time.Time
}

var _ cache.Store = (*LocalStore)(nil)

// ToSturdycOptions converts the local config to sturdyc options.
// Capacity, NumShards, Retention and EvictionPercentage are passed directly
// to sturdyc.New() and are not included in the options.
func (c LocalConfig) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// NewLocalStore creates the sturdyc backed local tier.
func NewLocalStore(cfg LocalConfig) (*LocalStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, toConfigError("Local", err)
	}

	client := sturdyc.New[localItem](
		cfg.Capacity,
		cfg.NumShards,
		cfg.Retention,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &LocalStore{client: client, now: time.Now}, nil
}

// Name implements cache.Store.
func (s *LocalStore) Name() string {
	return "local"
}

// GetMany implements cache.Store.
func (s *LocalStore) GetMany(ctx context.Context, keys []string) (map[string]cache.Entity, error) {
	out := make(map[string]cache.Entity, len(keys))
	for _, k := range keys {
		out[k] = nil
	}

	now := s.now()
	var expired []string
	for k, item := range s.client.GetMany(keys) {
		if item.expired(now) {
			expired = append(expired, k)
			continue
		}
		out[k] = item.entity
	}

	for _, k := range expired {
		s.client.Delete(k)
	}
	return out, nil
}

// PutMany implements cache.Store. A zero ttl keeps the entry until the
// configured retention or eviction removes it.
func (s *LocalStore) PutMany(ctx context.Context, entities []cache.Entity, ttl time.Duration) ([]string, error) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	records := make(map[string]localItem, len(entities))
	keys := make([]string, 0, len(entities))
	for _, e := range entities {
		k, err := cache.Normalize(e)
		if err != nil {
			return nil, err
		}
		records[k] = localItem{entity: e, expiresAt: expiresAt}
		keys = append(keys, k)
	}

	s.client.SetMany(records)
	return keys, nil
}

// DeleteMany implements cache.Store.
func (s *LocalStore) DeleteMany(ctx context.Context, keys []string) error {
	for _, k := range keys {
		s.client.Delete(k)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *LocalStore) Len() int {
	return s.client.Size()
}

// Keys returns every stored canonical key.
func (s *LocalStore) Keys() []string {
	return s.client.ScanKeys()
}
