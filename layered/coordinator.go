package layered

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/rs/zerolog"
)

// Tiers holds the stores of a deployment. Nil tiers are not configured and
// are skipped by every operation.
type Tiers struct {
	Local       cache.Store
	Distributed cache.Store
	Backing     cache.BackingStore
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for degraded reads and swallowed refresh
// failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics records tier hits, misses, errors and refreshes on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// Coordinator reads through and writes through the configured tiers. It
// keeps no per-call state and is safe for concurrent use as long as the
// tier stores are.
type Coordinator struct {
	stores  map[cache.Tier]cache.Store
	backing cache.BackingStore
	logger  zerolog.Logger
	metrics *Metrics
}

// New creates a Coordinator over tiers.
func New(tiers Tiers, opts ...Option) *Coordinator {
	c := &Coordinator{
		stores: make(map[cache.Tier]cache.Store, 3),
		logger: zerolog.Nop(),
	}
	if tiers.Local != nil {
		c.stores[cache.Local] = tiers.Local
	}
	if tiers.Distributed != nil {
		c.stores[cache.Distributed] = tiers.Distributed
	}
	if tiers.Backing != nil {
		c.stores[cache.Backing] = tiers.Backing
		c.backing = tiers.Backing
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "layered_coordinator").Logger()
	return c
}

// Store returns the store of tier, or nil when the tier is not configured.
func (c *Coordinator) Store(tier cache.Tier) cache.Store {
	return c.stores[tier]
}

// Backing returns the backing store, or nil.
func (c *Coordinator) Backing() cache.BackingStore {
	return c.backing
}

// Configured returns the set of tiers this coordinator has stores for.
func (c *Coordinator) Configured() cache.StorageSet {
	var s cache.StorageSet
	for tier := range c.stores {
		s = s.With(tier)
	}
	return s
}

// Get looks keys up tier by tier, fastest first, asking each tier only for
// the keys still missing. Cache tier failures count as misses; a Backing
// failure fails the call. Cache tiers flagged in opts.Refresh are then
// backfilled with the entities that a slower tier supplied.
//
// keys accepts anything cache.NormalizeAll does. A single scalar key makes
// Result.Value return a bare entity.
func (c *Coordinator) Get(ctx context.Context, opts GetOptions, keys ...any) (*Result, error) {
	defer c.metrics.observe("get", time.Now())

	if err := opts.validate(); err != nil {
		return nil, err
	}
	requested, err := cache.NormalizeAll(keys...)
	if err != nil {
		return nil, err
	}

	found, misses, err := c.lookup(ctx, opts.storage(), requested)
	if err != nil {
		return nil, err
	}

	c.refresh(ctx, opts, misses, found)
	return project(opts.Shape, requested, found, isPlural(keys))
}

// lookup consults the tiers of storage in order and records per tier the
// keys it was asked for but did not have.
func (c *Coordinator) lookup(ctx context.Context, storage cache.StorageSet, requested []string) (map[string]cache.Entity, map[cache.Tier][]string, error) {
	found := make(map[string]cache.Entity, len(requested))
	misses := make(map[cache.Tier][]string, 3)

	for _, tier := range storage.Tiers() {
		store, ok := c.stores[tier]
		if !ok {
			continue
		}

		outstanding := missing(requested, found)
		if len(outstanding) == 0 {
			break
		}

		got, err := store.GetMany(ctx, outstanding)
		if err != nil {
			c.metrics.recordError(tier, "get")
			if tier == cache.Backing {
				return nil, nil, errors.Wrapf(err, "get from %s", tier)
			}
			c.logger.Warn().Err(err).
				Str("tier", tier.String()).
				Int("count", len(outstanding)).
				Msg("tier read failed, treating as miss")
			misses[tier] = outstanding
			continue
		}

		var missed []string
		for _, k := range outstanding {
			if e := got[k]; !cache.IsNil(e) {
				found[k] = e
			} else {
				missed = append(missed, k)
			}
		}
		misses[tier] = missed
		c.metrics.recordLookup(tier, len(outstanding)-len(missed), len(missed))
	}
	return found, misses, nil
}

// refresh backfills each flagged cache tier with the entities recovered
// after it missed them. Failures are logged only.
func (c *Coordinator) refresh(ctx context.Context, opts GetOptions, misses map[cache.Tier][]string, found map[string]cache.Entity) {
	for _, tier := range []cache.Tier{cache.Local, cache.Distributed} {
		if !opts.Refresh.Has(tier) {
			continue
		}
		store, ok := c.stores[tier]
		if !ok {
			continue
		}

		var targets []cache.Entity
		for _, k := range misses[tier] {
			if e, ok := found[k]; ok {
				targets = append(targets, e)
			}
		}
		if len(targets) == 0 {
			continue
		}

		_, err := store.PutMany(ctx, targets, opts.ttl(tier))
		c.metrics.recordRefresh(tier, err)
		if err != nil {
			c.logger.Warn().Err(err).
				Str("tier", tier.String()).
				Int("count", len(targets)).
				Msg("cascaded refresh failed")
		}
	}
}

// Put writes entities to every tier in opts.Storage and returns their keys
// in input order. Nil entities are dropped.
//
// Entities without an identifier are first written to Backing, which assigns
// one, then re-read and written to the remaining tiers. Without Backing in
// the storage set such entities fail the call with cache.ErrMissingIdentifier
// before anything is written.
//
// Tiers are written independently. A failing tier does not stop or roll back
// the others; every failure is joined into the returned error.
func (c *Coordinator) Put(ctx context.Context, opts PutOptions, entities ...cache.Entity) (cache.Keys, error) {
	defer c.metrics.observe("put", time.Now())

	storage := opts.storage()
	if err := storage.Validate(); err != nil {
		return nil, err
	}

	batch := make([]cache.Entity, 0, len(entities))
	for _, e := range entities {
		if !cache.IsNil(e) {
			batch = append(batch, e)
		}
	}
	if len(batch) == 0 {
		return nil, nil
	}
	return c.put(ctx, opts, storage, batch)
}

func (c *Coordinator) put(ctx context.Context, opts PutOptions, storage cache.StorageSet, batch []cache.Entity) (cache.Keys, error) {
	if anyIncomplete(batch) {
		if !storage.Has(cache.Backing) || c.backing == nil {
			return nil, errors.Wrapf(cache.ErrMissingIdentifier, "%d entities, storage %s", countIncomplete(batch), storage)
		}

		identified, err := c.assignIdentifiers(ctx, batch)
		if err != nil {
			return nil, err
		}

		rest := storage.Without(cache.Backing)
		if rest.Empty() || len(identified) == 0 {
			return keysOf(identified), nil
		}
		return c.put(ctx, opts, rest, identified)
	}

	var errs []error
	for _, tier := range storage.Tiers() {
		store, ok := c.stores[tier]
		if !ok {
			continue
		}
		if _, err := store.PutMany(ctx, batch, opts.ttl(tier)); err != nil {
			c.metrics.recordError(tier, "put")
			errs = append(errs, errors.Wrapf(err, "put to %s", tier))
		}
	}
	return keysOf(batch), errors.Join(errs...)
}

// assignIdentifiers writes batch to Backing and reads the written entities
// back. Entities the backing writer deferred are not returned.
func (c *Coordinator) assignIdentifiers(ctx context.Context, batch []cache.Entity) ([]cache.Entity, error) {
	written, err := c.backing.PutMany(ctx, batch, 0)
	if err != nil {
		c.metrics.recordError(cache.Backing, "put")
		return nil, errors.Wrapf(err, "put to %s", cache.Backing)
	}
	if len(written) == 0 {
		return nil, nil
	}

	got, err := c.backing.GetMany(ctx, written)
	if err != nil {
		c.metrics.recordError(cache.Backing, "get")
		return nil, errors.Wrapf(err, "re-read from %s", cache.Backing)
	}

	identified := make([]cache.Entity, 0, len(written))
	for _, k := range written {
		if e := got[k]; !cache.IsNil(e) {
			identified = append(identified, e)
		}
	}
	return identified, nil
}

// Delete removes keys from every tier in storage; an empty storage set means
// all tiers. Deleting absent keys is not an error. Tier failures are
// combined into the returned error.
func (c *Coordinator) Delete(ctx context.Context, storage cache.StorageSet, keys ...any) error {
	defer c.metrics.observe("delete", time.Now())

	if storage.Empty() {
		storage = cache.AllStorage
	}
	if err := storage.Validate(); err != nil {
		return err
	}
	canonical, err := cache.NormalizeAll(keys...)
	if err != nil {
		return err
	}
	if len(canonical) == 0 {
		return nil
	}

	var errs []error
	for _, tier := range storage.Tiers() {
		store, ok := c.stores[tier]
		if !ok {
			continue
		}
		if err := store.DeleteMany(ctx, canonical); err != nil {
			c.metrics.recordError(tier, "delete")
			errs = append(errs, errors.Wrapf(err, "delete from %s", tier))
		}
	}
	return errors.Join(errs...)
}

// missing returns the requested keys not yet found, without duplicates.
func missing(requested []string, found map[string]cache.Entity) []string {
	out := make([]string, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	for _, k := range requested {
		if _, ok := found[k]; ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func anyIncomplete(batch []cache.Entity) bool {
	return countIncomplete(batch) > 0
}

func countIncomplete(batch []cache.Entity) int {
	n := 0
	for _, e := range batch {
		if !cache.HasIdentifier(e) {
			n++
		}
	}
	return n
}

func keysOf(entities []cache.Entity) cache.Keys {
	keys := make(cache.Keys, len(entities))
	for i, e := range entities {
		keys[i] = e.Key()
	}
	return keys
}
