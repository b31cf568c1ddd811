// Package layered implements read-through and write-through access to a
// stack of storage tiers: an in-process Local cache, a Distributed cache and
// the durable Backing store.
//
// # Reads
//
// Coordinator.Get consults the tiers of the storage set in the fixed order
// Local, Distributed, Backing. Each tier is asked only for the keys the
// faster tiers did not have, in one batch call. Cache tier failures degrade
// to misses; a Backing failure fails the call.
//
// After the lookup, every cache tier flagged in GetOptions.Refresh receives
// the entities it missed that a slower tier supplied (cascaded refresh).
// Refresh failures are logged and otherwise ignored.
//
//	res, err := coord.Get(ctx, layered.GetOptions{
//		Storage: cache.AllStorage,
//		Refresh: cache.AllCache,
//	}, "article:n:hello")
//	article, _ := res.Value().(*Article)
//
// # Writes
//
// Coordinator.Put writes every tier of the storage set independently and
// combines the failures. Entities without an identifier are written to
// Backing first; writing them to cache tiers alone fails with
// cache.ErrMissingIdentifier.
//
// # Result Shapes
//
//   - cache.ShapeList: one entry per requested key, nil for misses. A single
//     key argument collapses to a bare entity in Result.Value.
//   - cache.ShapeDict: canonical key to entity, found keys only.
//   - cache.ShapeNameDict: short name to entity. Keys of different kinds that
//     share a name or id overwrite each other; the key requested last wins.
//
// # Reference Index and Query Cache
//
// ReferenceIndex keeps relation member lists in the Distributed tier with a
// TTL and no invalidation. QueryCache stores backing query pages in the cache
// tiers. Both store their own entity kinds; call RegisterKinds on the codec
// of byte oriented tiers.
package layered
