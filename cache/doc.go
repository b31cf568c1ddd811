// Package cache defines the domain types shared by every tier of the layered cache.
//
// # Overview
//
// The package exports:
//
//   - Key and Entity: the addressing model. A key is a kind plus either a
//     caller assigned name or a store generated numeric id, with an optional
//     parent key.
//   - Normalize / ShortName: canonical key handling used as the join key
//     between independently lived tiers.
//   - EntityCodec: msgpack transport encoding for tiers that store bytes.
//   - Tier, StorageSet and Shape: closed enumerations for the per-call tier
//     subset and the result shape, parsed from the "local", "memcache",
//     "datastore" and "list", "dict", "name_dict" tokens.
//   - Store, BackingStore and Scheduler: the interfaces tier adapters implement.
//
// # Canonical Keys
//
// Key.Encode writes the key path root first. Each segment is
// kind:n:name or kind:i:id, segments are joined with KeySeparator, and every
// component is query escaped:
//
//	cache.NewNameKey("post", "hello", cache.NewIDKey("user", 42, nil)).Encode()
//	// user:i:42::post:n:hello
//
// The format is stable across process restarts. Changing it invalidates
// every cached entry in every tier.
//
// # Entities
//
// Entities embed Base and register their kind with the codec:
//
//	type Article struct {
//		cache.Base `msgpack:"-"`
//		Title string `msgpack:"title"`
//	}
//
//	codec := cache.NewEntityCodec()
//	cache.RegisterKind[Article](codec, "article")
//
// # Errors
//
// All sentinels are cockroachdb/errors values; test with errors.Is.
// Validation errors (ErrInvalidKeyInput, ErrInvalidStorageLayer,
// ErrInvalidResultShape, ErrMissingIdentifier) are raised before any tier is
// contacted.
package cache
