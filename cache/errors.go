package cache

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidKeyInput is returned when a get/put/delete argument is not a key-like value.
	ErrInvalidKeyInput = errors.New("invalid key input: expected *cache.Key, cache.Key, cache.Entity or canonical key string")

	// ErrInvalidStorageLayer is returned for storage tokens outside local, memcache and datastore.
	ErrInvalidStorageLayer = errors.New(`storage layer name invalid: valid values are "local", "memcache" and "datastore"`)

	// ErrInvalidCacheLayer is returned when a non cache tier is used where only cache tiers are accepted.
	ErrInvalidCacheLayer = errors.New(`cache layer name invalid: valid values are "local" and "memcache"`)

	// ErrInvalidResultShape is returned for result shape tokens outside list, dict and name_dict.
	ErrInvalidResultShape = errors.New(`result type is invalid: valid values are "list", "dict" and "name_dict"`)

	// ErrMissingIdentifier is returned when an entity without identifier is written to cache tiers only.
	ErrMissingIdentifier = errors.New("entity has no identifier: enable backing store writes or assign a name")

	// ErrTierTimeout marks transient timeout-class tier failures.
	ErrTierTimeout = errors.New("tier timeout")

	// ErrQuotaExceeded marks capacity or quota failures reported by the backing store.
	ErrQuotaExceeded = errors.New("backing store quota exceeded")

	// ErrUnknownKind is returned when decoding an entity whose kind has no registered factory.
	ErrUnknownKind = errors.New("unknown entity kind")

	// ErrKindMismatch is returned when a typed lookup resolves an entity of another kind.
	ErrKindMismatch = errors.New("entity kind mismatch")

	// ErrQueueFull is returned by schedulers that cannot accept more work.
	ErrQueueFull = errors.New("scheduler queue full")

	// ErrSchedulerClosed is returned by schedulers after Close.
	ErrSchedulerClosed = errors.New("scheduler closed")
)

// IsTimeout reports whether err is a timeout-class tier failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTierTimeout)
}

// IsQuotaExceeded reports whether err is a capacity or quota failure.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}
