package modelcache

import (
	"context"

	"github.com/goliatone/go-layered-cache/cache"
)

type storageContextKey struct{}

// WithStorage overrides the tiers used by Repository calls made with ctx.
// An empty set leaves ctx unchanged.
func WithStorage(ctx context.Context, storage cache.StorageSet) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if storage.Empty() {
		return ctx
	}
	return context.WithValue(ctx, storageContextKey{}, storage)
}

// storageFrom returns the storage set attached to ctx, or fallback.
func storageFrom(ctx context.Context, fallback cache.StorageSet) cache.StorageSet {
	if ctx == nil {
		return fallback
	}
	if storage, ok := ctx.Value(storageContextKey{}).(cache.StorageSet); ok {
		return storage
	}
	return fallback
}
