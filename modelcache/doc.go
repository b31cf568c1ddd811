// Package modelcache gives each entity kind a typed repository over a
// layered.Coordinator.
//
// A Repository[T] derives its kind from T's type name (*BlogPost becomes
// "blog_post") and checks every key and every resolved entity against it;
// a mismatch fails with cache.ErrKindMismatch.
//
//	posts := modelcache.New[*BlogPost](coord)
//	post, ok, err := posts.Get(ctx, posts.NameKey("hello", nil))
//
//	comments := modelcache.New[*Comment](coord)
//	list, err := comments.CachedSet(ctx, post.Key(), "comments", comments.AncestorRelation())
//
// CachedSet keeps the member keys of a relation in the reference index of
// the Distributed tier and resolves the members through the coordinator.
// The index expires by TTL only, so a set may be stale until then.
//
// The tiers used by a single call can be narrowed with WithStorage:
//
//	ctx = modelcache.WithStorage(ctx, cache.NewStorageSet(cache.Local))
package modelcache
