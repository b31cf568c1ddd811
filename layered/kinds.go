package layered

import "github.com/goliatone/go-layered-cache/cache"

// RegisterKinds registers the entity kinds this package stores in the cache
// tiers. Codecs used by byte oriented tiers must have them.
func RegisterKinds(codec *cache.EntityCodec) {
	cache.RegisterKind[ReferenceEntry](codec, ReferenceIndexKind)
	cache.RegisterKind[QueryEntry](codec, QueryResultKind)
}
