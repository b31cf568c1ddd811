package layered

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-layered-cache/cache"
)

// DefaultLocalTTL is the Local tier expiration used when none is given.
const DefaultLocalTTL = 300 * time.Second

// DefaultStorage is consulted by Get and written by Put when the options
// leave Storage empty.
var DefaultStorage = cache.NewStorageSet(cache.Distributed, cache.Backing)

// GetOptions configures one Get call. The zero value reads from
// DefaultStorage, refreshes nothing and returns a list.
type GetOptions struct {
	// Storage selects the tiers to consult. Order is fixed by the coordinator.
	Storage cache.StorageSet

	// Refresh selects the cache tiers that are backfilled with entities
	// recovered from a slower tier. Backing is ignored.
	Refresh cache.StorageSet

	// LocalTTL and DistributedTTL are used for refresh writes. Zero means the
	// tier default.
	LocalTTL       time.Duration
	DistributedTTL time.Duration

	Shape cache.Shape
}

// DefaultGetOptions reads from DefaultStorage and refreshes both cache tiers.
func DefaultGetOptions() GetOptions {
	return GetOptions{
		Storage:  DefaultStorage,
		Refresh:  cache.AllCache,
		LocalTTL: DefaultLocalTTL,
		Shape:    cache.ShapeList,
	}
}

func (o GetOptions) storage() cache.StorageSet {
	if o.Storage.Empty() {
		return DefaultStorage
	}
	return o.Storage
}

func (o GetOptions) validate() error {
	if err := o.storage().Validate(); err != nil {
		return err
	}
	if err := o.Refresh.Validate(); err != nil {
		return errors.Wrap(err, "refresh")
	}
	return o.Shape.Validate()
}

func (o GetOptions) ttl(tier cache.Tier) time.Duration {
	return tierTTL(tier, o.LocalTTL, o.DistributedTTL)
}

// PutOptions configures one Put call. The zero value writes DefaultStorage.
type PutOptions struct {
	Storage        cache.StorageSet
	LocalTTL       time.Duration
	DistributedTTL time.Duration
}

// DefaultPutOptions writes DefaultStorage with DefaultLocalTTL.
func DefaultPutOptions() PutOptions {
	return PutOptions{
		Storage:  DefaultStorage,
		LocalTTL: DefaultLocalTTL,
	}
}

func (o PutOptions) storage() cache.StorageSet {
	if o.Storage.Empty() {
		return DefaultStorage
	}
	return o.Storage
}

func (o PutOptions) ttl(tier cache.Tier) time.Duration {
	return tierTTL(tier, o.LocalTTL, o.DistributedTTL)
}

func tierTTL(tier cache.Tier, local, distributed time.Duration) time.Duration {
	switch tier {
	case cache.Local:
		return local
	case cache.Distributed:
		return distributed
	default:
		return 0
	}
}
