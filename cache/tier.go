package cache

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Tier is one storage layer. The numeric order is the consultation order:
// fastest and least durable first.
type Tier uint8

const (
	Local Tier = iota + 1
	Distributed
	Backing
)

// Tier tokens as accepted from configuration and the CLI.
const (
	LocalToken       = "local"
	DistributedToken = "memcache"
	BackingToken     = "datastore"
)

// AllTiers lists every tier in consultation order.
var AllTiers = []Tier{Local, Distributed, Backing}

// String returns the tier token.
func (t Tier) String() string {
	switch t {
	case Local:
		return LocalToken
	case Distributed:
		return DistributedToken
	case Backing:
		return BackingToken
	default:
		return "tier(" + strconv.Itoa(int(t)) + ")"
	}
}

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	return t >= Local && t <= Backing
}

// IsCache reports whether t is an advisory cache tier.
func (t Tier) IsCache() bool {
	return t == Local || t == Distributed
}

// ParseTier maps a token to a Tier.
func ParseTier(token string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case LocalToken:
		return Local, nil
	case DistributedToken, "distributed":
		return Distributed, nil
	case BackingToken, "backing":
		return Backing, nil
	default:
		return 0, errors.Wrapf(ErrInvalidStorageLayer, "%q", token)
	}
}

// StorageSet is an unordered subset of tiers. The zero value is empty.
type StorageSet uint8

// invalidTierBit records that an unknown tier was added to a set. Bit 0 is
// never used by a valid tier.
const invalidTierBit StorageSet = 1

// NewStorageSet builds a set from tiers. Unknown tiers are remembered so that
// Validate can reject the set before any I/O happens.
func NewStorageSet(tiers ...Tier) StorageSet {
	var s StorageSet
	for _, t := range tiers {
		s = s.With(t)
	}
	return s
}

// ParseStorageSet builds a set from tier tokens. Tokens may also be comma separated.
func ParseStorageSet(tokens ...string) (StorageSet, error) {
	var s StorageSet
	for _, token := range tokens {
		for _, part := range strings.Split(token, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			t, err := ParseTier(part)
			if err != nil {
				return 0, err
			}
			s = s.With(t)
		}
	}
	return s, nil
}

// AllStorage contains every tier.
var AllStorage = NewStorageSet(Local, Distributed, Backing)

// AllCache contains the two cache tiers.
var AllCache = NewStorageSet(Local, Distributed)

// Has reports membership.
func (s StorageSet) Has(t Tier) bool {
	return t.Valid() && s&(1<<t) != 0
}

// With returns s plus t.
func (s StorageSet) With(t Tier) StorageSet {
	if !t.Valid() {
		return s | invalidTierBit
	}
	return s | 1<<t
}

// Without returns s minus t.
func (s StorageSet) Without(t Tier) StorageSet {
	if !t.Valid() {
		return s
	}
	return s &^ (1 << t)
}

// Empty reports whether the set has no tiers.
func (s StorageSet) Empty() bool {
	return s == 0
}

// Tiers returns the members in consultation order.
func (s StorageSet) Tiers() []Tier {
	out := make([]Tier, 0, 3)
	for _, t := range AllTiers {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// Validate rejects sets holding bits outside the three known tiers.
func (s StorageSet) Validate() error {
	if s&^AllStorage != 0 {
		return errors.Wrapf(ErrInvalidStorageLayer, "unknown tier bits %08b", uint8(s&^AllStorage))
	}
	return nil
}

// ValidateCache is Validate restricted to the cache tiers.
func (s StorageSet) ValidateCache() error {
	if s&^AllCache != 0 {
		return errors.Wrapf(ErrInvalidCacheLayer, "tiers %s", s.String())
	}
	return nil
}

// String renders the tier tokens, comma separated, in consultation order.
func (s StorageSet) String() string {
	tiers := s.Tiers()
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = t.String()
	}
	return strings.Join(names, ",")
}

// Shape selects how get results are returned.
type Shape uint8

const (
	// ShapeList returns entities in request order, nil for absent keys.
	ShapeList Shape = iota
	// ShapeDict maps canonical keys to found entities.
	ShapeDict
	// ShapeNameDict maps short names to found entities. Keys of different
	// kinds sharing a short name overwrite each other.
	ShapeNameDict
)

// Shape tokens.
const (
	ListToken     = "list"
	DictToken     = "dict"
	NameDictToken = "name_dict"
)

// String returns the shape token.
func (s Shape) String() string {
	switch s {
	case ShapeList:
		return ListToken
	case ShapeDict:
		return DictToken
	case ShapeNameDict:
		return NameDictToken
	default:
		return "shape(invalid)"
	}
}

// Validate rejects unknown shapes.
func (s Shape) Validate() error {
	if s > ShapeNameDict {
		return errors.Wrapf(ErrInvalidResultShape, "%d", uint8(s))
	}
	return nil
}

// ParseShape maps a token to a Shape.
func ParseShape(token string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case ListToken, "":
		return ShapeList, nil
	case DictToken:
		return ShapeDict, nil
	case NameDictToken:
		return ShapeNameDict, nil
	default:
		return 0, errors.Wrapf(ErrInvalidResultShape, "%q", token)
	}
}
