package layered

import (
	"github.com/goliatone/go-layered-cache/cache"
)

// Result is the projected outcome of a Get. Only the field matching Shape is
// populated.
type Result struct {
	Shape cache.Shape

	// List holds one entry per requested key in request order; nil marks a
	// key that was not found in any consulted tier.
	List []cache.Entity

	// ByKey maps canonical keys to found entities.
	ByKey map[string]cache.Entity

	// ByName maps short names to found entities. Keys of different kinds
	// that share a short name collide; the one requested last wins.
	ByName map[string]cache.Entity

	plural bool
}

// project builds a Result from the requested canonical keys and the
// entities found for them.
func project(shape cache.Shape, requested []string, found map[string]cache.Entity, plural bool) (*Result, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}

	r := &Result{Shape: shape, plural: plural}
	switch shape {
	case cache.ShapeDict:
		r.ByKey = make(map[string]cache.Entity, len(found))
		for _, k := range requested {
			if e, ok := found[k]; ok {
				r.ByKey[k] = e
			}
		}
	case cache.ShapeNameDict:
		r.ByName = make(map[string]cache.Entity, len(found))
		for _, k := range requested {
			e, ok := found[k]
			if !ok {
				continue
			}
			name, err := cache.ShortName(k)
			if err != nil {
				return nil, err
			}
			r.ByName[name] = e
		}
	default:
		r.List = make([]cache.Entity, len(requested))
		for i, k := range requested {
			r.List[i] = found[k]
		}
	}
	return r, nil
}

// Single returns the first listed entity, or nil.
func (r *Result) Single() cache.Entity {
	if r == nil || len(r.List) == 0 {
		return nil
	}
	return r.List[0]
}

// Len is the number of listed entries or map entries, depending on Shape.
func (r *Result) Len() int {
	switch r.Shape {
	case cache.ShapeDict:
		return len(r.ByKey)
	case cache.ShapeNameDict:
		return len(r.ByName)
	default:
		return len(r.List)
	}
}

// Value returns the result the way it was requested. A list result for a
// single key argument collapses to that entity (or nil); a list argument
// always yields []cache.Entity. Map shapes return their map.
func (r *Result) Value() any {
	switch r.Shape {
	case cache.ShapeDict:
		return r.ByKey
	case cache.ShapeNameDict:
		return r.ByName
	}
	if !r.plural && len(r.List) == 1 {
		if r.List[0] == nil {
			return nil
		}
		return r.List[0]
	}
	return r.List
}

// isPlural reports whether a key argument list reads as more than one key:
// anything but a single scalar key-like value.
func isPlural(args []any) bool {
	if len(args) != 1 {
		return true
	}
	switch args[0].(type) {
	case []any, []string, []*cache.Key, []cache.Entity, cache.Keys:
		return true
	default:
		return false
	}
}
