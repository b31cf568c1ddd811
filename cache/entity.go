package cache

import "reflect"

// Entity is a structured record addressed by a Key. New entities report an
// incomplete key carrying at least their kind; the backing store completes it.
type Entity interface {
	Key() *Key
	SetKey(*Key)
}

// Base is an embeddable Entity implementation. It is skipped by the entity
// codec so only the embedding struct's fields are serialized.
type Base struct {
	key *Key
}

// NewBase returns a Base holding key.
func NewBase(key *Key) Base {
	return Base{key: key}
}

// Key implements Entity.
func (b *Base) Key() *Key {
	return b.key
}

// SetKey implements Entity.
func (b *Base) SetKey(k *Key) {
	b.key = k
}

// HasIdentifier reports whether e carries a complete key.
func HasIdentifier(e Entity) bool {
	return !IsNil(e) && !e.Key().Incomplete()
}

// KindOf returns the kind of e, or "" for a nil entity or key.
func KindOf(e Entity) string {
	if IsNil(e) || e.Key() == nil {
		return ""
	}
	return e.Key().Kind
}

// IsNil reports whether e is nil or a typed nil pointer.
func IsNil(e Entity) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
