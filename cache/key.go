package cache

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

const (
	nameMarker = "n"
	idMarker   = "i"
)

// Key addresses an entity: a kind, a caller assigned name or a store
// generated numeric id, and an optional parent for hierarchical namespacing.
type Key struct {
	Kind   string
	Name   string
	ID     int64
	Parent *Key
}

// NewNameKey builds a key identified by a caller assigned name.
func NewNameKey(kind, name string, parent *Key) *Key {
	return &Key{Kind: kind, Name: name, Parent: parent}
}

// NewIDKey builds a key identified by a numeric id.
func NewIDKey(kind string, id int64, parent *Key) *Key {
	return &Key{Kind: kind, ID: id, Parent: parent}
}

// NewIncompleteKey builds a key for an entity that has not been assigned an
// identifier yet. The backing store completes it on first write.
func NewIncompleteKey(kind string, parent *Key) *Key {
	return &Key{Kind: kind, Parent: parent}
}

// Incomplete reports whether the key lacks both a name and an id.
func (k *Key) Incomplete() bool {
	return k == nil || (k.Name == "" && k.ID == 0)
}

// ShortName returns the name when present, otherwise the decimal id.
func (k *Key) ShortName() string {
	if k.Name != "" {
		return k.Name
	}
	return strconv.FormatInt(k.ID, 10)
}

// Equal compares two keys by their canonical form.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.Encode() == other.Encode()
}

// String implements fmt.Stringer.
func (k *Key) String() string {
	if k == nil {
		return "<nil>"
	}
	return k.Encode()
}

// Encode returns the canonical string form of the key. Segments are written
// root first; every component is query-escaped so the separators never occur
// inside a component, which keeps the encoding injective.
func (k *Key) Encode() string {
	var segments []string
	for cur := k; cur != nil; cur = cur.Parent {
		segments = append(segments, encodeSegment(cur))
	}

	var b strings.Builder
	for i := len(segments) - 1; i >= 0; i-- {
		b.WriteString(segments[i])
		if i > 0 {
			b.WriteString(KeySeparator)
		}
	}
	return b.String()
}

func encodeSegment(k *Key) string {
	kind := url.QueryEscape(k.Kind)
	if k.Name != "" {
		return kind + ":" + nameMarker + ":" + url.QueryEscape(k.Name)
	}
	return kind + ":" + idMarker + ":" + strconv.FormatInt(k.ID, 10)
}

// DecodeKey parses a canonical key string produced by Key.Encode.
func DecodeKey(s string) (*Key, error) {
	if s == "" {
		return nil, errors.Wrap(ErrInvalidKeyInput, "empty key string")
	}

	var parent *Key
	for _, segment := range strings.Split(s, KeySeparator) {
		parts := strings.Split(segment, ":")
		if len(parts) != 3 {
			return nil, errors.Wrapf(ErrInvalidKeyInput, "malformed key segment %q", segment)
		}

		kind, err := url.QueryUnescape(parts[0])
		if err != nil || kind == "" {
			return nil, errors.Wrapf(ErrInvalidKeyInput, "malformed kind in segment %q", segment)
		}

		k := &Key{Kind: kind, Parent: parent}
		switch parts[1] {
		case nameMarker:
			name, err := url.QueryUnescape(parts[2])
			if err != nil || name == "" {
				return nil, errors.Wrapf(ErrInvalidKeyInput, "malformed name in segment %q", segment)
			}
			k.Name = name
		case idMarker:
			id, err := strconv.ParseInt(parts[2], 10, 64)
			if err != nil || id == 0 {
				return nil, errors.Wrapf(ErrInvalidKeyInput, "malformed id in segment %q", segment)
			}
			k.ID = id
		default:
			return nil, errors.Wrapf(ErrInvalidKeyInput, "unknown identifier marker in segment %q", segment)
		}
		parent = k
	}
	return parent, nil
}

// Keys is the result of a put. It mirrors the plurality of the written batch.
type Keys []*Key

// Value returns the single key when exactly one entity was written, nil when
// none were, and the whole slice otherwise.
func (ks Keys) Value() any {
	switch len(ks) {
	case 0:
		return nil
	case 1:
		return ks[0]
	default:
		return []*Key(ks)
	}
}

// Strings returns the canonical form of every key.
func (ks Keys) Strings() []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = k.Encode()
	}
	return out
}
