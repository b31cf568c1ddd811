package cache

import (
	"github.com/cockroachdb/errors"
)

// Normalize converts a key-like value into its canonical string form.
// Accepted inputs are *Key, Key, an Entity (its key is used) or a canonical
// key string. Nil values, incomplete keys and any other type fail with
// ErrInvalidKeyInput.
func Normalize(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", errors.Wrap(ErrInvalidKeyInput, "nil key")
	case *Key:
		return normalizeKey(t)
	case Key:
		return normalizeKey(&t)
	case string:
		k, err := DecodeKey(t)
		if err != nil {
			return "", err
		}
		// Re-encode so every spelling of a key maps to one canonical string.
		return k.Encode(), nil
	case Entity:
		if IsNil(t) {
			return "", errors.Wrap(ErrInvalidKeyInput, "nil entity")
		}
		return normalizeKey(t.Key())
	default:
		return "", errors.Wrapf(ErrInvalidKeyInput, "unsupported key type %T", v)
	}
}

func normalizeKey(k *Key) (string, error) {
	if k == nil {
		return "", errors.Wrap(ErrInvalidKeyInput, "nil key")
	}
	if k.Kind == "" {
		return "", errors.Wrap(ErrInvalidKeyInput, "key without kind")
	}
	if k.Incomplete() {
		return "", errors.Wrapf(ErrInvalidKeyInput, "incomplete key of kind %q", k.Kind)
	}
	return k.Encode(), nil
}

// NormalizeAll normalizes every value, flattening slice arguments so callers
// can pass either variadic keys or a single slice of keys.
func NormalizeAll(values ...any) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		switch t := v.(type) {
		case []any:
			nested, err := NormalizeAll(t...)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		case []string:
			for _, s := range t {
				k, err := Normalize(s)
				if err != nil {
					return nil, err
				}
				out = append(out, k)
			}
		case []*Key:
			for _, key := range t {
				k, err := Normalize(key)
				if err != nil {
					return nil, err
				}
				out = append(out, k)
			}
		case Keys:
			for _, key := range t {
				k, err := Normalize(key)
				if err != nil {
					return nil, err
				}
				out = append(out, k)
			}
		case []Entity:
			for _, e := range t {
				k, err := Normalize(e)
				if err != nil {
					return nil, err
				}
				out = append(out, k)
			}
		default:
			k, err := Normalize(v)
			if err != nil {
				return nil, err
			}
			out = append(out, k)
		}
	}
	return out, nil
}

// ShortName returns the caller assigned name of a canonical key, or the
// decimal string of its generated id.
func ShortName(canonical string) (string, error) {
	k, err := DecodeKey(canonical)
	if err != nil {
		return "", err
	}
	return k.ShortName(), nil
}
