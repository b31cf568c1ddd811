package cache

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyEncodeDecodeRoundTrip(t *testing.T) {
	user := NewIDKey("user", 42, nil)

	tests := []struct {
		name string
		key  *Key
		want string
	}{
		{name: "name key", key: NewNameKey("article", "hello", nil), want: "article:n:hello"},
		{name: "id key", key: user, want: "user:i:42"},
		{name: "child key", key: NewNameKey("post", "hello", user), want: "user:i:42::post:n:hello"},
		{name: "escaped separators", key: NewNameKey("a:b", "x::y z", nil), want: "a%3Ab:n:x%3A%3Ay+z"},
		{name: "negative id", key: NewIDKey("counter", -7, nil), want: "counter:i:-7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.key.Encode()
			assert.Equal(t, tt.want, encoded)

			decoded, err := DecodeKey(encoded)
			require.NoError(t, err)
			assert.True(t, decoded.Equal(tt.key))
			assert.Equal(t, encoded, decoded.Encode())
		})
	}
}

func TestKeyEncodeIsInjective(t *testing.T) {
	keys := []*Key{
		NewNameKey("a", "b", nil),
		NewNameKey("a", "1", nil),
		NewIDKey("a", 1, nil),
		NewNameKey("a", "b", NewNameKey("a", "b", nil)),
		NewNameKey("a:n:b", "c", nil),
		NewNameKey("a", "b::a:n:b", nil),
	}

	seen := map[string]*Key{}
	for _, k := range keys {
		encoded := k.Encode()
		if prev, ok := seen[encoded]; ok {
			t.Fatalf("keys %#v and %#v both encode to %q", prev, k, encoded)
		}
		seen[encoded] = k
	}
}

func TestDecodeKeyRejectsMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"article",
		"article:n",
		"article:x:hello",
		"article:i:zero",
		"article:i:0",
		":n:hello",
		"article:n:",
		"user:i:1::",
	} {
		_, err := DecodeKey(in)
		assert.Truef(t, errors.Is(err, ErrInvalidKeyInput), "input %q: %v", in, err)
	}
}

func TestKeyShortNameAndIncomplete(t *testing.T) {
	assert.Equal(t, "hello", NewNameKey("article", "hello", nil).ShortName())
	assert.Equal(t, "42", NewIDKey("user", 42, nil).ShortName())

	assert.True(t, NewIncompleteKey("article", nil).Incomplete())
	assert.True(t, (*Key)(nil).Incomplete())
	assert.False(t, NewIDKey("user", 1, nil).Incomplete())

	short, err := ShortName("user:i:42::post:n:hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", short)

	short, err = ShortName("user:i:42")
	require.NoError(t, err)
	assert.Equal(t, "42", short)
}

func TestKeysValueMirrorsPlurality(t *testing.T) {
	a := NewNameKey("article", "a", nil)
	b := NewNameKey("article", "b", nil)

	assert.Nil(t, Keys{}.Value())
	assert.Same(t, a, Keys{a}.Value())
	assert.Equal(t, []*Key{a, b}, Keys{a, b}.Value())
	assert.Equal(t, []string{"article:n:a", "article:n:b"}, Keys{a, b}.Strings())
}

func TestNormalize(t *testing.T) {
	key := NewNameKey("article", "hello", nil)
	entity := &codecArticle{Base: NewBase(key)}

	tests := []struct {
		name    string
		in      any
		want    string
		wantErr bool
	}{
		{name: "key pointer", in: key, want: "article:n:hello"},
		{name: "key value", in: *key, want: "article:n:hello"},
		{name: "entity", in: entity, want: "article:n:hello"},
		{name: "canonical string", in: "article:n:hello", want: "article:n:hello"},
		{name: "zero padded id", in: "author:i:07", want: "author:i:7"},
		{name: "signed id", in: "author:i:+7", want: "author:i:7"},
		{name: "percent escaped space", in: "article:n:a%20b", want: "article:n:a+b"},
		{name: "plus escaped space", in: "article:n:a+b", want: "article:n:a+b"},
		{name: "non canonical parent", in: "author:i:007::article:n:x", want: "author:i:7::article:n:x"},
		{name: "nil", in: nil, wantErr: true},
		{name: "nil key", in: (*Key)(nil), wantErr: true},
		{name: "nil entity", in: (*codecArticle)(nil), wantErr: true},
		{name: "incomplete key", in: NewIncompleteKey("article", nil), wantErr: true},
		{name: "kindless key", in: &Key{Name: "x"}, wantErr: true},
		{name: "garbage string", in: "not a key", wantErr: true},
		{name: "integer", in: 42, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidKeyInput), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeAllFlattensSlices(t *testing.T) {
	a := NewNameKey("article", "a", nil)
	b := NewNameKey("article", "b", nil)
	c := NewIDKey("user", 3, nil)

	got, err := NormalizeAll([]*Key{a, b}, "user:i:3", []any{c}, Keys{a})
	require.NoError(t, err)
	assert.Equal(t, []string{"article:n:a", "article:n:b", "user:i:3", "user:i:3", "article:n:a"}, got)

	_, err = NormalizeAll(a, 12)
	assert.True(t, errors.Is(err, ErrInvalidKeyInput))
}
