package cache

import (
	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/vmihailenco/msgpack/v5"
)

// Factory returns a new, empty entity of one kind, ready to be decoded into.
type Factory func() Entity

// envelope is the transport form of an entity: its canonical key plus the
// msgpack encoded body. Entities still waiting for an identifier carry their
// kind and parent instead of a key.
type envelope struct {
	Key    string `msgpack:"k,omitempty"`
	Kind   string `msgpack:"t,omitempty"`
	Parent string `msgpack:"p,omitempty"`
	Body   []byte `msgpack:"d"`
}

// EntityCodec converts entities to and from the binary form stored by tiers
// that need a wire encoding. Decoding requires the entity kind to be registered.
type EntityCodec struct {
	kinds *xsync.MapOf[string, Factory]
}

// NewEntityCodec returns a codec with no registered kinds.
func NewEntityCodec() *EntityCodec {
	return &EntityCodec{kinds: xsync.NewMapOf[string, Factory]()}
}

// Register associates a kind with the factory used to decode it.
func (c *EntityCodec) Register(kind string, factory Factory) {
	c.kinds.Store(kind, factory)
}

// RegisterKind registers a kind whose entities are *T values.
func RegisterKind[T any, PT interface {
	*T
	Entity
}](c *EntityCodec, kind string) {
	c.Register(kind, func() Entity { return PT(new(T)) })
}

// Registered reports whether kind can be decoded.
func (c *EntityCodec) Registered(kind string) bool {
	_, ok := c.kinds.Load(kind)
	return ok
}

// New returns a fresh entity of kind.
func (c *EntityCodec) New(kind string) (Entity, error) {
	factory, ok := c.kinds.Load(kind)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "%q", kind)
	}
	return factory(), nil
}

// Encode serializes an entity. Entities without identifier are accepted as
// long as their key names a kind.
func (c *EntityCodec) Encode(e Entity) ([]byte, error) {
	if IsNil(e) || e.Key() == nil || e.Key().Kind == "" {
		return nil, errors.Wrap(ErrInvalidKeyInput, "entity without kind")
	}

	body, err := msgpack.Marshal(e)
	if err != nil {
		return nil, errors.Wrapf(err, "encode entity %s", e.Key())
	}

	env := envelope{Body: body}
	if key := e.Key(); key.Incomplete() {
		env.Kind = key.Kind
		if key.Parent != nil {
			env.Parent = key.Parent.Encode()
		}
	} else {
		env.Key = key.Encode()
	}

	data, err := msgpack.Marshal(env)
	if err != nil {
		return nil, errors.Wrapf(err, "encode envelope %s", e.Key())
	}
	return data, nil
}

// Decode rebuilds an entity from Encode output.
func (c *EntityCodec) Decode(data []byte) (Entity, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}

	key, err := env.key()
	if err != nil {
		return nil, err
	}

	e, err := c.New(key.Kind)
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(env.Body, e); err != nil {
		return nil, errors.Wrapf(err, "decode entity %s", key)
	}
	e.SetKey(key)
	return e, nil
}

func (env envelope) key() (*Key, error) {
	if env.Key != "" {
		return DecodeKey(env.Key)
	}
	if env.Kind == "" {
		return nil, errors.Wrap(ErrInvalidKeyInput, "envelope without key or kind")
	}

	var parent *Key
	if env.Parent != "" {
		p, err := DecodeKey(env.Parent)
		if err != nil {
			return nil, err
		}
		parent = p
	}
	return NewIncompleteKey(env.Kind, parent), nil
}

// EncodeMany encodes a batch into a single payload.
func (c *EntityCodec) EncodeMany(entities []Entity) ([]byte, error) {
	items := make([][]byte, 0, len(entities))
	for _, e := range entities {
		data, err := c.Encode(e)
		if err != nil {
			return nil, err
		}
		items = append(items, data)
	}
	return msgpack.Marshal(items)
}

// DecodeMany reverses EncodeMany.
func (c *EntityCodec) DecodeMany(payload []byte) ([]Entity, error) {
	var items [][]byte
	if err := msgpack.Unmarshal(payload, &items); err != nil {
		return nil, errors.Wrap(err, "decode batch")
	}

	out := make([]Entity, 0, len(items))
	for _, item := range items {
		e, err := c.Decode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
