package modelcache

import (
	"context"
	"reflect"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/goliatone/go-layered-cache/layered"
	"github.com/rs/zerolog"
)

// DefaultSetTTL expires cached reference sets when no TTL is given.
const DefaultSetTTL = 300 * time.Second

// Relation loads the entities related to owner from the backing store.
type Relation func(ctx context.Context, owner *cache.Key) ([]cache.Entity, error)

type config struct {
	kind    string
	getOpts layered.GetOptions
	putOpts layered.PutOptions
	setTTL  time.Duration
	logger  zerolog.Logger
}

// Option configures a Repository.
type Option func(*config)

// WithKind overrides the kind derived from the entity type name.
func WithKind(kind string) Option {
	return func(c *config) {
		c.kind = kind
	}
}

// WithGetOptions sets the options used by every read.
func WithGetOptions(opts layered.GetOptions) Option {
	return func(c *config) {
		c.getOpts = opts
	}
}

// WithPutOptions sets the options used by every write.
func WithPutOptions(opts layered.PutOptions) Option {
	return func(c *config) {
		c.putOpts = opts
	}
}

// WithSetTTL sets the expiration of reference sets built by CachedSet.
func WithSetTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.setTTL = ttl
	}
}

// WithLogger sets the repository logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Repository is a typed facade over the coordinator for entities of one kind.
type Repository[T cache.Entity] struct {
	coord  *layered.Coordinator
	refs   *layered.ReferenceIndex
	kind   string
	cfg    config
	logger zerolog.Logger
}

// New returns a repository for T. The kind defaults to the snake case name of
// T's element type, so *BlogPost maps to "blog_post".
func New[T cache.Entity](coord *layered.Coordinator, opts ...Option) *Repository[T] {
	cfg := config{
		getOpts: layered.DefaultGetOptions(),
		putOpts: layered.DefaultPutOptions(),
		setTTL:  DefaultSetTTL,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.kind == "" {
		cfg.kind = KindFor[T]()
	}
	// Typed results always come back as a list.
	cfg.getOpts.Shape = cache.ShapeList

	return &Repository[T]{
		coord:  coord,
		refs:   layered.NewReferenceIndex(coord),
		kind:   cfg.kind,
		cfg:    cfg,
		logger: cfg.logger.With().Str("component", "modelcache").Str("kind", cfg.kind).Logger(),
	}
}

// KindFor returns the kind derived from the name of T.
func KindFor[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return toSnake(t.Name())
}

// Kind returns the entity kind handled by the repository.
func (r *Repository[T]) Kind() string {
	return r.kind
}

// NameKey builds a key of the repository kind.
func (r *Repository[T]) NameKey(name string, parent *cache.Key) *cache.Key {
	return cache.NewNameKey(r.kind, name, parent)
}

// IDKey builds a key of the repository kind.
func (r *Repository[T]) IDKey(id int64, parent *cache.Key) *cache.Key {
	return cache.NewIDKey(r.kind, id, parent)
}

func (r *Repository[T]) getOptions(ctx context.Context) layered.GetOptions {
	opts := r.cfg.getOpts
	opts.Storage = storageFrom(ctx, opts.Storage)
	return opts
}

func (r *Repository[T]) putOptions(ctx context.Context) layered.PutOptions {
	opts := r.cfg.putOpts
	opts.Storage = storageFrom(ctx, opts.Storage)
	return opts
}

// Get returns the entity stored under key. The boolean is false when no tier
// has it.
func (r *Repository[T]) Get(ctx context.Context, key *cache.Key) (T, bool, error) {
	var zero T
	if err := r.checkKind(key); err != nil {
		return zero, false, err
	}
	found, err := r.getMany(ctx, []*cache.Key{key})
	if err != nil || found[0] == nil {
		return zero, false, err
	}
	return *found[0], true, nil
}

// GetMany returns the entities stored under keys in key order. Keys nobody
// has are left out.
func (r *Repository[T]) GetMany(ctx context.Context, keys ...*cache.Key) ([]T, error) {
	for _, k := range keys {
		if err := r.checkKind(k); err != nil {
			return nil, err
		}
	}
	found, err := r.getMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	return collect(found), nil
}

// GetByName looks entities up by name under parent.
func (r *Repository[T]) GetByName(ctx context.Context, parent *cache.Key, names ...string) ([]T, error) {
	keys := make([]*cache.Key, len(names))
	for i, name := range names {
		keys[i] = r.NameKey(name, parent)
	}
	return r.GetMany(ctx, keys...)
}

// GetByID looks entities up by id under parent.
func (r *Repository[T]) GetByID(ctx context.Context, parent *cache.Key, ids ...int64) ([]T, error) {
	keys := make([]*cache.Key, len(ids))
	for i, id := range ids {
		keys[i] = r.IDKey(id, parent)
	}
	return r.GetMany(ctx, keys...)
}

// getMany returns one slot per key, nil where nothing was found.
func (r *Repository[T]) getMany(ctx context.Context, keys []*cache.Key) ([]*T, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	res, err := r.coord.Get(ctx, r.getOptions(ctx), keys)
	if err != nil {
		return nil, err
	}

	out := make([]*T, len(res.List))
	for i, e := range res.List {
		if e == nil {
			continue
		}
		typed, err := r.typed(e)
		if err != nil {
			return nil, err
		}
		out[i] = &typed
	}
	return out, nil
}

// GetOrInsert returns the entity named name under parent. On a miss build is
// called with the key and its result is written before being returned.
func (r *Repository[T]) GetOrInsert(ctx context.Context, name string, parent *cache.Key, build func(key *cache.Key) T) (T, error) {
	key := r.NameKey(name, parent)
	existing, ok, err := r.Get(ctx, key)
	if err != nil || ok {
		return existing, err
	}

	created := build(key)
	if cache.IsNil(created) {
		var zero T
		return zero, errors.Newf("modelcache: build returned nil for %s", key)
	}
	if created.Key().Incomplete() {
		created.SetKey(key)
	}
	if _, err := r.Put(ctx, created); err != nil {
		var zero T
		return zero, err
	}
	r.logger.Debug().Str("key", created.Key().Encode()).Msg("inserted on miss")
	return created, nil
}

// Put writes entities through the configured tiers and returns their keys.
func (r *Repository[T]) Put(ctx context.Context, entities ...T) (cache.Keys, error) {
	batch := make([]cache.Entity, 0, len(entities))
	for _, e := range entities {
		if cache.IsNil(e) {
			continue
		}
		if kind := cache.KindOf(e); kind != r.kind {
			return nil, errors.Wrapf(cache.ErrKindMismatch, "put %q into %q repository", kind, r.kind)
		}
		batch = append(batch, e)
	}
	return r.coord.Put(ctx, r.putOptions(ctx), batch...)
}

// Delete removes keys from every tier, or from the tiers attached to ctx
// with WithStorage.
func (r *Repository[T]) Delete(ctx context.Context, keys ...*cache.Key) error {
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		if err := r.checkKind(k); err != nil {
			return err
		}
		args = append(args, k)
	}
	return r.coord.Delete(ctx, storageFrom(ctx, cache.AllStorage), args...)
}

// CachedRef follows a reference of any kind through the coordinator. A nil
// ref resolves to nil.
func (r *Repository[T]) CachedRef(ctx context.Context, ref *cache.Key) (cache.Entity, error) {
	if ref == nil {
		return nil, nil
	}
	res, err := r.coord.Get(ctx, r.getOptions(ctx), ref)
	if err != nil {
		return nil, err
	}
	return res.Single(), nil
}

// CachedSet returns the entities related to owner by relation. Member keys
// come from the reference index when present; otherwise load runs and its
// result is indexed. Members deleted since the index was built are left out.
func (r *Repository[T]) CachedSet(ctx context.Context, owner *cache.Key, relation string, load Relation) ([]T, error) {
	members, hit, err := r.refs.Get(ctx, owner, relation)
	if err != nil {
		return nil, err
	}
	if hit {
		return r.GetMany(ctx, members...)
	}

	loaded, err := load(ctx, owner)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s of %s", relation, owner)
	}

	out := make([]T, 0, len(loaded))
	entities := make([]cache.Entity, 0, len(loaded))
	for _, e := range loaded {
		if cache.IsNil(e) {
			continue
		}
		typed, err := r.typed(e)
		if err != nil {
			return nil, err
		}
		out = append(out, typed)
		entities = append(entities, e)
	}

	if _, err := r.refs.Create(ctx, owner, relation, entities, r.cfg.setTTL); err != nil {
		r.logger.Warn().Err(err).
			Str("owner", owner.String()).
			Str("relation", relation).
			Msg("reference index create failed")
	}
	return out, nil
}

// AncestorRelation loads the entities of the repository kind whose parent is
// the owner, straight from the backing store.
func (r *Repository[T]) AncestorRelation() Relation {
	return func(ctx context.Context, owner *cache.Key) ([]cache.Entity, error) {
		backing := r.coord.Backing()
		if backing == nil {
			return nil, errors.New("modelcache: ancestor relation requires a backing store")
		}
		res, err := backing.Query(ctx, cache.Query{Kind: r.kind, Ancestor: owner}, 0, 0)
		if err != nil {
			return nil, err
		}
		return res.Entities, nil
	}
}

func (r *Repository[T]) checkKind(key *cache.Key) error {
	if key == nil {
		return errors.Wrap(cache.ErrInvalidKeyInput, "nil key")
	}
	if key.Kind != r.kind {
		return errors.Wrapf(cache.ErrKindMismatch, "key %s in %q repository", key, r.kind)
	}
	return nil
}

func (r *Repository[T]) typed(e cache.Entity) (T, error) {
	typed, ok := e.(T)
	if !ok || cache.KindOf(e) != r.kind {
		var zero T
		return zero, errors.Wrapf(cache.ErrKindMismatch, "%s is %T, not %q", e.Key(), e, r.kind)
	}
	return typed, nil
}

func collect[T any](found []*T) []T {
	out := make([]T, 0, len(found))
	for _, p := range found {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}
