package di

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/goliatone/go-layered-cache/internal/cacheinfra"
	"github.com/goliatone/go-layered-cache/layered"
	"github.com/goliatone/go-layered-cache/modelcache"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config is the container configuration.
type Config = cacheinfra.Config

// Option customizes how a Container builds its components.
type Option func(*options)

type options struct {
	logger     zerolog.Logger
	registerer prometheus.Registerer
	codec      *cache.EntityCodec
	redis      redis.UniversalClient
	backing    cache.BackingStore
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegisterer enables coordinator metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithCodec uses codec instead of a fresh one. Kinds stored in byte oriented
// tiers must be registered on it.
func WithCodec(codec *cache.EntityCodec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// WithRedisClient uses client for the distributed tier instead of dialing
// the configured address. The container does not close it.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		o.redis = client
	}
}

// WithBackingStore replaces the configured SQL backing store, for example
// with a cacheinfra.RepositoryStore over an existing repository. It is
// still wrapped in the batch writer.
func WithBackingStore(store cache.BackingStore) Option {
	return func(o *options) {
		o.backing = store
	}
}

// Container wires configuration to tier stores, the deferred write
// scheduler, the coordinator and the query and reference caches. Components
// are built once in NewContainer and shared.
type Container struct {
	config Config
	codec  *cache.EntityCodec
	logger zerolog.Logger

	local       cache.Store
	distributed cache.Store
	backing     cache.BackingStore
	writer      *cacheinfra.BatchWriter
	scheduler   cache.Scheduler

	coordinator *layered.Coordinator
	queries     *layered.QueryCache
	references  *layered.ReferenceIndex
	metrics     *layered.Metrics

	closeOnce sync.Once
	closers   []func() error
}

// NewContainer validates config and builds every component. Memory
// scheduler workers run until Close.
func NewContainer(config Config, opts ...Option) (*Container, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.codec == nil {
		o.codec = cache.NewEntityCodec()
	}
	layered.RegisterKinds(o.codec)

	c := &Container{
		config: config,
		codec:  o.codec,
		logger: o.logger,
	}

	if err := c.build(o); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.logger.Info().
		Str("local", config.Local.Backend).
		Bool("distributed", config.Distributed.Enabled).
		Str("backing", c.backing.Name()).
		Str("queue", config.Queue.Backend).
		Msg("layered cache ready")
	return c, nil
}

// NewContainerWithDefaults creates a container from cacheinfra.DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(cacheinfra.DefaultConfig(), opts...)
}

func (c *Container) build(o options) error {
	if err := c.buildLocal(); err != nil {
		return err
	}
	c.buildDistributed(o)
	if err := c.buildBacking(o); err != nil {
		return err
	}
	if err := c.buildWriter(); err != nil {
		return err
	}

	metrics, err := layered.NewMetrics(o.registerer)
	if err != nil {
		return errors.Wrap(err, "register metrics")
	}
	c.metrics = metrics

	tiers := layered.Tiers{Local: c.local, Distributed: c.distributed, Backing: c.writer}
	c.coordinator = layered.New(tiers, layered.WithLogger(c.logger), layered.WithMetrics(metrics))
	c.queries = layered.NewQueryCache(c.coordinator, c.config.Query.TTL)
	c.references = layered.NewReferenceIndex(c.coordinator)
	return nil
}

func (c *Container) buildLocal() error {
	switch c.config.Local.Backend {
	case cacheinfra.LocalBackendBolt:
		store, err := cacheinfra.OpenBoltStore(c.config.Local, c.codec)
		if err != nil {
			return err
		}
		c.local = store
		c.closers = append(c.closers, store.Close)
	default:
		store, err := cacheinfra.NewLocalStore(c.config.Local)
		if err != nil {
			return err
		}
		c.local = store
	}
	return nil
}

func (c *Container) buildDistributed(o options) {
	if !c.config.Distributed.Enabled {
		return
	}
	client := o.redis
	if client == nil {
		owned := cacheinfra.NewRedisClient(c.config.Distributed)
		c.closers = append(c.closers, owned.Close)
		client = owned
	}
	c.distributed = cacheinfra.NewRedisStore(client, c.codec, c.config.Distributed)
}

func (c *Container) buildBacking(o options) error {
	if o.backing != nil {
		c.backing = o.backing
		return nil
	}

	db, err := cacheinfra.OpenBunDB(c.config.Backing)
	if err != nil {
		return err
	}
	c.closers = append(c.closers, db.Close)

	store := cacheinfra.NewBunStore(db, c.codec)
	if c.config.Backing.AutoMigrate {
		if err := store.Migrate(context.Background()); err != nil {
			return errors.Wrap(err, "migrate backing store")
		}
	}
	c.backing = store
	return nil
}

func (c *Container) buildWriter() error {
	queue := c.config.Queue
	switch queue.Backend {
	case cacheinfra.QueueBackendAsynq:
		sched := cacheinfra.NewAsynqScheduler(queue, c.codec, c.logger)
		c.scheduler = sched
		c.writer = cacheinfra.NewBatchWriter(c.backing, sched, c.config.Backing.BatchSize, queue, c.logger)
	default:
		sched := cacheinfra.NewMemoryScheduler(queue, c.logger)
		c.scheduler = sched
		c.writer = cacheinfra.NewBatchWriter(c.backing, sched, c.config.Backing.BatchSize, queue, c.logger)
		sched.Handle(c.writer.Retry)
		if err := sched.Start(context.Background()); err != nil {
			return errors.Wrap(err, "start scheduler")
		}
	}
	// The scheduler is closed before stores so pending writes stop first.
	c.closers = append([]func() error{c.scheduler.Close}, c.closers...)
	return nil
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() Config {
	return c.config
}

// Codec returns the entity codec shared by the byte oriented tiers.
// Application kinds must be registered on it before they are stored.
func (c *Container) Codec() *cache.EntityCodec {
	return c.codec
}

// Coordinator returns the layered coordinator.
func (c *Container) Coordinator() *layered.Coordinator {
	return c.coordinator
}

// QueryCache returns the query result cache.
func (c *Container) QueryCache() *layered.QueryCache {
	return c.queries
}

// ReferenceIndex returns the reference index over the distributed tier.
func (c *Container) ReferenceIndex() *layered.ReferenceIndex {
	return c.references
}

// Scheduler returns the deferred write scheduler.
func (c *Container) Scheduler() cache.Scheduler {
	return c.scheduler
}

// Writer returns the batch writer in front of the backing store.
func (c *Container) Writer() *cacheinfra.BatchWriter {
	return c.writer
}

// GetOptions returns the coordinator defaults with the configured local TTL.
func (c *Container) GetOptions() layered.GetOptions {
	opts := layered.DefaultGetOptions()
	opts.LocalTTL = c.config.Local.DefaultTTL
	opts.DistributedTTL = c.config.Distributed.DefaultTTL
	return opts
}

// PutOptions returns the coordinator defaults with the configured TTLs.
func (c *Container) PutOptions() layered.PutOptions {
	opts := layered.DefaultPutOptions()
	opts.LocalTTL = c.config.Local.DefaultTTL
	opts.DistributedTTL = c.config.Distributed.DefaultTTL
	return opts
}

// AsynqWorker returns the server and mux that drain the asynq queue into the
// batch writer. It fails unless the queue backend is asynq.
func (c *Container) AsynqWorker() (*asynq.Server, *asynq.ServeMux, error) {
	if c.config.Queue.Backend != cacheinfra.QueueBackendAsynq {
		return nil, nil, errors.Newf("queue backend is %q, not asynq", c.config.Queue.Backend)
	}
	srv, mux := cacheinfra.NewAsynqWorker(c.config.Queue, c.writer.Retry, c.codec)
	return srv, mux, nil
}

// Close stops the scheduler and releases the stores the container opened.
func (c *Container) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		for _, closeFn := range c.closers {
			if err := closeFn(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// NewRepository creates a typed repository over the container's coordinator
// using the configured TTLs.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewRepository[*Article](container)
func NewRepository[T cache.Entity](c *Container, opts ...modelcache.Option) *modelcache.Repository[T] {
	base := []modelcache.Option{
		modelcache.WithGetOptions(c.GetOptions()),
		modelcache.WithPutOptions(c.PutOptions()),
		modelcache.WithLogger(c.logger),
	}
	return modelcache.New[T](c.coordinator, append(base, opts...)...)
}
