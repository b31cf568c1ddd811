package cacheinfra

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Local tier backends.
const (
	LocalBackendMemory = "memory"
	LocalBackendBolt   = "bolt"
)

// Backing store drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Scheduler backends.
const (
	QueueBackendMemory = "memory"
	QueueBackendAsynq  = "asynq"
)

// Config holds the configuration of every tier plus the deferred write queue.
// Sections map to YAML keys and to LAYERCACHE_<SECTION>_<FIELD> environment
// variables.
type Config struct {
	Local       LocalConfig       `yaml:"local" envPrefix:"LOCAL_"`
	Distributed DistributedConfig `yaml:"distributed" envPrefix:"DISTRIBUTED_"`
	Backing     BackingConfig     `yaml:"backing" envPrefix:"BACKING_"`
	Queue       QueueConfig       `yaml:"queue" envPrefix:"QUEUE_"`
	Query       QueryConfig       `yaml:"query" envPrefix:"QUERY_"`
}

// LocalConfig configures the in-process tier.
type LocalConfig struct {
	// Backend selects the sturdyc memory store or the bbolt file store.
	Backend string `yaml:"backend" env:"BACKEND"`

	// Capacity defines the maximum number of entries the memory store holds.
	Capacity int `yaml:"capacity" env:"CAPACITY"`

	// NumShards determines the number of cache shards for concurrent access.
	// Higher values improve concurrency but increase memory overhead.
	NumShards int `yaml:"num_shards" env:"NUM_SHARDS"`

	// Retention bounds the lifetime of every memory entry, including entries
	// written without a TTL.
	Retention time.Duration `yaml:"retention" env:"RETENTION"`

	// EvictionPercentage specifies what percentage of entries to evict
	// when the store reaches its capacity. Must be between 1-100.
	EvictionPercentage int `yaml:"eviction_percentage" env:"EVICTION_PERCENTAGE"`

	// EvictionInterval sets how often expired entries are swept.
	// Zero value uses the sturdyc default.
	EvictionInterval time.Duration `yaml:"eviction_interval" env:"EVICTION_INTERVAL"`

	// DefaultTTL is applied by the coordinator when a call does not set one.
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`

	BoltPath   string `yaml:"bolt_path" env:"BOLT_PATH"`
	BoltBucket string `yaml:"bolt_bucket" env:"BOLT_BUCKET"`
}

// DistributedConfig configures the redis tier.
type DistributedConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`

	// DefaultTTL is used for writes that carry no TTL. Zero means no expiry.
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`

	// Timeout bounds every redis round trip.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// BackingConfig configures the durable store.
type BackingConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`

	// BatchSize is the number of entities written per backing round trip.
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`

	// AutoMigrate creates the tables on startup.
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// QueueConfig configures deferred backing writes.
type QueueConfig struct {
	Backend   string `yaml:"backend" env:"BACKEND"`
	Workers   int    `yaml:"workers" env:"WORKERS"`
	Size      int    `yaml:"size" env:"SIZE"`
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`
	Name      string `yaml:"name" env:"NAME"`

	// MaxAttempts bounds the deferred retries of one batch, after timeouts
	// and quota failures alike.
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`

	// TimeoutCountdown delays the retry of entities left unwritten by a timeout.
	TimeoutCountdown time.Duration `yaml:"timeout_countdown" env:"TIMEOUT_COUNTDOWN"`

	// QuotaBaseDelay is the first backoff after a quota failure; it doubles per attempt.
	QuotaBaseDelay time.Duration `yaml:"quota_base_delay" env:"QUOTA_BASE_DELAY"`
}

// QueryConfig configures the query result cache.
type QueryConfig struct {
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// DefaultConfig returns a Config with sensible defaults for most use cases:
// an in-memory local tier, no distributed tier and an in-memory sqlite
// backing store.
func DefaultConfig() Config {
	return Config{
		Local: LocalConfig{
			Backend:            LocalBackendMemory,
			Capacity:           10000,
			NumShards:          256,
			Retention:          time.Hour,
			EvictionPercentage: 10,
			DefaultTTL:         300 * time.Second,
			BoltBucket:         "entities",
		},
		Distributed: DistributedConfig{
			Addr:    "localhost:6379",
			Prefix:  "layercache:",
			Timeout: 2 * time.Second,
		},
		Backing: BackingConfig{
			Driver:      DriverSQLite,
			DSN:         "file::memory:?cache=shared",
			BatchSize:   50,
			AutoMigrate: true,
		},
		Queue: QueueConfig{
			Backend:          QueueBackendMemory,
			Workers:          2,
			Size:             256,
			RedisAddr:        "localhost:6379",
			Name:             "layercache",
			MaxAttempts:      8,
			TimeoutCountdown: 10 * time.Second,
			QuotaBaseDelay:   30 * time.Second,
		},
		Query: QueryConfig{
			TTL: 300 * time.Second,
		},
	}
}

// Validate checks every section and returns the first problem found as a
// *ConfigError.
func (c Config) Validate() error {
	sections := []struct {
		name string
		err  error
	}{
		{"Local", c.Local.validate()},
		{"Distributed", c.Distributed.validate()},
		{"Backing", c.Backing.validate()},
		{"Queue", c.Queue.validate()},
		{"Query", validation.ValidateStruct(&c.Query,
			validation.Field(&c.Query.TTL, validation.By(nonNegative)),
		)},
	}

	for _, s := range sections {
		if s.err != nil {
			return toConfigError(s.name, s.err)
		}
	}
	return nil
}

func (c LocalConfig) validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(LocalBackendMemory, LocalBackendBolt)),
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.Retention, validation.Required, validation.By(nonNegative)),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EvictionInterval, validation.By(nonNegative)),
		validation.Field(&c.DefaultTTL, validation.By(nonNegative)),
		validation.Field(&c.BoltPath, validation.When(c.Backend == LocalBackendBolt, validation.Required)),
		validation.Field(&c.BoltBucket, validation.When(c.Backend == LocalBackendBolt, validation.Required)),
	)
}

func (c DistributedConfig) validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.DB, validation.Min(0)),
		validation.Field(&c.DefaultTTL, validation.By(nonNegative)),
		validation.Field(&c.Timeout, validation.By(nonNegative)),
	)
}

func (c BackingConfig) validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
	)
}

func (c QueueConfig) validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(QueueBackendMemory, QueueBackendAsynq)),
		validation.Field(&c.Workers, validation.When(c.Backend == QueueBackendMemory, validation.Required, validation.Min(1))),
		validation.Field(&c.Size, validation.When(c.Backend == QueueBackendMemory, validation.Required, validation.Min(1))),
		validation.Field(&c.RedisAddr, validation.When(c.Backend == QueueBackendAsynq, validation.Required)),
		validation.Field(&c.Name, validation.When(c.Backend == QueueBackendAsynq, validation.Required)),
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.TimeoutCountdown, validation.By(nonNegative)),
		validation.Field(&c.QuotaBaseDelay, validation.By(nonNegative)),
	)
}

func nonNegative(value any) error {
	if d, ok := value.(time.Duration); ok && d < 0 {
		return errors.New("must be non-negative")
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// toConfigError flattens ozzo validation errors into the first failing
// field, in name order so the reported field is deterministic.
func toConfigError(section string, err error) error {
	var verrs validation.Errors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ConfigError{Field: section, Message: err.Error()}
	}

	fields := make([]string, 0, len(verrs))
	for field := range verrs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	first := fields[0]
	return &ConfigError{Field: section + "." + first, Message: verrs[first].Error()}
}
