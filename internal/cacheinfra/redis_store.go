package cacheinfra

import (
	"context"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/redis/go-redis/v9"
)

// RedisStore is the distributed tier. Values are EntityCodec bytes; every
// batch is one round trip (MGET, a pipeline of SET, or one DEL).
type RedisStore struct {
	client     redis.UniversalClient
	codec      *cache.EntityCodec
	prefix     string
	defaultTTL time.Duration
	timeout    time.Duration
}

var _ cache.Store = (*RedisStore)(nil)

// NewRedisClient builds a client from the distributed config.
func NewRedisClient(cfg DistributedConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisStore returns a distributed tier over client.
// The caller owns the client lifecycle.
func NewRedisStore(client redis.UniversalClient, codec *cache.EntityCodec, cfg DistributedConfig) *RedisStore {
	return &RedisStore{
		client:     client,
		codec:      codec,
		prefix:     cfg.Prefix,
		defaultTTL: cfg.DefaultTTL,
		timeout:    cfg.Timeout,
	}
}

// Name implements cache.Store.
func (s *RedisStore) Name() string {
	return "redis"
}

func (s *RedisStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, s.timeout)
}

func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

// GetMany implements cache.Store. Values that fail to decode read as misses.
func (s *RedisStore) GetMany(ctx context.Context, keys []string) (map[string]cache.Entity, error) {
	out := make(map[string]cache.Entity, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.prefixKey(k)
	}

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	values, err := s.client.MGet(qctx, prefixed...).Result()
	if err != nil {
		return nil, classifyRedisError(err, "mget")
	}

	for i, k := range keys {
		out[k] = nil
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		e, err := s.codec.Decode([]byte(raw))
		if err != nil {
			continue
		}
		out[k] = e
	}
	return out, nil
}

// PutMany implements cache.Store. A zero ttl falls back to the configured
// default; when that is zero too, entries do not expire.
func (s *RedisStore) PutMany(ctx context.Context, entities []cache.Entity, ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	keys := make([]string, 0, len(entities))
	values := make([][]byte, 0, len(entities))
	for _, e := range entities {
		k, err := cache.Normalize(e)
		if err != nil {
			return nil, err
		}
		data, err := s.codec.Encode(e)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
		values = append(values, data)
	}
	if len(keys) == 0 {
		return keys, nil
	}

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	pipe := s.client.Pipeline()
	for i, k := range keys {
		pipe.Set(qctx, s.prefixKey(k), values[i], ttl)
	}
	if _, err := pipe.Exec(qctx); err != nil {
		return nil, classifyRedisError(err, "set pipeline")
	}
	return keys, nil
}

// DeleteMany implements cache.Store.
func (s *RedisStore) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.prefixKey(k)
	}

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	if err := s.client.Del(qctx, prefixed...).Err(); err != nil {
		return classifyRedisError(err, "del")
	}
	return nil
}

// classifyRedisError marks deadline and network timeouts with ErrTierTimeout.
func classifyRedisError(err error, op string) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errors.Mark(errors.Wrapf(err, "redis %s", op), cache.ErrTierTimeout)
	}
	return errors.Wrapf(err, "redis %s", op)
}
