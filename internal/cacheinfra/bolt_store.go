package cacheinfra

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// ErrStoreClosed is returned by file backed stores after Close.
var ErrStoreClosed = errors.New("store closed")

// boltEntry is a codec encoded entity with optional expiration stored in bbolt.
type boltEntry struct {
	Value      []byte    `msgpack:"v"`
	Expiration time.Time `msgpack:"e,omitempty"`
}

func (e *boltEntry) isExpired(now time.Time) bool {
	return !e.Expiration.IsZero() && !now.Before(e.Expiration)
}

// BoltStore is a local tier variant that persists encoded entities in a
// bbolt file, for processes that want their local cache to survive restarts.
type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
	codec  *cache.EntityCodec
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

var _ cache.Store = (*BoltStore)(nil)

// OpenBoltStore opens (creating if needed) the bbolt file named in cfg.
func OpenBoltStore(cfg LocalConfig, codec *cache.EntityCodec) (*BoltStore, error) {
	db, err := bbolt.Open(cfg.BoltPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt file %s", cfg.BoltPath)
	}

	store, err := NewBoltStore(db, cfg.BoltBucket, codec)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewBoltStore wraps an open bbolt database, creating bucket if it doesn't exist.
func NewBoltStore(db *bbolt.DB, bucket string, codec *cache.EntityCodec) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists([]byte(bucket))
		return createErr
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create bucket %s", bucket)
	}

	return &BoltStore{
		db:     db,
		bucket: []byte(bucket),
		codec:  codec,
		now:    time.Now,
	}, nil
}

// Name implements cache.Store.
func (s *BoltStore) Name() string {
	return "bolt"
}

// GetMany implements cache.Store. Expired and undecodable entries read as
// misses; expired entries are left for the next write to overwrite.
func (s *BoltStore) GetMany(ctx context.Context, keys []string) (map[string]cache.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	out := make(map[string]cache.Entity, len(keys))
	now := s.now()
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		for _, k := range keys {
			out[k] = nil
			if b == nil {
				continue
			}

			data := b.Get([]byte(k))
			if data == nil {
				continue
			}

			var entry boltEntry
			if err := msgpack.Unmarshal(data, &entry); err != nil {
				continue
			}
			if entry.isExpired(now) {
				continue
			}

			e, err := s.codec.Decode(entry.Value)
			if err != nil {
				continue
			}
			out[k] = e
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "bolt get")
	}
	return out, nil
}

// PutMany implements cache.Store. The batch is written in one transaction.
// If ttl is <= 0, entries never expire.
func (s *BoltStore) PutMany(ctx context.Context, entities []cache.Entity, ttl time.Duration) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var expiration time.Time
	if ttl > 0 {
		expiration = s.now().Add(ttl)
	}

	keys := make([]string, 0, len(entities))
	values := make([][]byte, 0, len(entities))
	for _, e := range entities {
		k, err := cache.Normalize(e)
		if err != nil {
			return nil, err
		}
		encoded, err := s.codec.Encode(e)
		if err != nil {
			return nil, err
		}
		data, err := msgpack.Marshal(boltEntry{Value: encoded, Expiration: expiration})
		if err != nil {
			return nil, errors.Wrapf(err, "encode bolt entry %s", k)
		}
		keys = append(keys, k)
		values = append(values, data)
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return errors.Newf("bucket %s not found", s.bucket)
		}
		for i, k := range keys {
			if err := b.Put([]byte(k), values[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "bolt put")
	}
	return keys, nil
}

// DeleteMany implements cache.Store.
func (s *BoltStore) DeleteMany(ctx context.Context, keys []string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return errors.Wrapf(err, "bolt delete %s", k)
			}
		}
		return nil
	})
}

// Close closes the store and the underlying database. Calling Close more
// than once is safe.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
