package testsupport

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-layered-cache/cache"
	"github.com/puzpuzpuz/xsync/v3"
)

// Store operations accepted by FailNext and Calls.
const (
	OpGet    = "get"
	OpPut    = "put"
	OpDelete = "delete"
	OpQuery  = "query"
	OpCount  = "count"
)

// Call records one invocation of a MemoryStore method.
type Call struct {
	Op   string
	Keys []string
	TTL  time.Duration
}

// MemoryStore is an in-memory cache.BackingStore for tests. It records every
// call, lets tests queue failures per operation and, when built with
// NewMemoryBacking, completes incomplete keys the way a backing store does.
type MemoryStore struct {
	name      string
	assignIDs bool

	data *xsync.MapOf[string, cache.Entity]
	ttls *xsync.MapOf[string, time.Duration]

	mu       sync.Mutex
	calls    []Call
	failures map[string][]error
	always   map[string]error
	nextID   atomic.Int64
}

var _ cache.BackingStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store named name.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:     name,
		data:     xsync.NewMapOf[string, cache.Entity](),
		ttls:     xsync.NewMapOf[string, time.Duration](),
		failures: map[string][]error{},
		always:   map[string]error{},
	}
}

// NewMemoryBacking returns a store that assigns ids to incomplete keys.
func NewMemoryBacking(name string) *MemoryStore {
	s := NewMemoryStore(name)
	s.assignIDs = true
	return s
}

// FailNext queues errors returned by the next calls of op, one per call.
func (s *MemoryStore) FailNext(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], errs...)
}

// FailAlways makes every call of op fail with err until Reset.
func (s *MemoryStore) FailAlways(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.always[op] = err
}

// Reset clears recorded calls and queued failures; stored data is kept.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.failures = map[string][]error{}
	s.always = map[string]error{}
}

func (s *MemoryStore) record(op string, keys []string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Op: op, Keys: append([]string(nil), keys...), TTL: ttl})

	if queued := s.failures[op]; len(queued) > 0 {
		s.failures[op] = queued[1:]
		return queued[0]
	}
	return s.always[op]
}

// Calls returns the recorded calls of op, or every call when op is empty.
func (s *MemoryStore) Calls(op string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Call
	for _, c := range s.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Seed stores entities without recording a call.
func (s *MemoryStore) Seed(entities ...cache.Entity) {
	for _, e := range entities {
		s.data.Store(e.Key().Encode(), e)
	}
}

// Has reports whether key is stored.
func (s *MemoryStore) Has(key string) bool {
	_, ok := s.data.Load(key)
	return ok
}

// Entity returns the stored entity for key.
func (s *MemoryStore) Entity(key string) cache.Entity {
	e, _ := s.data.Load(key)
	return e
}

// TTL returns the ttl of the last write of key.
func (s *MemoryStore) TTL(key string) time.Duration {
	ttl, _ := s.ttls.Load(key)
	return ttl
}

// Len returns the number of stored entities.
func (s *MemoryStore) Len() int {
	return s.data.Size()
}

// Name implements cache.Store.
func (s *MemoryStore) Name() string {
	return s.name
}

// GetMany implements cache.Store.
func (s *MemoryStore) GetMany(ctx context.Context, keys []string) (map[string]cache.Entity, error) {
	if err := s.record(OpGet, keys, 0); err != nil {
		return nil, err
	}

	out := make(map[string]cache.Entity, len(keys))
	for _, k := range keys {
		e, _ := s.data.Load(k)
		out[k] = e
	}
	return out, nil
}

// PutMany implements cache.Store.
func (s *MemoryStore) PutMany(ctx context.Context, entities []cache.Entity, ttl time.Duration) ([]string, error) {
	keys := make([]string, 0, len(entities))
	for _, e := range entities {
		if s.assignIDs && !cache.IsNil(e) && e.Key() != nil && e.Key().Incomplete() {
			keys = append(keys, "")
			continue
		}
		k, err := cache.Normalize(e)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	if err := s.record(OpPut, keys, ttl); err != nil {
		return nil, err
	}

	for i, e := range entities {
		if keys[i] == "" {
			e.SetKey(cache.NewIDKey(e.Key().Kind, s.nextID.Add(1), e.Key().Parent))
			keys[i] = e.Key().Encode()
		}
		s.data.Store(keys[i], e)
		s.ttls.Store(keys[i], ttl)
	}
	return keys, nil
}

// DeleteMany implements cache.Store.
func (s *MemoryStore) DeleteMany(ctx context.Context, keys []string) error {
	if err := s.record(OpDelete, keys, 0); err != nil {
		return err
	}
	for _, k := range keys {
		s.data.Delete(k)
		s.ttls.Delete(k)
	}
	return nil
}

// Query implements cache.BackingStore in canonical key order.
func (s *MemoryStore) Query(ctx context.Context, q cache.Query, limit, offset int) (*cache.QueryResult, error) {
	if err := s.record(OpQuery, nil, 0); err != nil {
		return nil, err
	}

	matched := s.match(q)
	offset = max(offset, 0)
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	result := &cache.QueryResult{Entities: matched}
	if n := len(matched); n > 0 {
		result.Cursor = matched[n-1].Key().Encode()
	}
	return result, nil
}

// Count implements cache.BackingStore.
func (s *MemoryStore) Count(ctx context.Context, q cache.Query, limit int) (int, error) {
	if err := s.record(OpCount, nil, 0); err != nil {
		return 0, err
	}
	n := len(s.match(q))
	if limit > 0 && n > limit {
		n = limit
	}
	return n, nil
}

func (s *MemoryStore) match(q cache.Query) []cache.Entity {
	var keys []string
	s.data.Range(func(k string, e cache.Entity) bool {
		if e.Key().Kind != q.Kind {
			return true
		}
		if q.Ancestor != nil && !e.Key().Parent.Equal(q.Ancestor) {
			return true
		}
		keys = append(keys, k)
		return true
	})

	sort.Strings(keys)
	if q.Descending {
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	}

	var out []cache.Entity
	for _, k := range keys {
		if q.Descending {
			if q.StartCursor != "" && k >= q.StartCursor {
				continue
			}
			if q.EndCursor != "" && k < q.EndCursor {
				continue
			}
		} else {
			if q.StartCursor != "" && k <= q.StartCursor {
				continue
			}
			if q.EndCursor != "" && k > q.EndCursor {
				continue
			}
		}

		e, ok := s.data.Load(k)
		if !ok {
			continue
		}
		if q.Filter != nil && !q.Filter(e) {
			continue
		}
		out = append(out, e)
	}
	return out
}
