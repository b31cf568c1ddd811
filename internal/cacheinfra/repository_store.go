package cacheinfra

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RecordMapper converts between entities of one kind and the records of a
// go-repository-bun model.
type RecordMapper[T any] struct {
	// Kind is the entity kind the repository stores.
	Kind string

	// KeyColumn is the column holding the canonical key. It should be the
	// model's primary key so UpsertMany replaces existing rows.
	KeyColumn string

	ToRecord   func(cache.Entity) (T, error)
	FromRecord func(T) (cache.Entity, error)
}

// RepositoryStore adapts an existing go-repository-bun repository as the
// backing tier for a single kind. Entities without an identifier are given a
// random uuid name, since repositories have no id sequence to draw from.
type RepositoryStore[T any] struct {
	repo   repository.Repository[T]
	mapper RecordMapper[T]
}

var _ cache.BackingStore = (*RepositoryStore[any])(nil)

// NewRepositoryStore wraps repo.
func NewRepositoryStore[T any](repo repository.Repository[T], mapper RecordMapper[T]) (*RepositoryStore[T], error) {
	if repo == nil {
		return nil, &ConfigError{Field: "repository", Message: "cannot be nil"}
	}
	if mapper.Kind == "" || mapper.KeyColumn == "" {
		return nil, &ConfigError{Field: "mapper", Message: "kind and key column are required"}
	}
	if mapper.ToRecord == nil || mapper.FromRecord == nil {
		return nil, &ConfigError{Field: "mapper", Message: "record conversions are required"}
	}
	return &RepositoryStore[T]{repo: repo, mapper: mapper}, nil
}

// Name implements cache.Store.
func (s *RepositoryStore[T]) Name() string {
	return "repository:" + s.mapper.Kind
}

func (s *RepositoryStore[T]) keyIn(keys []string) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("? IN (?)", bun.Ident(s.mapper.KeyColumn), bun.In(keys))
	}
}

// GetMany implements cache.Store.
func (s *RepositoryStore[T]) GetMany(ctx context.Context, keys []string) (map[string]cache.Entity, error) {
	out := make(map[string]cache.Entity, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	records, _, err := s.repo.List(ctx, s.keyIn(keys))
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", s.mapper.Kind)
	}

	for _, k := range keys {
		out[k] = nil
	}
	for _, record := range records {
		e, err := s.mapper.FromRecord(record)
		if err != nil {
			return nil, errors.Wrapf(err, "map %s record", s.mapper.Kind)
		}
		k, err := cache.Normalize(e)
		if err != nil {
			return nil, err
		}
		if _, requested := out[k]; requested {
			out[k] = e
		}
	}
	return out, nil
}

// PutMany implements cache.Store.
func (s *RepositoryStore[T]) PutMany(ctx context.Context, entities []cache.Entity, _ time.Duration) ([]string, error) {
	keys := make([]string, 0, len(entities))
	records := make([]T, 0, len(entities))
	assigned := make(map[int]*cache.Key)

	for i, e := range entities {
		if cache.KindOf(e) != s.mapper.Kind {
			return nil, errors.Wrapf(cache.ErrKindMismatch, "%s store cannot hold %q", s.mapper.Kind, cache.KindOf(e))
		}

		if e.Key().Incomplete() {
			assigned[i] = cache.NewNameKey(s.mapper.Kind, uuid.NewString(), e.Key().Parent)
		}

		record, err := s.recordFor(e, assigned[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if _, err := s.repo.UpsertMany(ctx, records); err != nil {
		return nil, errors.Wrapf(err, "upsert %s", s.mapper.Kind)
	}

	for i, e := range entities {
		if key, ok := assigned[i]; ok {
			e.SetKey(key)
		}
		keys = append(keys, e.Key().Encode())
	}
	return keys, nil
}

// recordFor maps e using key when one was assigned, leaving e untouched.
func (s *RepositoryStore[T]) recordFor(e cache.Entity, key *cache.Key) (T, error) {
	if key == nil {
		return s.mapper.ToRecord(e)
	}

	original := e.Key()
	e.SetKey(key)
	defer e.SetKey(original)
	return s.mapper.ToRecord(e)
}

// DeleteMany implements cache.Store.
func (s *RepositoryStore[T]) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	err := s.repo.DeleteMany(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("? IN (?)", bun.Ident(s.mapper.KeyColumn), bun.In(keys))
	})
	return errors.Wrapf(err, "delete %s", s.mapper.Kind)
}

// Query implements cache.BackingStore. The repository lists every record of
// the kind; ancestor, cursor and filter predicates are applied in process in
// canonical key order.
func (s *RepositoryStore[T]) Query(ctx context.Context, q cache.Query, limit, offset int) (*cache.QueryResult, error) {
	matched, err := s.matching(ctx, q)
	if err != nil {
		return nil, err
	}

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
func (s *RepositoryStore[T]) Count(ctx context.Context, q cache.Query, limit int) (int, error) {
	if q.Filter == nil && q.Ancestor == nil && q.StartCursor == "" && q.EndCursor == "" {
		n, err := s.repo.Count(ctx)
		if err != nil {
			return 0, errors.Wrapf(err, "count %s", s.mapper.Kind)
		}
		if limit > 0 && n > limit {
			n = limit
		}
		return n, nil
	}

	matched, err := s.matching(ctx, q)
	if err != nil {
		return 0, err
	}
	if limit > 0 && len(matched) > limit {
		return limit, nil
	}
	return len(matched), nil
}

func (s *RepositoryStore[T]) matching(ctx context.Context, q cache.Query) ([]cache.Entity, error) {
	if q.Kind != s.mapper.Kind {
		return nil, errors.Wrapf(cache.ErrKindMismatch, "%s store cannot query %q", s.mapper.Kind, q.Kind)
	}

	records, _, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", s.mapper.Kind)
	}

	type keyed struct {
		key    string
		entity cache.Entity
	}
	all := make([]keyed, 0, len(records))
	for _, record := range records {
		e, err := s.mapper.FromRecord(record)
		if err != nil {
			return nil, errors.Wrapf(err, "map %s record", s.mapper.Kind)
		}
		all = append(all, keyed{key: e.Key().Encode(), entity: e})
	}

	sort.Slice(all, func(i, j int) bool {
		if q.Descending {
			return all[i].key > all[j].key
		}
		return all[i].key < all[j].key
	})

	var out []cache.Entity
	for _, item := range all {
		if q.Ancestor != nil && !item.entity.Key().Parent.Equal(q.Ancestor) {
			continue
		}
		if !withinCursor(item.key, q) {
			continue
		}
		if q.Filter != nil && !q.Filter(item.entity) {
			continue
		}
		out = append(out, item.entity)
	}
	return out, nil
}

func withinCursor(key string, q cache.Query) bool {
	if q.Descending {
		return (q.StartCursor == "" || key < q.StartCursor) && (q.EndCursor == "" || key >= q.EndCursor)
	}
	return (q.StartCursor == "" || key > q.StartCursor) && (q.EndCursor == "" || key <= q.EndCursor)
}
