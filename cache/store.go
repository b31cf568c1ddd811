package cache

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Store is the uniform batch adapter every tier implements.
type Store interface {
	// GetMany fetches keys in one round trip. Every requested key is present
	// in the returned map; keys that were not found map to nil.
	GetMany(ctx context.Context, keys []string) (map[string]Entity, error)

	// PutMany writes entities with the given TTL and returns the canonical
	// keys written, in input order. A zero TTL selects the tier default.
	PutMany(ctx context.Context, entities []Entity, ttl time.Duration) ([]string, error)

	// DeleteMany removes keys. Deleting an absent key is not an error.
	DeleteMany(ctx context.Context, keys []string) error

	// Name identifies the adapter in logs and errors.
	Name() string
}

// BackingStore is the durable source of truth. Its PutMany assigns
// identifiers to entities with incomplete keys and updates them in place.
type BackingStore interface {
	Store

	// Query runs q and returns at most limit entities after skipping offset.
	Query(ctx context.Context, q Query, limit, offset int) (*QueryResult, error)

	// Count returns the number of entities matching q, up to limit.
	Count(ctx context.Context, q Query, limit int) (int, error)
}

// Query is an ad-hoc backing store query over one kind.
type Query struct {
	// Name describes the query; it roots the query cache key. Two queries
	// with the same name and params must select the same entities.
	Name string
	Kind string
	// Ancestor restricts results to direct children of this key.
	Ancestor *Key
	// Filter is evaluated in process on decoded entities.
	Filter func(Entity) bool
	// Params are the values bound into Filter; they take part in cache keys.
	Params     []any
	Descending bool
	// StartCursor and EndCursor bound the scan by key (start exclusive, end inclusive).
	StartCursor string
	EndCursor   string
}

// WithCursor returns a copy of q bounded by the given cursors.
func (q Query) WithCursor(start, end string) Query {
	q.StartCursor = start
	q.EndCursor = end
	return q
}

// Describe renders the parts of q that identify it, excluding Filter.
func (q Query) Describe() string {
	parts := []string{"kind=" + q.Kind}
	if q.Name != "" {
		parts = append(parts, "name="+q.Name)
	}
	if q.Ancestor != nil {
		parts = append(parts, "ancestor="+q.Ancestor.Encode())
	}
	parts = append(parts, "desc="+strconv.FormatBool(q.Descending))
	if q.StartCursor != "" {
		parts = append(parts, "start="+q.StartCursor)
	}
	if q.EndCursor != "" {
		parts = append(parts, "end="+q.EndCursor)
	}
	return strings.Join(parts, ";")
}

// QueryResult holds one page of query results and the cursor after its last entity.
type QueryResult struct {
	Entities []Entity
	Cursor   string
}

// Task is a deferred backing store write.
type Task struct {
	Entities []Entity
	// Attempt counts quota reschedules so far; it drives the backoff.
	Attempt int
	// Delay is how long to wait before running the task.
	Delay  time.Duration
	Reason string
}

// TaskHandler executes a deferred write.
type TaskHandler func(ctx context.Context, task Task) error

// Scheduler accepts deferred writes that run detached from the caller.
type Scheduler interface {
	Schedule(ctx context.Context, task Task) error
	Close() error
}
