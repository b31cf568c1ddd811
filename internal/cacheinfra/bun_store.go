package cacheinfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// queryPageSize is the number of rows scanned per round trip when a query
// filter has to run in process.
const queryPageSize = 200

type entityRow struct {
	bun.BaseModel `bun:"table:layercache_entities"`

	Key       string    `bun:"entity_key,pk"`
	Kind      string    `bun:"kind,notnull"`
	ParentKey string    `bun:"parent_key,notnull"`
	Name      string    `bun:"name"`
	NumID     int64     `bun:"num_id"`
	Payload   []byte    `bun:"payload"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type sequenceRow struct {
	bun.BaseModel `bun:"table:layercache_id_sequences"`

	Scope  string `bun:"scope,pk"`
	NextID int64  `bun:"next_id,notnull"`
}

// BunStore is the backing tier over a SQL database. Entities are stored as
// codec encoded payloads keyed by their canonical key; numeric ids come from
// a per kind and parent sequence table.
type BunStore struct {
	db    *bun.DB
	codec *cache.EntityCodec
	now   func() time.Time
}

var _ cache.BackingStore = (*BunStore)(nil)

// OpenBunDB opens the configured database with the matching bun dialect.
func OpenBunDB(cfg BackingConfig) (*bun.DB, error) {
	sqldb, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", cfg.Driver)
	}

	switch cfg.Driver {
	case DriverSQLite:
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	case DriverPostgres:
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		_ = sqldb.Close()
		return nil, &ConfigError{Field: "Backing.Driver", Message: "unsupported driver " + cfg.Driver}
	}
}

// NewBunStore returns a backing store over db.
func NewBunStore(db *bun.DB, codec *cache.EntityCodec) *BunStore {
	return &BunStore{db: db, codec: codec, now: time.Now}
}

// Migrate creates the store tables if they don't exist.
func (s *BunStore) Migrate(ctx context.Context) error {
	models := []any{(*entityRow)(nil), (*sequenceRow)(nil)}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return errors.Wrap(err, "create table")
		}
	}

	_, err := s.db.NewCreateIndex().
		Model((*entityRow)(nil)).
		Index("layercache_entities_scope_idx").
		Column("kind", "parent_key", "entity_key").
		IfNotExists().
		Exec(ctx)
	return errors.Wrap(err, "create index")
}

// Name implements cache.Store.
func (s *BunStore) Name() string {
	return "bun"
}

// DB exposes the underlying handle.
func (s *BunStore) DB() *bun.DB {
	return s.db
}

// GetMany implements cache.Store.
func (s *BunStore) GetMany(ctx context.Context, keys []string) (map[string]cache.Entity, error) {
	out := make(map[string]cache.Entity, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	var rows []entityRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("entity_key IN (?)", bun.In(keys)).
		Scan(ctx)
	if err != nil {
		return nil, classifySQLError(err, "select entities")
	}

	for _, k := range keys {
		out[k] = nil
	}
	for _, row := range rows {
		e, err := s.codec.Decode(row.Payload)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", row.Key)
		}
		out[row.Key] = e
	}
	return out, nil
}

// PutMany implements cache.Store. Entities with incomplete keys are assigned
// the next id of their kind and parent, and their key is updated in place.
// The ttl is ignored; backing data does not expire.
func (s *BunStore) PutMany(ctx context.Context, entities []cache.Entity, _ time.Duration) ([]string, error) {
	for _, e := range entities {
		if cache.IsNil(e) || e.Key() == nil || e.Key().Kind == "" {
			return nil, errors.Wrap(cache.ErrInvalidKeyInput, "entity without kind")
		}
	}
	if len(entities) == 0 {
		return []string{}, nil
	}

	keys := make([]string, len(entities))
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		assigned, err := s.allocateIDs(ctx, tx, entities)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		rows := make([]entityRow, 0, len(entities))
		for i, e := range entities {
			key := e.Key()
			if id, ok := assigned[i]; ok {
				key = cache.NewIDKey(key.Kind, id, key.Parent)
			}

			row, err := s.toRow(e, key, now)
			if err != nil {
				return err
			}
			rows = append(rows, row)
			keys[i] = row.Key
		}
		// Postgres rejects an upsert that touches the same row twice.
		rows = lastPerKey(rows)

		_, err = tx.NewInsert().
			Model(&rows).
			On("CONFLICT (entity_key) DO UPDATE").
			Set("payload = EXCLUDED.payload").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return classifySQLError(err, "upsert entities")
		}

		for i, e := range entities {
			if id, ok := assigned[i]; ok {
				e.SetKey(cache.NewIDKey(e.Key().Kind, id, e.Key().Parent))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// lastPerKey drops all but the last row of every key, keeping row order.
func lastPerKey(rows []entityRow) []entityRow {
	last := make(map[string]int, len(rows))
	for i, row := range rows {
		last[row.Key] = i
	}
	if len(last) == len(rows) {
		return rows
	}
	out := make([]entityRow, 0, len(last))
	for i, row := range rows {
		if last[row.Key] == i {
			out = append(out, row)
		}
	}
	return out
}

func (s *BunStore) toRow(e cache.Entity, key *cache.Key, now time.Time) (entityRow, error) {
	original := e.Key()
	e.SetKey(key)
	payload, err := s.codec.Encode(e)
	e.SetKey(original)
	if err != nil {
		return entityRow{}, err
	}

	row := entityRow{
		Key:       key.Encode(),
		Kind:      key.Kind,
		Name:      key.Name,
		NumID:     key.ID,
		Payload:   payload,
		UpdatedAt: now,
	}
	if key.Parent != nil {
		row.ParentKey = key.Parent.Encode()
	}
	return row, nil
}

// allocateIDs reserves ids for every incomplete key in the batch, grouped by
// sequence scope, and returns them by entity index.
func (s *BunStore) allocateIDs(ctx context.Context, tx bun.Tx, entities []cache.Entity) (map[int]int64, error) {
	pending := map[string][]int{}
	var scopes []string
	for i, e := range entities {
		if !e.Key().Incomplete() {
			continue
		}
		scope := sequenceScope(e.Key())
		if _, ok := pending[scope]; !ok {
			scopes = append(scopes, scope)
		}
		pending[scope] = append(pending[scope], i)
	}

	assigned := make(map[int]int64)
	for _, scope := range scopes {
		seq := sequenceRow{Scope: scope}
		err := tx.NewSelect().Model(&seq).WherePK().Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			seq.NextID = 1
		case err != nil:
			return nil, classifySQLError(err, "read sequence")
		}

		for _, idx := range pending[scope] {
			assigned[idx] = seq.NextID
			seq.NextID++
		}

		_, err = tx.NewInsert().
			Model(&seq).
			On("CONFLICT (scope) DO UPDATE").
			Set("next_id = EXCLUDED.next_id").
			Exec(ctx)
		if err != nil {
			return nil, classifySQLError(err, "advance sequence")
		}
	}
	return assigned, nil
}

func sequenceScope(k *cache.Key) string {
	if k.Parent == nil {
		return k.Kind
	}
	return k.Parent.Encode() + cache.KeySeparator + k.Kind
}

// DeleteMany implements cache.Store.
func (s *BunStore) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	_, err := s.db.NewDelete().
		Model((*entityRow)(nil)).
		Where("entity_key IN (?)", bun.In(keys)).
		Exec(ctx)
	if err != nil {
		return classifySQLError(err, "delete entities")
	}
	return nil
}

// Query implements cache.BackingStore. Results are ordered by canonical key.
// Without a filter, paging is pushed down to SQL; otherwise rows are scanned
// page by page and filtered in process.
func (s *BunStore) Query(ctx context.Context, q cache.Query, limit, offset int) (*cache.QueryResult, error) {
	result := &cache.QueryResult{}
	if offset < 0 {
		offset = 0
	}

	if q.Filter == nil {
		var rows []entityRow
		sel := s.scopedSelect(q, &rows)
		if limit > 0 {
			sel = sel.Limit(limit)
		}
		if offset > 0 {
			sel = sel.Offset(offset)
		}
		if err := sel.Scan(ctx); err != nil {
			return nil, classifySQLError(err, "query entities")
		}

		for _, row := range rows {
			e, err := s.codec.Decode(row.Payload)
			if err != nil {
				return nil, errors.Wrapf(err, "decode %s", row.Key)
			}
			result.Entities = append(result.Entities, e)
			result.Cursor = row.Key
		}
		return result, nil
	}

	skipped := 0
	err := s.scan(ctx, q, func(row entityRow, e cache.Entity) bool {
		if !q.Filter(e) {
			return true
		}
		if skipped < offset {
			skipped++
			return true
		}
		result.Entities = append(result.Entities, e)
		result.Cursor = row.Key
		return limit <= 0 || len(result.Entities) < limit
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Count implements cache.BackingStore. A limit <= 0 counts everything.
func (s *BunStore) Count(ctx context.Context, q cache.Query, limit int) (int, error) {
	if q.Filter == nil {
		n, err := s.scopedSelect(q, (*entityRow)(nil)).Count(ctx)
		if err != nil {
			return 0, classifySQLError(err, "count entities")
		}
		if limit > 0 && n > limit {
			n = limit
		}
		return n, nil
	}

	n := 0
	err := s.scan(ctx, q, func(_ entityRow, e cache.Entity) bool {
		if q.Filter(e) {
			n++
		}
		return limit <= 0 || n < limit
	})
	return n, err
}

func (s *BunStore) scopedSelect(q cache.Query, model any) *bun.SelectQuery {
	sel := s.db.NewSelect().Model(model).Where("kind = ?", q.Kind)
	if q.Ancestor != nil {
		sel = sel.Where("parent_key = ?", q.Ancestor.Encode())
	}
	if q.Descending {
		if q.StartCursor != "" {
			sel = sel.Where("entity_key < ?", q.StartCursor)
		}
		if q.EndCursor != "" {
			sel = sel.Where("entity_key >= ?", q.EndCursor)
		}
		return sel.Order("entity_key DESC")
	}

	if q.StartCursor != "" {
		sel = sel.Where("entity_key > ?", q.StartCursor)
	}
	if q.EndCursor != "" {
		sel = sel.Where("entity_key <= ?", q.EndCursor)
	}
	return sel.Order("entity_key ASC")
}

// scan walks the rows selected by q page by page until visit returns false.
func (s *BunStore) scan(ctx context.Context, q cache.Query, visit func(entityRow, cache.Entity) bool) error {
	page := q
	for {
		var rows []entityRow
		if err := s.scopedSelect(page, &rows).Limit(queryPageSize).Scan(ctx); err != nil {
			return classifySQLError(err, "scan entities")
		}

		for _, row := range rows {
			e, err := s.codec.Decode(row.Payload)
			if err != nil {
				return errors.Wrapf(err, "decode %s", row.Key)
			}
			if !visit(row, e) {
				return nil
			}
		}

		if len(rows) < queryPageSize {
			return nil
		}
		page.StartCursor = rows[len(rows)-1].Key
	}
}

// classifySQLError marks driver errors that the batch writer reacts to.
func classifySQLError(err error, op string) error {
	wrapped := errors.Wrap(err, op)

	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Mark(wrapped, cache.ErrTierTimeout)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrFull:
			return errors.Mark(wrapped, cache.ErrQuotaExceeded)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return errors.Mark(wrapped, cache.ErrTierTimeout)
		}
	}

	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code.Class() == "53":
			return errors.Mark(wrapped, cache.ErrQuotaExceeded)
		case pgErr.Code == "57014":
			return errors.Mark(wrapped, cache.ErrTierTimeout)
		}
	}
	return wrapped
}
