package repositorycache

import (
	"context"
	"fmt"
	"reflect"

	"github.com/goliatone/go-orm-lab/cache"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

var _ repository.Repository[any] = (*CachedRepository[any])(nil)

// listResult wraps the tuple result from List operations for caching.
type listResult[T any] struct {
	Records []T `msgpack:"records"`
	Total   int `msgpack:"total"`
}

// CachedRepository decorates a base repository with three cache regions:
//
//   - entity: GetByID without criteria, keyed by primary key
//   - natural-id: identifier to primary key, used by GetByIdentifier
//   - query: Get, List, Count and any criteria based lookup
//
// Reads made through the *Tx methods bypass the cache. Writes evict the
// record's entity and natural-id entries and clear the whole query region.
type CachedRepository[T any] struct {
	base          repository.Repository[T]
	cache         cache.CacheService
	keySerializer cache.KeySerializer

	regionName string
	entities   *cache.Region
	naturalIDs *cache.Region
	queries    *cache.Region

	stats  *cache.Statistics
	logger zerolog.Logger

	idOf        func(T) string
	naturalIDOf func(T) string

	// id -> natural-id key resolved for it
	naturalKeys *xsync.MapOf[string, string]
	tags        *tagIndex
}

// New creates a new CachedRepository that wraps the base repository with caching.
func New[T any](base repository.Repository[T], cacheService cache.CacheService, keySerializer cache.KeySerializer, opts ...Option[T]) *CachedRepository[T] {
	if keySerializer == nil {
		keySerializer = cache.NewDefaultKeySerializer()
	}

	c := &CachedRepository[T]{
		base:          base,
		cache:         cacheService,
		keySerializer: keySerializer,
		regionName:    regionNameFor[T](),
		logger:        zerolog.Nop(),
		naturalKeys:   xsync.NewMapOf[string, string](),
		tags:          newTagIndex(),
	}
	c.idOf = c.extractID

	for _, opt := range opts {
		opt(c)
	}

	c.entities = cache.NewRegion(c.regionName, cache.RegionEntity, cacheService, c.stats)
	c.naturalIDs = cache.NewRegion(c.regionName+"_nid", cache.RegionNaturalID, cacheService, c.stats)
	c.queries = cache.NewRegion(c.regionName+"_query", cache.RegionQuery, cacheService, c.stats)

	return c
}

// RegionName returns the entity region name. Natural-id and query regions use
// it with "_nid" and "_query" suffixes.
func (c *CachedRepository[T]) RegionName() string {
	return c.regionName
}

// Base returns the decorated repository.
func (c *CachedRepository[T]) Base() repository.Repository[T] {
	return c.base
}

// Get retrieves a single record using the provided criteria, with caching.
func (c *CachedRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	key := c.queryKey(ctx, "Get", criteria)
	return cache.LoadOrFetch(ctx, c.queries, key, func(ctx context.Context) (T, error) {
		c.stats.RecordEntityLoad()
		return c.base.Get(ctx, criteria...)
	})
}

// GetByID retrieves a record by ID. Without criteria the entity region is used.
func (c *CachedRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	if len(criteria) > 0 {
		key := c.queryKey(ctx, "GetByID", id, criteria)
		return cache.LoadOrFetch(ctx, c.queries, key, func(ctx context.Context) (T, error) {
			c.stats.RecordEntityLoad()
			return c.base.GetByID(ctx, id, criteria...)
		})
	}
	return c.loadEntity(ctx, id, func(ctx context.Context) (T, error) {
		return c.base.GetByID(ctx, id)
	})
}

func (c *CachedRepository[T]) loadEntity(ctx context.Context, id string, fetch cache.FetchFn[T]) (T, error) {
	key := c.entities.Key(id)
	c.tags.register(ctx, key)
	return cache.LoadOrFetch(ctx, c.entities, key, func(ctx context.Context) (T, error) {
		c.stats.RecordEntityLoad()
		return fetch(ctx)
	})
}

// List retrieves multiple records using the provided criteria, with caching.
func (c *CachedRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	key := c.queryKey(ctx, "List", criteria)
	res, err := cache.LoadOrFetch(ctx, c.queries, key, func(ctx context.Context) (listResult[T], error) {
		records, total, err := c.base.List(ctx, criteria...)
		for range records {
			c.stats.RecordEntityLoad()
		}
		return listResult[T]{Records: records, Total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return res.Records, res.Total, nil
}

// Count returns the number of records matching the criteria, with caching.
func (c *CachedRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	key := c.queryKey(ctx, "Count", criteria)
	return cache.LoadOrFetch(ctx, c.queries, key, func(ctx context.Context) (int, error) {
		return c.base.Count(ctx, criteria...)
	})
}

// GetByIdentifier resolves identifier to a primary key through the natural-id
// region, then loads the record through the entity region. With criteria the
// lookup is cached as a query instead.
func (c *CachedRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	if len(criteria) > 0 {
		key := c.queryKey(ctx, "GetByIdentifier", identifier, criteria)
		return cache.LoadOrFetch(ctx, c.queries, key, func(ctx context.Context) (T, error) {
			c.stats.RecordEntityLoad()
			return c.base.GetByIdentifier(ctx, identifier, criteria...)
		})
	}

	var (
		loaded T
		have   bool
	)
	nidKey := c.naturalIDs.Key(identifier)
	c.tags.register(ctx, nidKey)

	id, err := cache.LoadOrFetch(ctx, c.naturalIDs, nidKey, func(ctx context.Context) (string, error) {
		record, err := c.base.GetByIdentifier(ctx, identifier)
		if err != nil {
			return "", err
		}
		loaded, have = record, true
		return c.idOf(record), nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	c.naturalKeys.Store(id, nidKey)

	return c.loadEntity(ctx, id, func(ctx context.Context) (T, error) {
		if have {
			return loaded, nil
		}
		return c.base.GetByID(ctx, id)
	})
}

// Create creates a new record. Write operations pass through to base repository.
func (c *CachedRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.Create(ctx, record, criteria...)
	if err == nil {
		c.stats.RecordEntityInsert()
		c.invalidateAfterCreate(ctx)
	}
	return result, err
}

// CreateTx creates a new record within a transaction.
func (c *CachedRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.CreateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.stats.RecordEntityInsert()
		c.invalidateAfterCreate(ctx)
	}
	return result, err
}

// CreateMany creates multiple records.
func (c *CachedRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateMany(ctx, records, criteria...)
	if err == nil {
		for range result {
			c.stats.RecordEntityInsert()
		}
		c.invalidateAfterCreate(ctx)
	}
	return result, err
}

// CreateManyTx creates multiple records within a transaction.
func (c *CachedRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		for range result {
			c.stats.RecordEntityInsert()
		}
		c.invalidateAfterCreate(ctx)
	}
	return result, err
}

// GetOrCreate gets a record or creates it if it doesn't exist.
func (c *CachedRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	result, err := c.base.GetOrCreate(ctx, record)
	if err == nil {
		c.invalidateAfterCreate(ctx)
	}
	return result, err
}

// GetOrCreateTx gets a record or creates it if it doesn't exist within a transaction.
func (c *CachedRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	result, err := c.base.GetOrCreateTx(ctx, tx, record)
	if err == nil {
		c.invalidateAfterCreate(ctx)
	}
	return result, err
}

// Update updates a record.
func (c *CachedRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Update(ctx, record, criteria...)
	if err == nil {
		c.stats.RecordEntityUpdate()
		c.invalidateRecords(ctx, record)
	}
	return result, err
}

// UpdateTx updates a record within a transaction.
func (c *CachedRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpdateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.stats.RecordEntityUpdate()
		c.invalidateRecords(ctx, record)
	}
	return result, err
}

// UpdateMany updates multiple records.
func (c *CachedRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateMany(ctx, records, criteria...)
	if err == nil {
		for range records {
			c.stats.RecordEntityUpdate()
		}
		c.invalidateRecords(ctx, records...)
	}
	return result, err
}

// UpdateManyTx updates multiple records within a transaction.
func (c *CachedRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		for range records {
			c.stats.RecordEntityUpdate()
		}
		c.invalidateRecords(ctx, records...)
	}
	return result, err
}

// Upsert inserts or updates a record.
func (c *CachedRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Upsert(ctx, record, criteria...)
	if err == nil {
		c.invalidateRecords(ctx, record, result)
	}
	return result, err
}

// UpsertTx inserts or updates a record within a transaction.
func (c *CachedRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpsertTx(ctx, tx, record, criteria...)
	if err == nil {
		c.invalidateRecords(ctx, record, result)
	}
	return result, err
}

// UpsertMany inserts or updates multiple records.
func (c *CachedRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertMany(ctx, records, criteria...)
	if err == nil {
		c.invalidateRecords(ctx, append(append([]T(nil), records...), result...)...)
	}
	return result, err
}

// UpsertManyTx inserts or updates multiple records within a transaction.
func (c *CachedRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.invalidateRecords(ctx, append(append([]T(nil), records...), result...)...)
	}
	return result, err
}

// Delete deletes a record.
func (c *CachedRepository[T]) Delete(ctx context.Context, record T) error {
	err := c.base.Delete(ctx, record)
	if err == nil {
		c.stats.RecordEntityDelete()
		c.invalidateRecords(ctx, record)
	}
	return err
}

// DeleteTx deletes a record within a transaction.
func (c *CachedRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.base.DeleteTx(ctx, tx, record)
	if err == nil {
		c.stats.RecordEntityDelete()
		c.invalidateRecords(ctx, record)
	}
	return err
}

// DeleteMany deletes multiple records based on criteria.
func (c *CachedRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteMany(ctx, criteria...)
	if err == nil {
		c.invalidateAll(ctx)
	}
	return err
}

// DeleteManyTx deletes multiple records based on criteria within a transaction.
func (c *CachedRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteManyTx(ctx, tx, criteria...)
	if err == nil {
		c.invalidateAll(ctx)
	}
	return err
}

// DeleteWhere deletes records based on criteria.
func (c *CachedRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhere(ctx, criteria...)
	if err == nil {
		c.invalidateAll(ctx)
	}
	return err
}

// DeleteWhereTx deletes records based on criteria within a transaction.
func (c *CachedRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhereTx(ctx, tx, criteria...)
	if err == nil {
		c.invalidateAll(ctx)
	}
	return err
}

// ForceDelete force deletes a record (bypassing soft delete).
func (c *CachedRepository[T]) ForceDelete(ctx context.Context, record T) error {
	err := c.base.ForceDelete(ctx, record)
	if err == nil {
		c.stats.RecordEntityDelete()
		c.invalidateRecords(ctx, record)
	}
	return err
}

// ForceDeleteTx force deletes a record within a transaction (bypassing soft delete).
func (c *CachedRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.base.ForceDeleteTx(ctx, tx, record)
	if err == nil {
		c.stats.RecordEntityDelete()
		c.invalidateRecords(ctx, record)
	}
	return err
}

// GetTx retrieves a single record within a transaction, bypassing the cache.
func (c *CachedRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetTx(ctx, tx, criteria...)
}

// GetByIDTx retrieves a record by ID within a transaction, bypassing the cache.
func (c *CachedRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIDTx(ctx, tx, id, criteria...)
}

// ListTx retrieves multiple records within a transaction, bypassing the cache.
func (c *CachedRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return c.base.ListTx(ctx, tx, criteria...)
}

// CountTx counts records within a transaction, bypassing the cache.
func (c *CachedRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return c.base.CountTx(ctx, tx, criteria...)
}

// GetByIdentifierTx retrieves a record by identifier within a transaction, bypassing the cache.
func (c *CachedRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

// Raw executes a raw SQL query. Results are never cached.
func (c *CachedRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	return c.base.Raw(ctx, sql, args...)
}

// RawTx executes a raw SQL query within a transaction.
func (c *CachedRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return c.base.RawTx(ctx, tx, sql, args...)
}

// Handlers returns the model handlers from the base repository.
func (c *CachedRepository[T]) Handlers() repository.ModelHandlers[T] {
	return c.base.Handlers()
}

// Evict drops the cached state of the given records and clears the query region.
func (c *CachedRepository[T]) Evict(ctx context.Context, records ...T) error {
	return c.invalidateRecords(ctx, records...)
}

// EvictAll clears every region of this repository.
func (c *CachedRepository[T]) EvictAll(ctx context.Context) error {
	return c.invalidateAll(ctx)
}

// EvictQueries clears only the query region.
func (c *CachedRepository[T]) EvictQueries(ctx context.Context) error {
	return c.queries.Clear(ctx)
}

// InvalidateTags evicts every key read under the given tags.
func (c *CachedRepository[T]) InvalidateTags(ctx context.Context, tags ...string) error {
	keys := c.tags.take(tags...)
	if len(keys) == 0 {
		return nil
	}
	c.logger.Debug().Strs("tags", tags).Int("keys", len(keys)).Msg("invalidating tagged cache keys")
	return c.cache.InvalidateKeys(ctx, keys)
}

func (c *CachedRepository[T]) queryKey(ctx context.Context, method string, args ...any) string {
	var key string
	if parts, ok := queryKeyFromContext(ctx); ok {
		key = c.queries.Key(append([]any{method}, parts...)...)
	} else {
		key = c.queries.Key(c.keySerializer.SerializeKey(method, args...))
	}
	c.tags.register(ctx, key)
	return key
}

// extractID reads an ID field from a record using reflection.
func (c *CachedRepository[T]) extractID(record T) string {
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return ""
	}

	for _, fieldName := range []string{"ID", "Id"} {
		field := v.FieldByName(fieldName)
		if field.IsValid() && field.CanInterface() {
			return fmt.Sprintf("%v", field.Interface())
		}
	}
	return ""
}

// invalidateAfterCreate clears cached queries since new rows change results and totals.
func (c *CachedRepository[T]) invalidateAfterCreate(ctx context.Context) error {
	return c.logFailure(c.queries.Clear(ctx), "clear query region")
}

// invalidateRecords evicts entity and natural-id entries of the records and
// clears the query region.
func (c *CachedRepository[T]) invalidateRecords(ctx context.Context, records ...T) error {
	var keys []string
	for _, record := range records {
		id := c.idOf(record)
		if id == "" {
			continue
		}
		keys = append(keys, c.entities.Key(id))
		if nidKey, ok := c.naturalKeys.LoadAndDelete(id); ok {
			keys = append(keys, nidKey)
		}
		if c.naturalIDOf != nil {
			if nid := c.naturalIDOf(record); nid != "" {
				keys = append(keys, c.naturalIDs.Key(nid))
			}
		}
	}

	err := c.logFailure(c.entities.EvictKeys(ctx, dedupeStrings(keys)), "evict entity keys")
	if qerr := c.logFailure(c.queries.Clear(ctx), "clear query region"); err == nil {
		err = qerr
	}
	return err
}

// invalidateAll is used when the affected rows are unknown.
func (c *CachedRepository[T]) invalidateAll(ctx context.Context) error {
	var first error
	for _, region := range []*cache.Region{c.entities, c.naturalIDs, c.queries} {
		if err := c.logFailure(region.Clear(ctx), "clear "+region.Name()); err != nil && first == nil {
			first = err
		}
	}
	c.naturalKeys.Clear()
	c.tags.clear()
	return first
}

func (c *CachedRepository[T]) logFailure(err error, op string) error {
	if err != nil {
		c.logger.Warn().Err(err).Str("region", c.regionName).Msg(op)
	}
	return err
}
