package session

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/goliatone/go-orm-lab/cache"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// NaturalKeyed entities expose their natural id so writes can evict the
// natural-id cache entry.
type NaturalKeyed interface {
	NaturalKey() string
}

type managedEntry struct {
	entity   Entity
	snapshot []byte
	removed  bool
}

// Session is a unit of work. It keeps an identity map (the first-level cache)
// so that the same row is represented by one instance per session, and a
// snapshot of every managed entity so Flush writes only what changed.
//
// A Session is meant to be used by one goroutine at a time.
type Session struct {
	factory *Factory
	logger  zerolog.Logger

	mu      sync.Mutex
	tx      *bun.Tx
	closed  bool
	order   []string
	touched map[string]*cache.Region
	queries map[string]*cache.Region

	entities *xsync.MapOf[string, *managedEntry]
}

func newSession(f *Factory) *Session {
	return &Session{
		factory:  f,
		logger:   f.logger,
		touched:  make(map[string]*cache.Region),
		queries:  make(map[string]*cache.Region),
		entities: xsync.NewMapOf[string, *managedEntry](),
	}
}

// Factory returns the factory that opened the session.
func (s *Session) Factory() *Factory { return s.factory }

// IDB returns the active transaction, or the database when none is open.
func (s *Session) IDB() bun.IDB {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx
	}
	return s.factory.db
}

// InTransaction reports whether Begin was called without Commit or Rollback.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// Begin starts a database transaction.
func (s *Session) Begin(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return ErrTransactionActive
	}

	tx, err := s.factory.db.BeginTx(ctx, nil)
	if err != nil {
		return Internal(err, "begin transaction")
	}
	s.tx = &tx
	s.factory.stats.RecordBegin()
	return nil
}

// Commit flushes pending changes and commits. When the flush fails the
// transaction stays open so the caller can roll back.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.InTransaction() {
		return ErrNoTransaction
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	tx := s.tx
	s.tx = nil
	s.mu.Unlock()

	if err := tx.Commit(); err != nil {
		s.evictTouched(ctx)
		s.factory.stats.RecordRollback()
		return Internal(err, "commit transaction")
	}
	s.evictTouched(ctx)
	s.factory.stats.RecordCommit()
	return nil
}

// Rollback aborts the transaction. Managed entities no longer match the
// database afterwards, so the identity map is cleared.
func (s *Session) Rollback(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.mu.Lock()
	tx := s.tx
	s.tx = nil
	s.mu.Unlock()
	if tx == nil {
		return ErrNoTransaction
	}

	err := tx.Rollback()
	s.evictTouched(ctx)
	s.Clear()
	s.factory.stats.RecordRollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return Internal(err, "rollback transaction")
	}
	return nil
}

// Close rolls back an open transaction and releases every managed entity.
// Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	if s.checkOpen() != nil {
		return nil
	}
	var err error
	if s.InTransaction() {
		err = s.Rollback(ctx)
	}
	s.Clear()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}

// Contains reports whether entity is managed by this session.
func (s *Session) Contains(entity Entity) bool {
	e, ok := s.entities.Load(identityKey(entity, entity.PrimaryKey()))
	return ok && !e.removed && e.entity == entity
}

// Size returns the number of managed entities.
func (s *Session) Size() int {
	return s.entities.Size()
}

// Evict detaches entity. Pending changes to it are not flushed.
func (s *Session) Evict(entity Entity) {
	s.entities.Delete(identityKey(entity, entity.PrimaryKey()))
}

// Clear detaches every managed entity.
func (s *Session) Clear() {
	s.entities.Clear()
	s.mu.Lock()
	s.order = nil
	s.mu.Unlock()
}

// Persist validates and inserts entity, then manages it.
func (s *Session) Persist(ctx context.Context, entity Entity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := validate(entity); err != nil {
		return err
	}

	if _, err := s.IDB().NewInsert().Model(entity).Exec(ctx); err != nil {
		return Internal(err, "insert "+entityName(entity))
	}
	s.factory.stats.RecordEntityInsert()

	s.manage(entity)
	s.touch(ctx, entity, nil)
	return nil
}

// Remove schedules a managed entity for deletion at the next Flush.
func (s *Session) Remove(ctx context.Context, entity Entity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	e, ok := s.entities.Load(identityKey(entity, entity.PrimaryKey()))
	if !ok || e.entity != entity {
		return fmt.Errorf("remove %s %v: entity is not managed by this session", entityName(entity), entity.PrimaryKey())
	}
	e.removed = true
	return nil
}

// Refresh re-reads the state of a managed entity from the database,
// discarding unflushed changes.
func (s *Session) Refresh(ctx context.Context, entity Entity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.IDB().NewSelect().Model(entity).WherePK().Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NotFound(entityName(entity), entity.PrimaryKey())
		}
		return Internal(err, "refresh "+entityName(entity))
	}
	s.factory.stats.RecordEntityLoad()
	s.resnapshot(entity)
	return nil
}

// IsDirty reports whether a managed entity differs from its snapshot.
func (s *Session) IsDirty(entity Entity) bool {
	e, ok := s.entities.Load(identityKey(entity, entity.PrimaryKey()))
	if !ok {
		return false
	}
	current, err := cache.Dehydrate(entity)
	return err != nil || !bytes.Equal(current, e.snapshot)
}

// Flush writes changes of managed entities: dirty entities are updated and
// removed ones deleted. Versioned entities are written with a version check
// and fail with ErrStaleState when another transaction got there first.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.mu.Lock()
	order := append([]string(nil), s.order...)
	s.mu.Unlock()

	var removed []string
	for _, key := range order {
		e, ok := s.entities.Load(key)
		if !ok || e.removed {
			continue
		}
		current, err := cache.Dehydrate(e.entity)
		if err != nil {
			return Internal(err, "snapshot "+entityName(e.entity))
		}
		if bytes.Equal(current, e.snapshot) {
			continue
		}
		if err := validate(e.entity); err != nil {
			return err
		}
		if err := s.update(ctx, e); err != nil {
			return err
		}
	}

	for _, key := range order {
		e, ok := s.entities.Load(key)
		if !ok || !e.removed {
			continue
		}
		if err := s.delete(ctx, e); err != nil {
			return err
		}
		removed = append(removed, key)
	}

	for _, key := range removed {
		s.entities.Delete(key)
	}
	s.compactOrder()
	s.factory.stats.RecordFlush()
	return nil
}

func (s *Session) update(ctx context.Context, e *managedEntry) error {
	name := entityName(e.entity)
	q := s.IDB().NewUpdate().Model(e.entity).WherePK()

	var (
		versioned  Versioned
		oldVersion int64
	)
	if v, ok := e.entity.(Versioned); ok {
		versioned, oldVersion = v, v.CurrentVersion()
		v.SetVersion(oldVersion + 1)
		q = q.Where("? = ?", bun.Ident(versionColumn), oldVersion)
	}

	res, err := q.Exec(ctx)
	if err == nil {
		err = requireRows(res)
	}
	if err != nil {
		if versioned != nil {
			versioned.SetVersion(oldVersion)
		}
		if errors.Is(err, ErrStaleState) {
			s.factory.stats.RecordOptimisticFailure()
			s.logger.Debug().Str("entity", name).Interface("id", e.entity.PrimaryKey()).Int64("version", oldVersion).Msg("optimistic lock failure")
			return StaleState(name, e.entity.PrimaryKey(), oldVersion)
		}
		return Internal(err, "update "+name)
	}

	s.factory.stats.RecordEntityUpdate()
	s.touch(ctx, e.entity, e.snapshot)
	s.resnapshot(e.entity)
	return nil
}

func (s *Session) delete(ctx context.Context, e *managedEntry) error {
	name := entityName(e.entity)
	q := s.IDB().NewDelete().Model(e.entity).WherePK()

	var version int64
	if v, ok := e.entity.(Versioned); ok {
		version = v.CurrentVersion()
		q = q.Where("? = ?", bun.Ident(versionColumn), version)
	}

	res, err := q.Exec(ctx)
	if err == nil {
		err = requireRows(res)
	}
	if err != nil {
		if errors.Is(err, ErrStaleState) {
			s.factory.stats.RecordOptimisticFailure()
			return StaleState(name, e.entity.PrimaryKey(), version)
		}
		return Internal(err, "delete "+name)
	}

	s.factory.stats.RecordEntityDelete()
	s.touch(ctx, e.entity, e.snapshot)
	return nil
}

func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleState
	}
	return nil
}

// manage registers entity in the identity map. If another instance with the
// same identity is already managed, that instance wins and is returned.
func (s *Session) manage(entity Entity) Entity {
	key := identityKey(entity, entity.PrimaryKey())
	snapshot, err := cache.Dehydrate(entity)
	if err != nil {
		s.logger.Warn().Err(err).Str("entity", entityName(entity)).Msg("snapshot failed, entity will always be flushed")
	}

	entry, loaded := s.entities.LoadOrStore(key, &managedEntry{entity: entity, snapshot: snapshot})
	if loaded {
		if !entry.removed {
			return entry.entity
		}
		s.entities.Store(key, &managedEntry{entity: entity, snapshot: snapshot})
		return entity
	}

	s.mu.Lock()
	s.order = append(s.order, key)
	s.mu.Unlock()
	return entity
}

func (s *Session) resnapshot(entity Entity) {
	key := identityKey(entity, entity.PrimaryKey())
	e, ok := s.entities.Load(key)
	if !ok {
		s.manage(entity)
		return
	}
	if snapshot, err := cache.Dehydrate(entity); err == nil {
		e.snapshot = snapshot
	}
}

func (s *Session) compactOrder() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.order[:0]
	for _, key := range s.order {
		if _, ok := s.entities.Load(key); ok {
			kept = append(kept, key)
		}
	}
	s.order = kept
}

// touch evicts the second-level entries of a written entity now and again
// when the transaction ends, so no reader keeps uncommitted or stale state.
// Cached query results of the same region are cleared the same way.
// previous is the snapshot before the write, used to find the old natural id.
func (s *Session) touch(ctx context.Context, entity Entity, previous []byte) {
	c, ok := entity.(Cacheable)
	if !ok || !s.factory.SecondLevelCacheEnabled() {
		return
	}

	entities := s.factory.Region(c.CacheRegion(), cache.RegionEntity)
	naturalIDs := s.factory.Region(c.CacheRegion(), cache.RegionNaturalID)

	keys := map[string]*cache.Region{entities.Key(entity.PrimaryKey()): entities}
	if nk, ok := entity.(NaturalKeyed); ok {
		keys[naturalIDs.Key(nk.NaturalKey())] = naturalIDs
	}
	if previous != nil {
		if old, ok := hydrateLike(entity, previous).(NaturalKeyed); ok {
			keys[naturalIDs.Key(old.NaturalKey())] = naturalIDs
		}
	}

	queries := s.factory.Region(c.CacheRegion(), cache.RegionQuery)

	s.mu.Lock()
	for key, region := range keys {
		s.touched[key] = region
	}
	s.queries[queries.Name()] = queries
	s.mu.Unlock()

	for key, region := range keys {
		if err := region.Evict(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("second-level eviction failed")
		}
	}
	if err := queries.Clear(ctx); err != nil {
		s.logger.Warn().Err(err).Str("region", queries.Name()).Msg("query cache invalidation failed")
	}
}

func (s *Session) isTouched(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.touched[key]
	return ok
}

func (s *Session) evictTouched(ctx context.Context) {
	s.mu.Lock()
	touched, queries := s.touched, s.queries
	s.touched = make(map[string]*cache.Region)
	s.queries = make(map[string]*cache.Region)
	s.mu.Unlock()

	for key, region := range touched {
		if err := region.Evict(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("second-level eviction failed")
		}
	}
	for name, region := range queries {
		if err := region.Clear(ctx); err != nil {
			s.logger.Warn().Err(err).Str("region", name).Msg("query cache invalidation failed")
		}
	}
}

// hydrateLike decodes data into a new value of entity's type.
func hydrateLike(entity Entity, data []byte) any {
	t := reflect.TypeOf(entity)
	if t.Kind() != reflect.Ptr {
		return nil
	}
	fresh := reflect.New(t.Elem()).Interface()
	if err := cache.Hydrate(data, fresh); err != nil {
		return nil
	}
	return fresh
}

func validate(entity Entity) error {
	v, ok := entity.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		return ValidationFailed(entityName(entity), err)
	}
	return nil
}
