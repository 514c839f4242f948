package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/goliatone/go-orm-lab/cache"
	"github.com/uptrace/bun"
)

// QueryFunc customises a select query.
type QueryFunc func(*bun.SelectQuery) *bun.SelectQuery

// Find loads an entity by primary key. Lookups go to the identity map first,
// then to the second-level cache when the entity is Cacheable, and finally to
// the database. Within one session the same id always yields the same pointer.
func Find[T any, PT interface {
	*T
	Entity
}](ctx context.Context, s *Session, id any) (PT, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	key := identityKey(PT(nil), id)
	if e, ok := s.entities.Load(key); ok {
		if e.removed {
			return nil, NotFound(entityName(PT(nil)), id)
		}
		if typed, ok := e.entity.(PT); ok {
			return typed, nil
		}
	}

	entity := PT(new(T))
	region := s.entityRegion(entity)
	if region != nil && !s.isTouched(region.Key(id)) {
		value, err := cache.LoadOrFetch(ctx, region, region.Key(id), func(ctx context.Context) (T, error) {
			fresh := PT(new(T))
			if err := s.selectByID(ctx, fresh, id); err != nil {
				var zero T
				return zero, err
			}
			return *fresh, nil
		})
		if err != nil {
			return nil, err
		}
		*entity = value
	} else if err := s.selectByID(ctx, entity, id); err != nil {
		return nil, err
	}

	return s.manage(entity).(PT), nil
}

// FindOne runs a query for a single entity. If the row is already managed the
// managed instance is returned.
func FindOne[T any, PT interface {
	*T
	Entity
}](ctx context.Context, s *Session, build QueryFunc) (PT, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	entity := PT(new(T))
	q := s.IDB().NewSelect().Model(entity)
	if build != nil {
		q = build(q)
	}
	if err := q.Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NotFound(entityName(entity), "query")
		}
		return nil, Internal(err, "select "+entityName(entity))
	}
	s.factory.stats.RecordEntityLoad()

	return s.manage(entity).(PT), nil
}

// FindAll runs a query and manages every entity it returns.
func FindAll[T any, PT interface {
	*T
	Entity
}](ctx context.Context, s *Session, build QueryFunc) ([]PT, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rows []T
	q := s.IDB().NewSelect().Model(&rows)
	if build != nil {
		q = build(q)
	}
	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, Internal(err, "select "+entityName(PT(nil)))
	}

	out := make([]PT, 0, len(rows))
	for i := range rows {
		s.factory.stats.RecordEntityLoad()
		out = append(out, s.manage(PT(&rows[i])).(PT))
	}
	return out, nil
}

// FindByNaturalID loads an entity by a unique business key. For Cacheable
// entities the natural-id region maps the key to the primary key, and the
// entity itself then comes from Find.
func FindByNaturalID[T any, PT interface {
	*T
	Entity
}](ctx context.Context, s *Session, column string, value any) (PT, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	byColumn := func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.? = ?", bun.Ident(column), value)
	}

	c, ok := any(PT(new(T))).(Cacheable)
	if !ok || !s.factory.SecondLevelCacheEnabled() {
		return FindOne[T, PT](ctx, s, byColumn)
	}

	naturalIDs := s.factory.Region(c.CacheRegion(), cache.RegionNaturalID)
	key := naturalIDs.Key(value)
	if s.isTouched(key) {
		return FindOne[T, PT](ctx, s, byColumn)
	}

	var loaded PT
	id, err := cache.LoadOrFetch(ctx, naturalIDs, key, func(ctx context.Context) (string, error) {
		entity, err := FindOne[T, PT](ctx, s, byColumn)
		if err != nil {
			return "", err
		}
		loaded = entity
		return fmt.Sprint(entity.PrimaryKey()), nil
	})
	if err != nil {
		return nil, err
	}
	if loaded != nil {
		return loaded, nil
	}
	return Find[T, PT](ctx, s, id)
}

func (s *Session) entityRegion(entity Entity) *cache.Region {
	c, ok := entity.(Cacheable)
	if !ok || !s.factory.SecondLevelCacheEnabled() {
		return nil
	}
	return s.factory.Region(c.CacheRegion(), cache.RegionEntity)
}

func (s *Session) selectByID(ctx context.Context, entity Entity, id any) error {
	pk, err := primaryKeyColumn(s.factory.db, entity)
	if err != nil {
		return err
	}
	err = s.IDB().NewSelect().
		Model(entity).
		Where("?TableAlias.? = ?", bun.Ident(pk), id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NotFound(entityName(entity), id)
		}
		return Internal(err, "select "+entityName(entity))
	}
	s.factory.stats.RecordEntityLoad()
	return nil
}

func primaryKeyColumn(db *bun.DB, model any) (string, error) {
	t := reflect.TypeOf(model)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	table := db.Dialect().Tables().Get(t)
	if len(table.PKs) != 1 {
		return "", fmt.Errorf("%s: expected a single primary key column, found %d", t.Name(), len(table.PKs))
	}
	return table.PKs[0].Name, nil
}

// Merge copies the state of a detached entity onto the managed instance with
// the same primary key, loading it first if needed, and returns the managed
// instance. The detached value itself never becomes managed. Changes are
// written at the next Flush; a Versioned entity keeps the detached version so
// the update fails if the row moved on since it was read.
func Merge[T any, PT interface {
	*T
	Entity
}](ctx context.Context, s *Session, detached PT) (PT, error) {
	managed, err := Find[T, PT](ctx, s, detached.PrimaryKey())
	if err != nil {
		return nil, err
	}
	if managed != detached {
		*managed = *detached
	}
	return managed, nil
}
