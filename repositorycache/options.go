package repositorycache

import (
	"github.com/goliatone/go-orm-lab/cache"
	"github.com/rs/zerolog"
)

// Option configures a CachedRepository.
type Option[T any] func(*CachedRepository[T])

// WithRegionName overrides the region name derived from T. The natural-id and
// query regions are named after it.
func WithRegionName[T any](name string) Option[T] {
	return func(c *CachedRepository[T]) {
		if name != "" {
			c.regionName = name
		}
	}
}

// WithStatistics reports region hits, misses and puts together with entity
// loads and writes.
func WithStatistics[T any](stats *cache.Statistics) Option[T] {
	return func(c *CachedRepository[T]) {
		c.stats = stats
	}
}

// WithLogger sets the logger used for invalidation failures and debug traces.
func WithLogger[T any](logger zerolog.Logger) Option[T] {
	return func(c *CachedRepository[T]) {
		c.logger = logger
	}
}

// WithIDFunc sets how the primary key of a record is read. The default looks
// for an ID field by reflection.
func WithIDFunc[T any](fn func(T) string) Option[T] {
	return func(c *CachedRepository[T]) {
		if fn != nil {
			c.idOf = fn
		}
	}
}

// WithNaturalIDFunc sets how the natural id of a record is read, so writes can
// evict its natural-id entry even when nothing resolved it in this process.
func WithNaturalIDFunc[T any](fn func(T) string) Option[T] {
	return func(c *CachedRepository[T]) {
		c.naturalIDOf = fn
	}
}
