package session

import (
	"context"

	"github.com/goliatone/go-orm-lab/cache"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// Factory is shared by the whole application. It owns the database handle,
// the second-level cache regions and the statistics; sessions are cheap and
// short lived.
type Factory struct {
	db      *bun.DB
	stats   *cache.Statistics
	logger  zerolog.Logger
	cache   cache.CacheService
	regions *xsync.MapOf[string, *cache.Region]
}

// Option configures a Factory.
type Option func(*Factory)

// WithStatistics sets the statistics the factory and its sessions report to.
func WithStatistics(stats *cache.Statistics) Option {
	return func(f *Factory) {
		f.stats = stats
	}
}

// WithLogger sets the factory logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithSecondLevelCache enables the second-level cache for Cacheable entities.
func WithSecondLevelCache(svc cache.CacheService) Option {
	return func(f *Factory) {
		f.cache = svc
	}
}

// NewFactory creates a session factory over db.
func NewFactory(db *bun.DB, opts ...Option) *Factory {
	f := &Factory{
		db:      db,
		logger:  zerolog.Nop(),
		regions: xsync.NewMapOf[string, *cache.Region](),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.stats == nil {
		f.stats = cache.NewStatistics("")
	}
	return f
}

// DB returns the database handle.
func (f *Factory) DB() *bun.DB { return f.db }

// Statistics returns the factory statistics.
func (f *Factory) Statistics() *cache.Statistics { return f.stats }

// Logger returns the factory logger.
func (f *Factory) Logger() zerolog.Logger { return f.logger }

// SecondLevelCacheEnabled reports whether a cache provider is configured.
func (f *Factory) SecondLevelCacheEnabled() bool { return f.cache != nil }

// OpenSession starts a new unit of work.
func (f *Factory) OpenSession() *Session {
	return newSession(f)
}

// Region returns the region with the given name and kind, creating it on first use.
// It returns nil when the second-level cache is disabled.
func (f *Factory) Region(name string, kind cache.RegionKind) *cache.Region {
	if f.cache == nil {
		return nil
	}
	region, _ := f.regions.LoadOrCompute(regionID(name, kind), func() *cache.Region {
		return cache.NewRegion(regionID(name, kind), kind, f.cache, f.stats)
	})
	return region
}

func regionID(name string, kind cache.RegionKind) string {
	switch kind {
	case cache.RegionNaturalID:
		return name + "_nid"
	case cache.RegionQuery:
		return name + "_query"
	default:
		return name
	}
}

// EvictEntity drops one entity from its second-level region.
func (f *Factory) EvictEntity(ctx context.Context, entity Cacheable) error {
	region := f.Region(entity.CacheRegion(), cache.RegionEntity)
	if region == nil {
		return nil
	}
	return region.Evict(ctx, region.Key(entity.PrimaryKey()))
}

// EvictRegion drops every entry of a region and of its natural-id and query
// companions.
func (f *Factory) EvictRegion(ctx context.Context, name string) error {
	if f.cache == nil {
		return nil
	}
	for _, kind := range []cache.RegionKind{cache.RegionEntity, cache.RegionNaturalID, cache.RegionQuery} {
		if err := f.Region(name, kind).Clear(ctx); err != nil {
			return err
		}
	}
	return nil
}

// EvictAll clears every region created through this factory.
func (f *Factory) EvictAll(ctx context.Context) error {
	var first error
	f.regions.Range(func(_ string, region *cache.Region) bool {
		if err := region.Clear(ctx); err != nil && first == nil {
			first = err
		}
		return true
	})
	return first
}

// RunInTx opens a session, begins a transaction and runs fn. The transaction
// commits when fn returns nil and rolls back on error. A panic rolls back and
// is re-raised. The session is closed afterwards.
func (f *Factory) RunInTx(ctx context.Context, fn func(ctx context.Context, s *Session) error) (err error) {
	s := f.OpenSession()
	defer func() {
		if closeErr := s.Close(ctx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err := s.Begin(ctx); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if rbErr := s.Rollback(ctx); rbErr != nil {
				f.logger.Error().Err(rbErr).Msg("rollback after panic failed")
			}
			panic(r)
		}
	}()

	if err := fn(ctx, s); err != nil {
		if rbErr := s.Rollback(ctx); rbErr != nil {
			f.logger.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	return s.Commit(ctx)
}
