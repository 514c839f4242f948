package di

import (
	"context"
	"sync"

	"github.com/goliatone/go-orm-lab/basics"
	"github.com/goliatone/go-orm-lab/bestpractices"
	"github.com/goliatone/go-orm-lab/cache"
	"github.com/goliatone/go-orm-lab/caching"
	"github.com/goliatone/go-orm-lab/inheritance"
	"github.com/goliatone/go-orm-lab/internal/database"
	"github.com/goliatone/go-orm-lab/internal/demo"
	"github.com/goliatone/go-orm-lab/locking"
	"github.com/goliatone/go-orm-lab/querying"
	"github.com/goliatone/go-orm-lab/relationships"
	"github.com/goliatone/go-orm-lab/repositorycache"
	"github.com/goliatone/go-orm-lab/session"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// Config gathers everything the container needs to build the application.
type Config struct {
	Database database.Config
	Cache    cache.Config
	// Namespace prefixes the statistics metric names.
	Namespace string
	// ResetSchema drops module tables before the runner creates them.
	ResetSchema bool
	// Payments configures the gateway used by the inheritance demo.
	Payments inheritance.ProcessOptions
}

// DefaultConfig uses in-memory SQLite and the default cache settings.
func DefaultConfig() Config {
	return Config{
		Database:  database.DefaultConfig(),
		Cache:     cache.DefaultConfig(),
		Namespace: "ormlab",
	}
}

// Container provides dependency injection for the lab. It owns the database
// handle, the cache service, the statistics and the session factory, and
// builds the module demos over them.
type Container struct {
	config        Config
	logger        zerolog.Logger
	db            *bun.DB
	ownsDB        bool
	hook          *database.QueryHook
	cacheService  cache.CacheService
	keySerializer cache.KeySerializer
	stats         *cache.Statistics
	factory       *session.Factory

	catalogOnce sync.Once
	catalog     *caching.Catalog
}

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger shared by every component.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Container) {
		c.logger = logger
	}
}

// WithDB uses an already open database instead of opening Config.Database.
// The container does not close it.
func WithDB(db *bun.DB, hook *database.QueryHook) Option {
	return func(c *Container) {
		c.db = db
		c.hook = hook
	}
}

// NewContainer creates a container. It validates the cache configuration and
// opens the database unless WithDB supplied one.
func NewContainer(ctx context.Context, config Config, opts ...Option) (*Container, error) {
	c := &Container{
		config: config,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	cacheService, err := cache.NewCacheService(config.Cache)
	if err != nil {
		return nil, err
	}
	c.cacheService = cacheService
	c.keySerializer = cache.NewDefaultKeySerializer()
	c.stats = cache.NewStatistics(config.Namespace)

	if c.db == nil {
		hookLogger := zerolog.Nop()
		if config.Database.LogQueries {
			hookLogger = c.logger.With().Str("component", "sql").Logger()
		}
		c.hook = database.NewQueryHook(hookLogger)

		db, err := database.Open(ctx, config.Database,
			database.WithLogger(c.logger),
			database.WithQueryHook(c.hook),
		)
		if err != nil {
			return nil, err
		}
		c.db = db
		c.ownsDB = true
	}

	c.factory = session.NewFactory(c.db,
		session.WithStatistics(c.stats),
		session.WithLogger(c.logger),
		session.WithSecondLevelCache(c.cacheService),
	)
	return c, nil
}

// NewContainerWithDefaults creates a container over DefaultConfig.
func NewContainerWithDefaults(ctx context.Context, opts ...Option) (*Container, error) {
	return NewContainer(ctx, DefaultConfig(), opts...)
}

// CacheService returns the second-level cache provider.
func (c *Container) CacheService() cache.CacheService {
	return c.cacheService
}

// KeySerializer returns the key serializer handed to cached repositories.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

// Config returns a copy of the container configuration.
func (c *Container) Config() Config {
	return c.config
}

func (c *Container) DB() *bun.DB { return c.db }
func (c *Container) QueryHook() *database.QueryHook { return c.hook }
func (c *Container) Statistics() *cache.Statistics { return c.stats }
func (c *Container) SessionFactory() *session.Factory { return c.factory }
func (c *Container) Logger() zerolog.Logger { return c.logger }

// Catalog returns the product catalog. It shares the cache service and the
// statistics with the session factory.
func (c *Container) Catalog() *caching.Catalog {
	c.catalogOnce.Do(func() {
		c.catalog = caching.NewCatalog(c.db, c.cacheService, c.stats, c.logger)
	})
	return c.catalog
}

// Modules builds every demo in the order they are meant to be read.
func (c *Container) Modules() []demo.Module {
	return []demo.Module{
		{
			Name:        "basics",
			Description: "entity mapping, validation, DAO CRUD and transaction boundaries",
			Models:      basics.Models(),
			Run:         basics.NewDemo(c.factory).Run,
		},
		{
			Name:        "caching",
			Description: "first-level, second-level, natural-id and query caches",
			Models:      caching.Models(),
			Run:         caching.NewDemo(c.factory, c.Catalog()).Run,
		},
		{
			Name:        "querying",
			Description: "query builder, criteria, raw SQL and named queries",
			Models:      querying.Models(),
			Run:         querying.NewDemo(c.db, c.logger).Run,
		},
		{
			Name:        "inheritance",
			Description: "single table, joined and table per class strategies",
			Models:      inheritance.Models(),
			Run:         inheritance.NewDemo(c.db, c.logger).WithProcessOptions(c.config.Payments).Run,
		},
		{
			Name:        "relationships",
			Description: "one-to-one, one-to-many and many-to-many associations",
			Models:      relationships.Models(),
			JoinModels:  relationships.JoinModels(),
			Run:         relationships.NewDemo(c.factory).Run,
		},
		{
			Name:        "locking",
			Description: "optimistic versioning and pessimistic row locks",
			Models:      locking.Models(),
			Run:         locking.NewDemo(c.factory).Run,
		},
		{
			Name:        "bestpractices",
			Description: "audit columns, natural ids, batching and error handling",
			Models:      bestpractices.Models(),
			Run:         bestpractices.NewDemo(c.factory).Run,
		},
	}
}

// Registry returns a registry holding Modules.
func (c *Container) Registry() (*demo.Registry, error) {
	return demo.NewRegistry(c.Modules()...)
}

// Runner returns a runner over the container database and registry.
func (c *Container) Runner() (*demo.Runner, error) {
	registry, err := c.Registry()
	if err != nil {
		return nil, err
	}
	return demo.NewRunner(c.db, registry,
		demo.WithLogger(c.logger),
		demo.WithResetSchema(c.config.ResetSchema),
	), nil
}

// Close closes the database when the container opened it.
func (c *Container) Close() error {
	if c.ownsDB && c.db != nil {
		return c.db.Close()
	}
	return nil
}

// NewCachedRepository creates a cached repository that wraps the provided base
// repository, sharing the container cache service and statistics.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewCachedRepository[*Product](container, baseProductRepository)
func NewCachedRepository[T any](container *Container, base repository.Repository[T], opts ...repositorycache.Option[T]) *repositorycache.CachedRepository[T] {
	opts = append([]repositorycache.Option[T]{
		repositorycache.WithStatistics[T](container.stats),
		repositorycache.WithLogger[T](container.logger),
	}, opts...)
	return repositorycache.New(base, container.cacheService, container.keySerializer, opts...)
}
