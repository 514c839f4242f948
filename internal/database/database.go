package database

import (
	"context"
	"database/sql"

	goerrors "github.com/goliatone/go-errors"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	logger zerolog.Logger
	hook   *QueryHook
}

// WithLogger sets the logger for connection events and the SQL hook.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *openOptions) {
		o.logger = logger
	}
}

// WithQueryHook installs hook regardless of Config.LogQueries. Tests use it to
// count statements.
func WithQueryHook(hook *QueryHook) Option {
	return func(o *openOptions) {
		o.hook = hook
	}
}

// Open connects to the configured database and returns a bun.DB.
func Open(ctx context.Context, cfg Config, opts ...Option) (*bun.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := openOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	dsn := cfg.DSN
	var (
		driverName string
		dial       schema.Dialect
	)
	switch cfg.Driver {
	case DriverPostgres:
		driverName, dial = "postgres", pgdialect.New()
	default:
		if dsn == "" {
			dsn = InMemoryDSN
		}
		driverName, dial = "sqlite3", sqlitedialect.New()
	}

	sqldb, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "open database").
			WithTextCode("DB_OPEN_FAILED")
	}

	// Every connection to an in-memory database sees its own database unless
	// the pool is pinned to one connection.
	if cfg.inMemory() {
		sqldb.SetMaxOpenConns(1)
		sqldb.SetMaxIdleConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	db := bun.NewDB(sqldb, dial)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "ping database").
			WithTextCode("DB_UNREACHABLE").
			WithMetadata(map[string]any{"driver": cfg.Driver})
	}

	if cfg.Driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "enable sqlite foreign keys")
		}
	}

	hook := o.hook
	if hook == nil && cfg.LogQueries {
		hook = NewQueryHook(o.logger)
	}
	if hook != nil {
		db.AddQueryHook(hook)
	}

	o.logger.Info().
		Str("driver", cfg.Driver).
		Bool("log_queries", hook != nil).
		Msg("database connected")

	return db, nil
}

// SupportsRowLocks reports whether SELECT ... FOR UPDATE/SHARE is available.
// SQLite serializes writers at the database level and has no row locks.
func SupportsRowLocks(db bun.IDB) bool {
	return db.Dialect().Name() == dialect.PG
}

// IsPostgres reports whether db talks to Postgres.
func IsPostgres(db bun.IDB) bool {
	return db.Dialect().Name() == dialect.PG
}
