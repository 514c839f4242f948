package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type widget struct {
	bun.BaseModel `bun:"table:widgets"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull,unique"`
}

type widgetPart struct {
	bun.BaseModel `bun:"table:widget_parts"`

	ID       int64   `bun:"id,pk,autoincrement"`
	WidgetID int64   `bun:"widget_id,notnull"`
	Widget   *widget `bun:"rel:belongs-to,join:widget_id=id"`
}

func memoryConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "postgres preset", mutate: func(c *Config) { *c = PostgresConfig() }},
		{name: "unknown driver", mutate: func(c *Config) { c.Driver = "oracle" }, wantErr: true},
		{name: "empty driver", mutate: func(c *Config) { c.Driver = "" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Driver = DriverPostgres; c.DSN = "" }, wantErr: true},
		{name: "sqlite without dsn", mutate: func(c *Config) { c.DSN = "" }},
		{name: "negative pool", mutate: func(c *Config) { c.MaxOpenConns = -1 }, wantErr: true},
		{name: "negative lifetime", mutate: func(c *Config) { c.ConnMaxLifetime = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var richErr *goerrors.Error
			require.True(t, errors.As(err, &richErr))
			assert.Equal(t, goerrors.CategoryValidation, richErr.Category)
		})
	}
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	hook := NewQueryHook(zerolog.Nop())

	db, err := Open(ctx, memoryConfig(t), WithQueryHook(hook))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.False(t, SupportsRowLocks(db))
	assert.False(t, IsPostgres(db))
	assert.Equal(t, 1, db.DB.Stats().MaxOpenConnections)

	require.NoError(t, CreateSchema(ctx, db, (*widget)(nil), (*widgetPart)(nil)))
	before := hook.Queries()

	w := &widget{Name: "gear"}
	_, err = db.NewInsert().Model(w).Exec(ctx)
	require.NoError(t, err)
	assert.NotZero(t, w.ID)
	assert.Equal(t, before+1, hook.Queries())

	hook.Reset()
	assert.Zero(t, hook.Queries())
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	require.Error(t, err)
}

func TestSchemaLifecycle(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, memoryConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	models := []any{(*widget)(nil), (*widgetPart)(nil)}
	require.NoError(t, CreateSchema(ctx, db, models...))
	require.NoError(t, CreateSchema(ctx, db, models...), "creating twice must be a no-op")

	w := &widget{Name: "sprocket"}
	_, err = db.NewInsert().Model(w).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(&widgetPart{WidgetID: w.ID}).Exec(ctx)
	require.NoError(t, err)

	_, err = db.NewInsert().Model(&widgetPart{WidgetID: 999}).Exec(ctx)
	assert.Error(t, err, "foreign keys must be enforced")

	require.NoError(t, Truncate(ctx, db, models...))
	n, err := db.NewSelect().Model((*widget)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = db.NewInsert().Model(&widget{Name: "sprocket"}).Exec(ctx)
	require.NoError(t, err)
	require.NoError(t, ResetSchema(ctx, db, models...))
	n, err = db.NewSelect().Model((*widget)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueryHook_LogsStatements(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	cfg := memoryConfig(t)
	cfg.LogQueries = true
	db, err := Open(ctx, cfg, WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, CreateSchema(ctx, db, (*widget)(nil)))
	_, err = db.NewSelect().Model((*widget)(nil)).Where("name = ?", "missing").Exists(ctx)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"message":"sql"`)
	assert.Contains(t, out, `"operation":"SELECT"`)
	assert.Contains(t, out, "widgets")

	buf.Reset()
	_, err = db.ExecContext(ctx, "SELECT * FROM no_such_table")
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}
