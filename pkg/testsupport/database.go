package testsupport

import (
	"context"
	"fmt"
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/goliatone/go-orm-lab/internal/database"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

var (
	dbCounter  atomic.Int64
	unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]+`)
)

// NewTestDB opens a private in-memory SQLite database, creates the tables for
// models and closes the database when the test ends. The returned hook counts
// statements, so tests can assert that a cache hit issued no SQL.
func NewTestDB(t testing.TB, models ...any) (*bun.DB, *database.QueryHook) {
	t.Helper()
	return NewTestDBWithJoins(t, nil, models...)
}

// NewTestDBWithJoins is NewTestDB for models with many-to-many relations:
// joins are registered before the schema is created.
func NewTestDBWithJoins(t testing.TB, joins []any, models ...any) (*bun.DB, *database.QueryHook) {
	t.Helper()

	cfg := database.DefaultConfig()
	cfg.DSN = fmt.Sprintf("file:%s_%d?mode=memory&cache=shared",
		unsafeName.ReplaceAllString(t.Name(), "_"), dbCounter.Add(1))

	hook := database.NewQueryHook(zerolog.Nop())
	ctx := context.Background()

	db, err := database.Open(ctx, cfg, database.WithQueryHook(hook))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	database.RegisterModels(db, joins...)
	if err := database.CreateSchema(ctx, db, models...); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	hook.Reset()

	return db, hook
}
