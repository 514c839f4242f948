package di

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goliatone/go-orm-lab/caching"
	"github.com/goliatone/go-orm-lab/internal/database"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/shopspring/decimal"
)

func TestContainer_RunsEveryModule(t *testing.T) {
	ctx := context.Background()
	container := newTestContainer(t)

	runner, err := container.Runner()
	if err != nil {
		t.Fatalf("Runner() failed: %v", err)
	}

	results, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if len(results) != 7 {
		t.Fatalf("Expected 7 results, got %d", len(results))
	}
	for _, res := range results {
		if res.Err != nil {
			t.Errorf("module %s failed: %v", res.Module, res.Err)
		}
		if res.Duration <= 0 {
			t.Errorf("module %s has no duration", res.Module)
		}
	}

	var out bytes.Buffer
	container.Statistics().WritePrometheus(&out)
	if !strings.Contains(out.String(), "di_test_second_level_cache_hit_total") {
		t.Errorf("expected second-level counters in the exposition, got:\n%s", out.String())
	}
}

func TestContainer_RunSelectedModules(t *testing.T) {
	ctx := context.Background()
	container := newTestContainer(t)

	runner, err := container.Runner()
	if err != nil {
		t.Fatalf("Runner() failed: %v", err)
	}

	if _, err := runner.Run(ctx, "relationships", "nope"); err == nil {
		t.Fatal("unknown module should fail the run")
	}
	if exists(t, container, "authors") {
		t.Fatal("no schema should be created when a module name is unknown")
	}

	results, err := runner.Run(ctx, "relationships")
	if err != nil {
		t.Fatalf("Run(relationships) failed: %v", err)
	}
	if len(results) != 1 || results[0].Module != "relationships" {
		t.Fatalf("unexpected results %+v", results)
	}
	if !exists(t, container, "authors") {
		t.Error("relationships tables should exist after the run")
	}
}

func TestNewCachedRepository(t *testing.T) {
	ctx := context.Background()
	container := newTestContainer(t)

	if err := database.CreateSchema(ctx, container.DB(), caching.Models()...); err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}

	base := repository.NewRepository[*caching.Product](container.DB(), caching.Handlers())
	repo := NewCachedRepository[*caching.Product](container, base)

	product := caching.NewProduct("DI-0001", "Container product", decimal.RequireFromString("10.00"))
	created, err := repo.Create(ctx, product)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	hook := container.QueryHook()
	hook.Reset()
	for range 3 {
		got, err := repo.GetByID(ctx, created.ID.String())
		if err != nil {
			t.Fatalf("GetByID() failed: %v", err)
		}
		if got.SKU != "DI-0001" {
			t.Errorf("Expected SKU DI-0001, got %q", got.SKU)
		}
	}
	if hook.Queries() != 1 {
		t.Errorf("Expected one statement for three cached reads, got %d", hook.Queries())
	}

	snap := container.Statistics().Snapshot()
	if snap.SecondLevelCacheMisses != 1 || snap.SecondLevelCacheHits != 2 {
		t.Errorf("Expected 1 miss and 2 hits, got %d and %d", snap.SecondLevelCacheMisses, snap.SecondLevelCacheHits)
	}
}

func TestContainer_Perf(t *testing.T) {
	ctx := context.Background()
	container := newTestContainer(t)

	if err := database.CreateSchema(ctx, container.DB(), caching.Models()...); err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}

	report, err := caching.Perf(ctx, container.Catalog(), container.QueryHook(), 5, 50)
	if err != nil {
		t.Fatalf("Perf() failed: %v", err)
	}
	if report.UncachedQueries != 50 {
		t.Errorf("Expected 50 uncached statements, got %d", report.UncachedQueries)
	}
	if report.CachedQueries != 5 {
		t.Errorf("Expected 5 cached statements, got %d", report.CachedQueries)
	}
}

func exists(t *testing.T, container *Container, table string) bool {
	t.Helper()
	var n int
	err := container.DB().NewRaw("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).
		Scan(context.Background(), &n)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return n > 0
}
