package caching

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-orm-lab/cache"
	"github.com/goliatone/go-orm-lab/internal/database"
	"github.com/goliatone/go-orm-lab/session"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PerfReport compares reading the same products with and without the
// second-level cache.
type PerfReport struct {
	Products int
	Reads    int

	Uncached        time.Duration
	UncachedQueries int64
	Cached          time.Duration
	CachedQueries   int64

	Statistics cache.Snapshot
}

// Speedup is the uncached duration divided by the cached one.
func (r PerfReport) Speedup() float64 {
	if r.Cached <= 0 {
		return 0
	}
	return float64(r.Uncached) / float64(r.Cached)
}

// Perf seeds products through the catalog, then reads them reads times in a
// round robin, once straight from the database and once through the catalog.
// hook is optional; when set the report carries the statements each pass issued.
func Perf(ctx context.Context, catalog *Catalog, hook *database.QueryHook, products, reads int) (PerfReport, error) {
	report := PerfReport{Products: products, Reads: reads}
	if products <= 0 || reads <= 0 {
		return report, session.ValidationFailed("perf", fmt.Errorf("products and reads must be positive, got %d and %d", products, reads))
	}

	ids := make([]uuid.UUID, 0, products)
	for i := range products {
		p := NewProduct(fmt.Sprintf("PERF-%06d", i), fmt.Sprintf("Perf product %d", i), decimal.NewFromInt(int64(i%100)+1))
		p.Category = "Benchmark"
		created, err := catalog.Create(ctx, p)
		if err != nil {
			return report, err
		}
		ids = append(ids, created.ID)
	}
	if err := catalog.EvictAll(ctx); err != nil {
		return report, err
	}

	base := catalog.repo.Base()
	queries := func() int64 {
		if hook == nil {
			return 0
		}
		return hook.Queries()
	}

	before := queries()
	start := time.Now()
	for i := range reads {
		if _, err := base.GetByID(ctx, ids[i%len(ids)].String()); err != nil {
			return report, session.Internal(err, "uncached read")
		}
	}
	report.Uncached = time.Since(start)
	report.UncachedQueries = queries() - before

	catalog.stats.Clear()
	before = queries()
	start = time.Now()
	for i := range reads {
		if _, err := catalog.Get(ctx, ids[i%len(ids)]); err != nil {
			return report, err
		}
	}
	report.Cached = time.Since(start)
	report.CachedQueries = queries() - before
	report.Statistics = catalog.stats.Snapshot()

	return report, nil
}
