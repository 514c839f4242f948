package caching

import (
	"context"
	"fmt"

	"github.com/goliatone/go-orm-lab/cache"
	"github.com/goliatone/go-orm-lab/session"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Models lists the tables of this module.
func Models() []any {
	return []any{(*Product)(nil)}
}

// Demo shows each cache layer in isolation. Every section clears the
// statistics first and logs the counters it moved.
type Demo struct {
	factory *session.Factory
	catalog *Catalog
	logger  zerolog.Logger
}

// NewDemo creates the demo. The factory should have the second-level cache
// enabled and share its cache service with catalog.
func NewDemo(factory *session.Factory, catalog *Catalog) *Demo {
	return &Demo{
		factory: factory,
		catalog: catalog,
		logger:  factory.Logger().With().Str("module", "caching").Logger(),
	}
}

// Run executes every section in order.
func (d *Demo) Run(ctx context.Context) error {
	for _, section := range []struct {
		name string
		run  func(context.Context) error
	}{
		{"first level cache", d.FirstLevelCache},
		{"second level cache", d.SecondLevelCache},
		{"natural id cache", d.NaturalIDCache},
		{"query cache", d.QueryCache},
	} {
		if err := section.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", section.name, err)
		}
	}
	return nil
}

// FirstLevelCache loads the same product twice in one session. Only the
// insert reaches the database; both loads come from the identity map.
func (d *Demo) FirstLevelCache(ctx context.Context) error {
	d.factory.Statistics().Clear()

	err := d.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		p := NewProduct("FL-TEST-0001", "First Level Cache Test", decimal.RequireFromString("99.99"))
		if err := s.Persist(ctx, p); err != nil {
			return err
		}
		first, err := session.Find[Product](ctx, s, p.ID)
		if err != nil {
			return err
		}
		second, err := session.Find[Product](ctx, s, p.ID)
		if err != nil {
			return err
		}
		d.logger.Info().Str("name", first.Name).Bool("same_instance", first == second).Msg("loaded twice from the session")
		return nil
	})
	if err != nil {
		return err
	}
	d.logStatistics("first level cache")
	return nil
}

// SecondLevelCache saves a product in one session and loads it from two
// later sessions. The first later load misses and fills the region, the
// second is a hit.
func (d *Demo) SecondLevelCache(ctx context.Context) error {
	d.factory.Statistics().Clear()

	p := NewProduct("SL-TEST-0001", "Second Level Cache Test", decimal.RequireFromString("149.99"))
	err := d.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		return s.Persist(ctx, p)
	})
	if err != nil {
		return err
	}

	for i := 0; i < 2; i++ {
		s := d.factory.OpenSession()
		loaded, err := session.Find[Product](ctx, s, p.ID)
		_ = s.Close(ctx)
		if err != nil {
			return err
		}
		d.logger.Info().Int("session", i+1).Str("name", loaded.Name).Msg("loaded in a new session")
	}
	d.logStatistics("second level cache")
	return nil
}

// NaturalIDCache resolves a product by SKU from two sessions and then twice
// through the catalog, which shares the natural-id region.
func (d *Demo) NaturalIDCache(ctx context.Context) error {
	d.factory.Statistics().Clear()

	p := NewProduct("NI-TEST-0001", "Natural ID Cache Test", decimal.RequireFromString("199.99"))
	if err := d.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		return s.Persist(ctx, p)
	}); err != nil {
		return err
	}

	for i := 0; i < 2; i++ {
		s := d.factory.OpenSession()
		loaded, err := session.FindByNaturalID[Product](ctx, s, "sku", p.SKU)
		_ = s.Close(ctx)
		if err != nil {
			return err
		}
		d.logger.Info().Int("session", i+1).Str("name", loaded.Name).Msg("natural id load")
	}

	for i := 0; i < 2; i++ {
		loaded, err := d.catalog.GetBySKU(ctx, p.SKU)
		if err != nil {
			return err
		}
		d.logger.Info().Int("call", i+1).Stringer("id", loaded.ID).Msg("catalog lookup by sku")
	}
	d.logStatistics("natural id cache")
	return nil
}

// QueryCache runs the same search twice. The second run is answered by the
// query region; a price change then invalidates it.
func (d *Demo) QueryCache(ctx context.Context) error {
	d.factory.Statistics().Clear()

	var first *Product
	for i, sku := range []string{"QC-TEST-0001", "QC-TEST-0002"} {
		p, err := d.catalog.Create(ctx, NewProduct(sku, fmt.Sprintf("Query Cache Test %d", i+1), decimal.NewFromInt(int64(299+100*i)).Add(decimal.RequireFromString("0.99"))))
		if err != nil {
			return err
		}
		if first == nil {
			first = p
		}
	}

	for i := 0; i < 2; i++ {
		products, err := d.catalog.Search(ctx, "QC-TEST")
		if err != nil {
			return err
		}
		d.logger.Info().Int("query", i+1).Int("count", len(products)).Msg("search")
	}

	if _, err := d.catalog.UpdatePrice(ctx, first.ID, decimal.RequireFromString("249.99")); err != nil {
		return err
	}
	products, err := d.catalog.Search(ctx, "QC-TEST")
	if err != nil {
		return err
	}
	d.logger.Info().Int("count", len(products)).Msg("search after price change")
	d.logStatistics("query cache")
	return nil
}

func (d *Demo) logStatistics(section string) {
	logSnapshot(d.logger, section, d.factory.Statistics().Snapshot())
}

func logSnapshot(logger zerolog.Logger, section string, snap cache.Snapshot) {
	logger.Info().
		Str("section", section).
		Uint64("second_level_hits", snap.SecondLevelCacheHits).
		Uint64("second_level_misses", snap.SecondLevelCacheMisses).
		Uint64("second_level_puts", snap.SecondLevelCachePuts).
		Uint64("natural_id_hits", snap.NaturalIDCacheHits).
		Uint64("natural_id_misses", snap.NaturalIDCacheMisses).
		Uint64("query_hits", snap.QueryCacheHits).
		Uint64("query_misses", snap.QueryCacheMisses).
		Uint64("query_puts", snap.QueryCachePuts).
		Uint64("entity_loads", snap.EntityLoads).
		Msg("cache statistics")
}
