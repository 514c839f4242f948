// Package cache holds the second-level cache building blocks shared by
// sessions and cached repositories.
//
// A CacheService is the provider contract: read-through GetOrFetch plus key,
// prefix and bulk invalidation. NewCacheService returns the sturdyc backed
// implementation.
//
// Regions partition a provider by key prefix. There are three kinds:
//
//   - RegionEntity: dehydrated entity state keyed by primary key
//   - RegionNaturalID: natural key to primary key
//   - RegionQuery: query results keyed by query name and parameters
//
// Entries are stored msgpack encoded, so every LoadOrFetch returns a fresh
// copy:
//
//	products := cache.NewRegion("products", cache.RegionEntity, svc, stats)
//	p, err := cache.LoadOrFetch(ctx, products, products.Key(id), func(ctx context.Context) (Product, error) {
//		return loadProduct(ctx, id)
//	})
//
// Statistics counts hits, misses and puts per region kind together with
// entity and transaction events. Counters are VictoriaMetrics counters and can
// be exported with WritePrometheus.
//
// # Keys
//
// KeySerializer turns a method name and arguments into a stable key. Values
// implementing CacheKeyer provide their own segment. time.Time is normalised to
// UTC, Stringer and TextMarshaler values use their text form, and everything
// else is walked by reflection. Function values serialize as their pointer,
// which is only stable within a process; give criteria a CacheKey method when
// keys must survive restarts. Segments longer than MaxSegmentLength are
// replaced by an xxhash digest.
package cache
