// Package repositorycache decorates go-repository-bun repositories with a
// second-level cache.
//
// A CachedRepository owns three regions named after the entity type, e.g. for
// *Product:
//
//	products        entity region, GetByID without criteria
//	products_nid    natural-id region, identifier -> primary key
//	products_query  query region, Get/List/Count and criteria lookups
//
// GetByIdentifier first resolves the identifier through the natural-id region
// and then loads the record through the entity region, so a later GetByID for
// the same record is a cache hit.
//
//	base := repository.NewRepository[*Product](db, handlers)
//	products := repositorycache.New(base, svc, nil,
//		repositorycache.WithStatistics[*Product](stats),
//		repositorycache.WithNaturalIDFunc(func(p *Product) string { return p.SKU }),
//	)
//
// Writes that succeed evict the written records from the entity and natural-id
// regions and clear the query region. Criteria based deletes clear all three.
// The *Tx read methods always go to the database.
//
// Criteria are functions, and functions serialize by code pointer. Two
// closures created from the same literal therefore share a key. Name such
// queries with WithQueryKey:
//
//	ctx = repositorycache.WithQueryKey(ctx, "search", prefix)
//	list, total, err := products.List(ctx, skuPrefix(prefix))
//
// WithCacheTags and InvalidateTags group keys across regions for targeted
// eviction.
package repositorycache
