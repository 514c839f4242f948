package caching

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-orm-lab/cache"
	"github.com/goliatone/go-orm-lab/repositorycache"
	"github.com/goliatone/go-orm-lab/session"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

var (
	// ErrDuplicateSKU is returned when a product with the same SKU exists.
	ErrDuplicateSKU = errors.New("duplicate sku")
	// ErrInsufficientStock is returned when a stock adjustment would go negative.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Catalog is the product service. Reads go through the cached repository, so
// they are served by the entity, natural-id and query regions; writes evict
// what they change.
type Catalog struct {
	repo   *repositorycache.CachedRepository[*Product]
	stats  *cache.Statistics
	logger zerolog.Logger
}

// NewCatalog creates a catalog over db. The regions share svc and stats with
// any session factory configured with the same cache service, so sessions
// and the catalog see each other's entries.
func NewCatalog(db *bun.DB, svc cache.CacheService, stats *cache.Statistics, logger zerolog.Logger) *Catalog {
	base := repository.NewRepository[*Product](db, Handlers())
	repo := repositorycache.New[*Product](base, svc, cache.NewDefaultKeySerializer(),
		repositorycache.WithRegionName[*Product](RegionName),
		repositorycache.WithStatistics[*Product](stats),
		repositorycache.WithLogger[*Product](logger),
		repositorycache.WithIDFunc[*Product](func(p *Product) string { return p.ID.String() }),
		repositorycache.WithNaturalIDFunc[*Product](func(p *Product) string { return p.SKU }),
	)
	return &Catalog{
		repo:   repo,
		stats:  stats,
		logger: logger.With().Str("service", "catalog").Logger(),
	}
}

// Repository returns the cached repository behind the catalog.
func (c *Catalog) Repository() *repositorycache.CachedRepository[*Product] {
	return c.repo
}

// Create validates and inserts a product. SKUs are unique.
func (c *Catalog) Create(ctx context.Context, p *Product) (*Product, error) {
	if err := p.Validate(); err != nil {
		return nil, session.ValidationFailed("Product", err)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	existing, err := c.repo.Base().Count(ctx, bySKU(p.SKU))
	if err != nil {
		return nil, session.Internal(err, "count products by sku")
	}
	if existing > 0 {
		return nil, duplicateSKU(p.SKU)
	}

	created, err := c.repo.Create(ctx, p)
	if err != nil {
		return nil, session.Internal(err, "insert product")
	}
	c.logger.Debug().Str("sku", created.SKU).Stringer("id", created.ID).Msg("product created")
	return created, nil
}

// Get loads a product by id through the entity region.
func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (*Product, error) {
	p, err := c.repo.GetByID(ctx, id.String())
	if err != nil {
		return nil, mapNotFound(err, id)
	}
	return p, nil
}

// GetBySKU loads a product by its natural id through the natural-id region.
func (c *Catalog) GetBySKU(ctx context.Context, sku string) (*Product, error) {
	p, err := c.repo.GetByIdentifier(ctx, sku)
	if err != nil {
		return nil, mapNotFound(err, sku)
	}
	return p, nil
}

// Search lists active products whose SKU starts with prefix, ordered by SKU.
// Results are kept in the query region until a product is written.
func (c *Catalog) Search(ctx context.Context, prefix string) ([]*Product, error) {
	ctx = repositorycache.WithQueryKey(ctx, "search", prefix)
	products, _, err := c.repo.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.
			Where("?TableAlias.sku LIKE ?", prefix+"%").
			Where("?TableAlias.active = ?", true).
			OrderExpr("?TableAlias.sku ASC")
	})
	if err != nil {
		return nil, session.Internal(err, "search products")
	}
	return products, nil
}

// CountActive counts active products through the query region.
func (c *Catalog) CountActive(ctx context.Context) (int, error) {
	ctx = repositorycache.WithQueryKey(ctx, "count-active")
	n, err := c.repo.Count(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.active = ?", true)
	})
	if err != nil {
		return 0, session.Internal(err, "count active products")
	}
	return n, nil
}

// UpdatePrice changes the price of a product.
func (c *Catalog) UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (*Product, error) {
	return c.modify(ctx, id, func(p *Product) error {
		p.Price = price
		return nil
	})
}

// AdjustStock adds delta to the stock of a product. Stock never goes negative.
func (c *Catalog) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (*Product, error) {
	return c.modify(ctx, id, func(p *Product) error {
		if p.StockQuantity+delta < 0 {
			return goerrors.Wrap(ErrInsufficientStock, goerrors.CategoryConflict,
				fmt.Sprintf("product %s has %d in stock, cannot remove %d", p.SKU, p.StockQuantity, -delta)).
				WithTextCode("INSUFFICIENT_STOCK")
		}
		p.StockQuantity += delta
		return nil
	})
}

// Deactivate hides a product from searches.
func (c *Catalog) Deactivate(ctx context.Context, id uuid.UUID) (*Product, error) {
	return c.modify(ctx, id, func(p *Product) error {
		p.Active = false
		return nil
	})
}

func (c *Catalog) modify(ctx context.Context, id uuid.UUID, change func(*Product) error) (*Product, error) {
	p, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := change(p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, session.ValidationFailed("Product", err)
	}
	p.UpdatedDate = time.Now().UTC()
	updated, err := c.repo.Update(ctx, p, mutableColumns(p))
	if err != nil {
		return nil, session.Internal(err, "update product")
	}
	return updated, nil
}

// mutableColumns names every column a catalog write may change. Explicit SET
// clauses keep zero values such as active=false or a stock of 0 in the UPDATE.
func mutableColumns(p *Product) repository.UpdateCriteria {
	return func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("name = ?", p.Name).
			Set("description = ?", p.Description).
			Set("price = ?", p.Price).
			Set("stock_quantity = ?", p.StockQuantity).
			Set("category = ?", p.Category).
			Set("active = ?", p.Active).
			Set("updated_date = ?", p.UpdatedDate)
	}
}

// Delete removes a product.
func (c *Catalog) Delete(ctx context.Context, id uuid.UUID) error {
	p, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.repo.Delete(ctx, p); err != nil {
		return session.Internal(err, "delete product")
	}
	return nil
}

// Evict drops products from the entity and natural-id regions.
func (c *Catalog) Evict(ctx context.Context, products ...*Product) error {
	return c.repo.Evict(ctx, products...)
}

// EvictAll clears every product region.
func (c *Catalog) EvictAll(ctx context.Context) error {
	return c.repo.EvictAll(ctx)
}

func bySKU(sku string) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.sku = ?", sku)
	}
}

func duplicateSKU(sku string) error {
	return goerrors.Wrap(ErrDuplicateSKU, goerrors.CategoryConflict, fmt.Sprintf("product with sku %s already exists", sku)).
		WithTextCode("DUPLICATE_KEY").
		WithMetadata(map[string]any{"sku": sku})
}

func mapNotFound(err error, key any) error {
	if errors.Is(err, sql.ErrNoRows) || session.HasCategory(err, goerrors.CategoryNotFound) {
		return session.NotFound("Product", key)
	}
	return err
}
