package caching

import (
	"context"
	"errors"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// RegionName is the second-level cache region of products. Sessions and the
// catalog repository share it.
const RegionName = "products"

var skuPattern = regexp.MustCompile(`^[A-Z0-9-]{4,50}$`)

// Product is cacheable in every layer: its state in the entity region, its
// SKU in the natural-id region and catalog searches in the query region.
type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID            uuid.UUID       `bun:"id,pk,type:uuid"`
	SKU           string          `bun:"sku,notnull,unique,type:varchar(50)"`
	Name          string          `bun:"name,notnull,type:varchar(100)"`
	Description   string          `bun:"description,notnull,type:varchar(255)"`
	Price         decimal.Decimal `bun:"price,notnull,type:decimal(19,2)"`
	StockQuantity int             `bun:"stock_quantity,notnull"`
	Category      string          `bun:"category,notnull,type:varchar(50)"`
	Active        bool            `bun:"active,notnull"`
	CreatedDate   time.Time       `bun:"created_date,notnull"`
	UpdatedDate   time.Time       `bun:"updated_date,nullzero"`
}

// NewProduct returns an active product with a fresh id.
func NewProduct(sku, name string, price decimal.Decimal) *Product {
	return &Product{
		ID:          uuid.New(),
		SKU:         sku,
		Name:        name,
		Description: "Description of " + name,
		Price:       price,
		Category:    "General",
		Active:      true,
	}
}

func (p *Product) PrimaryKey() any     { return p.ID }
func (p *Product) CacheRegion() string { return RegionName }
func (p *Product) NaturalKey() string  { return p.SKU }

// BeforeAppendModel stamps the creation and update times.
func (p *Product) BeforeAppendModel(_ context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if p.CreatedDate.IsZero() {
			p.CreatedDate = now
		}
		p.UpdatedDate = now
	case *bun.UpdateQuery:
		p.UpdatedDate = now
	}
	return nil
}

// Validate checks the product before it is written.
func (p *Product) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.SKU, validation.Required, validation.Match(skuPattern)),
		validation.Field(&p.Name, validation.Required, validation.Length(5, 100)),
		validation.Field(&p.Description, validation.Required, validation.Length(5, 255)),
		validation.Field(&p.Price, validation.By(positive)),
		validation.Field(&p.StockQuantity, validation.Min(0)),
		validation.Field(&p.Category, validation.Required, validation.Length(5, 50)),
	)
}

func positive(value any) error {
	price, _ := value.(decimal.Decimal)
	if !price.IsPositive() {
		return errors.New("must be positive")
	}
	return nil
}

// Handlers wires Product into the generic repository. The SKU is the
// identifier used by GetByIdentifier.
func Handlers() repository.ModelHandlers[*Product] {
	return repository.ModelHandlers[*Product]{
		NewRecord: func() *Product {
			return &Product{}
		},
		GetID: func(p *Product) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Product, id uuid.UUID) {
			p.ID = id
		},
		GetIdentifier: func() string {
			return "sku"
		},
	}
}
