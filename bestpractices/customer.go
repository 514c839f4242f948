package bestpractices

import (
	"context"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/uptrace/bun"
)

// RegionName is the second-level cache region of customers.
const RegionName = "customers"

// SystemActor is recorded in audit columns when the context names no actor.
const SystemActor = "system"

var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// CustomerStatus is stored by name.
type CustomerStatus string

const (
	CustomerActive    CustomerStatus = "ACTIVE"
	CustomerSuspended CustomerStatus = "SUSPENDED"
	CustomerInactive  CustomerStatus = "INACTIVE"
	CustomerBlocked   CustomerStatus = "BLOCKED"
)

type actorKey struct{}

// WithActor returns a context whose writes are audited as actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor of ctx, or SystemActor.
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}

// Customer is identified by its email, which is also its natural id. Audit
// columns are maintained by the insert and update hooks.
type Customer struct {
	bun.BaseModel `bun:"table:customers,alias:cu"`

	ID          int64          `bun:"id,pk,autoincrement" json:"id"`
	Email       string         `bun:"email,unique,notnull" json:"email"`
	FirstName   string         `bun:"first_name,notnull" json:"first_name"`
	LastName    string         `bun:"last_name,notnull" json:"last_name"`
	PhoneNumber string         `bun:"phone_number,nullzero" json:"phone_number,omitempty"`
	Status      CustomerStatus `bun:"status,notnull" json:"status"`
	DateOfBirth time.Time      `bun:"date_of_birth,nullzero" json:"date_of_birth,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
	CreatedBy string    `bun:"created_by,notnull" json:"created_by"`
	UpdatedAt time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
	UpdatedBy string    `bun:"updated_by,nullzero" json:"updated_by,omitempty"`
	Version   int64     `bun:"version,notnull,default:0" json:"version"`
}

// NewCustomer returns an active customer. The email is normalised to lower case.
func NewCustomer(email, first, last string) *Customer {
	return &Customer{
		Email:     strings.ToLower(strings.TrimSpace(email)),
		FirstName: first,
		LastName:  last,
		Status:    CustomerActive,
	}
}

func (c *Customer) PrimaryKey() any { return c.ID }

func (c *Customer) CacheRegion() string { return RegionName }

func (c *Customer) NaturalKey() string { return c.Email }

func (c *Customer) CurrentVersion() int64 { return c.Version }

func (c *Customer) SetVersion(v int64) { c.Version = v }

func (c *Customer) FullName() string { return c.FirstName + " " + c.LastName }

func (c *Customer) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Email, validation.Required, is.EmailFormat),
		validation.Field(&c.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&c.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&c.PhoneNumber, validation.Match(phonePattern)),
		validation.Field(&c.Status, validation.Required, validation.In(CustomerActive, CustomerSuspended, CustomerInactive, CustomerBlocked)),
		validation.Field(&c.DateOfBirth, validation.Max(time.Now())),
	)
}

// BeforeAppendModel fills the audit columns from the actor in ctx. The
// creation columns are written once.
func (c *Customer) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if c.CreatedBy == "" {
			c.CreatedBy = ActorFrom(ctx)
		}
	case *bun.UpdateQuery:
		c.UpdatedAt = now
		c.UpdatedBy = ActorFrom(ctx)
	}
	return nil
}
