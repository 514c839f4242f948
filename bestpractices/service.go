package bestpractices

import (
	"context"
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-orm-lab/session"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// ErrDuplicateEmail is returned when a customer with the same email exists.
var ErrDuplicateEmail = errors.New("duplicate customer email")

// CustomerService keeps one transaction per business operation and reads
// through the session caches.
type CustomerService struct {
	factory *session.Factory
	logger  zerolog.Logger
}

func NewCustomerService(factory *session.Factory) *CustomerService {
	return &CustomerService{
		factory: factory,
		logger:  factory.Logger().With().Str("service", "customers").Logger(),
	}
}

// EnsureIndexes creates the lookup indexes of the customers table.
func (s *CustomerService) EnsureIndexes(ctx context.Context) error {
	indexes := []struct{ name, column string }{
		{"idx_customer_email", "email"},
		{"idx_customer_phone", "phone_number"},
	}
	for _, idx := range indexes {
		_, err := s.factory.DB().NewCreateIndex().
			Model((*Customer)(nil)).
			Index(idx.name).
			Column(idx.column).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return session.Internal(err, "create index "+idx.name)
		}
	}
	return nil
}

// Register inserts a new customer. Emails are unique.
func (s *CustomerService) Register(ctx context.Context, c *Customer) (*Customer, error) {
	err := s.factory.RunInTx(ctx, func(ctx context.Context, ss *session.Session) error {
		if err := ensureUniqueEmail(ctx, ss, c.Email); err != nil {
			return err
		}
		return ss.Persist(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Int64("id", c.ID).Str("email", c.Email).Str("by", c.CreatedBy).Msg("customer registered")
	return c, nil
}

// ChangePhone updates the phone number. The new number is validated when
// the change is flushed.
func (s *CustomerService) ChangePhone(ctx context.Context, id int64, phone string) (*Customer, error) {
	return s.modify(ctx, id, func(c *Customer) { c.PhoneNumber = phone })
}

// ChangeStatus moves a customer to status.
func (s *CustomerService) ChangeStatus(ctx context.Context, id int64, status CustomerStatus) (*Customer, error) {
	return s.modify(ctx, id, func(c *Customer) { c.Status = status })
}

func (s *CustomerService) modify(ctx context.Context, id int64, change func(*Customer)) (*Customer, error) {
	var out *Customer
	err := s.factory.RunInTx(ctx, func(ctx context.Context, ss *session.Session) error {
		c, err := session.Find[Customer](ctx, ss, id)
		if err != nil {
			return err
		}
		change(c)
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get loads a customer by id through the second-level cache.
func (s *CustomerService) Get(ctx context.Context, id int64) (*Customer, error) {
	ss := s.factory.OpenSession()
	defer ss.Close(ctx)
	return session.Find[Customer](ctx, ss, id)
}

// FindByEmail loads a customer by its natural id.
func (s *CustomerService) FindByEmail(ctx context.Context, email string) (*Customer, error) {
	ss := s.factory.OpenSession()
	defer ss.Close(ctx)
	return session.FindByNaturalID[Customer](ctx, ss, "email", NewCustomer(email, "", "").Email)
}

// ImportBatch inserts customers in one transaction, flushing and clearing
// the session after every batchSize inserts so the identity map stays
// small. It returns the number of batches written. Any failure rolls back
// the whole import.
func (s *CustomerService) ImportBatch(ctx context.Context, customers []*Customer, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, session.ValidationFailed("Import", fmt.Errorf("batch size must be positive, got %d", batchSize))
	}

	batches := 0
	err := s.factory.RunInTx(ctx, func(ctx context.Context, ss *session.Session) error {
		for i, c := range customers {
			if err := ss.Persist(ctx, c); err != nil {
				return fmt.Errorf("customer %d (%s): %w", i, c.Email, err)
			}
			if (i+1)%batchSize == 0 || i == len(customers)-1 {
				if err := ss.Flush(ctx); err != nil {
					return err
				}
				ss.Clear()
				batches++
				s.logger.Debug().Int("batch", batches).Int("managed", ss.Size()).Msg("batch flushed")
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return batches, nil
}

// Count returns the number of customers.
func (s *CustomerService) Count(ctx context.Context) (int, error) {
	n, err := s.factory.DB().NewSelect().Model((*Customer)(nil)).Count(ctx)
	if err != nil {
		return 0, session.Internal(err, "count customers")
	}
	return n, nil
}

func ensureUniqueEmail(ctx context.Context, ss *session.Session, email string) error {
	n, err := ss.IDB().NewSelect().Model((*Customer)(nil)).Where("email = ?", email).Count(ctx)
	if err != nil {
		return session.Internal(err, "count customers by email")
	}
	if n > 0 {
		return goerrors.Wrap(ErrDuplicateEmail, goerrors.CategoryConflict, "customer "+email+" already exists").
			WithTextCode("DUPLICATE_KEY").
			WithMetadata(map[string]any{"email": email})
	}
	return nil
}

func byStatus(status CustomerStatus) session.QueryFunc {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("cu.status = ?", status).Order("cu.email")
	}
}

// FindByStatus lists customers with status, ordered by email.
func (s *CustomerService) FindByStatus(ctx context.Context, status CustomerStatus) ([]*Customer, error) {
	ss := s.factory.OpenSession()
	defer ss.Close(ctx)
	return session.FindAll[Customer](ctx, ss, byStatus(status))
}
