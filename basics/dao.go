package basics

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-orm-lab/session"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// ErrEmployeeNotFound is returned when no employee matches a lookup.
var ErrEmployeeNotFound = errors.New("employee not found")

// EmployeeDAO is a data access object. Every method opens its own session,
// and every write runs in its own transaction.
type EmployeeDAO struct {
	factory *session.Factory
	logger  zerolog.Logger
}

// NewEmployeeDAO creates a DAO backed by factory.
func NewEmployeeDAO(factory *session.Factory) *EmployeeDAO {
	return &EmployeeDAO{
		factory: factory,
		logger:  factory.Logger().With().Str("dao", "employee").Logger(),
	}
}

// Save inserts a new employee or merges the state of an existing one. An
// employee carrying an id whose row is gone is inserted with that id.
func (d *EmployeeDAO) Save(ctx context.Context, e *Employee) (*Employee, error) {
	err := d.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		if e.ID == 0 {
			return s.Persist(ctx, e)
		}
		_, err := session.Merge[Employee](ctx, s, e)
		if errors.Is(err, session.ErrNotFound) {
			return s.Persist(ctx, e)
		}
		return err
	})
	if err != nil {
		d.logger.Error().Err(err).Str("email", e.Email).Msg("error saving employee")
		return nil, notFound(err)
	}
	d.logger.Info().Int64("id", e.ID).Str("email", e.Email).Msg("saved employee")
	return e, nil
}

// FindByID loads one employee.
func (d *EmployeeDAO) FindByID(ctx context.Context, id int64) (*Employee, error) {
	s := d.factory.OpenSession()
	defer s.Close(ctx)

	e, err := session.Find[Employee](ctx, s, id)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// FindByEmail loads the employee with the given email.
func (d *EmployeeDAO) FindByEmail(ctx context.Context, email string) (*Employee, error) {
	s := d.factory.OpenSession()
	defer s.Close(ctx)

	e, err := session.FindOne[Employee](ctx, s, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.email = ?", email)
	})
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// FindAll lists every employee ordered by id.
func (d *EmployeeDAO) FindAll(ctx context.Context) ([]*Employee, error) {
	s := d.factory.OpenSession()
	defer s.Close(ctx)

	return session.FindAll[Employee](ctx, s, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.OrderExpr("?TableAlias.id ASC")
	})
}

// Delete removes the employee with id. It reports false when there was none.
func (d *EmployeeDAO) Delete(ctx context.Context, id int64) (bool, error) {
	deleted := false
	err := d.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		e, err := session.Find[Employee](ctx, s, id)
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		deleted = true
		return s.Remove(ctx, e)
	})
	if err != nil {
		d.logger.Error().Err(err).Int64("id", id).Msg("error deleting employee")
		return false, err
	}
	if deleted {
		d.logger.Info().Int64("id", id).Msg("deleted employee")
	}
	return deleted, nil
}

// UpdateSalary changes the salary of an employee. The managed instance is
// modified and written by dirty checking at commit; no explicit update call
// is made. It reports false when the employee does not exist.
func (d *EmployeeDAO) UpdateSalary(ctx context.Context, id int64, salary decimal.Decimal) (bool, error) {
	updated := false
	err := d.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		e, err := session.Find[Employee](ctx, s, id)
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		e.Salary = salary
		updated = true
		return nil
	})
	if err != nil {
		d.logger.Error().Err(err).Int64("id", id).Msg("error updating salary")
		return false, err
	}
	if updated {
		d.logger.Info().Int64("id", id).Stringer("salary", salary).Msg("updated salary")
	}
	return updated, nil
}

func notFound(err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrEmployeeNotFound, err)
	}
	return err
}
