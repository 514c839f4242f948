package basics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-orm-lab/session"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Models lists the tables of this module.
func Models() []any {
	return []any{(*Employee)(nil)}
}

// Demo walks through mapping, CRUD and transaction boundaries.
type Demo struct {
	factory *session.Factory
	dao     *EmployeeDAO
	logger  zerolog.Logger
}

// NewDemo creates the demo over factory.
func NewDemo(factory *session.Factory) *Demo {
	return &Demo{
		factory: factory,
		dao:     NewEmployeeDAO(factory),
		logger:  factory.Logger().With().Str("module", "basics").Logger(),
	}
}

// DAO returns the employee DAO used by the demo.
func (d *Demo) DAO() *EmployeeDAO { return d.dao }

// Run executes every basics demonstration in order.
func (d *Demo) Run(ctx context.Context) error {
	if err := d.CRUD(ctx); err != nil {
		return err
	}
	if err := d.DemonstrateTransaction(ctx); err != nil {
		return err
	}
	return d.DemonstrateRollback(ctx)
}

// CRUD creates, reads, updates, deletes and lists an employee.
func (d *Demo) CRUD(ctx context.Context) error {
	e := NewEmployee("John", "Doe", "john.doe@example.com")
	e.Salary = decimal.RequireFromString("50000.00")
	e.HireDate = time.Now().Add(-time.Minute).UTC()

	if _, err := d.dao.Save(ctx, e); err != nil {
		return fmt.Errorf("create employee: %w", err)
	}
	d.logger.Info().Int64("id", e.ID).Str("name", e.FullName()).Msg("created employee")

	loaded, err := d.dao.FindByID(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("read employee: %w", err)
	}
	d.logger.Info().Str("email", loaded.Email).Stringer("salary", loaded.Salary).Msg("retrieved employee")

	if _, err := d.dao.UpdateSalary(ctx, e.ID, decimal.RequireFromString("75000.00")); err != nil {
		return fmt.Errorf("update salary: %w", err)
	}
	d.logger.Info().Msg("updated employee salary")

	if _, err := d.dao.Delete(ctx, e.ID); err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	d.logger.Info().Msg("deleted employee")

	all, err := d.dao.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("list employees: %w", err)
	}
	d.logger.Info().Int("count", len(all)).Msg("all employees")
	return nil
}

// DemonstrateTransaction saves two employees in one transaction.
func (d *Demo) DemonstrateTransaction(ctx context.Context) error {
	err := d.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		if err := s.Persist(ctx, NewEmployee("Jane", "Smith", "jane.smith@example.com")); err != nil {
			return err
		}
		return s.Persist(ctx, NewEmployee("Bob", "Johnson", "bob.johnson@example.com"))
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}
	d.logger.Info().Msg("transaction completed successfully")
	return nil
}

// DemonstrateRollback inserts an employee and then a duplicate email in the
// same transaction. The unique constraint aborts the transaction and neither
// row is kept.
func (d *Demo) DemonstrateRollback(ctx context.Context) error {
	const email = "rollback.demo@example.com"
	err := d.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		if err := s.Persist(ctx, NewEmployee("Rita", "Rollback", email)); err != nil {
			return err
		}
		return s.Persist(ctx, NewEmployee("Dupe", "Licate", email))
	})
	if err == nil {
		return fmt.Errorf("duplicate email %q was accepted", email)
	}
	d.logger.Info().Err(err).Msg("transaction rolled back as expected")

	_, err = d.dao.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return fmt.Errorf("employee %q survived the rollback", email)
	case errors.Is(err, ErrEmployeeNotFound):
		return nil
	default:
		return err
	}
}
