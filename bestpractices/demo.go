package bestpractices

import (
	"context"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-orm-lab/session"
	"github.com/rs/zerolog"
)

// Models lists the tables of this module.
func Models() []any {
	return []any{(*Customer)(nil)}
}

// Demo covers entity design, transaction boundaries, batching, error
// handling and statistics.
type Demo struct {
	factory *session.Factory
	service *CustomerService
	logger  zerolog.Logger
}

func NewDemo(factory *session.Factory) *Demo {
	return &Demo{
		factory: factory,
		service: NewCustomerService(factory),
		logger:  factory.Logger().With().Str("module", "bestpractices").Logger(),
	}
}

// Service returns the customer service used by the demo.
func (d *Demo) Service() *CustomerService { return d.service }

// Run executes every demonstration in order.
func (d *Demo) Run(ctx context.Context) error {
	if err := d.service.EnsureIndexes(ctx); err != nil {
		return err
	}
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"entity design", d.EntityDesign},
		{"transaction management", d.TransactionManagement},
		{"batch processing", d.BatchProcessing},
		{"error handling", d.ErrorHandling},
		{"statistics", d.Statistics},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

// EntityDesign registers a customer and updates it, showing the version and
// audit columns move.
func (d *Demo) EntityDesign(ctx context.Context) error {
	c := NewCustomer("john.doe@example.com", "John", "Doe")
	c.PhoneNumber = "+15551234567"
	c.DateOfBirth = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := d.service.Register(WithActor(ctx, "onboarding"), c); err != nil {
		return err
	}
	updated, err := d.service.ChangePhone(WithActor(ctx, "support"), c.ID, "+15559876543")
	if err != nil {
		return err
	}
	d.logger.Info().
		Int64("version", updated.Version).
		Str("created_by", updated.CreatedBy).
		Str("updated_by", updated.UpdatedBy).
		Msg("customer created and updated with version control")
	return nil
}

// TransactionManagement commits one registration and shows a failed one
// leaves nothing behind.
func (d *Demo) TransactionManagement(ctx context.Context) error {
	if _, err := d.service.Register(ctx, NewCustomer("jane.smith@example.com", "Jane", "Smith")); err != nil {
		return err
	}
	d.logger.Info().Msg("transaction committed")

	before, err := d.service.Count(ctx)
	if err != nil {
		return err
	}
	err = d.factory.RunInTx(ctx, func(ctx context.Context, s *session.Session) error {
		if err := s.Persist(ctx, NewCustomer("temp.one@example.com", "Temp", "One")); err != nil {
			return err
		}
		return s.Persist(ctx, NewCustomer("temp.one@example.com", "Temp", "Two"))
	})
	if err == nil {
		return errors.New("duplicate insert was committed")
	}
	after, err := d.service.Count(ctx)
	if err != nil {
		return err
	}
	if after != before {
		return fmt.Errorf("rollback left %d rows behind", after-before)
	}
	d.logger.Info().Msg("failed transaction rolled back")
	return nil
}

// BatchProcessing imports 20 customers in batches of 5.
func (d *Demo) BatchProcessing(ctx context.Context) error {
	customers := make([]*Customer, 0, 20)
	for i := 0; i < 20; i++ {
		customers = append(customers, NewCustomer(
			fmt.Sprintf("customer%d@example.com", i),
			fmt.Sprintf("FirstName%d", i),
			fmt.Sprintf("LastName%d", i),
		))
	}
	batches, err := d.service.ImportBatch(WithActor(ctx, "import"), customers, 5)
	if err != nil {
		return err
	}
	d.logger.Info().Int("customers", len(customers)).Int("batches", batches).Msg("batch processing completed")
	return nil
}

// ErrorHandling shows how errors carry a category callers can branch on.
func (d *Demo) ErrorHandling(ctx context.Context) error {
	cases := []struct {
		name     string
		customer *Customer
		want     goerrors.Category
	}{
		{"missing fields", &Customer{}, goerrors.CategoryValidation},
		{"duplicate email", NewCustomer("john.doe@example.com", "John", "Again"), goerrors.CategoryConflict},
	}
	for _, tc := range cases {
		_, err := d.service.Register(ctx, tc.customer)
		if !session.HasCategory(err, tc.want) {
			return fmt.Errorf("%s: expected %s error, got %v", tc.name, tc.want, err)
		}
		d.logger.Info().Err(err).Str("case", tc.name).Msg("error handled")
	}

	_, err := d.service.Get(ctx, -1)
	if !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("expected not found, got %v", err)
	}
	return nil
}

// Statistics loads the same customer repeatedly and reports the counters.
func (d *Demo) Statistics(ctx context.Context) error {
	stats := d.factory.Statistics()
	stats.Clear()

	c, err := d.service.Register(ctx, NewCustomer("stats.demo@example.com", "Stats", "Demo"))
	if err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if _, err := d.service.Get(ctx, c.ID); err != nil {
			return err
		}
		if _, err := d.service.FindByEmail(ctx, c.Email); err != nil {
			return err
		}
	}

	snap := stats.Snapshot()
	d.logger.Info().
		Uint64("entity_loads", snap.EntityLoads).
		Uint64("entity_inserts", snap.EntityInserts).
		Uint64("entity_updates", snap.EntityUpdates).
		Uint64("second_level_hits", snap.SecondLevelCacheHits).
		Uint64("second_level_misses", snap.SecondLevelCacheMisses).
		Uint64("natural_id_hits", snap.NaturalIDCacheHits).
		Uint64("natural_id_misses", snap.NaturalIDCacheMisses).
		Uint64("commits", snap.TransactionCommits).
		Msg("session factory statistics")
	return nil
}
