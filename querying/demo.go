package querying

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Models lists the tables of this module, parents first.
func Models() []any {
	return []any{(*Order)(nil), (*OrderItem)(nil)}
}

// Demo seeds sample orders and runs each query style against them.
type Demo struct {
	repo   *OrderRepository
	logger zerolog.Logger
	now    func() time.Time
}

// NewDemo creates the demo over db.
func NewDemo(db *bun.DB, logger zerolog.Logger) *Demo {
	return &Demo{
		repo:   NewOrderRepository(db, nil, logger),
		logger: logger.With().Str("module", "querying").Logger(),
		now:    time.Now,
	}
}

// Repository returns the order repository used by the demo.
func (d *Demo) Repository() *OrderRepository { return d.repo }

// Run seeds the orders and runs the builder, criteria, raw SQL and named
// query demonstrations.
func (d *Demo) Run(ctx context.Context) error {
	now := d.now()
	for _, o := range SampleOrders(now) {
		if err := d.repo.Save(ctx, o); err != nil {
			return fmt.Errorf("seed orders: %w", err)
		}
	}

	steps := []struct {
		name string
		run  func(context.Context, time.Time) error
	}{
		{"query builder", d.builderQueries},
		{"criteria", d.criteriaQueries},
		{"raw sql", d.rawQueries},
		{"named queries", d.namedQueries},
	}
	for _, step := range steps {
		if err := step.run(ctx, now); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

func (d *Demo) builderQueries(ctx context.Context, _ time.Time) error {
	page, err := d.repo.FindByCustomer(ctx, "customer3@example.com", 0, 2)
	if err != nil {
		return err
	}
	d.logger.Info().Int("count", len(page)).Msg("first page of customer orders")

	items, err := d.repo.ItemsByStatus(ctx, StatusNew)
	if err != nil {
		return err
	}
	d.logger.Info().Int("count", len(items)).Msg("items in NEW orders")

	avg, err := d.repo.AverageAmount(ctx)
	if err != nil {
		return err
	}
	d.logger.Info().Stringer("average", avg).Msg("average order amount")
	return nil
}

func (d *Demo) criteriaQueries(ctx context.Context, now time.Time) error {
	orders, err := d.repo.FindByStatusAndMinAmount(ctx, StatusNew, decimal.NewFromInt(500))
	if err != nil {
		return err
	}
	d.logger.Info().Int("count", len(orders)).Msg("NEW orders of at least 500")

	orders, err = d.repo.FindByDateRange(ctx, now.AddDate(0, 0, -3), now.AddDate(0, 0, -1))
	if err != nil {
		return err
	}
	d.logger.Info().Int("count", len(orders)).Msg("orders of the last three days")
	return nil
}

func (d *Demo) rawQueries(ctx context.Context, now time.Time) error {
	stats, err := d.repo.Statistics(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		return err
	}
	for _, s := range stats {
		d.logger.Info().Str("day", s.Day).Int64("orders", s.TotalOrders).Stringer("revenue", s.TotalRevenue).Msg("daily statistics")
	}

	totals, err := d.repo.CustomerTotals(ctx)
	if err != nil {
		return err
	}
	for _, t := range totals {
		d.logger.Info().Str("customer", t.CustomerEmail).Int64("orders", t.Orders).Stringer("total", t.Total).Msg("customer totals")
	}
	return nil
}

func (d *Demo) namedQueries(ctx context.Context, now time.Time) error {
	orders, err := d.repo.FindByStatus(ctx, StatusNew)
	if err != nil {
		return err
	}
	d.logger.Info().Int("count", len(orders)).Msg(QueryFindByStatus)

	orders, err = d.repo.FindRecentByStatus(ctx, StatusNew, 1)
	if err != nil {
		return err
	}
	d.logger.Info().Int("count", len(orders)).Msg(QueryFindRecentByStatus)

	orders, err = d.repo.FindByCustomerAndDateRange(ctx, "customer3@example.com", now.AddDate(0, 0, -30), now)
	if err != nil {
		return err
	}
	d.logger.Info().Int("count", len(orders)).Msg(QueryFindByCustomerAndDateRange)
	return nil
}
