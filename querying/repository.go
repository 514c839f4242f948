package querying

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-orm-lab/internal/database"
	"github.com/goliatone/go-orm-lab/session"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// OrderRepository shows the query styles side by side: the fluent builder,
// composable criteria, raw SQL and named queries.
type OrderRepository struct {
	db     *bun.DB
	named  *NamedQueries
	logger zerolog.Logger
}

// NewOrderRepository creates a repository using the default named queries
// when named is nil.
func NewOrderRepository(db *bun.DB, named *NamedQueries, logger zerolog.Logger) *OrderRepository {
	if named == nil {
		named = DefaultNamedQueries()
	}
	return &OrderRepository{
		db:     db,
		named:  named,
		logger: logger.With().Str("repository", "orders").Logger(),
	}
}

// NamedQueries returns the registry used by the repository.
func (r *OrderRepository) NamedQueries() *NamedQueries { return r.named }

// Save inserts an order and its items in one transaction. Item totals and
// the order total are computed from quantities and unit prices.
func (r *OrderRepository) Save(ctx context.Context, order *Order) error {
	order.recalculate()
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		if len(order.Items) == 0 {
			return nil
		}
		for _, item := range order.Items {
			item.OrderID = order.ID
			item.Order = order
		}
		_, err := tx.NewInsert().Model(&order.Items).Exec(ctx)
		return err
	})
	if err != nil {
		return session.Internal(err, "save order")
	}
	r.logger.Debug().Int64("id", order.ID).Int("items", len(order.Items)).Stringer("total", order.TotalAmount).Msg("order saved")
	return nil
}

// Find runs composed criteria against the orders table, ordered by id.
func (r *OrderRepository) Find(ctx context.Context, criteria ...repository.SelectCriteria) ([]*Order, error) {
	var orders []*Order
	q := r.db.NewSelect().Model(&orders)
	for _, c := range criteria {
		q = c(q)
	}
	if err := q.OrderExpr("?TableAlias.id ASC").Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, session.Internal(err, "find orders")
	}
	return orders, nil
}

// FindByCustomer pages through the orders of a customer, newest first.
func (r *OrderRepository) FindByCustomer(ctx context.Context, email string, offset, limit int) ([]*Order, error) {
	var orders []*Order
	err := r.db.NewSelect().
		Model(&orders).
		Where("?TableAlias.customer_email = ?", email).
		OrderExpr("?TableAlias.order_date DESC").
		Offset(offset).
		Limit(limit).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, session.Internal(err, "find orders by customer")
	}
	return orders, nil
}

// FindByStatusAndMinAmount combines two reusable criteria.
func (r *OrderRepository) FindByStatusAndMinAmount(ctx context.Context, status OrderStatus, min decimal.Decimal) ([]*Order, error) {
	return r.Find(ctx, WithStatus(status), MinAmount(min))
}

// FindByDateRange returns orders placed between the calendar days of start
// and end, both included.
func (r *OrderRepository) FindByDateRange(ctx context.Context, start, end time.Time) ([]*Order, error) {
	return r.Find(ctx, PlacedBetweenDays(start, end))
}

// FindByStatus runs the Order.findByStatus named query.
func (r *OrderRepository) FindByStatus(ctx context.Context, status OrderStatus) ([]*Order, error) {
	return r.runNamed(ctx, QueryFindByStatus, Params{"status": status}, 0)
}

// FindRecentByStatus returns the newest orders with status.
func (r *OrderRepository) FindRecentByStatus(ctx context.Context, status OrderStatus, limit int) ([]*Order, error) {
	return r.runNamed(ctx, QueryFindRecentByStatus, Params{"status": status}, limit)
}

// FindByCustomerAndDateRange returns orders of a customer placed between
// start and end, both included.
func (r *OrderRepository) FindByCustomerAndDateRange(ctx context.Context, email string, start, end time.Time) ([]*Order, error) {
	return r.runNamed(ctx, QueryFindByCustomerAndDateRange, Params{
		"email":     email,
		"startDate": start.UTC(),
		"endDate":   end.UTC(),
	}, 0)
}

func (r *OrderRepository) runNamed(ctx context.Context, name string, params Params, limit int) ([]*Order, error) {
	criteria, err := r.named.Build(name, params)
	if err != nil {
		return nil, err
	}
	var orders []*Order
	q := criteria(r.db.NewSelect().Model(&orders))
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, session.Internal(err, name)
	}
	return orders, nil
}

// FindWithItems loads an order and its items in two statements.
func (r *OrderRepository) FindWithItems(ctx context.Context, id int64) (*Order, error) {
	order := new(Order)
	err := r.db.NewSelect().
		Model(order).
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("oi.id ASC")
		}).
		Where("?TableAlias.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.NotFound("Order", id)
		}
		return nil, session.Internal(err, "find order with items")
	}
	return order, nil
}

// ItemsByStatus joins items to their orders and filters on the order status.
func (r *OrderRepository) ItemsByStatus(ctx context.Context, status OrderStatus) ([]*OrderItem, error) {
	var items []*OrderItem
	err := r.db.NewSelect().
		Model(&items).
		Join("JOIN orders AS o ON o.id = oi.order_id").
		Where("o.status = ?", status).
		OrderExpr("oi.id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, session.Internal(err, "items by status")
	}
	return items, nil
}

// AverageAmount returns the mean order total, zero without orders.
func (r *OrderRepository) AverageAmount(ctx context.Context) (decimal.Decimal, error) {
	var avg decimal.NullDecimal
	err := r.db.NewSelect().
		Model((*Order)(nil)).
		ColumnExpr("AVG(?TableAlias.total_amount)").
		Scan(ctx, &avg)
	if err != nil {
		return decimal.Zero, session.Internal(err, "average order amount")
	}
	if !avg.Valid {
		return decimal.Zero, nil
	}
	return avg.Decimal.Round(2), nil
}

// Statistics aggregates orders placed since the given time by calendar day
// (UTC), oldest day first. It is written in raw SQL.
func (r *OrderRepository) Statistics(ctx context.Context, since time.Time) ([]OrderStatistics, error) {
	day := "strftime('%Y-%m-%d', order_date)"
	if database.IsPostgres(r.db) {
		day = "to_char(order_date AT TIME ZONE 'UTC', 'YYYY-MM-DD')"
	}

	var stats []OrderStatistics
	err := r.db.NewRaw(
		"SELECT "+day+" AS day, COUNT(*) AS total_orders, COALESCE(SUM(total_amount), 0) AS total_revenue "+
			"FROM orders WHERE order_date >= ? GROUP BY "+day+" ORDER BY day ASC",
		since.UTC(),
	).Scan(ctx, &stats)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, session.Internal(err, "order statistics")
	}
	for i := range stats {
		stats[i].TotalRevenue = stats[i].TotalRevenue.Round(2)
	}
	return stats, nil
}

// CustomerTotals sums orders per customer with raw SQL, largest total first.
func (r *OrderRepository) CustomerTotals(ctx context.Context) ([]CustomerTotal, error) {
	var totals []CustomerTotal
	err := r.db.NewRaw(
		"SELECT customer_email, COUNT(*) AS orders, SUM(total_amount) AS total " +
			"FROM orders GROUP BY customer_email ORDER BY total DESC, customer_email ASC",
	).Scan(ctx, &totals)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, session.Internal(err, "customer totals")
	}
	for i := range totals {
		totals[i].Total = totals[i].Total.Round(2)
	}
	return totals, nil
}

// Delete removes an order and its items. It reports false when the order
// does not exist.
func (r *OrderRepository) Delete(ctx context.Context, id int64) (bool, error) {
	deleted := false
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*OrderItem)(nil)).Where("order_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		res, err := tx.NewDelete().Model((*Order)(nil)).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		deleted = n > 0
		return err
	})
	if err != nil {
		return false, session.Internal(err, "delete order")
	}
	return deleted, nil
}

// WithStatus matches orders with status.
func WithStatus(status OrderStatus) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.status = ?", status)
	}
}

// MinAmount matches orders whose total is at least min.
func MinAmount(min decimal.Decimal) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.total_amount >= ?", min)
	}
}

// PlacedBetweenDays matches orders placed on the calendar days from start to
// end (UTC), both included.
func PlacedBetweenDays(start, end time.Time) repository.SelectCriteria {
	from := truncateDay(start)
	until := truncateDay(end).AddDate(0, 0, 1)
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.order_date >= ?", from).
			Where("?TableAlias.order_date < ?", until)
	}
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
