package locking

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-orm-lab/session"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Models lists the tables of this module, parents first.
func Models() []any {
	return []any{(*Account)(nil), (*Transaction)(nil)}
}

// Demo runs concurrent optimistic updates and pessimistic transfers.
type Demo struct {
	service *AccountService
	workers int
	logger  zerolog.Logger
}

func NewDemo(factory *session.Factory) *Demo {
	return &Demo{
		service: NewAccountService(factory),
		workers: 5,
		logger:  factory.Logger().With().Str("module", "locking").Logger(),
	}
}

// Service returns the account service used by the demo.
func (d *Demo) Service() *AccountService { return d.service }

// Run executes every locking demonstration in order.
func (d *Demo) Run(ctx context.Context) error {
	first, err := d.service.CreateAccount(ctx, "ACC-001", decimal.RequireFromString("1000.00"))
	if err != nil {
		return err
	}
	second, err := d.service.CreateAccount(ctx, "ACC-002", decimal.RequireFromString("500.00"))
	if err != nil {
		return err
	}
	if _, err := d.service.CreateAccount(ctx, "ACC-001", decimal.Zero); !errors.Is(err, ErrDuplicateAccount) {
		return fmt.Errorf("duplicate account number was not rejected: %v", err)
	}
	d.logger.Info().Msg("duplicate account number rejected")

	if err := d.concurrentOptimistic(ctx, first.ID); err != nil {
		return fmt.Errorf("optimistic: %w", err)
	}
	if err := d.pessimistic(ctx, first.ID); err != nil {
		return fmt.Errorf("pessimistic: %w", err)
	}
	if err := d.concurrentTransfers(ctx, first.ID, second.ID); err != nil {
		return fmt.Errorf("transfers: %w", err)
	}

	accounts, err := d.service.FindAllWithTransactions(ctx)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		d.logger.Info().
			Str("account", a.AccountNumber).
			Str("balance", a.Balance.StringFixed(2)).
			Int64("version", a.Version).
			Int("transactions", len(a.Transactions)).
			Msg("final state")
	}
	return nil
}

// concurrentOptimistic deposits from several goroutines at once. Writers
// that lose the version race retry with backoff.
func (d *Demo) concurrentOptimistic(ctx context.Context, id int64) error {
	tries := make([]uint, d.workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			n, err := d.service.UpdateBalanceOptimisticWithRetry(gctx, id, decimal.RequireFromString("10.00"), 20)
			tries[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var total uint
	for _, n := range tries {
		total += n
	}
	account, err := d.service.Get(ctx, id)
	if err != nil {
		return err
	}
	d.logger.Info().
		Int("writers", d.workers).
		Uint("conflicts", total-uint(d.workers)).
		Str("balance", account.Balance.StringFixed(2)).
		Int64("version", account.Version).
		Msg("concurrent optimistic updates done")
	return nil
}

func (d *Demo) pessimistic(ctx context.Context, id int64) error {
	balance, err := d.service.GetBalancePessimisticRead(ctx, id, LockOptions{})
	if err != nil {
		return err
	}
	d.logger.Info().Str("balance", balance.StringFixed(2)).Msg("balance read under shared lock")

	if err := d.service.UpdateBalancePessimisticWrite(ctx, id, decimal.RequireFromString("50.00"), LockOptions{}); err != nil {
		return err
	}
	version, err := d.service.ForceVersionIncrement(ctx, id)
	if err != nil {
		return err
	}
	d.logger.Info().Int64("version", version).Msg("version forced up")
	return nil
}

// concurrentTransfers runs opposite transfers in parallel; id ordered locking
// keeps them deadlock free. A final overdraft is rejected.
func (d *Demo) concurrentTransfers(ctx context.Context, a, b int64) error {
	amount := decimal.RequireFromString("25.00")
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		from, to := a, b
		if i%2 == 1 {
			from, to = b, a
		}
		g.Go(func() error {
			return d.service.Transfer(gctx, from, to, amount)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	d.logger.Info().Int("transfers", d.workers).Msg("concurrent transfers done")

	err := d.service.Transfer(ctx, b, a, decimal.RequireFromString("1000000.00"))
	if !errors.Is(err, ErrInsufficientFunds) {
		return fmt.Errorf("overdraft was not rejected: %v", err)
	}
	d.logger.Info().Msg("overdraft rejected")
	return nil
}
