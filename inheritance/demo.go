package inheritance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Models lists the tables of every strategy.
func Models() []any {
	var models []any
	for _, s := range []Store{&SingleTableStore{}, &JoinedStore{}, &TablePerClassStore{}} {
		models = append(models, s.Models()...)
	}
	return models
}

// Demo saves, processes and reloads payments under each strategy.
type Demo struct {
	stores  []Store
	options ProcessOptions
	logger  zerolog.Logger
}

// NewDemo creates the demo over db. The gateway answers immediately.
func NewDemo(db *bun.DB, logger zerolog.Logger) *Demo {
	return &Demo{
		stores: []Store{
			NewSingleTableStore(db),
			NewJoinedStore(db),
			NewTablePerClassStore(db),
		},
		logger: logger.With().Str("module", "inheritance").Logger(),
	}
}

// WithProcessOptions replaces the gateway settings used by Run.
func (d *Demo) WithProcessOptions(opts ProcessOptions) *Demo {
	d.options = opts
	return d
}

// Stores returns the store of each strategy.
func (d *Demo) Stores() []Store { return d.stores }

// Run demonstrates every strategy in turn.
func (d *Demo) Run(ctx context.Context) error {
	for _, store := range d.stores {
		if err := d.demonstrate(ctx, store); err != nil {
			return fmt.Errorf("%s: %w", store.Strategy(), err)
		}
	}
	return nil
}

func (d *Demo) demonstrate(ctx context.Context, store Store) error {
	logger := d.logger.With().Str("strategy", string(store.Strategy())).Logger()
	payments := []Payment{
		SampleCreditCard(decimal.RequireFromString("100.00"), "4111111111111111"),
		SampleBankTransfer(decimal.RequireFromString("250.50")),
		SampleCreditCard(decimal.RequireFromString("75.25"), "4111111111110000"),
	}

	for _, p := range payments {
		if err := store.Save(ctx, p); err != nil {
			return err
		}
		err := Process(ctx, p, d.options)
		if err != nil && !errors.Is(err, ErrPaymentDeclined) {
			return err
		}
		if err := store.UpdateStatus(ctx, p.Core().ID, p.Core().Status); err != nil {
			return err
		}
		logger.Info().
			Str("type", string(p.Type())).
			Stringer("id", p.Core().ID).
			Str("status", string(p.Core().Status)).
			Msg("payment processed")
	}

	all, err := store.FindAll(ctx)
	if err != nil {
		return err
	}
	for _, p := range all {
		logger.Info().Str("type", string(p.Type())).Stringer("amount", p.Core().Amount).Msg("polymorphic load")
	}

	failed, err := store.FindByStatus(ctx, StatusFailed)
	if err != nil {
		return err
	}
	logger.Info().Int("total", len(all)).Int("failed", len(failed)).Msg("payments by status")
	return nil
}

// SampleCreditCard returns a valid card payment expiring next year.
func SampleCreditCard(amount decimal.Decimal, number string) *CreditCardPayment {
	return &CreditCardPayment{
		PaymentCore: PaymentCore{Amount: amount, Currency: "USD"},
		CardDetails: CardDetails{
			CardNumber:      number,
			CardHolderName:  "John Doe",
			ExpirationMonth: 12,
			ExpirationYear:  time.Now().Year() + 1,
			CVV:             "123",
		},
	}
}

// SampleBankTransfer returns a valid bank transfer.
func SampleBankTransfer(amount decimal.Decimal) *BankTransferPayment {
	return &BankTransferPayment{
		PaymentCore: PaymentCore{Amount: amount, Currency: "EUR"},
		BankDetails: BankDetails{
			BankName:      "Example Bank",
			AccountNumber: "1234567890",
			RoutingNumber: "021000021",
			IBAN:          "DE89370400440532013000",
			SWIFTCode:     "DEUTDEFF",
		},
	}
}
