package inheritance

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-orm-lab/pkg/testsupport"
	"github.com/goliatone/go-orm-lab/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func newStores(t *testing.T) (*bun.DB, []Store) {
	t.Helper()
	db, _ := testsupport.NewTestDB(t, Models()...)
	return db, []Store{NewSingleTableStore(db), NewJoinedStore(db), NewTablePerClassStore(db)}
}

func TestCreditCardPayment_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *CreditCardPayment)
		field  string
	}{
		{name: "valid", mutate: func(*CreditCardPayment) {}},
		{name: "zero amount", mutate: func(p *CreditCardPayment) { p.Amount = decimal.Zero }, field: "Amount"},
		{name: "lowercase currency", mutate: func(p *CreditCardPayment) { p.Currency = "usd" }, field: "Currency"},
		{name: "short card number", mutate: func(p *CreditCardPayment) { p.CardNumber = "4111" }, field: "CardNumber"},
		{name: "one letter holder", mutate: func(p *CreditCardPayment) { p.CardHolderName = "J" }, field: "CardHolderName"},
		{name: "month out of range", mutate: func(p *CreditCardPayment) { p.ExpirationMonth = 13 }, field: "ExpirationMonth"},
		{name: "expired year", mutate: func(p *CreditCardPayment) { p.ExpirationYear = time.Now().Year() - 1 }, field: "ExpirationYear"},
		{name: "four digit cvv", mutate: func(p *CreditCardPayment) { p.CVV = "1234" }, field: "CVV"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := SampleCreditCard(decimal.RequireFromString("10.00"), "4111111111111111")
			p.Status = StatusPending
			tt.mutate(p)
			err := p.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestBankTransferPayment_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *BankTransferPayment)
		field  string
	}{
		{name: "valid", mutate: func(*BankTransferPayment) {}},
		{name: "missing bank", mutate: func(p *BankTransferPayment) { p.BankName = "" }, field: "BankName"},
		{name: "short account", mutate: func(p *BankTransferPayment) { p.AccountNumber = "123456789" }, field: "AccountNumber"},
		{name: "routing with letters", mutate: func(p *BankTransferPayment) { p.RoutingNumber = "02100002A" }, field: "RoutingNumber"},
		{name: "malformed iban", mutate: func(p *BankTransferPayment) { p.IBAN = "89DE370400" }, field: "IBAN"},
		{name: "malformed swift", mutate: func(p *BankTransferPayment) { p.SWIFTCode = "DEUT" }, field: "SWIFTCode"},
		{name: "eleven char swift", mutate: func(p *BankTransferPayment) { p.SWIFTCode = "DEUTDEFF500" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := SampleBankTransfer(decimal.RequireFromString("10.00"))
			p.Status = StatusPending
			tt.mutate(p)
			err := p.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("approved card completes", func(t *testing.T) {
		p := SampleCreditCard(decimal.RequireFromString("10.00"), "4111111111111111")
		require.NoError(t, Process(ctx, p, ProcessOptions{}))
		assert.Equal(t, StatusCompleted, p.Status)
	})

	t.Run("declined card fails", func(t *testing.T) {
		p := SampleCreditCard(decimal.RequireFromString("10.00"), "4111111111110000")
		err := Process(ctx, p, ProcessOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPaymentDeclined)
		assert.Equal(t, StatusFailed, p.Status)
		assert.True(t, session.HasCategory(err, goerrors.CategoryOperation))
	})

	t.Run("transfer gets a reference", func(t *testing.T) {
		p := SampleBankTransfer(decimal.RequireFromString("10.00"))
		p.prepare(time.Now())
		require.NoError(t, Process(ctx, p, ProcessOptions{}))
		assert.Equal(t, StatusCompleted, p.Status)
		assert.Equal(t, "REF"+p.TransactionID, p.ReferenceNumber)
	})

	t.Run("cancelled context fails the payment", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		p := SampleBankTransfer(decimal.RequireFromString("10.00"))
		err := Process(cctx, p, ProcessOptions{TransferDelay: time.Minute})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StatusFailed, p.Status)
	})

	t.Run("invalid payment is not charged", func(t *testing.T) {
		p := SampleCreditCard(decimal.RequireFromString("-1"), "4111111111111111")
		err := Process(ctx, p, ProcessOptions{})
		require.Error(t, err)
		assert.True(t, session.HasCategory(err, goerrors.CategoryValidation))
		assert.Equal(t, StatusPending, p.Status)
	})

	t.Run("completed payment is not charged twice", func(t *testing.T) {
		p := SampleCreditCard(decimal.RequireFromString("10.00"), "4111111111111111")
		p.Status = StatusCompleted
		assert.ErrorIs(t, Process(ctx, p, ProcessOptions{}), ErrNotProcessable)
	})

	t.Run("custom gateway", func(t *testing.T) {
		refused := errors.New("gateway offline")
		p := SampleCreditCard(decimal.RequireFromString("10.00"), "4111111111111111")
		err := Process(ctx, p, ProcessOptions{Gateway: gatewayFunc(func(context.Context, Payment) error { return refused })})
		assert.ErrorIs(t, err, refused)
		assert.Equal(t, StatusFailed, p.Status)
	})
}

type gatewayFunc func(ctx context.Context, p Payment) error

func (f gatewayFunc) Charge(ctx context.Context, p Payment) error { return f(ctx, p) }

func TestStores_SaveAndLoadPolymorphically(t *testing.T) {
	ctx := context.Background()
	_, stores := newStores(t)

	for _, store := range stores {
		t.Run(string(store.Strategy()), func(t *testing.T) {
			card := SampleCreditCard(decimal.RequireFromString("100.00"), "4111111111111111")
			card.PaymentDate = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
			transfer := SampleBankTransfer(decimal.RequireFromString("250.50"))
			transfer.PaymentDate = time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

			require.NoError(t, store.Save(ctx, card))
			require.NoError(t, store.Save(ctx, transfer))
			assert.NotEqual(t, uuid.Nil, card.ID)
			assert.Equal(t, StatusPending, card.Status)
			assert.NotEmpty(t, card.TransactionID)

			loaded, err := store.FindByID(ctx, card.ID)
			require.NoError(t, err)
			loadedCard, ok := loaded.(*CreditCardPayment)
			require.True(t, ok, "got %T", loaded)
			assert.Equal(t, card.CardNumber, loadedCard.CardNumber)
			assert.Equal(t, card.ExpirationYear, loadedCard.ExpirationYear)
			assert.True(t, card.Amount.Equal(loadedCard.Amount))

			loaded, err = store.FindByID(ctx, transfer.ID)
			require.NoError(t, err)
			loadedTransfer, ok := loaded.(*BankTransferPayment)
			require.True(t, ok, "got %T", loaded)
			assert.Equal(t, transfer.IBAN, loadedTransfer.IBAN)
			assert.Equal(t, "EUR", loadedTransfer.Currency)

			all, err := store.FindAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, TypeBankTransfer, all[0].Type(), "ordered by payment date")
			assert.Equal(t, TypeCreditCard, all[1].Type())
		})
	}
}

func TestStores_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	_, stores := newStores(t)

	for _, store := range stores {
		t.Run(string(store.Strategy()), func(t *testing.T) {
			card := SampleCreditCard(decimal.RequireFromString("10.00"), "4111111111111111")
			transfer := SampleBankTransfer(decimal.RequireFromString("20.00"))
			require.NoError(t, store.Save(ctx, card))
			require.NoError(t, store.Save(ctx, transfer))

			require.NoError(t, store.UpdateStatus(ctx, transfer.ID, StatusRefunded))

			refunded, err := store.FindByStatus(ctx, StatusRefunded)
			require.NoError(t, err)
			require.Len(t, refunded, 1)
			assert.Equal(t, transfer.ID, refunded[0].Core().ID)

			pending, err := store.FindByStatus(ctx, StatusPending)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, TypeCreditCard, pending[0].Type())

			err = store.UpdateStatus(ctx, uuid.New(), StatusCompleted)
			assert.ErrorIs(t, err, session.ErrNotFound)

			err = store.UpdateStatus(ctx, card.ID, PaymentStatus("LOST"))
			assert.True(t, session.HasCategory(err, goerrors.CategoryValidation))
		})
	}
}

func TestStores_Errors(t *testing.T) {
	ctx := context.Background()
	_, stores := newStores(t)

	for _, store := range stores {
		t.Run(string(store.Strategy()), func(t *testing.T) {
			_, err := store.FindByID(ctx, uuid.New())
			assert.ErrorIs(t, err, session.ErrNotFound)

			invalid := SampleCreditCard(decimal.RequireFromString("10.00"), "123")
			err = store.Save(ctx, invalid)
			require.Error(t, err)
			assert.True(t, session.HasCategory(err, goerrors.CategoryValidation))

			all, err := store.FindAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestSingleTableStore_Discriminator(t *testing.T) {
	ctx := context.Background()
	db, _ := newStores(t)
	store := NewSingleTableStore(db)

	require.NoError(t, store.Save(ctx, SampleCreditCard(decimal.RequireFromString("10.00"), "4111111111111111")))
	require.NoError(t, store.Save(ctx, SampleBankTransfer(decimal.RequireFromString("20.00"))))

	var types []string
	require.NoError(t, db.NewSelect().Table("single_table_payments").Column("payment_type").Order("payment_type").Scan(ctx, &types))
	assert.Equal(t, []string{"BANK_TRANSFER", "CREDIT_CARD"}, types)

	var nullCards int
	require.NoError(t, db.NewSelect().Table("single_table_payments").ColumnExpr("COUNT(*)").Where("card_number IS NULL").Scan(ctx, &nullCards))
	assert.Equal(t, 1, nullCards, "card columns stay NULL for transfers")

	cards, err := store.FindByType(ctx, TypeCreditCard)
	require.NoError(t, err)
	assert.Len(t, cards, 1)
}

func TestJoinedStore_SharesPrimaryKey(t *testing.T) {
	ctx := context.Background()
	db, _ := newStores(t)
	store := NewJoinedStore(db)

	card := SampleCreditCard(decimal.RequireFromString("10.00"), "4111111111111111")
	require.NoError(t, store.Save(ctx, card))

	var ids []uuid.UUID
	require.NoError(t, db.NewSelect().Table("joined_credit_card_payments").Column("payment_id").Scan(ctx, &ids))
	assert.Equal(t, []uuid.UUID{card.ID}, ids)

	require.NoError(t, store.Delete(ctx, card.ID))
	_, err := store.FindByID(ctx, card.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, card.ID), session.ErrNotFound)
}

func TestTablePerClassStore_FindCreditCards(t *testing.T) {
	ctx := context.Background()
	db, _ := newStores(t)
	store := NewTablePerClassStore(db)

	require.NoError(t, store.Save(ctx, SampleCreditCard(decimal.RequireFromString("10.00"), "4111111111111111")))
	require.NoError(t, store.Save(ctx, SampleBankTransfer(decimal.RequireFromString("20.00"))))

	cards, err := store.FindCreditCards(ctx)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "4111111111111111", cards[0].CardNumber)
}

func TestNewStore(t *testing.T) {
	db, _ := newStores(t)
	for _, strategy := range Strategies() {
		store, err := NewStore(db, strategy)
		require.NoError(t, err)
		assert.Equal(t, strategy, store.Strategy())
	}
	_, err := NewStore(db, Strategy("MAPPED_SUPERCLASS"))
	assert.Error(t, err)
}

func TestDemo(t *testing.T) {
	ctx := context.Background()
	db, _ := newStores(t)
	demo := NewDemo(db, zerolog.Nop())

	require.NoError(t, demo.Run(ctx))

	for _, store := range demo.Stores() {
		all, err := store.FindAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3, string(store.Strategy()))

		failed, err := store.FindByStatus(ctx, StatusFailed)
		require.NoError(t, err)
		assert.Len(t, failed, 1, string(store.Strategy()))
	}
}
