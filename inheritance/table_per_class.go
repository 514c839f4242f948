package inheritance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goliatone/go-orm-lab/session"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type tpcCreditCardPayment struct {
	bun.BaseModel `bun:"table:tpc_credit_card_payments,alias:tcc"`

	CreditCardPayment
}

type tpcBankTransferPayment struct {
	bun.BaseModel `bun:"table:tpc_bank_transfer_payments,alias:tbt"`

	BankTransferPayment
}

// TablePerClassStore maps each concrete subtype to its own complete table.
// Subtype queries touch one table; polymorphic queries read every table and
// merge the results.
type TablePerClassStore struct {
	db *bun.DB
}

func NewTablePerClassStore(db *bun.DB) *TablePerClassStore {
	return &TablePerClassStore{db: db}
}

func (s *TablePerClassStore) Strategy() Strategy { return TablePerClass }

func (s *TablePerClassStore) Models() []any {
	return []any{
		(*tpcCreditCardPayment)(nil),
		(*tpcBankTransferPayment)(nil),
	}
}

func (s *TablePerClassStore) Save(ctx context.Context, p Payment) error {
	if err := prepareForSave(p); err != nil {
		return err
	}
	var row any
	switch v := p.(type) {
	case *CreditCardPayment:
		row = &tpcCreditCardPayment{CreditCardPayment: *v}
	case *BankTransferPayment:
		row = &tpcBankTransferPayment{BankTransferPayment: *v}
	default:
		return fmt.Errorf("unsupported payment type %T", p)
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return session.Internal(err, "insert table per class payment")
	}
	return nil
}

// FindByID probes each subtype table in turn.
func (s *TablePerClassStore) FindByID(ctx context.Context, id uuid.UUID) (Payment, error) {
	card := new(tpcCreditCardPayment)
	err := s.db.NewSelect().Model(card).Where("tcc.id = ?", id).Scan(ctx)
	if err == nil {
		return &card.CreditCardPayment, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, session.Internal(err, "select card payment")
	}

	transfer := new(tpcBankTransferPayment)
	err = s.db.NewSelect().Model(transfer).Where("tbt.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, paymentNotFound(id)
	}
	if err != nil {
		return nil, session.Internal(err, "select bank transfer payment")
	}
	return &transfer.BankTransferPayment, nil
}

func (s *TablePerClassStore) FindAll(ctx context.Context) ([]Payment, error) {
	return s.find(ctx, "")
}

func (s *TablePerClassStore) FindByStatus(ctx context.Context, status PaymentStatus) ([]Payment, error) {
	return s.find(ctx, status)
}

// FindCreditCards queries one concrete table only.
func (s *TablePerClassStore) FindCreditCards(ctx context.Context) ([]*CreditCardPayment, error) {
	var rows []*tpcCreditCardPayment
	if err := s.db.NewSelect().Model(&rows).Order("tcc.payment_date").Scan(ctx); err != nil {
		return nil, session.Internal(err, "select card payments")
	}
	out := make([]*CreditCardPayment, 0, len(rows))
	for _, row := range rows {
		out = append(out, &row.CreditCardPayment)
	}
	return out, nil
}

func (s *TablePerClassStore) find(ctx context.Context, status PaymentStatus) ([]Payment, error) {
	var cards []*tpcCreditCardPayment
	cq := s.db.NewSelect().Model(&cards)
	if status != "" {
		cq = cq.Where("tcc.status = ?", status)
	}
	if err := cq.Scan(ctx); err != nil {
		return nil, session.Internal(err, "select card payments")
	}

	var transfers []*tpcBankTransferPayment
	tq := s.db.NewSelect().Model(&transfers)
	if status != "" {
		tq = tq.Where("tbt.status = ?", status)
	}
	if err := tq.Scan(ctx); err != nil {
		return nil, session.Internal(err, "select bank transfer payments")
	}

	out := make([]Payment, 0, len(cards)+len(transfers))
	for _, row := range cards {
		out = append(out, &row.CreditCardPayment)
	}
	for _, row := range transfers {
		out = append(out, &row.BankTransferPayment)
	}
	sortByDate(out)
	return out, nil
}

// UpdateStatus tries each subtype table until one row matches.
func (s *TablePerClassStore) UpdateStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error {
	if err := checkStatus(status); err != nil {
		return err
	}
	for _, model := range []any{(*tpcCreditCardPayment)(nil), (*tpcBankTransferPayment)(nil)} {
		res, err := s.db.NewUpdate().Model(model).Set("status = ?", status).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return session.Internal(err, "update payment status")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
	}
	return paymentNotFound(id)
}
