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

type joinedPayment struct {
	bun.BaseModel `bun:"table:joined_payments,alias:jp"`

	PaymentCore
	CreditCard   *joinedCreditCard   `bun:"rel:has-one,join:id=payment_id"`
	BankTransfer *joinedBankTransfer `bun:"rel:has-one,join:id=payment_id"`
}

type joinedCreditCard struct {
	bun.BaseModel `bun:"table:joined_credit_card_payments,alias:jcc"`

	PaymentID uuid.UUID      `bun:"payment_id,pk,type:uuid"`
	Payment   *joinedPayment `bun:"rel:belongs-to,join:payment_id=id"`
	CardDetails
}

type joinedBankTransfer struct {
	bun.BaseModel `bun:"table:joined_bank_transfer_payments,alias:jbt"`

	PaymentID uuid.UUID      `bun:"payment_id,pk,type:uuid"`
	Payment   *joinedPayment `bun:"rel:belongs-to,join:payment_id=id"`
	BankDetails
}

// payment picks the subtype by which subtype row the LEFT JOIN found.
func (r *joinedPayment) payment() (Payment, error) {
	switch {
	case r.CreditCard != nil && r.CreditCard.PaymentID != uuid.Nil:
		return &CreditCardPayment{PaymentCore: r.PaymentCore, CardDetails: r.CreditCard.CardDetails}, nil
	case r.BankTransfer != nil && r.BankTransfer.PaymentID != uuid.Nil:
		return &BankTransferPayment{PaymentCore: r.PaymentCore, BankDetails: r.BankTransfer.BankDetails}, nil
	default:
		return nil, fmt.Errorf("payment %s has no subtype row", r.ID)
	}
}

// JoinedStore maps shared columns to joined_payments and subtype columns to
// one table per subtype. Every polymorphic read joins all subtype tables.
type JoinedStore struct {
	db *bun.DB
}

func NewJoinedStore(db *bun.DB) *JoinedStore {
	return &JoinedStore{db: db}
}

func (s *JoinedStore) Strategy() Strategy { return Joined }

func (s *JoinedStore) Models() []any {
	return []any{
		(*joinedPayment)(nil),
		(*joinedCreditCard)(nil),
		(*joinedBankTransfer)(nil),
	}
}

// Save writes the base row and the subtype row in one transaction.
func (s *JoinedStore) Save(ctx context.Context, p Payment) error {
	if err := prepareForSave(p); err != nil {
		return err
	}
	core := p.Core()

	var sub any
	switch v := p.(type) {
	case *CreditCardPayment:
		sub = &joinedCreditCard{PaymentID: core.ID, CardDetails: v.CardDetails}
	case *BankTransferPayment:
		sub = &joinedBankTransfer{PaymentID: core.ID, BankDetails: v.BankDetails}
	default:
		return fmt.Errorf("unsupported payment type %T", p)
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&joinedPayment{PaymentCore: *core}).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(sub).Exec(ctx)
		return err
	})
	if err != nil {
		return session.Internal(err, "insert joined payment")
	}
	return nil
}

func (s *JoinedStore) selectPayments(dest any) *bun.SelectQuery {
	return s.db.NewSelect().Model(dest).
		Relation("CreditCard").
		Relation("BankTransfer")
}

func (s *JoinedStore) FindByID(ctx context.Context, id uuid.UUID) (Payment, error) {
	row := new(joinedPayment)
	err := s.selectPayments(row).Where("jp.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, paymentNotFound(id)
	}
	if err != nil {
		return nil, session.Internal(err, "select joined payment")
	}
	return row.payment()
}

func (s *JoinedStore) FindAll(ctx context.Context) ([]Payment, error) {
	return s.find(ctx, func(q *bun.SelectQuery) *bun.SelectQuery { return q })
}

func (s *JoinedStore) FindByStatus(ctx context.Context, status PaymentStatus) ([]Payment, error) {
	return s.find(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("jp.status = ?", status)
	})
}

func (s *JoinedStore) find(ctx context.Context, criteria func(*bun.SelectQuery) *bun.SelectQuery) ([]Payment, error) {
	var rows []*joinedPayment
	q := s.selectPayments(&rows).OrderExpr("jp.payment_date ASC, jp.transaction_id ASC")
	if err := criteria(q).Scan(ctx); err != nil {
		return nil, session.Internal(err, "select joined payments")
	}
	out := make([]Payment, 0, len(rows))
	for _, row := range rows {
		p, err := row.payment()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// UpdateStatus touches only the base table.
func (s *JoinedStore) UpdateStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error {
	if err := checkStatus(status); err != nil {
		return err
	}
	res, err := s.db.NewUpdate().Model((*joinedPayment)(nil)).
		Set("status = ?", status).
		Where("id = ?", id).
		Exec(ctx)
	return updated(res, err, id)
}

// Delete removes the subtype row and then the base row.
func (s *JoinedStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, model := range []any{(*joinedCreditCard)(nil), (*joinedBankTransfer)(nil)} {
			if _, err := tx.NewDelete().Model(model).Where("payment_id = ?", id).Exec(ctx); err != nil {
				return session.Internal(err, "delete joined payment subtype")
			}
		}
		res, err := tx.NewDelete().Model((*joinedPayment)(nil)).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return session.Internal(err, "delete joined payment")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return paymentNotFound(id)
		}
		return nil
	})
}
