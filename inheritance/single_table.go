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

// singleTablePayment is one row of the shared table. Columns of the other
// subtype stay NULL, so subtype columns cannot be NOT NULL here.
type singleTablePayment struct {
	bun.BaseModel `bun:"table:single_table_payments,alias:stp"`

	PaymentCore
	PaymentType PaymentType `bun:"payment_type,notnull"`
	CardDetails
	BankDetails
}

func (r *singleTablePayment) payment() (Payment, error) {
	switch r.PaymentType {
	case TypeCreditCard:
		return &CreditCardPayment{PaymentCore: r.PaymentCore, CardDetails: r.CardDetails}, nil
	case TypeBankTransfer:
		return &BankTransferPayment{PaymentCore: r.PaymentCore, BankDetails: r.BankDetails}, nil
	default:
		return nil, fmt.Errorf("unknown payment_type %q for payment %s", r.PaymentType, r.ID)
	}
}

func singleTableRow(p Payment) (*singleTablePayment, error) {
	row := &singleTablePayment{PaymentCore: *p.Core(), PaymentType: p.Type()}
	switch v := p.(type) {
	case *CreditCardPayment:
		row.CardDetails = v.CardDetails
	case *BankTransferPayment:
		row.BankDetails = v.BankDetails
	default:
		return nil, fmt.Errorf("unsupported payment type %T", p)
	}
	return row, nil
}

// SingleTableStore maps the hierarchy to single_table_payments. Polymorphic
// queries need no joins; the payment_type discriminator picks the subtype.
type SingleTableStore struct {
	db *bun.DB
}

func NewSingleTableStore(db *bun.DB) *SingleTableStore {
	return &SingleTableStore{db: db}
}

func (s *SingleTableStore) Strategy() Strategy { return SingleTable }

func (s *SingleTableStore) Models() []any {
	return []any{(*singleTablePayment)(nil)}
}

func (s *SingleTableStore) Save(ctx context.Context, p Payment) error {
	if err := prepareForSave(p); err != nil {
		return err
	}
	row, err := singleTableRow(p)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return session.Internal(err, "insert single table payment")
	}
	return nil
}

func (s *SingleTableStore) FindByID(ctx context.Context, id uuid.UUID) (Payment, error) {
	row := new(singleTablePayment)
	err := s.db.NewSelect().Model(row).Where("stp.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, paymentNotFound(id)
	}
	if err != nil {
		return nil, session.Internal(err, "select single table payment")
	}
	return row.payment()
}

func (s *SingleTableStore) FindAll(ctx context.Context) ([]Payment, error) {
	return s.find(ctx, func(q *bun.SelectQuery) *bun.SelectQuery { return q })
}

func (s *SingleTableStore) FindByStatus(ctx context.Context, status PaymentStatus) ([]Payment, error) {
	return s.find(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("stp.status = ?", status)
	})
}

// FindByType shows the discriminator used as a query filter.
func (s *SingleTableStore) FindByType(ctx context.Context, t PaymentType) ([]Payment, error) {
	return s.find(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("stp.payment_type = ?", t)
	})
}

func (s *SingleTableStore) find(ctx context.Context, criteria func(*bun.SelectQuery) *bun.SelectQuery) ([]Payment, error) {
	var rows []*singleTablePayment
	q := s.db.NewSelect().Model(&rows).OrderExpr("stp.payment_date ASC, stp.transaction_id ASC")
	if err := criteria(q).Scan(ctx); err != nil {
		return nil, session.Internal(err, "select single table payments")
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

func (s *SingleTableStore) UpdateStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error {
	if err := checkStatus(status); err != nil {
		return err
	}
	res, err := s.db.NewUpdate().Model((*singleTablePayment)(nil)).
		Set("status = ?", status).
		Where("id = ?", id).
		Exec(ctx)
	return updated(res, err, id)
}

// updated turns an UPDATE result into NotFound when no row matched.
func updated(res sql.Result, err error, id uuid.UUID) error {
	if err != nil {
		return session.Internal(err, "update payment status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return session.Internal(err, "update payment status")
	}
	if n == 0 {
		return paymentNotFound(id)
	}
	return nil
}
