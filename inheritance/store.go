package inheritance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goliatone/go-orm-lab/session"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Strategy names how a payment hierarchy is mapped to tables.
type Strategy string

const (
	// SingleTable stores every subtype in one table with a discriminator column.
	SingleTable Strategy = "SINGLE_TABLE"
	// Joined stores shared columns in a base table and subtype columns in one
	// table per subtype, sharing the primary key.
	Joined Strategy = "JOINED"
	// TablePerClass stores each concrete subtype in its own complete table.
	TablePerClass Strategy = "TABLE_PER_CLASS"
)

// Store persists payments with one inheritance strategy. Lookups are
// polymorphic: they return *CreditCardPayment or *BankTransferPayment.
type Store interface {
	Strategy() Strategy
	// Models lists the tables of the strategy, parents first.
	Models() []any
	Save(ctx context.Context, p Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (Payment, error)
	// FindAll returns every payment ordered by payment date.
	FindAll(ctx context.Context) ([]Payment, error)
	FindByStatus(ctx context.Context, status PaymentStatus) ([]Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error
}

// NewStore returns the store for strategy.
func NewStore(db *bun.DB, strategy Strategy) (Store, error) {
	switch strategy {
	case SingleTable:
		return NewSingleTableStore(db), nil
	case Joined:
		return NewJoinedStore(db), nil
	case TablePerClass:
		return NewTablePerClassStore(db), nil
	default:
		return nil, fmt.Errorf("unknown inheritance strategy %q", strategy)
	}
}

// Strategies lists every supported strategy.
func Strategies() []Strategy {
	return []Strategy{SingleTable, Joined, TablePerClass}
}

// prepareForSave fills defaults and validates p before its first insert.
func prepareForSave(p Payment) error {
	p.Core().prepare(time.Now())
	if err := p.Validate(); err != nil {
		return session.ValidationFailed(string(p.Type()), err)
	}
	return nil
}

func paymentNotFound(id uuid.UUID) error {
	return session.NotFound("Payment", id)
}

func checkStatus(status PaymentStatus) error {
	for _, s := range paymentStatuses {
		if s == status {
			return nil
		}
	}
	return session.ValidationFailed("Payment", fmt.Errorf("unknown status %q", status))
}

func sortByDate(payments []Payment) {
	sort.SliceStable(payments, func(i, j int) bool {
		a, b := payments[i].Core(), payments[j].Core()
		if a.PaymentDate.Equal(b.PaymentDate) {
			return a.TransactionID < b.TransactionID
		}
		return a.PaymentDate.Before(b.PaymentDate)
	})
}
