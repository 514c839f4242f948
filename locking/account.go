package locking

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// ErrInsufficientFunds is returned when a debit would make a balance negative.
var ErrInsufficientFunds = errors.New("insufficient funds")

// AccountStatus is stored by name.
type AccountStatus string

const (
	AccountActive  AccountStatus = "ACTIVE"
	AccountBlocked AccountStatus = "BLOCKED"
	AccountClosed  AccountStatus = "CLOSED"
)

// Account is a versioned bank account. Every balance change is recorded as
// a Transaction in the same database transaction.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID            int64           `bun:"id,pk,autoincrement" json:"id"`
	AccountNumber string          `bun:"account_number,unique,notnull" json:"account_number"`
	Balance       decimal.Decimal `bun:"balance,notnull,type:decimal(19,2)" json:"balance"`
	Version       int64           `bun:"version,notnull,default:0" json:"version"`
	LastModified  time.Time       `bun:"last_modified,nullzero" json:"last_modified"`
	Status        AccountStatus   `bun:"status,notnull" json:"status"`

	Transactions []*Transaction `bun:"rel:has-many,join:id=account_id" json:"transactions,omitempty" msgpack:"-"`
}

// NewAccount returns an active account.
func NewAccount(number string, balance decimal.Decimal) *Account {
	return &Account{AccountNumber: number, Balance: balance, Status: AccountActive}
}

func (a *Account) PrimaryKey() any { return a.ID }

func (a *Account) CurrentVersion() int64 { return a.Version }

func (a *Account) SetVersion(v int64) { a.Version = v }

func (a *Account) Validate() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.AccountNumber, validation.Required, validation.Length(3, 34)),
		validation.Field(&a.Balance, validation.By(nonNegative)),
		validation.Field(&a.Status, validation.Required, validation.In(AccountActive, AccountBlocked, AccountClosed)),
	)
}

// Apply adds amount to the balance and returns the ledger entry for it.
// The balance is left unchanged when it would go negative.
func (a *Account) Apply(amount decimal.Decimal, description string) (*Transaction, error) {
	next := a.Balance.Add(amount)
	if next.IsNegative() {
		return nil, goerrors.Wrap(ErrInsufficientFunds, goerrors.CategoryConflict,
			"balance of "+a.AccountNumber+" would become "+next.StringFixed(2)).
			WithTextCode("INSUFFICIENT_FUNDS").
			WithMetadata(map[string]any{"account": a.AccountNumber, "balance": a.Balance.StringFixed(2), "amount": amount.StringFixed(2)})
	}
	a.Balance = next
	t := &Transaction{
		AccountID:       a.ID,
		Amount:          amount,
		Description:     description,
		TransactionDate: time.Now().UTC(),
	}
	a.Transactions = append(a.Transactions, t)
	return t, nil
}

func (a *Account) BeforeAppendModel(_ context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.InsertQuery, *bun.UpdateQuery:
		a.LastModified = time.Now().UTC()
	}
	return nil
}

func nonNegative(value any) error {
	d, _ := value.(decimal.Decimal)
	if d.IsNegative() {
		return errors.New("must not be negative")
	}
	return nil
}

// Transaction is one ledger entry of an account.
type Transaction struct {
	bun.BaseModel `bun:"table:account_transactions,alias:atx"`

	ID              int64           `bun:"id,pk,autoincrement" json:"id"`
	AccountID       int64           `bun:"account_id,notnull" json:"account_id"`
	Account         *Account        `bun:"rel:belongs-to,join:account_id=id" json:"-" msgpack:"-"`
	Amount          decimal.Decimal `bun:"amount,notnull,type:decimal(19,2)" json:"amount"`
	Description     string          `bun:"description,nullzero" json:"description,omitempty"`
	TransactionDate time.Time       `bun:"transaction_date,notnull" json:"transaction_date"`
	Version         int64           `bun:"version,notnull,default:0" json:"version"`
}

func (t *Transaction) PrimaryKey() any { return t.ID }

func (t *Transaction) CurrentVersion() int64 { return t.Version }

func (t *Transaction) SetVersion(v int64) { t.Version = v }
