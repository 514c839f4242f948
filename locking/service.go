package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-orm-lab/session"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// ErrLockNotAcquired is returned when a pessimistic lock times out or, with
// NoWait, is held by another transaction.
var ErrLockNotAcquired = session.ErrLockNotAcquired

// ErrDuplicateAccount is returned when the account number is taken.
var ErrDuplicateAccount = errors.New("duplicate account number")

// LockOptions tune pessimistic locks.
type LockOptions = session.LockOptions

// RetryPolicy bounds UpdateBalanceOptimisticWithRetry.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy starts at 10ms and doubles up to 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
		MaxElapsedTime:  10 * time.Second,
	}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// AccountService demonstrates optimistic and pessimistic concurrency control
// over accounts.
type AccountService struct {
	factory *session.Factory
	retry   RetryPolicy
	logger  zerolog.Logger

	// afterRead runs between the read and the write of an optimistic update.
	afterRead func(ctx context.Context, a *Account)
}

func NewAccountService(factory *session.Factory) *AccountService {
	return &AccountService{
		factory: factory,
		retry:   DefaultRetryPolicy(),
		logger:  factory.Logger().With().Str("service", "accounts").Logger(),
	}
}

// WithRetryPolicy replaces the retry policy.
func (s *AccountService) WithRetryPolicy(p RetryPolicy) *AccountService {
	s.retry = p
	return s
}

// CreateAccount opens an account. Account numbers are unique.
func (s *AccountService) CreateAccount(ctx context.Context, number string, initial decimal.Decimal) (*Account, error) {
	account := NewAccount(number, initial)
	err := s.factory.RunInTx(ctx, func(ctx context.Context, ss *session.Session) error {
		_, err := session.FindOne[Account](ctx, ss, byNumber(number))
		switch {
		case err == nil:
			return goerrors.Wrap(ErrDuplicateAccount, goerrors.CategoryConflict, "account number "+number+" already exists").
				WithTextCode("DUPLICATE_KEY").
				WithMetadata(map[string]any{"account_number": number})
		case !errors.Is(err, session.ErrNotFound):
			return err
		}
		return ss.Persist(ctx, account)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("account", number).Stringer("balance", initial).Msg("account created")
	return account, nil
}

// Get loads an account without its transactions.
func (s *AccountService) Get(ctx context.Context, id int64) (*Account, error) {
	ss := s.factory.OpenSession()
	defer ss.Close(ctx)
	return session.Find[Account](ctx, ss, id)
}

// FindByAccountNumber loads an account by its number.
func (s *AccountService) FindByAccountNumber(ctx context.Context, number string) (*Account, error) {
	ss := s.factory.OpenSession()
	defer ss.Close(ctx)
	return session.FindOne[Account](ctx, ss, byNumber(number))
}

// FindAllWithTransactions loads every account with its ledger in two
// queries, ordered by account number and transaction id.
func (s *AccountService) FindAllWithTransactions(ctx context.Context) ([]*Account, error) {
	var accounts []*Account
	err := s.factory.DB().NewSelect().Model(&accounts).
		Relation("Transactions", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("atx.id")
		}).
		Order("acc.account_number").
		Scan(ctx)
	if err != nil {
		return nil, session.Internal(err, "select accounts with transactions")
	}
	return accounts, nil
}

// UpdateBalanceOptimistic reads the account, applies amount and writes it
// back in a new transaction guarded by the version read. It fails with
// session.ErrStaleState when another writer committed in between.
func (s *AccountService) UpdateBalanceOptimistic(ctx context.Context, id int64, amount decimal.Decimal) error {
	account, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.afterRead != nil {
		s.afterRead(ctx, account)
	}

	entry, err := account.Apply(amount, "Optimistic update")
	if err != nil {
		return err
	}

	return s.factory.RunInTx(ctx, func(ctx context.Context, ss *session.Session) error {
		if _, err := session.Merge(ctx, ss, account); err != nil {
			return err
		}
		if err := ss.Flush(ctx); err != nil {
			return err
		}
		return ss.Persist(ctx, entry)
	})
}

// UpdateBalanceOptimisticWithRetry retries UpdateBalanceOptimistic on stale
// state with exponential backoff, up to attempts tries. Other errors stop
// immediately. It returns the number of tries used.
func (s *AccountService) UpdateBalanceOptimisticWithRetry(ctx context.Context, id int64, amount decimal.Decimal, attempts uint) (uint, error) {
	var tries uint
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tries++
		err := s.UpdateBalanceOptimistic(ctx, id, amount)
		if err == nil || errors.Is(err, session.ErrStaleState) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(s.retry.backOff()),
		backoff.WithMaxTries(attempts),
		backoff.WithMaxElapsedTime(s.retry.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug().Err(err).Int64("account_id", id).Dur("retry_in", next).Msg("optimistic update conflicted")
		}),
	)
	if err != nil {
		return tries, fmt.Errorf("update balance after %d tries: %w", tries, err)
	}
	return tries, nil
}

// GetBalancePessimisticRead reads the balance under a shared row lock.
func (s *AccountService) GetBalancePessimisticRead(ctx context.Context, id int64, opts LockOptions) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.factory.RunInTx(ctx, func(ctx context.Context, ss *session.Session) error {
		account, err := lockAccount(ctx, ss, id, session.LockRead, opts)
		if err != nil {
			return err
		}
		balance = account.Balance
		return nil
	})
	return balance, err
}

// UpdateBalancePessimisticWrite applies amount under an exclusive row lock.
func (s *AccountService) UpdateBalancePessimisticWrite(ctx context.Context, id int64, amount decimal.Decimal, opts LockOptions) error {
	return s.factory.RunInTx(ctx, func(ctx context.Context, ss *session.Session) error {
		account, err := lockAccount(ctx, ss, id, session.LockWrite, opts)
		if err != nil {
			return err
		}
		entry, err := account.Apply(amount, "Pessimistic update")
		if err != nil {
			return err
		}
		return ss.Persist(ctx, entry)
	})
}

// ForceVersionIncrement bumps the version without changing any other
// column, so optimistic writers holding the old version fail.
func (s *AccountService) ForceVersionIncrement(ctx context.Context, id int64) (int64, error) {
	var version int64
	err := s.factory.RunInTx(ctx, func(ctx context.Context, ss *session.Session) error {
		account, err := lockAccount(ctx, ss, id, session.LockForceIncrement, LockOptions{})
		if err != nil {
			return err
		}
		version = account.Version
		return nil
	})
	return version, err
}

// Transfer moves amount between two accounts in one transaction. Both rows
// are locked in id order, so two opposite transfers cannot deadlock.
func (s *AccountService) Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal) error {
	if fromID == toID {
		return session.ValidationFailed("Transfer", errors.New("source and target accounts are the same"))
	}
	if !amount.IsPositive() {
		return session.ValidationFailed("Transfer", errors.New("amount must be positive"))
	}

	first, second := fromID, toID
	if second < first {
		first, second = second, first
	}

	return s.factory.RunInTx(ctx, func(ctx context.Context, ss *session.Session) error {
		locked := make(map[int64]*Account, 2)
		for _, id := range []int64{first, second} {
			account, err := lockAccount(ctx, ss, id, session.LockWrite, LockOptions{})
			if err != nil {
				return err
			}
			locked[id] = account
		}

		from, to := locked[fromID], locked[toID]
		debit, err := from.Apply(amount.Neg(), fmt.Sprintf("Transfer to %s", to.AccountNumber))
		if err != nil {
			return err
		}
		credit, err := to.Apply(amount, fmt.Sprintf("Transfer from %s", from.AccountNumber))
		if err != nil {
			return err
		}
		if err := ss.Persist(ctx, debit); err != nil {
			return err
		}
		return ss.Persist(ctx, credit)
	})
}

func lockAccount(ctx context.Context, ss *session.Session, id int64, mode session.LockMode, opts LockOptions) (*Account, error) {
	account, err := session.Find[Account](ctx, ss, id)
	if err != nil {
		return nil, err
	}
	if err := ss.Lock(ctx, account, mode, opts); err != nil {
		return nil, err
	}
	return account, nil
}

func byNumber(number string) session.QueryFunc {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("acc.account_number = ?", number)
	}
}
