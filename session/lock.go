package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-orm-lab/internal/database"
	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

// LockMode selects how Lock protects an entity.
type LockMode int

const (
	// LockNone only re-reads the entity.
	LockNone LockMode = iota
	// LockRead takes a shared row lock (SELECT ... FOR SHARE).
	LockRead
	// LockWrite takes an exclusive row lock (SELECT ... FOR UPDATE).
	LockWrite
	// LockForceIncrement bumps the version of a Versioned entity immediately.
	LockForceIncrement
)

func (m LockMode) String() string {
	switch m {
	case LockRead:
		return "PESSIMISTIC_READ"
	case LockWrite:
		return "PESSIMISTIC_WRITE"
	case LockForceIncrement:
		return "OPTIMISTIC_FORCE_INCREMENT"
	default:
		return "NONE"
	}
}

// ErrLockNotAcquired is returned when a row lock could not be obtained within
// the timeout, or immediately with NoWait.
var ErrLockNotAcquired = errors.New("lock not acquired")

// LockOptions tune pessimistic locks. They only take effect on databases with
// row locks.
type LockOptions struct {
	// Timeout bounds how long to wait for the lock. Zero waits indefinitely.
	Timeout time.Duration
	// NoWait fails immediately if the row is locked.
	NoWait bool
}

// Lock acquires mode on a managed entity and refreshes its state. Pessimistic
// modes need an active transaction; the lock is held until it ends.
func (s *Session) Lock(ctx context.Context, entity Entity, mode LockMode, opts ...LockOptions) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var o LockOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	switch mode {
	case LockForceIncrement:
		return s.forceIncrement(ctx, entity)
	case LockRead, LockWrite:
		if !s.InTransaction() {
			return fmt.Errorf("%s lock on %s: %w", mode, entityName(entity), ErrNoTransaction)
		}
	}

	idb := s.IDB()
	rowLocks := database.SupportsRowLocks(idb)

	if rowLocks && o.Timeout > 0 && mode != LockNone {
		// SET does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", o.Timeout.Milliseconds())
		if _, err := idb.ExecContext(ctx, stmt); err != nil {
			return Internal(err, "set lock timeout")
		}
	}

	q := idb.NewSelect().Model(entity).WherePK()
	if rowLocks {
		q = applyLockClause(q, mode, o)
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NotFound(entityName(entity), entity.PrimaryKey())
		}
		if isLockNotAvailable(err) {
			return LockNotAcquired(entityName(entity), entity.PrimaryKey(), err)
		}
		return Internal(err, "lock "+entityName(entity))
	}

	s.factory.stats.RecordEntityLoad()
	s.resnapshot(entity)
	s.logger.Debug().
		Str("entity", entityName(entity)).
		Interface("id", entity.PrimaryKey()).
		Stringer("mode", mode).
		Bool("row_lock", rowLocks).
		Msg("entity locked")
	return nil
}

func applyLockClause(q *bun.SelectQuery, mode LockMode, o LockOptions) *bun.SelectQuery {
	var clause string
	switch mode {
	case LockRead:
		clause = "SHARE"
	case LockWrite:
		clause = "UPDATE"
	default:
		return q
	}
	if o.NoWait {
		clause += " NOWAIT"
	}
	return q.For(clause)
}

// forceIncrement writes version+1 with a version check, so concurrent
// optimistic writers of the same entity fail even if nothing else changed.
func (s *Session) forceIncrement(ctx context.Context, entity Entity) error {
	v, ok := entity.(Versioned)
	if !ok {
		return fmt.Errorf("force increment on %s: entity is not versioned", entityName(entity))
	}

	old := v.CurrentVersion()
	res, err := s.IDB().NewUpdate().
		Model(entity).
		Set("? = ?", bun.Ident(versionColumn), old+1).
		WherePK().
		Where("? = ?", bun.Ident(versionColumn), old).
		Exec(ctx)
	if err == nil {
		err = requireRows(res)
	}
	if err != nil {
		if errors.Is(err, ErrStaleState) {
			s.factory.stats.RecordOptimisticFailure()
			return StaleState(entityName(entity), entity.PrimaryKey(), old)
		}
		return Internal(err, "force version increment")
	}

	v.SetVersion(old + 1)
	s.factory.stats.RecordEntityUpdate()
	s.touch(ctx, entity, nil)
	s.resnapshot(entity)
	return nil
}

// isLockNotAvailable matches Postgres lock_not_available (55P03), raised by
// NOWAIT and lock_timeout.
func isLockNotAvailable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "55P03"
}

// LockNotAcquired wraps ErrLockNotAcquired with the driver cause.
func LockNotAcquired(entity string, key any, cause error) error {
	return goerrors.Wrap(fmt.Errorf("%w: %v", ErrLockNotAcquired, cause), goerrors.CategoryConflict,
		fmt.Sprintf("could not lock %s %v", entity, key)).
		WithTextCode("LOCK_NOT_ACQUIRED")
}
