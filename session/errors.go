package session

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

var (
	// ErrNotFound is returned when no row matches a lookup.
	ErrNotFound = errors.New("entity not found")
	// ErrStaleState is returned when an update or delete matched no row,
	// because another transaction changed the version or removed the row.
	ErrStaleState = errors.New("stale entity state")
	// ErrSessionClosed is returned by every operation on a closed session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrNoTransaction is returned by Commit, Rollback and Lock without Begin.
	ErrNoTransaction = errors.New("no active transaction")
	// ErrTransactionActive is returned by Begin when a transaction is already open.
	ErrTransactionActive = errors.New("transaction already active")
)

// NotFound wraps ErrNotFound with the entity name and key.
func NotFound(entity string, key any) error {
	return goerrors.Wrap(ErrNotFound, goerrors.CategoryNotFound, fmt.Sprintf("%s %v not found", entity, key)).
		WithTextCode("NOT_FOUND").
		WithMetadata(map[string]any{"entity": entity, "key": fmt.Sprint(key)})
}

// StaleState wraps ErrStaleState for an optimistic lock failure.
func StaleState(entity string, key any, version int64) error {
	return goerrors.Wrap(ErrStaleState, goerrors.CategoryConflict,
		fmt.Sprintf("%s %v was updated or deleted by another transaction", entity, key)).
		WithTextCode("STALE_STATE").
		WithMetadata(map[string]any{"entity": entity, "key": fmt.Sprint(key), "version": version})
}

// ValidationFailed wraps a validation error for entity.
func ValidationFailed(entity string, err error) error {
	return goerrors.Wrap(err, goerrors.CategoryValidation, entity+" validation failed").
		WithTextCode("VALIDATION_FAILED").
		WithMetadata(map[string]any{"entity": entity, "fields": err.Error()})
}

// Internal wraps a driver error.
func Internal(err error, op string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, op)
}

// HasCategory reports whether err carries category anywhere in its chain.
func HasCategory(err error, category goerrors.Category) bool {
	var richErr *goerrors.Error
	for err != nil {
		if !errors.As(err, &richErr) {
			return false
		}
		if richErr.Category == category {
			return true
		}
		err = errors.Unwrap(richErr)
	}
	return false
}
