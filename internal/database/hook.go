package database

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// QueryHook logs every statement bun executes and counts them. A cache hit
// that skipped the database shows up as an unchanged Queries() value.
type QueryHook struct {
	logger  zerolog.Logger
	queries atomic.Int64
	slow    time.Duration
}

var _ bun.QueryHook = (*QueryHook)(nil)

// NewQueryHook creates a hook that logs at debug level and warns on failures.
func NewQueryHook(logger zerolog.Logger) *QueryHook {
	return &QueryHook{logger: logger, slow: 200 * time.Millisecond}
}

// BeforeQuery implements bun.QueryHook.
func (h *QueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

// AfterQuery implements bun.QueryHook.
func (h *QueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	h.queries.Add(1)

	duration := time.Since(event.StartTime)
	var e *zerolog.Event
	switch {
	case event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows):
		e = h.logger.Warn().Err(event.Err)
	case duration >= h.slow:
		e = h.logger.Info().Bool("slow", true)
	default:
		e = h.logger.Debug()
	}

	e.Str("operation", event.Operation()).
		Dur("duration", duration).
		Str("query", event.Query).
		Msg("sql")
}

// Queries returns the number of statements executed since the last Reset.
func (h *QueryHook) Queries() int64 {
	return h.queries.Load()
}

// Reset sets the statement counter back to zero.
func (h *QueryHook) Reset() {
	h.queries.Store(0)
}
