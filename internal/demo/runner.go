package demo

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-orm-lab/internal/database"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// Result records one module execution.
type Result struct {
	Module   string
	Duration time.Duration
	Err      error
}

// Runner prepares schemas and runs modules one after another.
type Runner struct {
	db       *bun.DB
	registry *Registry
	logger   zerolog.Logger
	reset    bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithResetSchema drops the tables of the selected modules before creating
// them again.
func WithResetSchema(reset bool) RunnerOption {
	return func(r *Runner) {
		r.reset = reset
	}
}

// NewRunner creates a runner over db.
func NewRunner(db *bun.DB, registry *Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		db:       db,
		registry: registry,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prepare registers join models and creates the tables of names (every module
// when empty).
func (r *Runner) Prepare(ctx context.Context, names ...string) ([]Module, error) {
	modules, err := r.registry.Select(names...)
	if err != nil {
		return nil, err
	}

	for _, m := range modules {
		database.RegisterModels(r.db, m.JoinModels...)
	}
	for _, m := range modules {
		if r.reset {
			err = database.ResetSchema(ctx, r.db, m.Models...)
		} else {
			err = database.CreateSchema(ctx, r.db, m.Models...)
		}
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "prepare schema").
				WithMetadata(map[string]any{"module": m.Name})
		}
	}
	return modules, nil
}

// Run prepares and executes the named modules in order and stops at the first
// failure. Unknown names fail before any schema work or module runs.
func (r *Runner) Run(ctx context.Context, names ...string) ([]Result, error) {
	modules, err := r.Prepare(ctx, names...)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(modules))
	for _, m := range modules {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		log := r.logger.With().Str("module", m.Name).Logger()
		log.Info().Str("description", m.Description).Msg("running module")

		start := time.Now()
		err := m.Run(ctx)
		res := Result{Module: m.Name, Duration: time.Since(start), Err: err}
		results = append(results, res)

		if err != nil {
			log.Error().Err(err).Dur("duration", res.Duration).Msg("module failed")
			return results, goerrors.Wrap(err, goerrors.CategoryOperation, "module failed").
				WithTextCode("MODULE_FAILED").
				WithMetadata(map[string]any{"module": m.Name})
		}
		log.Info().Dur("duration", res.Duration).Msg("module finished")
	}
	return results, nil
}
