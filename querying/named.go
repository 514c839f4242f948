package querying

import (
	"errors"
	"fmt"
	"sort"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/uptrace/bun"
)

var (
	// ErrUnknownQuery is returned by Build for a name that was never registered.
	ErrUnknownQuery = errors.New("unknown named query")
	// ErrMissingParameter is returned by Build when a required parameter is absent.
	ErrMissingParameter = errors.New("missing query parameter")
	// ErrDuplicateQuery is returned by Register for a name already in use.
	ErrDuplicateQuery = errors.New("named query already registered")
)

const (
	QueryFindByStatus               = "Order.findByStatus"
	QueryFindRecentByStatus         = "Order.findRecentByStatus"
	QueryFindByCustomerAndDateRange = "Order.findByCustomerAndDateRange"
)

// Params are the named parameters of a query.
type Params map[string]any

// QueryBuilder applies a named query to a select. Every required parameter is
// present in params when it runs.
type QueryBuilder func(q *bun.SelectQuery, params Params) *bun.SelectQuery

type namedQuery struct {
	required []string
	build    QueryBuilder
}

// NamedQueries is a registry of queries defined once and referenced by name.
type NamedQueries struct {
	queries *xsync.MapOf[string, namedQuery]
}

// NewNamedQueries returns an empty registry.
func NewNamedQueries() *NamedQueries {
	return &NamedQueries{queries: xsync.NewMapOf[string, namedQuery]()}
}

// DefaultNamedQueries returns a registry holding the order queries.
func DefaultNamedQueries() *NamedQueries {
	n := NewNamedQueries()
	n.mustRegister(QueryFindByStatus, []string{"status"}, func(q *bun.SelectQuery, p Params) *bun.SelectQuery {
		return q.Where("?TableAlias.status = ?", p["status"])
	})
	n.mustRegister(QueryFindRecentByStatus, []string{"status"}, func(q *bun.SelectQuery, p Params) *bun.SelectQuery {
		return q.Where("?TableAlias.status = ?", p["status"]).
			OrderExpr("?TableAlias.order_date DESC")
	})
	n.mustRegister(QueryFindByCustomerAndDateRange, []string{"email", "startDate", "endDate"}, func(q *bun.SelectQuery, p Params) *bun.SelectQuery {
		return q.Where("?TableAlias.customer_email = ?", p["email"]).
			Where("?TableAlias.order_date BETWEEN ? AND ?", p["startDate"], p["endDate"]).
			OrderExpr("?TableAlias.order_date ASC")
	})
	return n
}

// Register adds a query. Names are unique.
func (n *NamedQueries) Register(name string, required []string, build QueryBuilder) error {
	if name == "" || build == nil {
		return goerrors.New("named query needs a name and a builder", goerrors.CategoryValidation).
			WithTextCode("INVALID_NAMED_QUERY")
	}
	_, loaded := n.queries.LoadOrStore(name, namedQuery{required: append([]string(nil), required...), build: build})
	if loaded {
		return goerrors.Wrap(ErrDuplicateQuery, goerrors.CategoryConflict, name).
			WithTextCode("DUPLICATE_NAMED_QUERY")
	}
	return nil
}

func (n *NamedQueries) mustRegister(name string, required []string, build QueryBuilder) {
	if err := n.Register(name, required, build); err != nil {
		panic(err)
	}
}

// Build binds params to the named query and returns it as select criteria.
func (n *NamedQueries) Build(name string, params Params) (repository.SelectCriteria, error) {
	query, ok := n.queries.Load(name)
	if !ok {
		return nil, goerrors.Wrap(ErrUnknownQuery, goerrors.CategoryNotFound, name).
			WithTextCode("UNKNOWN_NAMED_QUERY")
	}

	var missing []string
	for _, param := range query.required {
		if _, ok := params[param]; !ok {
			missing = append(missing, param)
		}
	}
	if len(missing) > 0 {
		return nil, goerrors.Wrap(ErrMissingParameter, goerrors.CategoryValidation,
			fmt.Sprintf("%s: missing %v", name, missing)).
			WithTextCode("MISSING_QUERY_PARAMETER").
			WithMetadata(map[string]any{"query": name, "missing": missing})
	}

	bound := make(Params, len(params))
	for k, v := range params {
		bound[k] = v
	}
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return query.build(q, bound)
	}, nil
}

// Names lists the registered queries in sorted order.
func (n *NamedQueries) Names() []string {
	names := make([]string, 0, n.queries.Size())
	n.queries.Range(func(name string, _ namedQuery) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}
