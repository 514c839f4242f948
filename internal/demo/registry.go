package demo

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// RunFunc executes one demonstration.
type RunFunc func(ctx context.Context) error

// Module is one runnable demonstration together with the tables it needs.
type Module struct {
	Name        string
	Description string
	// Models are created in order, so parents come before children.
	Models []any
	// JoinModels are many-to-many join tables that bun must know before the
	// relations using them are queried.
	JoinModels []any
	Run        RunFunc
}

// Registry keeps modules in registration order.
type Registry struct {
	modules []Module
	index   map[string]int
}

// NewRegistry creates a registry holding modules.
func NewRegistry(modules ...Module) (*Registry, error) {
	r := &Registry{index: make(map[string]int, len(modules))}
	for _, m := range modules {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends m. Names must be unique and every module needs a Run func.
func (r *Registry) Register(m Module) error {
	if m.Name == "" || m.Run == nil {
		return goerrors.New("module needs a name and a run function", goerrors.CategoryValidation).
			WithTextCode("INVALID_MODULE").
			WithMetadata(map[string]any{"module": m.Name})
	}
	if _, ok := r.index[m.Name]; ok {
		return goerrors.New(fmt.Sprintf("module %q already registered", m.Name), goerrors.CategoryConflict).
			WithTextCode("DUPLICATE_MODULE")
	}
	r.index[m.Name] = len(r.modules)
	r.modules = append(r.modules, m)
	return nil
}

// Lookup returns the module registered under name.
func (r *Registry) Lookup(name string) (Module, bool) {
	i, ok := r.index[name]
	if !ok {
		return Module{}, false
	}
	return r.modules[i], true
}

// Names returns module names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.modules))
	for i, m := range r.modules {
		names[i] = m.Name
	}
	return names
}

// Modules returns a copy of the registered modules.
func (r *Registry) Modules() []Module {
	return append([]Module(nil), r.modules...)
}

// Select resolves names to modules keeping the order given. No names selects
// every module. Every unknown name is reported in one error.
func (r *Registry) Select(names ...string) ([]Module, error) {
	if len(names) == 0 {
		return r.Modules(), nil
	}

	var (
		selected = make([]Module, 0, len(names))
		seen     = make(map[string]bool, len(names))
		unknown  []string
	)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		m, ok := r.Lookup(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		selected = append(selected, m)
	}
	if len(unknown) > 0 {
		return nil, goerrors.New(fmt.Sprintf("unknown module(s): %v", unknown), goerrors.CategoryNotFound).
			WithTextCode("UNKNOWN_MODULE").
			WithMetadata(map[string]any{"unknown": unknown, "available": r.Names()})
	}
	return selected, nil
}
