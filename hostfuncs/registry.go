package hostfuncs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	rserrors "github.com/reglet-dev/rootscope/domain/errors"
)

// Registry is an immutable collection of host functions keyed by module and
// name. Once created via NewRegistry, functions cannot be added or removed,
// so lookups are lock-free and safe from any goroutine.
type Registry struct {
	funcs      map[string]Func
	names      []string // qualified, sorted for consistent iteration
	middleware []Middleware
}

// registryBuilder accumulates configuration during registry construction.
type registryBuilder struct {
	funcs      map[string]Func
	middleware []Middleware
	errors     []error
}

// NewRegistry creates an immutable Registry with the given options.
// Returns an error if any qualified name is registered twice.
//
// Example usage:
//
//	registry, err := NewRegistry(
//	    WithMiddleware(PanicRecoveryMiddleware()),
//	    WithBundle(BaseBundle()),
//	    WithFunc("Main", "double", double),
//	)
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	b := &registryBuilder{
		funcs: make(map[string]Func),
	}

	for _, opt := range opts {
		opt(b)
	}

	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}

	names := make([]string, 0, len(b.funcs))
	for name := range b.funcs {
		names = append(names, name)
	}
	sort.Strings(names)

	// Apply middleware in reverse order so the first one wraps outermost
	wrapped := make(map[string]Func, len(b.funcs))
	for name, fn := range b.funcs {
		w := fn
		for i := len(b.middleware) - 1; i >= 0; i-- {
			w = b.middleware[i](w)
		}
		wrapped[name] = w
	}

	return &Registry{
		funcs:      wrapped,
		names:      names,
		middleware: b.middleware,
	}, nil
}

// Lookup returns the function bound to module.name.
func (r *Registry) Lookup(module, name string) (Func, bool) {
	fn, ok := r.funcs[Qualify(module, name)]
	return fn, ok
}

// Invoke calls module.name with args. A missing function is reported as a
// *errors.DispatchError.
func (r *Registry) Invoke(ctx context.Context, module, name string, args []Value) (Value, error) {
	fn, ok := r.Lookup(module, name)
	if !ok {
		return Value{}, &rserrors.DispatchError{Target: Qualify(module, name), Reason: rserrors.ReasonNotFound}
	}
	return fn(NewCallContext(ctx, module, name, len(args)), args)
}

// Has reports whether module.name is registered.
func (r *Registry) Has(module, name string) bool {
	_, ok := r.Lookup(module, name)
	return ok
}

// Names returns the sorted qualified names of all registered functions.
func (r *Registry) Names() []string {
	result := make([]string, len(r.names))
	copy(result, r.names)
	return result
}

// Modules returns the sorted set of module names.
func (r *Registry) Modules() []string {
	var mods []string
	seen := make(map[string]bool)
	for _, n := range r.names {
		mod, _, ok := strings.Cut(n, ".")
		if !ok || seen[mod] {
			continue
		}
		seen[mod] = true
		mods = append(mods, mod)
	}
	return mods
}

func (b *registryBuilder) addFunc(module, name string, fn Func) error {
	if module == "" || name == "" {
		return fmt.Errorf("function module and name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("function %s is nil", Qualify(module, name))
	}
	q := Qualify(module, name)
	if _, exists := b.funcs[q]; exists {
		return fmt.Errorf("duplicate function name: %q", q)
	}
	b.funcs[q] = fn
	return nil
}

// WithFunc registers fn as module.name.
func WithFunc(module, name string, fn Func) RegistryOption {
	return func(b *registryBuilder) {
		if err := b.addFunc(module, name, fn); err != nil {
			b.errors = append(b.errors, err)
		}
	}
}

// WithMiddleware adds middleware to the registry.
// Middleware executes in FIFO order (first added wraps first).
func WithMiddleware(mw ...Middleware) RegistryOption {
	return func(b *registryBuilder) {
		b.middleware = append(b.middleware, mw...)
	}
}
