package hostfuncs

import (
	"context"
	"unicode/utf8"

	"github.com/reglet-dev/rootscope/domain/entities"
)

// BaseModule is the module the built-in functions are bound in.
const BaseModule = "Base"

// Bundle is a pre-configured set of related functions bound in one module.
type Bundle interface {
	// Module returns the module the functions are bound in.
	Module() string
	// Funcs returns the functions by name.
	Funcs() map[string]Func
}

type staticBundle struct {
	funcs  map[string]Func
	module string
}

func (b *staticBundle) Module() string { return b.module }

func (b *staticBundle) Funcs() map[string]Func { return b.funcs }

// NewBundle builds a bundle from a fixed function map.
func NewBundle(module string, funcs map[string]Func) Bundle {
	return &staticBundle{module: module, funcs: funcs}
}

// BaseBundle returns the built-in functions: +, -, *, error, identity and
// length.
func BaseBundle() Bundle {
	return &staticBundle{
		module: BaseModule,
		funcs: map[string]Func{
			"+":        Arith("+", func(a, b uint64) uint64 { return a + b }, func(a, b float64) float64 { return a + b }),
			"-":        Arith("-", func(a, b uint64) uint64 { return a - b }, func(a, b float64) float64 { return a - b }),
			"*":        Arith("*", func(a, b uint64) uint64 { return a * b }, func(a, b float64) float64 { return a * b }),
			"error":    Func1(raise),
			"identity": identity,
			"length":   length,
		},
	}
}

// raise throws an ErrorException carrying msg.
func raise(_ context.Context, msg string) (Value, error) {
	return Value{}, &Exception{Type: ErrorException, Message: msg}
}

func identity(ctx context.Context, args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, arityError(ctx, 1, len(args))
	}
	return args[0], nil
}

// length counts characters of a string or bytes of a byte array.
func length(ctx context.Context, args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, arityError(ctx, 1, len(args))
	}
	switch x := args[0].Data.(type) {
	case string:
		return ValueOf(int64(utf8.RuneCountInString(x)))
	case []byte:
		return ValueOf(int64(len(x)))
	}
	return Value{}, typeError(ctx, 0, args[0], entities.KindString.String())
}

type compositeBundle struct {
	bundles []Bundle
}

// Module is empty: each member keeps its own module.
func (b *compositeBundle) Module() string { return "" }

func (b *compositeBundle) Funcs() map[string]Func {
	result := make(map[string]Func)
	for _, bundle := range b.bundles {
		for name, fn := range bundle.Funcs() {
			result[Qualify(bundle.Module(), name)] = fn
		}
	}
	return result
}

// Combine merges bundles from different modules into one.
func Combine(bundles ...Bundle) Bundle {
	return &compositeBundle{bundles: bundles}
}

// WithBundle registers all functions from a bundle.
func WithBundle(bundle Bundle) RegistryOption {
	return func(b *registryBuilder) {
		if cb, ok := bundle.(*compositeBundle); ok {
			for _, inner := range cb.bundles {
				WithBundle(inner)(b)
			}
			return
		}
		for name, fn := range bundle.Funcs() {
			if err := b.addFunc(bundle.Module(), name, fn); err != nil {
				b.errors = append(b.errors, err)
			}
		}
	}
}

// WithTyped1 registers a typed unary function as module.name.
//
// Example usage:
//
//	WithTyped1("Main", "double", func(ctx context.Context, x int64) (int64, error) {
//	    return 2 * x, nil
//	})
func WithTyped1[A any, R any](module, name string, fn func(context.Context, A) (R, error)) RegistryOption {
	return WithFunc(module, name, Func1(fn))
}
