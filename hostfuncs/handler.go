package hostfuncs

import (
	"context"
)

// Func is a host function callable from the collected runtime.
type Func func(ctx context.Context, args []Value) (Value, error)

// Func1 wraps a typed unary function into a Func. The argument must unbox to
// A exactly; anything else is a dispatch failure.
//
// Usage:
//
//	upper := hostfuncs.Func1(func(ctx context.Context, s string) (string, error) {
//	    return strings.ToUpper(s), nil
//	})
func Func1[A any, R any](fn func(context.Context, A) (R, error)) Func {
	return func(ctx context.Context, args []Value) (Value, error) {
		if len(args) != 1 {
			return Value{}, arityError(ctx, 1, len(args))
		}
		a, ok := args[0].Data.(A)
		if !ok {
			return Value{}, typeError(ctx, 0, args[0], typeName[A]())
		}
		r, err := fn(ctx, a)
		if err != nil {
			return Value{}, err
		}
		return ValueOf(r)
	}
}

// Func2 wraps a typed binary function into a Func.
func Func2[A any, B any, R any](fn func(context.Context, A, B) (R, error)) Func {
	return func(ctx context.Context, args []Value) (Value, error) {
		if len(args) != 2 {
			return Value{}, arityError(ctx, 2, len(args))
		}
		a, ok := args[0].Data.(A)
		if !ok {
			return Value{}, typeError(ctx, 0, args[0], typeName[A]())
		}
		b, ok := args[1].Data.(B)
		if !ok {
			return Value{}, typeError(ctx, 1, args[1], typeName[B]())
		}
		r, err := fn(ctx, a, b)
		if err != nil {
			return Value{}, err
		}
		return ValueOf(r)
	}
}

func typeName[T any]() string {
	var zero T
	v, err := ValueOf(zero)
	if err != nil {
		return "value"
	}
	return v.Kind.String()
}
