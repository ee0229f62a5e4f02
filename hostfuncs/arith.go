package hostfuncs

import (
	"context"
	"fmt"

	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
)

// Arith builds a binary numeric function. Operands are promoted to a common
// kind first: f64 absorbs integers, otherwise the wider integer wins and at
// equal width the unsigned one does. Integer results wrap at the target width.
// Converting a negative operand to an unsigned kind raises InexactError.
func Arith(op string, ints func(a, b uint64) uint64, floats func(a, b float64) float64) Func {
	return func(ctx context.Context, args []Value) (Value, error) {
		if len(args) != 2 {
			return Value{}, arityError(ctx, 2, len(args))
		}
		kind, err := Promote(args[0].Kind, args[1].Kind)
		if err != nil {
			return Value{}, &rserrors.DispatchError{Target: FuncName(ctx), Reason: rserrors.ReasonType, Err: err}
		}

		if kind == entities.KindF64 {
			return ValueOf(floats(toFloat(args[0]), toFloat(args[1])))
		}

		a, err := convert(args[0], kind)
		if err != nil {
			return Value{}, err
		}
		b, err := convert(args[1], kind)
		if err != nil {
			return Value{}, err
		}
		return fromBits(ints(a, b), kind), nil
	}
}

// Promote returns the common kind of two numeric kinds.
func Promote(a, b entities.Kind) (entities.Kind, error) {
	numeric := func(k entities.Kind) bool { return k.IsInteger() || k == entities.KindF64 }
	if !numeric(a) || !numeric(b) {
		return entities.KindInvalid, fmt.Errorf("no numeric promotion for (%s, %s)", a, b)
	}
	switch {
	case a == entities.KindF64 || b == entities.KindF64:
		return entities.KindF64, nil
	case a.Width() > b.Width():
		return a, nil
	case b.Width() > a.Width():
		return b, nil
	case b.IsUnsigned():
		return b, nil
	}
	return a, nil
}

// bits returns v as a sign-extended two's complement pattern.
func bits(v Value) (uint64, bool) {
	switch x := v.Data.(type) {
	case uint32:
		return uint64(x), false
	case uint64:
		return x, false
	case int32:
		return uint64(int64(x)), x < 0
	case int64:
		return uint64(x), x < 0
	}
	return 0, false
}

func convert(v Value, kind entities.Kind) (uint64, error) {
	b, neg := bits(v)
	if neg && kind.IsUnsigned() {
		return 0, NewException(InexactError, "convert(%s, %v)", kind, v.Data)
	}
	return b, nil
}

func fromBits(b uint64, kind entities.Kind) Value {
	switch kind {
	case entities.KindU32:
		return Value{Kind: kind, Data: uint32(b)}
	case entities.KindI32:
		return Value{Kind: kind, Data: int32(b)}
	case entities.KindI64:
		return Value{Kind: kind, Data: int64(b)}
	}
	return Value{Kind: entities.KindU64, Data: b}
}

func toFloat(v Value) float64 {
	switch x := v.Data.(type) {
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}
