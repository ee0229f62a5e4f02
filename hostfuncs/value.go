package hostfuncs

import (
	"fmt"

	"github.com/reglet-dev/rootscope/domain/entities"
)

// Value is the unboxed form of a collected-runtime object.
//
// Data holds uint32, uint64, int32, int64, float64, bool, string or []byte
// for scalar kinds, the encoded layout for KindStruct, and an *Exception for
// KindException. Type names the struct layout or exception type.
type Value struct {
	Data any
	Type string
	Kind entities.Kind
}

// Nothing is the value of functions that return nothing.
var Nothing = Value{Kind: entities.KindNothing}

// ValueOf wraps a Go scalar as a Value.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case Value:
		return x, nil
	case uint32:
		return Value{Kind: entities.KindU32, Data: x}, nil
	case uint64:
		return Value{Kind: entities.KindU64, Data: x}, nil
	case int32:
		return Value{Kind: entities.KindI32, Data: x}, nil
	case int64:
		return Value{Kind: entities.KindI64, Data: x}, nil
	case int:
		return Value{Kind: entities.KindI64, Data: int64(x)}, nil
	case float64:
		return Value{Kind: entities.KindF64, Data: x}, nil
	case bool:
		return Value{Kind: entities.KindBool, Data: x}, nil
	case string:
		return Value{Kind: entities.KindString, Data: x}, nil
	case []byte:
		return Value{Kind: entities.KindBytes, Data: x}, nil
	case *Exception:
		if x == nil {
			return Nothing, nil
		}
		return Value{Kind: entities.KindException, Data: x, Type: x.Type}, nil
	case nil:
		return Nothing, nil
	}
	return Value{}, fmt.Errorf("no scalar layout for %T", v)
}

// MustValue is ValueOf for literals known to be scalars.
func MustValue(v any) Value {
	val, err := ValueOf(v)
	if err != nil {
		panic(err)
	}
	return val
}

func (v Value) String() string {
	switch v.Kind {
	case entities.KindNothing:
		return "nothing"
	case entities.KindStruct:
		return v.Type + "{...}"
	case entities.KindException:
		return fmt.Sprintf("%v", v.Data)
	}
	return fmt.Sprintf("%v::%s", v.Data, v.Kind)
}
