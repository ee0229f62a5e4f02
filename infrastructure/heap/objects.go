package heap

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/reglet-dev/rootscope/hostfuncs"
)

// Struct layouts use canonical CBOR so equal values encode identically.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("heap: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// object is one heap cell. Function objects carry the bound host function.
type object struct {
	fn     hostfuncs.Func
	name   string
	val    hostfuncs.Value
	marked bool
	young  bool
}

func (o *object) kind() entities.Kind {
	if o.fn != nil {
		return entities.KindFunction
	}
	return o.val.Kind
}

// layout derives the value stored for a boxed Go value.
func layout(v any) (hostfuncs.Value, error) {
	if val, err := hostfuncs.ValueOf(v); err == nil {
		if b, ok := val.Data.([]byte); ok {
			val.Data = bytes.Clone(b)
		}
		return val, nil
	}

	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Pointer {
		if reflect.ValueOf(v).IsNil() {
			return hostfuncs.Nothing, nil
		}
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return hostfuncs.Value{}, &rserrors.DispatchError{
			Target: "box",
			Reason: rserrors.ReasonUnsupported,
			Err:    fmt.Errorf("no layout for %T", v),
		}
	}

	data, err := cborEncMode.Marshal(v)
	if err != nil {
		return hostfuncs.Value{}, fmt.Errorf("heap: encode %s: %w", t.Name(), err)
	}
	return hostfuncs.Value{Kind: entities.KindStruct, Data: data, Type: t.Name()}, nil
}

// unbox copies val into dst, which must be a non-nil pointer whose element
// type matches the stored layout.
func unbox(val hostfuncs.Value, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("heap: unbox destination must be a non-nil pointer, got %T", dst)
	}

	switch d := dst.(type) {
	case *hostfuncs.Value:
		*d = val
		return nil
	case *any:
		*d = val.Data
		return nil
	}

	switch val.Kind {
	case entities.KindStruct:
		if val.Type != structName(rv.Elem().Type()) {
			return mismatch(val, dst)
		}
		if err := cbor.Unmarshal(val.Data.([]byte), dst); err != nil {
			return fmt.Errorf("heap: decode %s: %w", val.Type, err)
		}
		return nil
	case entities.KindException:
		exc := val.Data.(*hostfuncs.Exception)
		switch d := dst.(type) {
		case *hostfuncs.Exception:
			*d = *exc
			return nil
		case *string:
			*d = exc.Error()
			return nil
		}
		return mismatch(val, dst)
	case entities.KindNothing, entities.KindFunction:
		return mismatch(val, dst)
	}

	src := reflect.ValueOf(val.Data)
	if src.Type() != rv.Elem().Type() {
		return mismatch(val, dst)
	}
	if b, ok := val.Data.([]byte); ok {
		src = reflect.ValueOf(bytes.Clone(b))
	}
	rv.Elem().Set(src)
	return nil
}

func structName(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

func mismatch(val hostfuncs.Value, dst any) error {
	return &rserrors.DispatchError{
		Target: "unbox",
		Reason: rserrors.ReasonType,
		Err:    fmt.Errorf("cannot unbox %s into %T", val.Kind, dst),
	}
}
