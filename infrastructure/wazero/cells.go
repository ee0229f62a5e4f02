package wazero

import (
	"fmt"
	"math"
	"reflect"

	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/reglet-dev/rootscope/hostfuncs"
	"github.com/tetratelabs/wazero/api"
)

// TrapException is the type of the exception raised when a guest call traps.
const TrapException = "Trap"

// cell is one collected object. Scalars live in bits; for strings and bytes
// bits holds the packed location of the guest buffer.
type cell struct {
	kind entities.Kind
	bits uint64

	fn   api.Function
	name string
	exc  *hostfuncs.Exception

	marked bool
	young  bool
}

// inGuest reports whether the cell owns a guest buffer.
func (c *cell) inGuest() bool {
	return c.kind == entities.KindString || c.kind == entities.KindBytes
}

// scalarCell returns the cell for a scalar Go value, or false if v needs
// guest memory or has no layout.
func scalarCell(v any) (*cell, bool) {
	switch x := v.(type) {
	case int32:
		return &cell{kind: entities.KindI32, bits: api.EncodeI32(x)}, true
	case uint32:
		return &cell{kind: entities.KindU32, bits: uint64(x)}, true
	case int64:
		return &cell{kind: entities.KindI64, bits: api.EncodeI64(x)}, true
	case int:
		return &cell{kind: entities.KindI64, bits: api.EncodeI64(int64(x))}, true
	case uint64:
		return &cell{kind: entities.KindU64, bits: x}, true
	case float64:
		return &cell{kind: entities.KindF64, bits: api.EncodeF64(x)}, true
	case bool:
		var b uint64
		if x {
			b = 1
		}
		return &cell{kind: entities.KindBool, bits: b}, true
	}
	return nil, false
}

// encodeArg converts a cell into the guest value of a parameter.
func encodeArg(c *cell, t api.ValueType) (uint64, error) {
	switch t {
	case api.ValueTypeI32:
		switch c.kind {
		case entities.KindI32, entities.KindU32, entities.KindBool:
			return c.bits, nil
		}
	case api.ValueTypeI64:
		switch c.kind {
		case entities.KindI64, entities.KindU64:
			return c.bits, nil
		case entities.KindString, entities.KindBytes:
			return c.bits, nil
		}
	case api.ValueTypeF64:
		if c.kind == entities.KindF64 {
			return c.bits, nil
		}
	case api.ValueTypeF32:
		if c.kind == entities.KindF64 {
			return api.EncodeF32(float32(api.DecodeF64(c.bits))), nil
		}
	}
	return 0, fmt.Errorf("cannot pass %s as %s", c.kind, api.ValueTypeName(t))
}

// resultCell converts a guest result into a cell.
func resultCell(v uint64, t api.ValueType) *cell {
	switch t {
	case api.ValueTypeI32:
		return &cell{kind: entities.KindI32, bits: uint64(uint32(v))} //nolint:gosec // G115: i32 results use the low 32 bits
	case api.ValueTypeF32:
		return &cell{kind: entities.KindF64, bits: math.Float64bits(float64(api.DecodeF32(v)))}
	case api.ValueTypeF64:
		return &cell{kind: entities.KindF64, bits: v}
	}
	return &cell{kind: entities.KindI64, bits: v}
}

func supportedResult(t api.ValueType) bool {
	switch t {
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64:
		return true
	}
	return false
}

// value returns the Go value of a scalar or exception cell. Guest buffers
// are passed in as data.
func (c *cell) value(data []byte) any {
	switch c.kind {
	case entities.KindI32:
		return api.DecodeI32(c.bits)
	case entities.KindU32:
		return api.DecodeU32(c.bits)
	case entities.KindI64:
		return int64(c.bits) //nolint:gosec // G115: bit pattern reinterpretation
	case entities.KindU64:
		return c.bits
	case entities.KindF64:
		return api.DecodeF64(c.bits)
	case entities.KindBool:
		return c.bits != 0
	case entities.KindString:
		return string(data)
	case entities.KindBytes:
		return data
	case entities.KindException:
		return c.exc
	}
	return nil
}

// unboxCell copies the cell's value into dst.
func unboxCell(c *cell, data []byte, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("wazero: unbox destination must be a non-nil pointer, got %T", dst)
	}
	v := c.value(data)
	if p, ok := dst.(*any); ok {
		*p = v
		return nil
	}

	if c.kind == entities.KindException {
		switch d := dst.(type) {
		case *hostfuncs.Exception:
			*d = *c.exc
			return nil
		case *string:
			*d = c.exc.Error()
			return nil
		}
		return mismatch(c, dst)
	}
	if v == nil {
		return mismatch(c, dst)
	}

	src := reflect.ValueOf(v)
	if src.Type() != rv.Elem().Type() {
		return mismatch(c, dst)
	}
	rv.Elem().Set(src)
	return nil
}

func mismatch(c *cell, dst any) error {
	return &rserrors.DispatchError{
		Target: "unbox",
		Reason: rserrors.ReasonType,
		Err:    fmt.Errorf("cannot unbox %s into %T", c.kind, dst),
	}
}

// packPtrLen packs a guest pointer and length into a single i64.
// Upper 32 bits: pointer, lower 32 bits: length.
func packPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

// unpackPtrLen unpacks a pointer and length from a packed i64.
func unpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32)           //nolint:gosec // G115: Packed format stores 32-bit values
	length = uint32(packed & 0xFFFFFFFF) //nolint:gosec // G115: Packed format stores 32-bit values
	return ptr, length
}
