package entities

import "fmt"

// Handle is an opaque reference to an object owned by the collected runtime.
// The zero Handle is the nil reference and is never rooted.
type Handle uint64

// NilHandle is the reference that points at nothing.
const NilHandle Handle = 0

// IsNil reports whether h is the nil reference.
func (h Handle) IsNil() bool {
	return h == NilHandle
}

func (h Handle) String() string {
	return fmt.Sprintf("#%d", uint64(h))
}

// Kind identifies the layout of a collected-runtime object.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindU32
	KindU64
	KindI32
	KindI64
	KindF64
	KindBool
	KindString
	KindBytes
	KindStruct
	KindFunction
	KindException
	KindNothing
)

var kindNames = [...]string{
	KindInvalid:   "invalid",
	KindU32:       "u32",
	KindU64:       "u64",
	KindI32:       "i32",
	KindI64:       "i64",
	KindF64:       "f64",
	KindBool:      "bool",
	KindString:    "string",
	KindBytes:     "bytes",
	KindStruct:    "struct",
	KindFunction:  "function",
	KindException: "exception",
	KindNothing:   "nothing",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsInteger reports whether the kind holds a fixed-width integer.
func (k Kind) IsInteger() bool {
	switch k {
	case KindU32, KindU64, KindI32, KindI64:
		return true
	}
	return false
}

// IsUnsigned reports whether the kind holds an unsigned integer.
func (k Kind) IsUnsigned() bool {
	return k == KindU32 || k == KindU64
}

// Width returns the bit width of an integer or float kind, 0 otherwise.
func (k Kind) Width() int {
	switch k {
	case KindU32, KindI32:
		return 32
	case KindU64, KindI64, KindF64:
		return 64
	}
	return 0
}
