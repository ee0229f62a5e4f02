package hostfuncs

import (
	"context"
	"errors"
	"fmt"

	rserrors "github.com/reglet-dev/rootscope/domain/errors"
)

// Exception types raised by the built-in functions.
const (
	ErrorException = "ErrorException"
	InexactError   = "InexactError"
	OverflowError  = "OverflowError"
	PanicException = "PanicException"
	HostError      = "HostError"
)

// Exception is an error raised inside the collected runtime. Returning one
// from a Func makes the call complete with a raised outcome instead of a
// value.
type Exception struct {
	Type    string
	Message string
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Type
	}
	return e.Type + ": " + e.Message
}

// NewException builds an exception of the given type.
func NewException(typ, format string, args ...any) *Exception {
	return &Exception{Type: typ, Message: fmt.Sprintf(format, args...)}
}

// NewPanicException builds the exception that replaces a recovered panic.
func NewPanicException(panicValue any) *Exception {
	var msg string
	switch v := panicValue.(type) {
	case error:
		msg = v.Error()
	case string:
		msg = v
	default:
		msg = "panic recovered"
	}
	return &Exception{Type: PanicException, Message: "panic: " + msg}
}

// AsException classifies err as returned by a Func. Dispatch errors are left
// alone; any other failure becomes an exception so it can be raised.
func AsException(err error) (*Exception, bool) {
	if err == nil {
		return nil, false
	}
	var dispatch *rserrors.DispatchError
	if errors.As(err, &dispatch) {
		return nil, false
	}
	var exc *Exception
	if errors.As(err, &exc) {
		return exc, true
	}
	return &Exception{Type: HostError, Message: err.Error()}, true
}

func arityError(ctx context.Context, want, got int) error {
	return &rserrors.DispatchError{
		Target: FuncName(ctx),
		Reason: rserrors.ReasonArity,
		Err:    fmt.Errorf("expected %d argument(s), got %d", want, got),
	}
}

func typeError(ctx context.Context, pos int, got Value, want string) error {
	return &rserrors.DispatchError{
		Target: FuncName(ctx),
		Reason: rserrors.ReasonType,
		Err:    fmt.Errorf("argument %d: expected %s, got %s", pos+1, want, got.Kind),
	}
}
