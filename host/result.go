package host

import (
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/reglet-dev/rootscope/memory"
)

// CallResult is the inner half of a call: dispatch happened and the callee
// either returned a value or raised. Both are rooted in the scope the call
// was given.
type CallResult struct {
	value     memory.Rooted
	exception memory.Rooted
	message   string
	raised    bool
}

// Raised reports whether the callee raised.
func (c CallResult) Raised() bool {
	return c.raised
}

// Value returns the returned value; it is the zero Rooted if the call raised.
func (c CallResult) Value() memory.Rooted {
	return c.value
}

// Exception returns the raised exception; it is the zero Rooted otherwise.
func (c CallResult) Exception() memory.Rooted {
	return c.exception
}

// Message returns the exception's description, if the runtime provided one.
func (c CallResult) Message() string {
	return c.message
}

// Unwrap collapses the result into a value or an *errors.ExceptionError.
func (c CallResult) Unwrap() (memory.Rooted, error) {
	if c.raised {
		return memory.Rooted{}, &rserrors.ExceptionError{Exception: c.exception, Message: c.message}
	}
	return c.value, nil
}
