package memory

import (
	"errors"

	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
)

// Scope is the capability to root a value. A *Frame roots any number of
// values locally; an *Output roots exactly one value in an ancestor frame.
// The set of implementations is closed.
type Scope interface {
	// Claim reserves the slot the next result will be rooted in, so that a
	// capacity failure surfaces before any runtime call is made.
	Claim() (*Output, error)
	// Root stores h and returns it as a rooted value.
	Root(h entities.Handle) (Rooted, error)

	stackOf() *Stack
}

var (
	_ Scope = (*Frame)(nil)
	_ Scope = (*Output)(nil)
)

// ScopeFunc is the body of a forwarding scope. out is the slot reserved in
// the parent; child holds the temporaries and pops when the body returns.
type ScopeFunc func(out *Output, child *Frame) (Rooted, error)

// ValueScope reserves one slot in parent, runs fn in a child frame of the
// given capacity and returns fn's value rooted in parent. A value fn roots in
// child is moved through the reserved output before child pops.
func ValueScope(parent Scope, capacity int, fn ScopeFunc) (Rooted, error) {
	return forwardingScope(parent, capacity, fn, false)
}

// ResultScope is ValueScope for calls that may raise. When fn fails with an
// *errors.ExceptionError whose exception is rooted in child, the exception is
// moved through the reserved output instead of the value, so it outlives the
// child frame.
func ResultScope(parent Scope, capacity int, fn ScopeFunc) (Rooted, error) {
	return forwardingScope(parent, capacity, fn, true)
}

func forwardingScope(parent Scope, capacity int, fn ScopeFunc, forwardException bool) (r Rooted, err error) {
	out, err := parent.Claim()
	if err != nil {
		return Rooted{}, err
	}

	s := parent.stackOf()
	base := s.Depth()
	child, err := s.Push(capacity)
	if err != nil {
		return Rooted{}, err
	}
	defer func() {
		err = errors.Join(err, s.closeChild(base, child))
	}()

	r, err = fn(out, child)
	if err != nil {
		if forwardException {
			err = forwardExceptionError(out, child, err)
		}
		return Rooted{}, err
	}
	return forward(out, child, r)
}

// forward moves r out of child through out. Values rooted anywhere else
// already outlive child and are returned as is.
func forward(out *Output, child *Frame, r Rooted) (Rooted, error) {
	if !r.In(child) {
		return r, nil
	}
	h, err := r.Handle()
	if err != nil {
		return Rooted{}, err
	}
	return out.Root(h)
}

func forwardExceptionError(out *Output, child *Frame, err error) error {
	var exc *rserrors.ExceptionError
	if !errors.As(err, &exc) {
		return err
	}
	r, ok := exc.Exception.(Rooted)
	if !ok || !r.In(child) {
		return err
	}
	moved, ferr := forward(out, child, r)
	if ferr != nil {
		return errors.Join(err, ferr)
	}
	exc.Exception = moved
	return err
}

// closeChild pops child and unwinds anything a scope body left above it.
// Leftover frames are reported as a *errors.ScopeOrderError.
func (s *Stack) closeChild(base int, child *Frame) error {
	err := s.pop(child)
	if err == nil {
		return nil
	}
	var order *rserrors.ScopeOrderError
	if !errors.As(err, &order) {
		return err
	}
	n, terr := s.Truncate(base)
	if terr != nil {
		return terr
	}
	s.logger().Warn("memory: scope exited with frames still open",
		"depth", base, "unwound", n)
	return err
}
