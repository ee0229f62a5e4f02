package memory

import (
	"github.com/petermattis/goid"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
)

// Lease moves stack ownership from the goroutine that lent it to the one that
// adopts it. A lease is single-use; the new owner lends the stack back with a
// fresh lease.
type Lease struct {
	stack *Stack
	from  int64
	used  bool
}

// Lend hands out a lease on s. Only the current owner may lend.
func (s *Stack) Lend() (*Lease, error) {
	if err := s.checkOwner(); err != nil {
		return nil, err
	}
	return &Lease{stack: s, from: s.owner.Load()}, nil
}

// Adopt makes the calling goroutine the owner of the leased stack. It fails
// if the lease was already adopted or ownership moved on since it was issued.
func (l *Lease) Adopt() error {
	caller := goid.Get()
	if l.used {
		return &rserrors.WrongThreadError{Owner: l.stack.owner.Load(), Caller: caller}
	}
	if !l.stack.owner.CompareAndSwap(l.from, caller) {
		return &rserrors.WrongThreadError{Owner: l.stack.owner.Load(), Caller: caller}
	}
	l.used = true
	if l.from != caller {
		l.stack.logger().Debug("memory: stack ownership moved", "from", l.from, "to", caller)
	}
	return nil
}

// Stack returns the leased stack.
func (l *Lease) Stack() *Stack {
	return l.stack
}
