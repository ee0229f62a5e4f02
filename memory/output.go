package memory

import (
	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
)

// Output is a slot reserved in an ancestor frame. It is a single-use Scope:
// rooting a value through it fills the reserved slot and spends the output.
type Output struct {
	f        *Frame
	gen      uint64
	idx      int
	consumed bool
}

// Root fills the reserved slot with h.
func (o *Output) Root(h entities.Handle) (Rooted, error) {
	if h.IsNil() {
		return Rooted{}, errNilHandle
	}
	if err := o.check(); err != nil {
		return Rooted{}, err
	}

	s := o.f.stack
	s.mu.Lock()
	o.f.slots[o.idx] = slot{handle: h, state: slotFilled}
	s.mu.Unlock()
	o.consumed = true

	return Rooted{f: o.f, gen: o.gen, idx: o.idx}, nil
}

// Claim returns the output itself while it is still unspent.
func (o *Output) Claim() (*Output, error) {
	if err := o.check(); err != nil {
		return nil, err
	}
	return o, nil
}

// Consumed reports whether the output has been spent.
func (o *Output) Consumed() bool {
	return o.consumed
}

// Frame returns the frame the output roots into.
func (o *Output) Frame() *Frame {
	return o.f
}

func (o *Output) stackOf() *Stack {
	return o.f.stack
}

func (o *Output) check() error {
	if err := o.f.stack.checkOwner(); err != nil {
		return err
	}
	if o.consumed {
		return &rserrors.OutputConsumedError{Slot: o.idx}
	}
	s := o.f.stack
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !o.f.live || o.f.gen != o.gen {
		return &rserrors.StaleHandleError{Slot: o.idx, Generation: o.gen}
	}
	return nil
}

// holds reports whether r is the value this output rooted.
func (o *Output) holds(r Rooted) bool {
	return o.consumed && r.f == o.f && r.gen == o.gen && r.idx == o.idx
}
