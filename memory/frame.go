package memory

import (
	"errors"

	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
)

type slotState uint8

const (
	slotEmpty slotState = iota
	slotReserved
	slotFilled
)

type slot struct {
	handle entities.Handle
	state  slotState
}

var errNilHandle = errors.New("cannot root the nil handle")

// Frame is a table of root slots opened by Stack.Push and closed by Pop.
// A Frame is a reusable Scope: every value rooted in it lives until it pops.
type Frame struct {
	stack    *Stack
	slots    []slot
	gen      uint64
	depth    int
	capacity int
	live     bool
}

// Root stores h in the next free slot and returns a handle tied to this frame.
func (f *Frame) Root(h entities.Handle) (Rooted, error) {
	if h.IsNil() {
		return Rooted{}, errNilHandle
	}
	if err := f.writable(1); err != nil {
		return Rooted{}, err
	}

	f.stack.mu.Lock()
	idx := len(f.slots)
	f.slots = append(f.slots, slot{handle: h, state: slotFilled})
	f.stack.mu.Unlock()

	return Rooted{f: f, gen: f.gen, idx: idx}, nil
}

// Reserve sets aside n slots and returns one Output per slot. On a fixed
// frame it fails with a *errors.CapacityError, leaving the frame unchanged,
// if fewer than n slots are free.
func (f *Frame) Reserve(n int) ([]*Output, error) {
	if n <= 0 {
		return nil, nil
	}
	if err := f.writable(n); err != nil {
		return nil, err
	}

	outs := make([]*Output, n)
	f.stack.mu.Lock()
	for i := range outs {
		idx := len(f.slots)
		f.slots = append(f.slots, slot{state: slotReserved})
		outs[i] = &Output{f: f, gen: f.gen, idx: idx}
	}
	f.stack.mu.Unlock()
	return outs, nil
}

// Claim reserves one slot for a value that is about to be produced.
func (f *Frame) Claim() (*Output, error) {
	outs, err := f.Reserve(1)
	if err != nil {
		return nil, err
	}
	return outs[0], nil
}

// Pop closes the frame and releases all of its slots. Only the top frame of
// the stack may be popped.
func (f *Frame) Pop() error {
	return f.stack.pop(f)
}

// Scope runs fn in a child frame pushed on top of f and pops it when fn
// returns, even if fn panics. f must be the top frame.
func (f *Frame) Scope(capacity int, fn func(child *Frame) error) (err error) {
	if err := f.checkTop(); err != nil {
		return err
	}
	child, err := f.stack.Push(capacity)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.stack.closeChild(f.depth, child))
	}()
	return fn(child)
}

// Len returns the number of reserved or filled slots.
func (f *Frame) Len() int {
	f.stack.mu.RLock()
	defer f.stack.mu.RUnlock()
	return len(f.slots)
}

// Cap returns the frame capacity; zero means the frame grows on demand.
func (f *Frame) Cap() int {
	return f.capacity
}

// Free returns how many more roots the frame accepts, or -1 if it is growable.
func (f *Frame) Free() int {
	if f.capacity == 0 {
		return -1
	}
	return f.capacity - f.Len()
}

// Depth returns the 1-based position of the frame in its stack.
func (f *Frame) Depth() int {
	return f.depth
}

// Generation returns the identity the frame was pushed with.
func (f *Frame) Generation() uint64 {
	return f.gen
}

// Live reports whether the frame has not been popped.
func (f *Frame) Live() bool {
	f.stack.mu.RLock()
	defer f.stack.mu.RUnlock()
	return f.live
}

// Stack returns the stack the frame belongs to.
func (f *Frame) Stack() *Stack {
	return f.stack
}

func (f *Frame) stackOf() *Stack {
	return f.stack
}

func (f *Frame) writable(n int) error {
	if err := f.stack.checkOwner(); err != nil {
		return err
	}
	f.stack.mu.RLock()
	defer f.stack.mu.RUnlock()
	if !f.live {
		return &rserrors.StaleHandleError{Slot: -1, Generation: f.gen}
	}
	if f.capacity > 0 && len(f.slots)+n > f.capacity {
		return &rserrors.CapacityError{Requested: n, Used: len(f.slots), Capacity: f.capacity}
	}
	return nil
}

func (f *Frame) checkTop() error {
	if err := f.stack.checkOwner(); err != nil {
		return err
	}
	f.stack.mu.RLock()
	defer f.stack.mu.RUnlock()
	top := len(f.stack.frames)
	if !f.live {
		return &rserrors.StaleHandleError{Slot: -1, Generation: f.gen}
	}
	if top == 0 || f.stack.frames[top-1] != f {
		return &rserrors.ScopeOrderError{Depth: f.depth + 1, Top: top}
	}
	return nil
}
