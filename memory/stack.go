package memory

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
)

// Stack is the scope stack of one runtime thread.
//
// Slot tables are pooled by depth: pushing at depth d reuses the table that
// last lived there, under a new Frame with a fresh generation. Only the owner
// goroutine mutates the stack; the lock exists so a collector running on a
// worker can scan the roots while the owner keeps working.
type Stack struct {
	mu     sync.RWMutex
	frames []*Frame
	spare  [][]slot
	gen    uint64
	pushes uint64

	owner atomic.Int64
	cfg   stackConfig
}

// NewStack creates an empty stack owned by the calling goroutine.
func NewStack(opts ...StackOption) *Stack {
	cfg := defaultStackConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Stack{cfg: cfg}
	s.owner.Store(goid.Get())
	return s
}

// Push opens a new frame on top of the stack. A capacity of zero makes the
// frame growable; otherwise the frame holds at most capacity roots.
func (s *Stack) Push(capacity int) (*Frame, error) {
	if err := s.checkOwner(); err != nil {
		return nil, err
	}
	if capacity < 0 {
		return nil, fmt.Errorf("invalid frame capacity %d", capacity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	depth := len(s.frames)
	if s.cfg.maxDepth > 0 && depth >= s.cfg.maxDepth {
		return nil, fmt.Errorf("scope stack depth limit %d reached: %w", s.cfg.maxDepth, rserrors.ErrCapacityExceeded)
	}

	var table []slot
	if depth < len(s.spare) {
		table = s.spare[depth][:0]
		s.spare[depth] = nil
	}
	want := capacity
	if want == 0 {
		want = s.cfg.initialSlots
	}
	if cap(table) < want {
		table = make([]slot, 0, want)
	}

	s.gen++
	s.pushes++
	f := &Frame{
		stack:    s,
		gen:      s.gen,
		depth:    depth + 1,
		capacity: capacity,
		slots:    table,
		live:     true,
	}
	s.frames = append(s.frames, f)
	return f, nil
}

// Depth returns the number of live frames.
func (s *Stack) Depth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// Top returns the topmost live frame, or nil when the stack is empty.
func (s *Stack) Top() *Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Truncate pops every frame above depth, topmost first, and returns how many
// were popped. It is the unwinding path for scopes that exited abnormally.
func (s *Stack) Truncate(depth int) (int, error) {
	if err := s.checkOwner(); err != nil {
		return 0, err
	}
	if depth < 0 {
		depth = 0
	}

	s.mu.Lock()
	n := 0
	for len(s.frames) > depth {
		s.popTop()
		n++
	}
	s.mu.Unlock()

	if n > 0 {
		s.cfg.logger.Debug("memory: unwound frames", "count", n, "depth", depth)
	}
	return n, nil
}

// EachRoot calls fn for every handle held by a live frame, bottom frame first.
// It implements ports.RootSource and may be called from any goroutine.
func (s *Stack) EachRoot(fn func(entities.Handle)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.frames {
		for _, sl := range f.slots {
			if sl.state == slotFilled {
				fn(sl.handle)
			}
		}
	}
}

// Stats returns a snapshot of the stack.
func (s *Stack) Stats() entities.StackStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := entities.StackStats{Depth: len(s.frames), Pushes: s.pushes}
	for _, f := range s.frames {
		for _, sl := range f.slots {
			switch sl.state {
			case slotFilled:
				st.Roots++
			case slotReserved:
				st.Reserved++
			}
		}
	}
	return st
}

// Owner returns the goroutine id that currently owns the stack.
func (s *Stack) Owner() int64 {
	return s.owner.Load()
}

// CheckOwner reports a *errors.WrongThreadError unless the caller owns the stack.
func (s *Stack) CheckOwner() error {
	return s.checkOwner()
}

// Owned reports whether the caller owns the stack. It implements
// ports.RootSource.
func (s *Stack) Owned() bool {
	return s.owner.Load() == goid.Get()
}

func (s *Stack) checkOwner() error {
	caller := goid.Get()
	if owner := s.owner.Load(); owner != caller {
		return &rserrors.WrongThreadError{Owner: owner, Caller: caller}
	}
	return nil
}

func (s *Stack) pop(f *Frame) error {
	if err := s.checkOwner(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	top := len(s.frames)
	if !f.live || top == 0 || s.frames[top-1] != f {
		return &rserrors.ScopeOrderError{Depth: f.depth, Top: top}
	}
	s.popTop()
	return nil
}

// popTop releases the top frame and returns its slot table to the pool.
// The caller holds s.mu.
func (s *Stack) popTop() {
	last := len(s.frames) - 1
	f := s.frames[last]
	s.frames[last] = nil
	s.frames = s.frames[:last]

	table := f.slots
	clear(table)
	f.slots = nil
	f.live = false

	for len(s.spare) <= last {
		s.spare = append(s.spare, nil)
	}
	s.spare[last] = table[:0]
}

func (s *Stack) logger() *slog.Logger {
	return s.cfg.logger
}
