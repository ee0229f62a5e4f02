package memory

import (
	"fmt"

	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
)

// Rooted is a collected-runtime value rooted in a frame. It stays valid until
// that frame pops; there is no way to unroot it earlier.
// The zero Rooted is invalid.
type Rooted struct {
	f   *Frame
	gen uint64
	idx int
}

// Handle returns the rooted handle, or a *errors.StaleHandleError once the
// frame holding it has popped.
func (r Rooted) Handle() (entities.Handle, error) {
	if r.f == nil {
		return entities.NilHandle, &rserrors.StaleHandleError{Slot: -1}
	}
	if err := r.f.stack.checkOwner(); err != nil {
		return entities.NilHandle, err
	}

	s := r.f.stack
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !r.f.live || r.f.gen != r.gen || r.idx >= len(r.f.slots) {
		return entities.NilHandle, &rserrors.StaleHandleError{Slot: r.idx, Generation: r.gen}
	}
	sl := r.f.slots[r.idx]
	if sl.state != slotFilled {
		return entities.NilHandle, &rserrors.StaleHandleError{Slot: r.idx, Generation: r.gen}
	}
	return sl.handle, nil
}

// Valid reports whether Handle would succeed.
func (r Rooted) Valid() bool {
	_, err := r.Handle()
	return err == nil
}

// IsZero reports whether r was never rooted.
func (r Rooted) IsZero() bool {
	return r.f == nil
}

// Frame returns the frame that holds r.
func (r Rooted) Frame() *Frame {
	return r.f
}

// In reports whether r is rooted in f.
func (r Rooted) In(f *Frame) bool {
	return r.f != nil && r.f == f && r.gen == f.gen
}

func (r Rooted) String() string {
	if r.f == nil {
		return "rooted(nil)"
	}
	return fmt.Sprintf("rooted(gen=%d slot=%d)", r.gen, r.idx)
}
