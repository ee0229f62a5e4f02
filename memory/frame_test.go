package memory

import (
	"errors"
	"testing"

	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_FixedCapacity(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		reserve  int
		wantErr  bool
	}{
		{"exact fit", 3, 3, false},
		{"one over", 3, 4, true},
		{"zero reservation", 1, 0, false},
		{"growable", 0, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStack()
			f, err := s.Push(tt.capacity)
			require.NoError(t, err)

			outs, err := f.Reserve(tt.reserve)
			if tt.wantErr {
				var capErr *rserrors.CapacityError
				require.ErrorAs(t, err, &capErr)
				assert.Equal(t, tt.reserve, capErr.Requested)
				assert.Equal(t, tt.capacity, capErr.Capacity)
				assert.Equal(t, 0, f.Len(), "failed reservation leaves the frame unchanged")
				return
			}
			require.NoError(t, err)
			assert.Len(t, outs, tt.reserve)
			assert.Equal(t, tt.reserve, f.Len())
		})
	}
}

func TestFrame_RootUntilFull(t *testing.T) {
	s := NewStack()
	f, err := s.Push(2)
	require.NoError(t, err)

	_, err = f.Root(entities.Handle(1))
	require.NoError(t, err)
	assert.Equal(t, 1, f.Free())
	_, err = f.Root(entities.Handle(2))
	require.NoError(t, err)
	assert.Equal(t, 0, f.Free())

	_, err = f.Root(entities.Handle(3))
	assert.ErrorIs(t, err, rserrors.ErrCapacityExceeded)

	_, err = f.Claim()
	assert.ErrorIs(t, err, rserrors.ErrCapacityExceeded)
}

func TestFrame_RootNilHandle(t *testing.T) {
	s := NewStack()
	f, err := s.Push(0)
	require.NoError(t, err)

	_, err = f.Root(entities.NilHandle)
	require.Error(t, err)
	assert.Equal(t, 0, f.Len())
}

func TestFrame_GrowthKeepsRootedValid(t *testing.T) {
	s := NewStack(WithInitialSlots(1))
	f, err := s.Push(0)
	require.NoError(t, err)
	assert.Equal(t, -1, f.Free())

	first, err := f.Root(entities.Handle(100))
	require.NoError(t, err)
	for i := 0; i < 64; i++ {
		_, err := f.Root(entities.Handle(200 + i))
		require.NoError(t, err)
	}

	h, err := first.Handle()
	require.NoError(t, err)
	assert.Equal(t, entities.Handle(100), h)
}

func TestRooted_StaleAfterPop(t *testing.T) {
	s := NewStack()
	f, err := s.Push(1)
	require.NoError(t, err)
	r, err := f.Root(entities.Handle(9))
	require.NoError(t, err)
	assert.True(t, r.Valid())
	assert.True(t, r.In(f))

	require.NoError(t, f.Pop())

	assert.False(t, r.Valid())
	_, err = r.Handle()
	var stale *rserrors.StaleHandleError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, f.Generation(), stale.Generation)

	_, err = f.Root(entities.Handle(10))
	assert.ErrorIs(t, err, rserrors.ErrStaleHandle, "popped frame rejects roots")
}

func TestRooted_Zero(t *testing.T) {
	var r Rooted
	assert.True(t, r.IsZero())
	assert.False(t, r.Valid())
	assert.Equal(t, "rooted(nil)", r.String())
}

func TestOutput_SingleUse(t *testing.T) {
	s := NewStack()
	f, err := s.Push(1)
	require.NoError(t, err)
	out, err := f.Claim()
	require.NoError(t, err)

	claimed, err := out.Claim()
	require.NoError(t, err)
	assert.Same(t, out, claimed)

	r, err := out.Root(entities.Handle(4))
	require.NoError(t, err)
	assert.True(t, out.Consumed())
	assert.True(t, r.In(f))

	_, err = out.Root(entities.Handle(5))
	assert.ErrorIs(t, err, rserrors.ErrOutputConsumed)
	_, err = out.Claim()
	assert.ErrorIs(t, err, rserrors.ErrOutputConsumed)

	h, err := r.Handle()
	require.NoError(t, err)
	assert.Equal(t, entities.Handle(4), h)
}

func TestOutput_StaleAfterPop(t *testing.T) {
	s := NewStack()
	f, err := s.Push(0)
	require.NoError(t, err)
	out, err := f.Claim()
	require.NoError(t, err)
	require.NoError(t, f.Pop())

	_, err = out.Root(entities.Handle(1))
	assert.ErrorIs(t, err, rserrors.ErrStaleHandle)
}

func TestFrame_Scope(t *testing.T) {
	s := NewStack()
	f, err := s.Push(0)
	require.NoError(t, err)

	var inner Rooted
	err = f.Scope(2, func(child *Frame) error {
		assert.Equal(t, 2, s.Depth())
		inner, err = child.Root(entities.Handle(3))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Depth())
	assert.False(t, inner.Valid())
}

func TestFrame_ScopeReturnsBodyError(t *testing.T) {
	s := NewStack()
	f, err := s.Push(0)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = f.Scope(0, func(*Frame) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, s.Depth())
}

func TestFrame_ScopeRequiresTop(t *testing.T) {
	s := NewStack()
	f, err := s.Push(0)
	require.NoError(t, err)
	_, err = s.Push(0)
	require.NoError(t, err)

	err = f.Scope(0, func(*Frame) error { return nil })
	assert.ErrorIs(t, err, rserrors.ErrScopeOrder)
	assert.Equal(t, 2, s.Depth())
}

func TestFrame_ScopeUnwindsOnPanic(t *testing.T) {
	s := NewStack()
	f, err := s.Push(0)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = f.Scope(0, func(*Frame) error { panic("boom") })
	})
	assert.Equal(t, 1, s.Depth())
}

func TestFrame_ScopeUnwindsLeftoverFrames(t *testing.T) {
	s := NewStack()
	f, err := s.Push(0)
	require.NoError(t, err)

	err = f.Scope(0, func(child *Frame) error {
		_, err := s.Push(0) // never popped
		return err
	})
	assert.ErrorIs(t, err, rserrors.ErrScopeOrder)
	assert.Equal(t, 1, s.Depth())
}
