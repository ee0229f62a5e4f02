package heap

import (
	"context"
	"testing"

	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/reglet-dev/rootscope/hostfuncs"
	"github.com/reglet-dev/rootscope/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLive(t *testing.T, opts ...Option) (*Runtime, *memory.Stack) {
	t.Helper()
	s := memory.NewStack()
	rt := New(opts...)
	require.NoError(t, rt.Init(context.Background(), s))
	t.Cleanup(func() { _ = rt.Finalize(context.Background()) })
	return rt, s
}

func TestRuntime_Lifecycle(t *testing.T) {
	ctx := context.Background()
	rt := New()

	_, err := rt.Box(ctx, uint64(1))
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, rt.Finalize(ctx), ErrNotInitialized)
	assert.Error(t, rt.Init(ctx, nil))

	require.NoError(t, rt.Init(ctx, memory.NewStack()))
	assert.ErrorIs(t, rt.Init(ctx, memory.NewStack()), rserrors.ErrDoubleInitialization)

	require.NoError(t, rt.Finalize(ctx))
	assert.ErrorIs(t, rt.Finalize(ctx), rserrors.ErrAlreadyFinalized)
	assert.ErrorIs(t, rt.Init(ctx, memory.NewStack()), rserrors.ErrAlreadyFinalized)

	_, err = rt.Global(ctx, "Base", "+")
	assert.ErrorIs(t, err, rserrors.ErrAlreadyFinalized)
	assert.Zero(t, rt.Stats().Live)
}

func TestRuntime_CallPlus(t *testing.T) {
	ctx := context.Background()
	rt, _ := newLive(t)

	a, err := rt.Box(ctx, uint64(2))
	require.NoError(t, err)
	b, err := rt.Box(ctx, uint32(1))
	require.NoError(t, err)
	plus, err := rt.Global(ctx, "Base", "+")
	require.NoError(t, err)

	kind, err := rt.KindOf(ctx, plus)
	require.NoError(t, err)
	assert.Equal(t, entities.KindFunction, kind)

	out, err := rt.Call(ctx, plus, []entities.Handle{a, b})
	require.NoError(t, err)
	require.False(t, out.Raised)

	var sum uint64
	require.NoError(t, rt.Unbox(ctx, out.Value, &sum))
	assert.Equal(t, uint64(3), sum)

	again, err := rt.Global(ctx, "Base", "+")
	require.NoError(t, err)
	assert.Equal(t, plus, again, "bindings are cached")
}

func TestRuntime_CallRaises(t *testing.T) {
	ctx := context.Background()
	rt, _ := newLive(t)

	msg, err := rt.Box(ctx, "bad")
	require.NoError(t, err)
	errFn, err := rt.Global(ctx, "Base", "error")
	require.NoError(t, err)

	out, err := rt.Call(ctx, errFn, []entities.Handle{msg})
	require.NoError(t, err, "raising is not a dispatch failure")
	require.True(t, out.Raised)

	kind, err := rt.KindOf(ctx, out.Exception)
	require.NoError(t, err)
	assert.Equal(t, entities.KindException, kind)

	var exc hostfuncs.Exception
	require.NoError(t, rt.Unbox(ctx, out.Exception, &exc))
	assert.Equal(t, hostfuncs.ErrorException, exc.Type)
	assert.Equal(t, "bad", exc.Message)

	var text string
	require.NoError(t, rt.Unbox(ctx, out.Exception, &text))
	assert.Equal(t, "ErrorException: bad", text)
}

func TestRuntime_DispatchFailures(t *testing.T) {
	ctx := context.Background()
	rt, _ := newLive(t)

	_, err := rt.Global(ctx, "Base", "nope")
	var de *rserrors.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, rserrors.ReasonNotFound, de.Reason)

	plus, err := rt.Global(ctx, "Base", "+")
	require.NoError(t, err)
	one, err := rt.Box(ctx, uint64(1))
	require.NoError(t, err)

	_, err = rt.Call(ctx, plus, []entities.Handle{one})
	require.ErrorAs(t, err, &de)
	assert.Equal(t, rserrors.ReasonArity, de.Reason)

	_, err = rt.Call(ctx, one, nil)
	require.ErrorAs(t, err, &de)
	assert.Equal(t, rserrors.ReasonNotCallable, de.Reason)

	_, err = rt.Call(ctx, plus, []entities.Handle{one, entities.Handle(9999)})
	require.ErrorAs(t, err, &de)
	assert.Equal(t, rserrors.ReasonType, de.Reason)
}

func TestRuntime_HostPanicEscapesWithoutRecovery(t *testing.T) {
	ctx := context.Background()
	reg, err := hostfuncs.NewRegistry(hostfuncs.WithFunc("Main", "boom", func(context.Context, []hostfuncs.Value) (hostfuncs.Value, error) {
		panic("boom")
	}))
	require.NoError(t, err)
	rt, _ := newLive(t, WithRegistry(reg))

	boom, err := rt.Global(ctx, "Main", "boom")
	require.NoError(t, err)
	assert.PanicsWithValue(t, "boom", func() { _, _ = rt.Call(ctx, boom, nil) })

	// the allocator lock was not held while the function ran
	_, err = rt.Box(ctx, int64(1))
	assert.NoError(t, err)
}

func TestRuntime_FunctionIsNotAString(t *testing.T) {
	ctx := context.Background()
	rt, _ := newLive(t)

	length, err := rt.Global(ctx, "Base", "length")
	require.NoError(t, err)
	fn, err := rt.Global(ctx, "Base", "identity")
	require.NoError(t, err)

	// a function object is not a string: dispatch failure, not a panic
	_, err = rt.Call(ctx, length, []entities.Handle{fn})
	assert.ErrorIs(t, err, rserrors.ErrDispatch)
}

func TestRuntime_WithGlobal(t *testing.T) {
	ctx := context.Background()
	rt, _ := newLive(t, WithGlobal("Main", "answer", int64(42)))

	h, err := rt.Global(ctx, "Main", "answer")
	require.NoError(t, err)
	var v int64
	require.NoError(t, rt.Unbox(ctx, h, &v))
	assert.Equal(t, int64(42), v)

	rt.Safepoint(ctx)
	rt.Safepoint(ctx)
	assert.True(t, rt.Contains(h), "bindings are permanently rooted")
}

func TestRuntime_WithGlobalInvalid(t *testing.T) {
	rt := New(WithGlobal("Main", "ch", make(chan int)))
	err := rt.Init(context.Background(), memory.NewStack())
	assert.ErrorIs(t, err, rserrors.ErrDispatch)
}

func TestRuntime_NothingIsSingleton(t *testing.T) {
	ctx := context.Background()
	rt, _ := newLive(t)

	a, err := rt.Box(ctx, nil)
	require.NoError(t, err)
	b, err := rt.Box(ctx, (*struct{})(nil))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	kind, err := rt.KindOf(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, entities.KindNothing, kind)
}

func TestRuntime_Signal(t *testing.T) {
	rt := New()
	rt.Signal()
	rt.Signal() // coalesced, never blocks

	select {
	case <-rt.Wake():
	default:
		t.Fatal("expected a buffered wake-up")
	}
	select {
	case <-rt.Wake():
		t.Fatal("wake-ups should coalesce")
	default:
	}
}
