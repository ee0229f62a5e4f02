package async

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/reglet-dev/rootscope/host"
	"github.com/reglet-dev/rootscope/infrastructure/heap"
	"github.com/reglet-dev/rootscope/internal/testutil"
	"github.com/reglet-dev/rootscope/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func startRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithHostOptions(host.WithLifecycle(host.NewLifecycle()), host.WithInstanceID(t.Name()))}, opts...)
	r, err := Start(context.Background(), heap.New(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func await(t *testing.T, h *Handle) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	v, err := h.Await(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "task %s did not finish", h.ID())
	return v, err
}

type recorder struct {
	mu  sync.Mutex
	ids []entities.TaskID
}

func (r *recorder) add(id entities.TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recorder) get() []entities.TaskID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entities.TaskID(nil), r.ids...)
}

// gated roots n, waits on gate in the pool and returns n read back through
// the root. It fails if it resumes anywhere but the top of the stack.
func gated(r *Runtime, n int64, gate <-chan struct{}, order *recorder) TaskFunc {
	return func(ctx context.Context, tc *TaskContext) (any, error) {
		tok := tc.Token()
		v, err := tok.Box(ctx, tc.Frame(), n)
		if err != nil {
			return nil, err
		}

		_, err = tc.Await(ctx, func(ctx context.Context, w *Worker) (any, error) {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			w.Safepoint(ctx)
			w.Safepoint(ctx)
			return nil, nil
		})
		if err != nil {
			return nil, err
		}

		if depth := r.Host().Stack().Depth(); depth != tc.Frame().Depth() {
			return nil, errors.New("resumed below the top of the stack")
		}
		order.add(tc.ID())
		return host.Unbox[int64](ctx, tok, v)
	}
}

func TestRuntime_SingleTask(t *testing.T) {
	r := startRuntime(t)
	ctx := context.Background()

	h, err := r.Submit(ctx, func(ctx context.Context, tc *TaskContext) (any, error) {
		tok := tc.Token()
		a, err := tok.Box(ctx, tc.Frame(), int64(40))
		if err != nil {
			return nil, err
		}
		b, err := tok.Box(ctx, tc.Frame(), int64(2))
		if err != nil {
			return nil, err
		}
		plus, err := tok.Global(ctx, tc.Frame(), "Base", "+")
		if err != nil {
			return nil, err
		}
		res, err := tok.Call(ctx, tc.Frame(), plus, a, b)
		if err != nil {
			return nil, err
		}
		sum, err := res.Unwrap()
		if err != nil {
			return nil, err
		}
		return host.Unbox[int64](ctx, tok, sum)
	})
	require.NoError(t, err)

	v, err := await(t, h)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	assert.Equal(t, entities.TaskCompleted, h.State())

	require.Eventually(t, func() bool { return r.Stats().Completed == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 0, r.Host().Stack().Depth())
}

func TestRuntime_DepthOrderedResumption(t *testing.T) {
	gates := []chan struct{}{make(chan struct{}), make(chan struct{}), make(chan struct{})}
	// every gated offload blocks holding a permit
	r := startRuntime(t, WithWorkers(len(gates)))
	ctx := context.Background()

	order := &recorder{}
	handles := make([]*Handle, len(gates))
	for i := range gates {
		h, err := r.Submit(ctx, gated(r, int64(i+1), gates[i], order))
		require.NoError(t, err)
		handles[i] = h
	}

	require.Eventually(t, func() bool {
		for _, h := range handles {
			if h.State() != entities.TaskAwaitingResult {
				return false
			}
		}
		return true
	}, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return r.Stats().Active == 3 }, waitFor, 5*time.Millisecond)

	// the middle task's work finishes first but the top subtree is still open
	close(gates[1])
	require.Eventually(t, func() bool { return r.Stats().Held == 1 }, waitFor, 5*time.Millisecond)
	assert.Never(t, func() bool {
		select {
		case <-handles[1].Done():
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Empty(t, order.get())

	close(gates[2])
	v, err := await(t, handles[2])
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
	v, err = await(t, handles[1])
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	close(gates[0])
	v, err = await(t, handles[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	assert.Equal(t, []entities.TaskID{handles[2].ID(), handles[1].ID(), handles[0].ID()}, order.get())
	require.Eventually(t, func() bool { return r.Stats().Active == 0 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 0, r.Stats().Held)
	assert.Equal(t, uint64(3), r.Stats().Completed)
}

func TestRuntime_DefaultPoolRunsOffloadsTogether(t *testing.T) {
	assert.GreaterOrEqual(t, defaultConfig().workers, minWorkers)

	r := startRuntime(t)
	ctx := context.Background()

	// each offload waits until all of them have started
	var started sync.WaitGroup
	started.Add(minWorkers)
	all := make(chan struct{})
	go func() {
		started.Wait()
		close(all)
	}()

	handles := make([]*Handle, minWorkers)
	for i := range handles {
		h, err := r.Submit(ctx, func(ctx context.Context, tc *TaskContext) (any, error) {
			return tc.Await(ctx, func(ctx context.Context, _ *Worker) (any, error) {
				started.Done()
				select {
				case <-all:
					return int64(1), nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			})
		})
		require.NoError(t, err)
		handles[i] = h
	}

	for _, h := range handles {
		v, err := await(t, h)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
	}
}

func TestRuntime_ManyTasks(t *testing.T) {
	r := startRuntime(t, WithWorkers(4))
	ctx := context.Background()

	const n = 32
	handles := make([]*Handle, n)
	for i := range handles {
		i := int64(i)
		h, err := r.Submit(ctx, func(ctx context.Context, tc *TaskContext) (any, error) {
			tok := tc.Token()
			a, err := tok.Box(ctx, tc.Frame(), i)
			if err != nil {
				return nil, err
			}
			got, err := tc.Await(ctx, func(ctx context.Context, w *Worker) (any, error) {
				w.Safepoint(ctx)
				return i * 10, nil
			})
			if err != nil {
				return nil, err
			}
			b, err := tok.Box(ctx, tc.Frame(), got.(int64))
			if err != nil {
				return nil, err
			}
			plus, err := tok.Global(ctx, tc.Frame(), "Base", "+")
			if err != nil {
				return nil, err
			}
			res, err := tok.Call(ctx, tc.Frame(), plus, a, b)
			if err != nil {
				return nil, err
			}
			sum, err := res.Unwrap()
			if err != nil {
				return nil, err
			}
			return host.Unbox[int64](ctx, tok, sum)
		})
		require.NoError(t, err)
		handles[i] = h
	}

	for i, h := range handles {
		v, err := await(t, h)
		require.NoError(t, err)
		assert.Equal(t, int64(i*11), v)
	}
	require.Eventually(t, func() bool { return r.Stats().Completed == n }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 0, r.Host().Stack().Depth())
}

// holding returns a task that keeps the stack until release is closed.
func holding(started chan<- struct{}, release <-chan struct{}) TaskFunc {
	return func(ctx context.Context, tc *TaskContext) (any, error) {
		close(started)
		<-release
		return "done", nil
	}
}

func TestRuntime_QueueFullLeavesStackAlone(t *testing.T) {
	r := startRuntime(t, WithQueueCapacity(1))
	ctx := context.Background()

	started, release := make(chan struct{}), make(chan struct{})
	h1, err := r.Submit(ctx, holding(started, release))
	require.NoError(t, err)
	<-started

	depth := r.Host().Stack().Depth()
	assert.Equal(t, 1, depth)

	h2, err := r.Submit(ctx, func(context.Context, *TaskContext) (any, error) { return 2, nil })
	require.NoError(t, err)

	_, err = r.Submit(ctx, func(context.Context, *TaskContext) (any, error) { return 3, nil })
	var qf *rserrors.QueueFullError
	require.ErrorAs(t, err, &qf)
	assert.Equal(t, 1, qf.Capacity)
	testutil.RequireErrorDetail(t, err, "queue", "queue_full")
	assert.Equal(t, depth, r.Host().Stack().Depth())
	assert.Equal(t, 1, r.Stats().Pending)

	close(release)
	v, err := await(t, h1)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	v, err = await(t, h2)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestHandle_CancelPending(t *testing.T) {
	r := startRuntime(t)
	ctx := context.Background()

	started, release := make(chan struct{}), make(chan struct{})
	_, err := r.Submit(ctx, holding(started, release))
	require.NoError(t, err)
	<-started

	ran := false
	h, err := r.Submit(ctx, func(context.Context, *TaskContext) (any, error) {
		ran = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, entities.TaskPending, h.State())

	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel())
	_, err = await(t, h)
	var ce *rserrors.CancelledError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, entities.TaskPending, ce.State)
	assert.Equal(t, entities.TaskFailed, h.State())
	assert.Equal(t, 0, r.Stats().Pending)

	close(release)
	require.Eventually(t, func() bool { return r.Stats().Completed == 1 }, waitFor, 5*time.Millisecond)
	assert.False(t, ran)
	assert.Equal(t, uint64(1), r.Stats().Failed)
}

func TestHandle_CancelWhileAwaiting(t *testing.T) {
	r := startRuntime(t)
	ctx := context.Background()

	gate := make(chan struct{})
	offloadDone := make(chan struct{})
	h, err := r.Submit(ctx, func(ctx context.Context, tc *TaskContext) (any, error) {
		return tc.Await(ctx, func(context.Context, *Worker) (any, error) {
			<-gate
			close(offloadDone)
			return "ignored", nil
		})
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.State() == entities.TaskAwaitingResult }, waitFor, 5*time.Millisecond)

	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel())
	close(gate)

	_, err = await(t, h)
	var ce *rserrors.CancelledError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, entities.TaskAwaitingResult, ce.State)
	assert.Equal(t, h.ID(), ce.Task)

	select {
	case <-offloadDone:
	default:
		t.Fatal("offload should have run to completion")
	}
	require.Eventually(t, func() bool { return r.Host().Stack().Depth() == 0 }, waitFor, 5*time.Millisecond)
}

func TestHandle_CancelWhileRunning(t *testing.T) {
	r := startRuntime(t)
	ctx := context.Background()

	started, release := make(chan struct{}), make(chan struct{})
	offloaded := false
	h, err := r.Submit(ctx, func(ctx context.Context, tc *TaskContext) (any, error) {
		close(started)
		<-release
		assert.True(t, tc.Cancelled())
		return tc.Await(ctx, func(context.Context, *Worker) (any, error) {
			offloaded = true
			return nil, nil
		})
	})
	require.NoError(t, err)
	<-started

	assert.True(t, h.Cancel())
	close(release)

	_, err = await(t, h)
	var ce *rserrors.CancelledError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, entities.TaskRunning, ce.State)
	assert.False(t, offloaded)
	assert.False(t, h.Cancel(), "terminal tasks cannot be cancelled")
}

func TestRuntime_RootedResultFails(t *testing.T) {
	r := startRuntime(t)
	ctx := context.Background()

	h, err := r.Submit(ctx, func(ctx context.Context, tc *TaskContext) (any, error) {
		return tc.Token().Box(ctx, tc.Frame(), "escapes")
	})
	require.NoError(t, err)

	_, err = await(t, h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory.Rooted")
	require.Eventually(t, func() bool { return r.Stats().Failed == 1 }, waitFor, 5*time.Millisecond)
}

func TestRuntime_TaskPanicIsContained(t *testing.T) {
	r := startRuntime(t)
	ctx := context.Background()

	h, err := r.Submit(ctx, func(ctx context.Context, tc *TaskContext) (any, error) {
		_, _ = tc.Frame().Stack().Push(0)
		panic("task blew up")
	})
	require.NoError(t, err)

	_, err = await(t, h)
	var pe *rserrors.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "task", pe.Where)

	h2, err := r.Submit(ctx, func(context.Context, *TaskContext) (any, error) { return "still serving", nil })
	require.NoError(t, err)
	v, err := await(t, h2)
	require.NoError(t, err)
	assert.Equal(t, "still serving", v)
	assert.Equal(t, 0, r.Host().Stack().Depth())
}

func TestRuntime_OffloadPanicIsReturned(t *testing.T) {
	r := startRuntime(t)
	ctx := context.Background()

	h, err := r.Submit(ctx, func(ctx context.Context, tc *TaskContext) (any, error) {
		_, err := tc.Await(ctx, func(context.Context, *Worker) (any, error) {
			panic("worker blew up")
		})
		var pe *rserrors.PanicError
		if errors.As(err, &pe) && pe.Where == "offload" {
			return "recovered", nil
		}
		return nil, err
	})
	require.NoError(t, err)

	v, err := await(t, h)
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
}

func TestRuntime_LeftoverFramesUnwound(t *testing.T) {
	r := startRuntime(t)
	ctx := context.Background()

	h, err := r.Submit(ctx, func(ctx context.Context, tc *TaskContext) (any, error) {
		if _, err := tc.Frame().Stack().Push(2); err != nil {
			return nil, err
		}
		return 1, nil
	})
	require.NoError(t, err)

	v, err := await(t, h)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.Eventually(t, func() bool { return r.Stats().Completed == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 0, r.Host().Stack().Depth())
}

func TestRuntime_Blocking(t *testing.T) {
	r := startRuntime(t)
	ctx := context.Background()

	var got string
	err := r.Blocking(ctx, func(tok host.Token, f *memory.Frame) error {
		s, err := tok.Box(ctx, f, "blocking")
		if err != nil {
			return err
		}
		got, err = host.Unbox[string](ctx, tok, s)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "blocking", got)
	assert.Equal(t, 0, r.Host().Stack().Depth())

	h, err := r.Submit(ctx, func(ctx context.Context, tc *TaskContext) (any, error) {
		return nil, r.Blocking(ctx, func(host.Token, *memory.Frame) error { return nil })
	})
	require.NoError(t, err)
	_, err = await(t, h)
	require.ErrorIs(t, err, rserrors.ErrWrongThread)
}

func TestRuntime_Shutdown(t *testing.T) {
	r := startRuntime(t)
	ctx := context.Background()

	started, release := make(chan struct{}), make(chan struct{})
	h1, err := r.Submit(ctx, holding(started, release))
	require.NoError(t, err)
	<-started
	h2, err := r.Submit(ctx, func(context.Context, *TaskContext) (any, error) { return nil, nil })
	require.NoError(t, err)

	shut := make(chan error, 1)
	go func() { shut <- r.Shutdown(ctx) }()
	require.Eventually(t, r.closing.Load, waitFor, time.Millisecond)

	_, err = r.Submit(ctx, func(context.Context, *TaskContext) (any, error) { return nil, nil })
	require.ErrorIs(t, err, rserrors.ErrAlreadyFinalized)

	close(release)
	select {
	case err := <-shut:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("shutdown did not return")
	}

	v, err := await(t, h1)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	_, err = await(t, h2)
	require.ErrorIs(t, err, rserrors.ErrCancelled)

	assert.False(t, r.Host().Live())
	require.ErrorIs(t, r.Shutdown(ctx), rserrors.ErrAlreadyFinalized)
	require.ErrorIs(t, r.Blocking(ctx, func(host.Token, *memory.Frame) error { return nil }), rserrors.ErrAlreadyFinalized)
}

func TestStart_HostFailure(t *testing.T) {
	lc := host.NewLifecycle()
	r, err := Start(context.Background(), heap.New(), WithHostOptions(host.WithLifecycle(lc)))
	require.NoError(t, err)
	require.NoError(t, r.Shutdown(context.Background()))

	_, err = Start(context.Background(), heap.New(), WithHostOptions(host.WithLifecycle(lc)))
	require.ErrorIs(t, err, rserrors.ErrAlreadyFinalized)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRuntime_FailureLoggedWithDetail(t *testing.T) {
	logs := &lockedBuffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := startRuntime(t, WithLogger(logger))

	h, err := r.Submit(context.Background(), func(context.Context, *TaskContext) (any, error) {
		return nil, &rserrors.QueueFullError{Capacity: 1}
	})
	require.NoError(t, err)
	_, err = await(t, h)
	require.ErrorIs(t, err, rserrors.ErrQueueFull)

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), `"msg":"async: task failed"`)
	}, waitFor, 5*time.Millisecond)
	out := logs.String()
	assert.Contains(t, out, `"type":"queue"`)
	assert.Contains(t, out, `"code":"queue_full"`)
	assert.Contains(t, out, `"recoverable":true`)
}

func TestRuntime_WakeupRunsOwnerSafepoint(t *testing.T) {
	h := heap.New()
	r, err := Start(context.Background(), h,
		WithHostOptions(host.WithLifecycle(host.NewLifecycle()), host.WithInstanceID(t.Name())))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = r.Shutdown(ctx)
	})

	before := h.Stats().Collections
	handle, err := r.Submit(context.Background(), func(ctx context.Context, tc *TaskContext) (any, error) {
		return tc.Await(ctx, func(context.Context, *Worker) (any, error) { return "done", nil })
	})
	require.NoError(t, err)
	v, err := await(t, handle)
	require.NoError(t, err)
	assert.Equal(t, "done", v)

	require.Eventually(t, func() bool {
		return r.Stats().Wakeups >= 1 && h.Stats().Collections > before
	}, waitFor, 5*time.Millisecond)
}
