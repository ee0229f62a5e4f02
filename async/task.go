package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/reglet-dev/rootscope/host"
	"github.com/reglet-dev/rootscope/memory"
)

// TaskFunc is the body of a task. It runs with stack ownership and may root
// values in tc.Frame(). The result must be host data: rooted values die with
// the task's subtree.
type TaskFunc func(ctx context.Context, tc *TaskContext) (any, error)

// Offload is work run on a pool goroutine while its task is parked. It must
// not touch the scope stack or rooted values.
type Offload func(ctx context.Context, w *Worker) (any, error)

type task struct {
	id    entities.TaskID
	fn    TaskFunc
	ctx   context.Context
	rt    *Runtime
	state atomic.Uint32

	cancelled atomic.Bool
	cancelCh  chan struct{}

	// baton
	resume chan resumeMsg
	yield  chan yieldMsg

	// loop-owned
	frame   *memory.Frame
	base    int
	ready   bool
	waitVal any
	waitErr error

	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

type resumeMsg struct {
	lease *memory.Lease
	value any
	err   error
}

type yieldMsg struct {
	lease    *memory.Lease
	offload  Offload
	ctx      context.Context
	value    any
	err      error
	finished bool
	// unpooled offloads only wait and skip the worker bound
	unpooled bool
}

func newTask(ctx context.Context, rt *Runtime, id entities.TaskID, fn TaskFunc) *task {
	return &task{
		id:       id,
		fn:       fn,
		ctx:      ctx,
		rt:       rt,
		resume:   make(chan resumeMsg),
		yield:    make(chan yieldMsg),
		done:     make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
}

func (t *task) getState() entities.TaskState {
	return entities.TaskState(t.state.Load())
}

func (t *task) setState(s entities.TaskState) {
	t.state.Store(uint32(s))
}

// complete records the final outcome once.
func (t *task) complete(value any, err error) {
	t.once.Do(func() {
		t.value, t.err = value, err
		if err != nil {
			t.setState(entities.TaskFailed)
		} else {
			t.setState(entities.TaskCompleted)
		}
		close(t.done)
	})
}

// checkResult rejects values that reference the task's frames.
func checkResult(v any) error {
	switch v.(type) {
	case memory.Rooted, *memory.Rooted, *memory.Output, *memory.Frame:
		return fmt.Errorf("task result %T references frames that pop when the task ends", v)
	}
	return nil
}

// Handle observes and controls a submitted task. It is safe to use from any
// goroutine.
type Handle struct {
	t *task
}

// ID returns the task id.
func (h *Handle) ID() entities.TaskID {
	return h.t.id
}

// State returns the current task state.
func (h *Handle) State() entities.TaskState {
	return h.t.getState()
}

// Done is closed once the task reached a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.t.done
}

// Await blocks until the task ends and returns its result.
func (h *Handle) Await(ctx context.Context) (any, error) {
	select {
	case <-h.t.done:
		return h.t.value, h.t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cancellation and reports whether it had any effect. A
// pending task is removed and fails at once without running. A started task
// is marked: its current offload still runs, but the result is dropped and
// the task sees a *errors.CancelledError from Await once it may resume.
func (h *Handle) Cancel() bool {
	t := h.t
	if t.getState().Terminal() {
		return false
	}
	if t.rt.queue.remove(t) {
		t.complete(nil, &rserrors.CancelledError{Task: t.id, State: entities.TaskPending})
		t.rt.stats.failed.Add(1)
		t.rt.cfg.logger.Debug("async: pending task cancelled", "task", t.id)
		return true
	}
	if !t.cancelled.CompareAndSwap(false, true) {
		return false
	}
	close(t.cancelCh)
	t.rt.queue.wake()
	t.rt.cfg.logger.Debug("async: task marked cancelled", "task", t.id, "state", t.getState())
	return true
}

// TaskContext is a task's view of the runtime. Its methods must be called
// from the task's own goroutine.
type TaskContext struct {
	t   *task
	tok host.Token

	// frame replaces the task's root frame for a persistent call
	frame *memory.Frame
}

// ID returns the task id.
func (tc *TaskContext) ID() entities.TaskID {
	return tc.t.id
}

// Token returns the call capability. It is valid whenever the task runs.
func (tc *TaskContext) Token() host.Token {
	return tc.tok
}

// Frame returns the root frame of the task's subtree, or the call frame
// inside a persistent call.
func (tc *TaskContext) Frame() *memory.Frame {
	if tc.frame != nil {
		return tc.frame
	}
	return tc.t.frame
}

// Cancelled reports whether cancellation was requested.
func (tc *TaskContext) Cancelled() bool {
	return tc.t.cancelled.Load()
}

// Await parks the task, runs off on the worker pool and returns its result
// once the task may resume. Values rooted in the task's frames stay valid
// across the wait.
func (tc *TaskContext) Await(ctx context.Context, off Offload) (any, error) {
	if off == nil {
		return nil, fmt.Errorf("async: await: offload is nil")
	}
	return tc.await(ctx, off, false)
}

func (tc *TaskContext) await(ctx context.Context, off Offload, unpooled bool) (any, error) {
	t := tc.t
	if t.cancelled.Load() {
		return nil, &rserrors.CancelledError{Task: t.id, State: entities.TaskRunning}
	}

	stack := t.rt.host.Stack()
	lease, err := stack.Lend()
	if err != nil {
		return nil, err
	}
	t.yield <- yieldMsg{lease: lease, offload: off, ctx: ctx, unpooled: unpooled}

	msg := <-t.resume
	if err := msg.lease.Adopt(); err != nil {
		return nil, err
	}
	return msg.value, msg.err
}
