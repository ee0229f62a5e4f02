package async

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"slices"
	"sync/atomic"

	"github.com/petermattis/goid"
	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/reglet-dev/rootscope/domain/ports"
	"github.com/reglet-dev/rootscope/host"
	"github.com/reglet-dev/rootscope/memory"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Runtime is the task multiplexer. Its exported methods may be called from
// any goroutine except where noted.
type Runtime struct {
	cfg   config
	host  *host.Runtime
	queue *queue

	// loop-owned, in stack order
	active []*task

	nextID      atomic.Uint64
	completions chan completion
	blocking    chan *blockingReq
	closing     atomic.Bool
	shutdown    chan struct{}
	stopped     chan struct{}
	stopErr     error

	// wake is the collaborator's signal channel, nil if it has none.
	wake <-chan struct{}

	workers    errgroup.Group
	sem        *semaphore.Weighted
	workCtx    context.Context
	cancelWork context.CancelFunc

	stats struct {
		active    atomic.Int64
		held      atomic.Int64
		completed atomic.Uint64
		failed    atomic.Uint64
		wakeups   atomic.Uint64
	}
}

type blockingReq struct {
	fn   func(tok host.Token, f *memory.Frame) error
	done chan error
}

// Start launches the runtime goroutine, which starts a host runtime for rt
// and then serves tasks until Shutdown.
func Start(ctx context.Context, rt ports.Runtime, opts ...Option) (*Runtime, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	workCtx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		cfg:         cfg,
		queue:       newQueue(cfg.queueCapacity),
		completions: make(chan completion),
		blocking:    make(chan *blockingReq),
		shutdown:    make(chan struct{}),
		stopped:     make(chan struct{}),
		sem:         semaphore.NewWeighted(int64(cfg.workers)),
		workCtx:     workCtx,
		cancelWork:  cancel,
	}

	started := make(chan error, 1)
	go r.run(ctx, rt, started)
	if err := <-started; err != nil {
		cancel()
		return nil, err
	}
	return r, nil
}

func (r *Runtime) run(ctx context.Context, rt ports.Runtime, started chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hostOpts := append([]host.Option{host.WithLogger(r.cfg.logger)}, r.cfg.hostOpts...)
	hr, err := host.Start(ctx, rt, hostOpts...)
	if err != nil {
		close(r.stopped)
		started <- err
		return
	}
	r.host = hr
	if w, ok := rt.(ports.Waker); ok {
		r.wake = w.Wake()
	}
	r.cfg.logger.InfoContext(ctx, "async: runtime loop started",
		"workers", r.cfg.workers, "queue", r.cfg.queueCapacity)
	started <- nil

	r.loop()
}

// Submit queues fn. It fails with a *errors.QueueFullError when the queue is
// at capacity; the scope stack is not touched either way.
func (r *Runtime) Submit(ctx context.Context, fn TaskFunc) (*Handle, error) {
	if fn == nil {
		return nil, fmt.Errorf("async: submit: task func is nil")
	}
	if r.closing.Load() {
		return nil, rserrors.AlreadyFinalized("submit")
	}

	t := newTask(ctx, r, entities.TaskID(r.nextID.Add(1)), fn)
	if err := r.queue.push(t); err != nil {
		return nil, err
	}
	r.cfg.logger.DebugContext(ctx, "async: task submitted", "task", t.id)
	return &Handle{t: t}, nil
}

// Blocking runs fn in a fresh root frame on the runtime goroutine between
// task steps and returns its error. It must not be called from a task.
func (r *Runtime) Blocking(ctx context.Context, fn func(tok host.Token, f *memory.Frame) error) error {
	if fn == nil {
		return fmt.Errorf("async: blocking: func is nil")
	}
	if r.closing.Load() {
		return rserrors.AlreadyFinalized("blocking")
	}
	if goid.Get() == r.host.Stack().Owner() {
		return fmt.Errorf("async: blocking from the goroutine that holds the stack: %w", rserrors.ErrWrongThread)
	}

	req := &blockingReq{fn: fn, done: make(chan error, 1)}
	select {
	case r.blocking <- req:
	case <-r.stopped:
		return rserrors.AlreadyFinalized("blocking")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work, cancels queued tasks, waits for started
// tasks to finish and shuts the host runtime down.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if !r.closing.CompareAndSwap(false, true) {
		return rserrors.AlreadyFinalized("async shutdown")
	}
	close(r.shutdown)
	r.queue.wake()

	select {
	case <-r.stopped:
		return r.stopErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResizeQueue sets the number of tasks that may wait to start. Shrinking
// never drops queued tasks: the excess still starts, and Submit fails with a
// *errors.QueueFullError until the queue is below the new bound.
func (r *Runtime) ResizeQueue(capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("async: resize queue: capacity must be positive, got %d", capacity)
	}
	if r.closing.Load() {
		return rserrors.AlreadyFinalized("resize queue")
	}
	old, err := r.queue.resize(capacity)
	if err != nil {
		return err
	}
	r.cfg.logger.Info("async: queue resized", "from", old, "to", capacity, "pending", r.queue.len())
	return nil
}

// Stats returns a snapshot of the scheduler.
func (r *Runtime) Stats() entities.SchedulerStats {
	return entities.SchedulerStats{
		Pending:   r.queue.len(),
		Active:    int(r.stats.active.Load()),
		Held:      int(r.stats.held.Load()),
		Completed: r.stats.completed.Load(),
		Failed:    r.stats.failed.Load(),
		Wakeups:   r.stats.wakeups.Load(),
	}
}

// Host returns the host runtime driven by the loop.
func (r *Runtime) Host() *host.Runtime {
	return r.host
}

func (r *Runtime) loop() {
	for {
		r.schedule()

		if r.closing.Load() {
			for _, t := range r.queue.close() {
				t.complete(nil, &rserrors.CancelledError{Task: t.id, State: entities.TaskPending})
				r.stats.failed.Add(1)
			}
			if len(r.active) == 0 {
				r.stop()
				return
			}
		}

		select {
		case <-r.queue.notify:
		case c := <-r.completions:
			r.onCompletion(c)
		case req := <-r.blocking:
			req.done <- r.host.Scope(0, req.fn)
		case <-r.wake:
			r.onWake()
		}
	}
}

// onWake answers a collaborator signal with a safepoint taken while the loop
// holds the stack, so the cycle may age fresh allocations.
func (r *Runtime) onWake() {
	r.stats.wakeups.Add(1)
	tok, err := r.host.Token()
	if err != nil {
		r.cfg.logger.Warn("async: wake-up without the stack", "error", err)
		return
	}
	if err := tok.Safepoint(r.workCtx); err != nil {
		r.cfg.logger.Warn("async: safepoint after wake-up failed", "error", err)
	}
}

// schedule resumes the top task while its wait is over and starts queued
// tasks otherwise, until neither is possible.
func (r *Runtime) schedule() {
	for {
		if n := len(r.active); n > 0 && r.active[n-1].ready {
			r.resumeTop(r.active[n-1])
			continue
		}
		if r.closing.Load() {
			break
		}
		t := r.queue.pop()
		if t == nil {
			break
		}
		r.startTask(t)
	}

	held := 0
	for i, t := range r.active {
		if t.ready && i < len(r.active)-1 {
			held++
		}
	}
	r.stats.held.Store(int64(held))
	r.stats.active.Store(int64(len(r.active)))
}

func (r *Runtime) startTask(t *task) {
	stack := r.host.Stack()
	base := stack.Depth()
	f, err := stack.Push(r.cfg.taskFrameCap)
	if err != nil {
		t.complete(nil, fmt.Errorf("async: start %s: %w", t.id, err))
		r.stats.failed.Add(1)
		return
	}
	t.frame, t.base = f, base
	r.active = append(r.active, t)

	r.cfg.logger.Debug("async: task started", "task", t.id, "depth", f.Depth())
	go r.runTask(t)
	r.step(t, nil, nil)
}

func (r *Runtime) resumeTop(t *task) {
	v, err := t.waitVal, t.waitErr
	t.ready, t.waitVal, t.waitErr = false, nil, nil
	if t.cancelled.Load() {
		v, err = nil, &rserrors.CancelledError{Task: t.id, State: entities.TaskAwaitingResult}
	}
	r.cfg.logger.Debug("async: task resumed", "task", t.id, "depth", t.frame.Depth())
	r.step(t, v, err)
}

// step hands the stack to t until it parks or finishes.
func (r *Runtime) step(t *task, v any, err error) {
	lease, lerr := r.host.Stack().Lend()
	if lerr != nil {
		r.cfg.logger.Error("async: cannot lend stack", "task", t.id, "error", lerr)
		return
	}
	t.setState(entities.TaskRunning)
	t.resume <- resumeMsg{lease: lease, value: v, err: err}

	y := <-t.yield
	if y.lease != nil {
		if aerr := y.lease.Adopt(); aerr != nil {
			r.cfg.logger.Error("async: cannot take stack back", "task", t.id, "error", aerr)
		}
	}

	if y.finished {
		r.finishTask(t, y.value, y.err)
		return
	}
	t.setState(entities.TaskAwaitingResult)
	r.cfg.logger.Debug("async: task parked", "task", t.id)
	r.dispatch(y.ctx, t.id, y.offload, y.unpooled)
}

func (r *Runtime) finishTask(t *task, v any, err error) {
	if perr := t.frame.Pop(); perr != nil {
		n, _ := r.host.Stack().Truncate(t.base)
		r.cfg.logger.Warn("async: task left frames open", "task", t.id, "unwound", n, "error", perr)
	}
	if i := slices.Index(r.active, t); i >= 0 {
		r.active = slices.Delete(r.active, i, i+1)
	}

	t.complete(v, err)
	if err != nil {
		r.stats.failed.Add(1)
		d := rserrors.ToErrorDetail(err)
		r.cfg.logger.Debug("async: task failed", "task", t.id, "error", err,
			"type", d.Type, "code", d.Code, "recoverable", d.Recoverable)
		return
	}
	r.stats.completed.Add(1)
	r.cfg.logger.Debug("async: task completed", "task", t.id)
}

func (r *Runtime) onCompletion(c completion) {
	i := slices.IndexFunc(r.active, func(t *task) bool { return t.id == c.task })
	if i < 0 {
		return
	}
	t := r.active[i]
	t.ready, t.waitVal, t.waitErr = true, c.value, c.err
	if i < len(r.active)-1 {
		r.cfg.logger.Debug("async: completion held until subtrees above end",
			"task", t.id, "above", len(r.active)-1-i)
	}
}

// runTask is the task goroutine. It runs only while holding the stack.
func (r *Runtime) runTask(t *task) {
	msg := <-t.resume

	var (
		v   any
		err error
	)
	if err = msg.lease.Adopt(); err == nil {
		var tok host.Token
		if tok, err = r.host.Token(); err == nil {
			v, err = invoke(t, &TaskContext{t: t, tok: tok})
		}
	}

	lease, lerr := r.host.Stack().Lend()
	if lerr != nil {
		lease = nil
	}
	t.yield <- yieldMsg{lease: lease, value: v, err: err, finished: true}
}

func invoke(t *task, tc *TaskContext) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			v, err = nil, &rserrors.PanicError{Value: p, Where: "task", Stack: debug.Stack()}
		}
	}()
	v, err = t.fn(t.ctx, tc)
	if err == nil {
		if cerr := checkResult(v); cerr != nil {
			return nil, cerr
		}
	}
	return v, err
}

func (r *Runtime) stop() {
	r.stopErr = r.host.Shutdown(context.Background())
	r.cancelWork()
	close(r.stopped)
	_ = r.workers.Wait()
	r.cfg.logger.Info("async: runtime loop stopped",
		"completed", r.stats.completed.Load(), "failed", r.stats.failed.Load())
}
