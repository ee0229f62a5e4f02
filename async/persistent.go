package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/reglet-dev/rootscope/memory"
)

// PersistentInit prepares a persistent task. It runs once with the task's
// root frame; values it roots there stay live for every call.
type PersistentInit func(ctx context.Context, tc *TaskContext) (PersistentFunc, error)

// PersistentFunc serves one call. tc.Frame() is a child of the task's root
// frame that pops when the call returns, so the result must be host data.
type PersistentFunc func(ctx context.Context, tc *TaskContext, input any) (any, error)

var errStopServing = errors.New("persistent task stopped serving")

type call struct {
	ctx   context.Context
	input any
	reply chan callResult
}

type callResult struct {
	value any
	err   error
}

// Persistent is a long-lived task that serves calls one at a time. Calls are
// buffered in an inbox of fixed capacity. Its methods are safe to use from
// any goroutine except the one holding the scope stack.
//
// While waiting for calls the task is parked like any other, so a call is
// served only once every subtree started above the task has ended.
type Persistent struct {
	rt     *Runtime
	h      *Handle
	inbox  chan *call
	closed chan struct{}
	once   sync.Once
}

// Persistent starts a persistent task, runs init and returns once init has
// succeeded. capacity bounds the calls waiting to be served; values below one
// are raised to one. ctx bounds the task's lifetime.
func (r *Runtime) Persistent(ctx context.Context, init PersistentInit, capacity int) (*Persistent, error) {
	if init == nil {
		return nil, fmt.Errorf("async: persistent: init func is nil")
	}
	if r.host.Stack().Owned() {
		return nil, fmt.Errorf("async: persistent from the goroutine that holds the stack: %w", rserrors.ErrWrongThread)
	}

	p := &Persistent{
		rt:     r,
		inbox:  make(chan *call, max(capacity, 1)),
		closed: make(chan struct{}),
	}
	ready := make(chan error, 1)
	h, err := r.Submit(ctx, p.serve(init, ready))
	if err != nil {
		return nil, err
	}
	p.h = h

	select {
	case err := <-ready:
		if err != nil {
			return nil, err
		}
	case <-h.Done():
		return nil, p.ended()
	case <-ctx.Done():
		h.Cancel()
		return nil, ctx.Err()
	}
	r.cfg.logger.DebugContext(ctx, "async: persistent task ready", "task", h.ID(), "capacity", cap(p.inbox))
	return p, nil
}

// Call queues input, waiting for room in the inbox, and returns the result
// once the call was served.
func (p *Persistent) Call(ctx context.Context, input any) (any, error) {
	c, err := p.prepare(ctx, input)
	if err != nil {
		return nil, err
	}

	select {
	case p.inbox <- c:
	case <-p.closed:
		return nil, rserrors.AlreadyFinalized("persistent call")
	case <-p.h.Done():
		return nil, p.ended()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.result(ctx, c)
}

// TryCall is Call without waiting for room: a full inbox fails at once with
// a *errors.QueueFullError.
func (p *Persistent) TryCall(ctx context.Context, input any) (any, error) {
	c, err := p.prepare(ctx, input)
	if err != nil {
		return nil, err
	}

	select {
	case p.inbox <- c:
	default:
		return nil, &rserrors.QueueFullError{Capacity: cap(p.inbox)}
	}
	return p.result(ctx, c)
}

// Close stops the task once the calls already queued are served. It does not
// wait; use Handle().Await for that.
func (p *Persistent) Close() {
	p.once.Do(func() { close(p.closed) })
}

// Handle returns the handle of the underlying task.
func (p *Persistent) Handle() *Handle {
	return p.h
}

func (p *Persistent) prepare(ctx context.Context, input any) (*call, error) {
	if p.rt.host.Stack().Owned() {
		return nil, fmt.Errorf("async: persistent call from the goroutine that holds the stack: %w", rserrors.ErrWrongThread)
	}
	select {
	case <-p.h.Done():
		return nil, p.ended()
	default:
	}
	select {
	case <-p.closed:
		return nil, rserrors.AlreadyFinalized("persistent call")
	default:
	}
	return &call{ctx: ctx, input: input, reply: make(chan callResult, 1)}, nil
}

func (p *Persistent) result(ctx context.Context, c *call) (any, error) {
	select {
	case res := <-c.reply:
		return res.value, res.err
	case <-p.h.Done():
		select {
		case res := <-c.reply:
			return res.value, res.err
		default:
		}
		return nil, p.ended()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ended reports why calls can no longer be served.
func (p *Persistent) ended() error {
	if _, err := p.h.Await(context.Background()); err != nil {
		return fmt.Errorf("async: persistent task %s ended: %w", p.h.ID(), err)
	}
	return rserrors.AlreadyFinalized("persistent call")
}

func (p *Persistent) serve(init PersistentInit, ready chan<- error) TaskFunc {
	return func(ctx context.Context, tc *TaskContext) (any, error) {
		fn, err := init(ctx, tc)
		if err == nil && fn == nil {
			err = fmt.Errorf("async: persistent init returned no call func")
		}
		ready <- err
		if err != nil {
			return nil, err
		}

		served := 0
		defer p.reject()
		for {
			v, err := tc.await(ctx, p.next(tc.t), true)
			if errors.Is(err, errStopServing) {
				p.rt.cfg.logger.Debug("async: persistent task stopped", "task", tc.ID(), "served", served)
				return served, nil
			}
			if err != nil {
				return nil, err
			}
			c := v.(*call)
			c.reply <- p.handle(tc, fn, c)
			served++
		}
	}
}

// next waits for the next call. Queued calls are served before a close or a
// shutdown takes effect.
func (p *Persistent) next(t *task) Offload {
	return func(ctx context.Context, _ *Worker) (any, error) {
		select {
		case c := <-p.inbox:
			return c, nil
		default:
		}

		select {
		case c := <-p.inbox:
			return c, nil
		case <-p.closed:
		case <-p.rt.shutdown:
		case <-t.cancelCh:
			return nil, errStopServing
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		select {
		case c := <-p.inbox:
			return c, nil
		default:
			return nil, errStopServing
		}
	}
}

// handle runs one call in a child of the task's root frame.
func (p *Persistent) handle(tc *TaskContext, fn PersistentFunc, c *call) (res callResult) {
	defer func() {
		if rec := recover(); rec != nil {
			res = callResult{err: &rserrors.PanicError{Value: rec, Where: "persistent call", Stack: debug.Stack()}}
		}
	}()

	var v any
	err := tc.Frame().Scope(0, func(child *memory.Frame) error {
		var err error
		v, err = fn(c.ctx, &TaskContext{t: tc.t, tok: tc.tok, frame: child}, c.input)
		if err == nil {
			err = checkResult(v)
		}
		return err
	})
	if err != nil {
		return callResult{err: err}
	}
	return callResult{value: v}
}

// reject fails calls left in the inbox once the task stops serving.
func (p *Persistent) reject() {
	p.Close()
	for {
		select {
		case c := <-p.inbox:
			c.reply <- callResult{err: rserrors.AlreadyFinalized("persistent call")}
		default:
			return
		}
	}
}
