package host

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/reglet-dev/rootscope/domain/ports"
	"github.com/reglet-dev/rootscope/memory"
)

// Runtime is a started collected runtime together with the scope stack that
// roots values for it. The goroutine that called Start owns the stack.
type Runtime struct {
	rt     ports.Runtime
	stack  *memory.Stack
	cfg    config
	closed atomic.Bool
}

// Start initializes rt and returns the runtime handle. Only one runtime may
// ever be started under a lifecycle guard; a failed Init spends the guard.
func Start(ctx context.Context, rt ports.Runtime, opts ...Option) (*Runtime, error) {
	if rt == nil {
		return nil, fmt.Errorf("host: start: runtime is nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	id := cfg.instanceID()
	logger := cfg.logger.With("runtime", id)
	cfg.logger = logger

	if err := cfg.lifecycle.acquire(); err != nil {
		logger.ErrorContext(ctx, "host: runtime start refused", "error", err)
		return nil, err
	}

	stackOpts := append([]memory.StackOption{memory.WithLogger(logger)}, cfg.stackOpts...)
	r := &Runtime{
		rt:    rt,
		stack: memory.NewStack(stackOpts...),
		cfg:   cfg,
	}

	if err := r.guard("init", func() error { return rt.Init(ctx, r.stack) }); err != nil {
		_ = cfg.lifecycle.release()
		r.closed.Store(true)
		logger.ErrorContext(ctx, "host: runtime init failed", "error", err)
		return nil, fmt.Errorf("host: start: %w", err)
	}

	logger.InfoContext(ctx, "host: runtime started")
	return r, nil
}

// Shutdown unwinds any open frames and finalizes the collected runtime.
// A second call returns an AlreadyFinalized error and changes nothing.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r.closed.Load() {
		return rserrors.AlreadyFinalized("shutdown")
	}
	if err := r.stack.CheckOwner(); err != nil {
		return err
	}
	if err := r.cfg.lifecycle.release(); err != nil {
		return err
	}
	r.closed.Store(true)

	if n, _ := r.stack.Truncate(0); n > 0 {
		r.cfg.logger.WarnContext(ctx, "host: shutdown with open frames", "unwound", n)
	}
	if err := r.guard("finalize", func() error { return r.rt.Finalize(ctx) }); err != nil {
		r.cfg.logger.ErrorContext(ctx, "host: finalize failed", "error", err)
		return fmt.Errorf("host: shutdown: %w", err)
	}

	r.cfg.logger.InfoContext(ctx, "host: runtime shut down")
	return nil
}

// Scope opens a root frame of the given capacity, runs fn with a token and
// the frame, then pops the frame. A panic in fn is returned as a
// *errors.PanicError after the frame has been popped.
func (r *Runtime) Scope(capacity int, fn func(tok Token, f *memory.Frame) error) (err error) {
	tok, err := r.Token()
	if err != nil {
		return err
	}

	base := r.stack.Depth()
	f, err := r.stack.Push(capacity)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			pe := &rserrors.PanicError{Value: p, Where: "scope", Stack: debug.Stack()}
			r.cfg.logger.Error("host: panic in scope", "depth", f.Depth(), "error", pe)
			err = pe
		}
		err = errors.Join(err, r.closeRoot(base, f))
	}()

	return fn(tok, f)
}

// closeRoot pops f, first unwinding anything fn left above it.
func (r *Runtime) closeRoot(base int, f *memory.Frame) error {
	perr := f.Pop()
	if perr == nil || !errors.Is(perr, rserrors.ErrScopeOrder) {
		return perr
	}
	n, err := r.stack.Truncate(base)
	if err != nil {
		return err
	}
	if n == 0 {
		return perr
	}
	r.cfg.logger.Warn("host: root scope exited with frames still open", "depth", f.Depth(), "unwound", n)
	return &rserrors.ScopeOrderError{Depth: f.Depth(), Top: base + n}
}

// Token returns the call capability for the calling goroutine. It fails if
// the runtime is shut down or the caller does not own the scope stack.
func (r *Runtime) Token() (Token, error) {
	if err := r.check(); err != nil {
		return Token{}, err
	}
	return Token{r: r}, nil
}

// Stack returns the scope stack. Task schedulers push task frames on it.
func (r *Runtime) Stack() *memory.Stack {
	return r.stack
}

// Collaborator returns the underlying collected runtime.
func (r *Runtime) Collaborator() ports.Runtime {
	return r.rt
}

// ID returns the instance id the runtime logs under.
func (r *Runtime) ID() string {
	return r.cfg.id
}

// Live reports whether the runtime has not been shut down.
func (r *Runtime) Live() bool {
	return !r.closed.Load()
}

// Stats returns a snapshot of the scope stack.
func (r *Runtime) Stats() entities.StackStats {
	return r.stack.Stats()
}

func (r *Runtime) check() error {
	if r == nil {
		return fmt.Errorf("host: runtime is nil")
	}
	if r.closed.Load() {
		return rserrors.AlreadyFinalized("token")
	}
	return r.stack.CheckOwner()
}

// guard runs a collaborator call and turns an escaping panic into an error.
func (r *Runtime) guard(where string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &rserrors.PanicError{Value: p, Where: where, Stack: debug.Stack()}
			r.cfg.logger.Error("host: collaborator panicked", "op", where, "error", err)
		}
	}()
	return fn()
}
