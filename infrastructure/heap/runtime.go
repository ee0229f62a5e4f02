package heap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/reglet-dev/rootscope/domain/ports"
	"github.com/reglet-dev/rootscope/hostfuncs"
)

var (
	// ErrNotInitialized is returned by calls made before Init.
	ErrNotInitialized = errors.New("heap runtime not initialized")

	errUnknownHandle = errors.New("handle does not name a live object")
)

// Runtime is the reference implementation of ports.Runtime.
//
// A single mutex guards the object table; it is never held while a host
// function runs.
type Runtime struct {
	mu       sync.Mutex
	objects  map[entities.Handle]*object
	bindings map[string]entities.Handle
	roots    ports.RootSource
	nothing  entities.Handle
	next     uint64
	pending  int // allocations since the last collection
	stats    entities.HeapStats
	state    lifecycle

	wake chan struct{}
	cfg  config
}

type lifecycle uint8

const (
	stateNew lifecycle = iota
	stateLive
	stateFinalized
)

var _ ports.Runtime = (*Runtime)(nil)

// New creates a runtime. It allocates nothing until Init.
func New(opts ...Option) *Runtime {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Runtime{
		objects:  make(map[entities.Handle]*object),
		bindings: make(map[string]entities.Handle),
		wake:     make(chan struct{}, 1),
		cfg:      cfg,
	}
}

// Init implements ports.Runtime.
func (rt *Runtime) Init(ctx context.Context, roots ports.RootSource) error {
	if roots == nil {
		return fmt.Errorf("heap: init: root source is nil")
	}
	if rt.cfg.registry == nil {
		reg, err := hostfuncs.NewRegistry(
			hostfuncs.WithMiddleware(hostfuncs.PanicRecoveryMiddleware(), hostfuncs.LoggingMiddleware(rt.cfg.logger)),
			hostfuncs.WithBundle(hostfuncs.BaseBundle()),
		)
		if err != nil {
			return fmt.Errorf("heap: init: %w", err)
		}
		rt.cfg.registry = reg
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	switch rt.state {
	case stateLive:
		return rserrors.DoubleInitialization("heap init")
	case stateFinalized:
		return rserrors.AlreadyFinalized("heap init")
	}

	rt.roots = roots
	rt.nothing = rt.allocLocked(&object{val: hostfuncs.Nothing})
	for _, g := range rt.cfg.globals {
		val, err := layout(g.value)
		if err != nil {
			return fmt.Errorf("heap: init: global %s: %w", hostfuncs.Qualify(g.module, g.name), err)
		}
		rt.bindings[hostfuncs.Qualify(g.module, g.name)] = rt.allocLocked(&object{val: val})
	}
	rt.state = stateLive

	rt.cfg.logger.InfoContext(ctx, "heap: runtime initialized",
		"functions", len(rt.cfg.registry.Names()), "globals", len(rt.cfg.globals), "threshold", rt.cfg.threshold)
	return nil
}

// Finalize implements ports.Runtime. Every object is released.
func (rt *Runtime) Finalize(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	switch rt.state {
	case stateNew:
		return fmt.Errorf("heap finalize: %w", ErrNotInitialized)
	case stateFinalized:
		return rserrors.AlreadyFinalized("heap finalize")
	}

	rt.stats.Freed += uint64(len(rt.objects))
	clear(rt.objects)
	clear(rt.bindings)
	rt.roots = nil
	rt.state = stateFinalized

	rt.cfg.logger.InfoContext(ctx, "heap: runtime finalized",
		"allocated", rt.stats.Allocated, "collections", rt.stats.Collections)
	return nil
}

// Global implements ports.Runtime. Constants bound with WithGlobal shadow
// registry functions of the same name.
func (rt *Runtime) Global(ctx context.Context, module, name string) (entities.Handle, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := rt.checkLive("global"); err != nil {
		return entities.NilHandle, err
	}

	q := hostfuncs.Qualify(module, name)
	if h, ok := rt.bindings[q]; ok {
		return h, nil
	}

	fn, ok := rt.cfg.registry.Lookup(module, name)
	if !ok {
		return entities.NilHandle, &rserrors.DispatchError{Target: q, Reason: rserrors.ReasonNotFound}
	}
	h := rt.allocLocked(&object{fn: fn, name: q})
	rt.bindings[q] = h
	return h, nil
}

// Call implements ports.Runtime.
func (rt *Runtime) Call(ctx context.Context, fn entities.Handle, args []entities.Handle) (entities.CallOutcome, error) {
	rt.mu.Lock()
	if err := rt.checkLive("call"); err != nil {
		rt.mu.Unlock()
		return entities.CallOutcome{}, err
	}
	callee, ok := rt.objects[fn]
	if !ok {
		rt.mu.Unlock()
		return entities.CallOutcome{}, &rserrors.DispatchError{Target: fn.String(), Reason: rserrors.ReasonNotCallable, Err: errUnknownHandle}
	}
	if callee.fn == nil {
		rt.mu.Unlock()
		return entities.CallOutcome{}, &rserrors.DispatchError{
			Target: fn.String(),
			Reason: rserrors.ReasonNotCallable,
			Err:    fmt.Errorf("object of kind %s is not callable", callee.kind()),
		}
	}
	vals := make([]hostfuncs.Value, len(args))
	for i, h := range args {
		o, ok := rt.objects[h]
		if !ok {
			rt.mu.Unlock()
			return entities.CallOutcome{}, &rserrors.DispatchError{
				Target: callee.name,
				Reason: rserrors.ReasonType,
				Err:    fmt.Errorf("argument %d: %w", i+1, errUnknownHandle),
			}
		}
		if o.fn != nil {
			vals[i] = hostfuncs.Value{Kind: entities.KindFunction, Type: o.name}
			continue
		}
		vals[i] = o.val
	}
	module, name := splitName(callee.name)
	rt.mu.Unlock()

	// The allocator lock is released while host code runs.
	result, err := callee.fn(hostfuncs.NewCallContext(ctx, module, name, len(vals)), vals)

	if err != nil {
		exc, raised := hostfuncs.AsException(err)
		if !raised {
			return entities.CallOutcome{}, err
		}
		h, aerr := rt.alloc(&object{val: hostfuncs.MustValue(exc)})
		if aerr != nil {
			return entities.CallOutcome{}, aerr
		}
		return entities.Threw(h), nil
	}

	if result.Kind == entities.KindNothing {
		return entities.Returned(rt.nothing), nil
	}
	h, err := rt.alloc(&object{val: result})
	if err != nil {
		return entities.CallOutcome{}, err
	}
	return entities.Returned(h), nil
}

// Box implements ports.Runtime. Scalars map to their kinds; structs and
// pointers to structs are stored as encoded layouts.
func (rt *Runtime) Box(ctx context.Context, v any) (entities.Handle, error) {
	val, err := layout(v)
	if err != nil {
		return entities.NilHandle, err
	}
	if val.Kind == entities.KindNothing {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		if err := rt.checkLive("box"); err != nil {
			return entities.NilHandle, err
		}
		return rt.nothing, nil
	}
	return rt.alloc(&object{val: val})
}

// Unbox implements ports.Runtime.
func (rt *Runtime) Unbox(ctx context.Context, h entities.Handle, dst any) error {
	rt.mu.Lock()
	if err := rt.checkLive("unbox"); err != nil {
		rt.mu.Unlock()
		return err
	}
	o, ok := rt.objects[h]
	if !ok {
		rt.mu.Unlock()
		return fmt.Errorf("heap: unbox %s: %w", h, errUnknownHandle)
	}
	val := o.val
	if o.fn != nil {
		val = hostfuncs.Value{Kind: entities.KindFunction, Type: o.name}
	}
	rt.mu.Unlock()

	return unbox(val, dst)
}

// KindOf implements ports.Runtime.
func (rt *Runtime) KindOf(ctx context.Context, h entities.Handle) (entities.Kind, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := rt.checkLive("kind"); err != nil {
		return entities.KindInvalid, err
	}
	o, ok := rt.objects[h]
	if !ok {
		return entities.KindInvalid, fmt.Errorf("heap: kind of %s: %w", h, errUnknownHandle)
	}
	return o.kind(), nil
}

// Safepoint implements ports.Runtime. It collects unconditionally.
func (rt *Runtime) Safepoint(ctx context.Context) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.state != stateLive {
		return
	}
	rt.collectLocked(ctx)
}

// Signal implements ports.Runtime.
func (rt *Runtime) Signal() {
	select {
	case rt.wake <- struct{}{}:
	default:
	}
}

// Wake returns the channel Signal notifies. At most one wake-up is buffered.
func (rt *Runtime) Wake() <-chan struct{} {
	return rt.wake
}

// Stats returns a snapshot of the heap counters.
func (rt *Runtime) Stats() entities.HeapStats {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	st := rt.stats
	st.Live = len(rt.objects)
	return st
}

// Contains reports whether h names a live object.
func (rt *Runtime) Contains(h entities.Handle) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	_, ok := rt.objects[h]
	return ok
}

// alloc stores o, collecting first if the threshold was reached.
func (rt *Runtime) alloc(o *object) (entities.Handle, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := rt.checkLive("alloc"); err != nil {
		return entities.NilHandle, err
	}
	if rt.cfg.threshold > 0 && rt.pending >= rt.cfg.threshold {
		rt.collectLocked(context.Background())
	}
	return rt.allocLocked(o), nil
}

func (rt *Runtime) allocLocked(o *object) entities.Handle {
	rt.next++
	h := entities.Handle(rt.next)
	o.young = true
	rt.objects[h] = o
	rt.pending++
	rt.stats.Allocated++
	return h
}

func (rt *Runtime) checkLive(op string) error {
	switch rt.state {
	case stateNew:
		return fmt.Errorf("heap %s: %w", op, ErrNotInitialized)
	case stateFinalized:
		return rserrors.AlreadyFinalized("heap " + op)
	}
	return nil
}

func splitName(q string) (module, name string) {
	for i := 0; i < len(q); i++ {
		if q[i] == '.' {
			return q[:i], q[i+1:]
		}
	}
	return "", q
}
