package wazero

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/reglet-dev/rootscope/domain/ports"
	"github.com/reglet-dev/rootscope/hostfuncs"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

var (
	// ErrNotInitialized is returned by calls made before Init.
	ErrNotInitialized = errors.New("guest runtime not initialized")

	errUnknownHandle = errors.New("handle does not name a live cell")
)

// Runtime implements ports.Runtime on top of a WebAssembly guest.
//
// mu guards the cell table and guest serializes every call into the guest.
// Code that needs both takes mu first, then guest.
type Runtime struct {
	mu       sync.Mutex
	cells    map[entities.Handle]*cell
	bindings map[string]entities.Handle
	roots    ports.RootSource
	nothing  entities.Handle
	next     uint64
	pending  int
	stats    entities.HeapStats
	state    lifecycle

	guest   sync.Mutex
	engine  wazero.Runtime
	mod     api.Module
	allocFn api.Function
	freeFn  api.Function
	wasm    []byte
	wake    chan struct{}
	cfg     config
}

type lifecycle uint8

const (
	stateNew lifecycle = iota
	stateLive
	stateFinalized
)

var _ ports.Runtime = (*Runtime)(nil)

// New creates a runtime for the given guest binary. Nothing is compiled
// until Init.
func New(wasm []byte, opts ...Option) *Runtime {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Runtime{
		cells:    make(map[entities.Handle]*cell),
		bindings: make(map[string]entities.Handle),
		wasm:     wasm,
		wake:     make(chan struct{}, 1),
		cfg:      cfg,
	}
}

// Init implements ports.Runtime. It compiles and instantiates the guest.
func (rt *Runtime) Init(ctx context.Context, roots ports.RootSource) error {
	if roots == nil {
		return fmt.Errorf("wazero: init: root source is nil")
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	switch rt.state {
	case stateLive:
		return rserrors.DoubleInitialization("wazero init")
	case stateFinalized:
		return rserrors.AlreadyFinalized("wazero init")
	}

	engine := wazero.NewRuntime(ctx)
	if rt.cfg.wasi {
		wasi_snapshot_preview1.MustInstantiate(ctx, engine)
	}
	compiled, err := engine.CompileModule(ctx, rt.wasm)
	if err != nil {
		_ = engine.Close(ctx)
		return fmt.Errorf("wazero: compile guest: %w", err)
	}
	mod, err := engine.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(rt.cfg.module))
	if err != nil {
		_ = engine.Close(ctx)
		return fmt.Errorf("wazero: instantiate guest: %w", err)
	}
	if init := mod.ExportedFunction("_initialize"); init != nil {
		if _, err := init.Call(ctx); err != nil {
			_ = engine.Close(ctx)
			return fmt.Errorf("wazero: call _initialize: %w", err)
		}
	}

	rt.engine, rt.mod = engine, mod
	rt.allocFn = mod.ExportedFunction(rt.cfg.allocate)
	rt.freeFn = mod.ExportedFunction(rt.cfg.deallocate)
	rt.roots = roots
	rt.nothing = rt.allocLocked(&cell{kind: entities.KindNothing})
	rt.state = stateLive

	rt.cfg.logger.InfoContext(ctx, "wazero: guest instantiated",
		"module", rt.cfg.module,
		"exports", len(mod.ExportedFunctionDefinitions()),
		"allocator", rt.allocFn != nil)
	return nil
}

// Finalize implements ports.Runtime. The guest is closed with every cell.
func (rt *Runtime) Finalize(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	switch rt.state {
	case stateNew:
		return fmt.Errorf("wazero finalize: %w", ErrNotInitialized)
	case stateFinalized:
		return rserrors.AlreadyFinalized("wazero finalize")
	}

	rt.stats.Freed += uint64(len(rt.cells))
	clear(rt.cells)
	clear(rt.bindings)
	rt.roots = nil
	rt.state = stateFinalized

	rt.guest.Lock()
	err := rt.engine.Close(ctx)
	rt.guest.Unlock()

	rt.cfg.logger.InfoContext(ctx, "wazero: guest closed",
		"allocated", rt.stats.Allocated, "collections", rt.stats.Collections)
	if err != nil {
		return fmt.Errorf("wazero: close guest: %w", err)
	}
	return nil
}

// Global implements ports.Runtime. Only function exports of the guest
// module are globals.
func (rt *Runtime) Global(ctx context.Context, module, name string) (entities.Handle, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := rt.checkLive("global"); err != nil {
		return entities.NilHandle, err
	}

	q := hostfuncs.Qualify(module, name)
	if module != rt.cfg.module {
		return entities.NilHandle, &rserrors.DispatchError{
			Target: q,
			Reason: rserrors.ReasonNotFound,
			Err:    fmt.Errorf("no guest module %q", module),
		}
	}
	if h, ok := rt.bindings[q]; ok {
		return h, nil
	}

	fn := rt.mod.ExportedFunction(name)
	if fn == nil {
		return entities.NilHandle, &rserrors.DispatchError{Target: q, Reason: rserrors.ReasonNotFound}
	}
	h := rt.allocLocked(&cell{kind: entities.KindFunction, fn: fn, name: q})
	rt.bindings[q] = h
	return h, nil
}

// Call implements ports.Runtime. A trap is reported as a raised exception;
// a guest that exited or was closed is an outer error.
func (rt *Runtime) Call(ctx context.Context, fn entities.Handle, args []entities.Handle) (entities.CallOutcome, error) {
	rt.mu.Lock()
	if err := rt.checkLive("call"); err != nil {
		rt.mu.Unlock()
		return entities.CallOutcome{}, err
	}
	callee, ok := rt.cells[fn]
	if !ok || callee.kind != entities.KindFunction {
		rt.mu.Unlock()
		err := errUnknownHandle
		if ok {
			err = fmt.Errorf("cell of kind %s is not callable", callee.kind)
		}
		return entities.CallOutcome{}, &rserrors.DispatchError{Target: fn.String(), Reason: rserrors.ReasonNotCallable, Err: err}
	}

	def := callee.fn.Definition()
	params, results := def.ParamTypes(), def.ResultTypes()
	if len(args) != len(params) {
		rt.mu.Unlock()
		return entities.CallOutcome{}, &rserrors.DispatchError{
			Target: callee.name,
			Reason: rserrors.ReasonArity,
			Err:    fmt.Errorf("expected %d argument(s), got %d", len(params), len(args)),
		}
	}
	if len(results) > 1 || (len(results) == 1 && !supportedResult(results[0])) {
		rt.mu.Unlock()
		return entities.CallOutcome{}, &rserrors.DispatchError{
			Target: callee.name,
			Reason: rserrors.ReasonUnsupported,
			Err:    fmt.Errorf("unsupported result signature %v", results),
		}
	}

	stack := make([]uint64, len(params))
	for i, h := range args {
		c, ok := rt.cells[h]
		if !ok {
			rt.mu.Unlock()
			return entities.CallOutcome{}, &rserrors.DispatchError{
				Target: callee.name,
				Reason: rserrors.ReasonType,
				Err:    fmt.Errorf("argument %d: %w", i+1, errUnknownHandle),
			}
		}
		v, err := encodeArg(c, params[i])
		if err != nil {
			rt.mu.Unlock()
			return entities.CallOutcome{}, &rserrors.DispatchError{
				Target: callee.name,
				Reason: rserrors.ReasonType,
				Err:    fmt.Errorf("argument %d: %w", i+1, err),
			}
		}
		stack[i] = v
	}
	guestFn, name, nothing := callee.fn, callee.name, rt.nothing
	rt.mu.Unlock()

	rt.guest.Lock()
	out, err := guestFn.Call(ctx, stack...)
	rt.guest.Unlock()

	if err != nil {
		var exit *sys.ExitError
		if errors.As(err, &exit) {
			return entities.CallOutcome{}, fmt.Errorf("wazero: %s: guest exited: %w", name, err)
		}
		rt.cfg.logger.DebugContext(ctx, "wazero: guest trapped", "function", name, "error", err)
		h, aerr := rt.alloc(ctx, &cell{
			kind: entities.KindException,
			exc:  &hostfuncs.Exception{Type: TrapException, Message: err.Error()},
		})
		if aerr != nil {
			return entities.CallOutcome{}, aerr
		}
		return entities.Threw(h), nil
	}

	if len(results) == 0 {
		return entities.Returned(nothing), nil
	}
	h, err := rt.alloc(ctx, resultCell(out[0], results[0]))
	if err != nil {
		return entities.CallOutcome{}, err
	}
	return entities.Returned(h), nil
}

// Box implements ports.Runtime. Strings and byte slices are copied into
// guest memory; other values need a scalar layout.
func (rt *Runtime) Box(ctx context.Context, v any) (entities.Handle, error) {
	if v == nil {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		if err := rt.checkLive("box"); err != nil {
			return entities.NilHandle, err
		}
		return rt.nothing, nil
	}
	if c, ok := scalarCell(v); ok {
		return rt.alloc(ctx, c)
	}

	switch x := v.(type) {
	case string:
		return rt.copyIn(ctx, entities.KindString, []byte(x))
	case []byte:
		return rt.copyIn(ctx, entities.KindBytes, x)
	}
	return entities.NilHandle, &rserrors.DispatchError{
		Target: "box",
		Reason: rserrors.ReasonUnsupported,
		Err:    fmt.Errorf("no guest layout for %T", v),
	}
}

// Unbox implements ports.Runtime.
func (rt *Runtime) Unbox(ctx context.Context, h entities.Handle, dst any) error {
	rt.mu.Lock()
	if err := rt.checkLive("unbox"); err != nil {
		rt.mu.Unlock()
		return err
	}
	c, ok := rt.cells[h]
	if !ok {
		rt.mu.Unlock()
		return fmt.Errorf("wazero: unbox %s: %w", h, errUnknownHandle)
	}
	snapshot := *c
	rt.mu.Unlock()

	var data []byte
	if snapshot.inGuest() {
		var err error
		if data, err = rt.read(snapshot.bits); err != nil {
			return err
		}
	}
	return unboxCell(&snapshot, data, dst)
}

// KindOf implements ports.Runtime.
func (rt *Runtime) KindOf(ctx context.Context, h entities.Handle) (entities.Kind, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := rt.checkLive("kind"); err != nil {
		return entities.KindInvalid, err
	}
	c, ok := rt.cells[h]
	if !ok {
		return entities.KindInvalid, fmt.Errorf("wazero: kind of %s: %w", h, errUnknownHandle)
	}
	return c.kind, nil
}

// Safepoint implements ports.Runtime. It collects unconditionally.
func (rt *Runtime) Safepoint(ctx context.Context) {
	rt.mu.Lock()
	if rt.state != stateLive {
		rt.mu.Unlock()
		return
	}
	dead := rt.collectLocked(ctx)
	rt.mu.Unlock()
	rt.release(ctx, dead)
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

// Stats returns a snapshot of the cell counters.
func (rt *Runtime) Stats() entities.HeapStats {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	st := rt.stats
	st.Live = len(rt.cells)
	return st
}

// copyIn writes data into a fresh guest buffer and allocates its cell.
func (rt *Runtime) copyIn(ctx context.Context, kind entities.Kind, data []byte) (entities.Handle, error) {
	if uint64(len(data)) > uint64(rt.cfg.maxData) {
		return entities.NilHandle, &rserrors.DispatchError{
			Target: "box",
			Reason: rserrors.ReasonUnsupported,
			Err:    fmt.Errorf("%d bytes exceed the guest data limit of %d", len(data), rt.cfg.maxData),
		}
	}

	rt.mu.Lock()
	if err := rt.checkLive("box"); err != nil {
		rt.mu.Unlock()
		return entities.NilHandle, err
	}
	allocFn, mod := rt.allocFn, rt.mod
	rt.mu.Unlock()

	if allocFn == nil || mod.Memory() == nil {
		return entities.NilHandle, &rserrors.DispatchError{
			Target: "box",
			Reason: rserrors.ReasonUnsupported,
			Err:    fmt.Errorf("guest exports no %q function or memory", rt.cfg.allocate),
		}
	}

	size := uint32(len(data)) //nolint:gosec // G115: bounded by maxData
	rt.guest.Lock()
	res, err := allocFn.Call(ctx, uint64(size))
	var ptr uint32
	written := false
	if err == nil {
		ptr = uint32(res[0]) //nolint:gosec // G115: WASM32 pointers are always 32-bit
		written = mod.Memory().Write(ptr, data)
	}
	rt.guest.Unlock()

	if err != nil {
		return entities.NilHandle, fmt.Errorf("wazero: allocate %d bytes in guest: %w", size, err)
	}
	if !written {
		return entities.NilHandle, fmt.Errorf("wazero: guest buffer at %d (%d bytes) is out of range", ptr, size)
	}
	return rt.alloc(ctx, &cell{kind: kind, bits: packPtrLen(ptr, size)})
}

// read copies a guest buffer out of guest memory.
func (rt *Runtime) read(packed uint64) ([]byte, error) {
	ptr, size := unpackPtrLen(packed)
	rt.guest.Lock()
	defer rt.guest.Unlock()
	data, ok := rt.mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("wazero: guest buffer at %d (%d bytes) is out of range", ptr, size)
	}
	return bytes.Clone(data), nil
}

// release hands swept guest buffers back to the guest.
func (rt *Runtime) release(ctx context.Context, dead []uint64) {
	if len(dead) == 0 || rt.freeFn == nil {
		return
	}
	rt.guest.Lock()
	defer rt.guest.Unlock()
	for _, packed := range dead {
		ptr, size := unpackPtrLen(packed)
		if _, err := rt.freeFn.Call(ctx, uint64(ptr), uint64(size)); err != nil {
			rt.cfg.logger.WarnContext(ctx, "wazero: guest deallocate failed", "ptr", ptr, "size", size, "error", err)
			return
		}
	}
}

// alloc stores c, collecting first if the threshold was reached.
func (rt *Runtime) alloc(ctx context.Context, c *cell) (entities.Handle, error) {
	rt.mu.Lock()
	if err := rt.checkLive("alloc"); err != nil {
		rt.mu.Unlock()
		return entities.NilHandle, err
	}
	var dead []uint64
	if rt.cfg.threshold > 0 && rt.pending >= rt.cfg.threshold {
		dead = rt.collectLocked(ctx)
	}
	h := rt.allocLocked(c)
	rt.mu.Unlock()

	rt.release(ctx, dead)
	return h, nil
}

func (rt *Runtime) allocLocked(c *cell) entities.Handle {
	rt.next++
	if rt.next == math.MaxUint64 {
		rt.next = 1
	}
	h := entities.Handle(rt.next)
	c.young = true
	rt.cells[h] = c
	rt.pending++
	rt.stats.Allocated++
	return h
}

func (rt *Runtime) checkLive(op string) error {
	switch rt.state {
	case stateNew:
		return fmt.Errorf("wazero %s: %w", op, ErrNotInitialized)
	case stateFinalized:
		return rserrors.AlreadyFinalized("wazero " + op)
	}
	return nil
}
