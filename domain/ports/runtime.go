package ports

import (
	"context"

	"github.com/reglet-dev/rootscope/domain/entities"
)

// RootSource enumerates every handle currently rooted by the host.
// A collector calls EachRoot at a safepoint and must treat each handle
// passed to fn as live.
//
// Owned reports whether the calling goroutine holds the scope stack. Only
// then can no fresh allocation be on its way into a slot, so a collector
// must not age young objects at a safepoint reached from anywhere else.
type RootSource interface {
	EachRoot(fn func(entities.Handle))
	Owned() bool
}

// Runtime is the raw call surface of an embedded collected runtime.
//
// Implementations never touch the host's scope stack; they learn about roots
// only through the RootSource handed to Init. Every method except Safepoint
// and Signal is called from the runtime's owning goroutine.
type Runtime interface {
	// Init starts the runtime. roots stays valid until Finalize.
	Init(ctx context.Context, roots RootSource) error

	// Finalize tears the runtime down. It is called at most once.
	Finalize(ctx context.Context) error

	// Global looks up a binding by module and name.
	// A missing binding is reported as a *errors.DispatchError.
	Global(ctx context.Context, module, name string) (entities.Handle, error)

	// Call invokes fn with args. The error result is the outer failure
	// (dispatch could not occur); an exception raised by the callee is
	// reported in the outcome.
	Call(ctx context.Context, fn entities.Handle, args []entities.Handle) (entities.CallOutcome, error)

	// Box allocates an object whose layout is derived from v.
	Box(ctx context.Context, v any) (entities.Handle, error)

	// Unbox copies the object's data into dst, which must be a non-nil pointer.
	Unbox(ctx context.Context, h entities.Handle, dst any) error

	// KindOf reports the layout kind of h.
	KindOf(ctx context.Context, h entities.Handle) (entities.Kind, error)

	// Safepoint lets the collector run. It may be called from workers.
	Safepoint(ctx context.Context)

	// Signal wakes the runtime from a worker, e.g. after offloaded work
	// completed. It may be called from any goroutine.
	Signal()
}

// Waker is implemented by runtimes that deliver Signal through a channel.
// A scheduler that owns the stack drains it and reaches a safepoint.
type Waker interface {
	Wake() <-chan struct{}
}
