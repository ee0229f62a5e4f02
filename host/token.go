package host

import (
	"context"

	"github.com/reglet-dev/rootscope/domain/entities"
	"github.com/reglet-dev/rootscope/memory"
)

// Token is the capability to call into the collected runtime. The zero Token
// is invalid. Every method rechecks that the runtime is live and that the
// caller owns the scope stack.
//
// Methods that produce a value take the Scope it is rooted in. The slot is
// claimed before the runtime is entered, so a full frame fails without side
// effects in the runtime.
type Token struct {
	r *Runtime
}

// Box allocates v in the runtime and roots it in scope.
func (t Token) Box(ctx context.Context, scope memory.Scope, v any) (memory.Rooted, error) {
	out, err := t.claim(scope)
	if err != nil {
		return memory.Rooted{}, err
	}
	var h entities.Handle
	err = t.r.guard("box", func() (err error) {
		h, err = t.r.rt.Box(ctx, v)
		return err
	})
	if err != nil {
		return memory.Rooted{}, err
	}
	return out.Root(h)
}

// Global looks up module.name and roots it in scope.
func (t Token) Global(ctx context.Context, scope memory.Scope, module, name string) (memory.Rooted, error) {
	out, err := t.claim(scope)
	if err != nil {
		return memory.Rooted{}, err
	}
	var h entities.Handle
	err = t.r.guard("global", func() (err error) {
		h, err = t.r.rt.Global(ctx, module, name)
		return err
	})
	if err != nil {
		return memory.Rooted{}, err
	}
	return out.Root(h)
}

// Call invokes fn with args and roots whatever comes back, value or raised
// exception, in scope. The error result is the outer failure: the handles
// were stale, or dispatch did not happen. A panic escaping the runtime is
// returned as a *errors.PanicError.
func (t Token) Call(ctx context.Context, scope memory.Scope, fn memory.Rooted, args ...memory.Rooted) (CallResult, error) {
	out, err := t.claim(scope)
	if err != nil {
		return CallResult{}, err
	}

	fh, err := fn.Handle()
	if err != nil {
		return CallResult{}, err
	}
	hs := make([]entities.Handle, len(args))
	for i, a := range args {
		if hs[i], err = a.Handle(); err != nil {
			return CallResult{}, err
		}
	}

	var outcome entities.CallOutcome
	err = t.r.guard("call", func() (err error) {
		outcome, err = t.r.rt.Call(ctx, fh, hs)
		return err
	})
	if err != nil {
		return CallResult{}, err
	}

	rooted, err := out.Root(outcome.Handle())
	if err != nil {
		return CallResult{}, err
	}
	if !outcome.Raised {
		return CallResult{value: rooted}, nil
	}

	res := CallResult{exception: rooted, raised: true}
	var msg string
	if t.r.guard("unbox", func() error { return t.r.rt.Unbox(ctx, outcome.Exception, &msg) }) == nil {
		res.message = msg
	}
	t.r.cfg.logger.DebugContext(ctx, "host: call raised", "exception", res.message)
	return res, nil
}

// KindOf reports the layout kind of a rooted value.
func (t Token) KindOf(ctx context.Context, r memory.Rooted) (entities.Kind, error) {
	if err := t.r.check(); err != nil {
		return entities.KindInvalid, err
	}
	h, err := r.Handle()
	if err != nil {
		return entities.KindInvalid, err
	}
	var k entities.Kind
	err = t.r.guard("kind", func() (err error) {
		k, err = t.r.rt.KindOf(ctx, h)
		return err
	})
	return k, err
}

// Safepoint lets the collector run. Everything the caller still needs must
// be rooted.
func (t Token) Safepoint(ctx context.Context) error {
	if err := t.r.check(); err != nil {
		return err
	}
	return t.r.guard("safepoint", func() error {
		t.r.rt.Safepoint(ctx)
		return nil
	})
}

// Valid reports whether the token may be used by the calling goroutine.
func (t Token) Valid() bool {
	return t.r != nil && t.r.check() == nil
}

// Runtime returns the runtime the token belongs to.
func (t Token) Runtime() *Runtime {
	return t.r
}

func (t Token) claim(scope memory.Scope) (*memory.Output, error) {
	if err := t.r.check(); err != nil {
		return nil, err
	}
	return scope.Claim()
}

// Unbox copies the data of a rooted value into a T.
func Unbox[T any](ctx context.Context, tok Token, r memory.Rooted) (T, error) {
	var v T
	if err := tok.r.check(); err != nil {
		return v, err
	}
	h, err := r.Handle()
	if err != nil {
		return v, err
	}
	err = tok.r.guard("unbox", func() error { return tok.r.rt.Unbox(ctx, h, &v) })
	return v, err
}
