package hostfuncs

import (
	"context"
)

// CallContext wraps a context.Context with details of the function being
// invoked, so middleware and dispatch errors can name the target.
type CallContext interface {
	context.Context

	// Module returns the module the function is bound in.
	Module() string

	// Name returns the function's name within its module.
	Name() string

	// QualifiedName returns "Module.name".
	QualifiedName() string

	// Arity returns the number of arguments passed.
	Arity() int
}

type callContext struct {
	context.Context
	module string
	name   string
	arity  int
}

// NewCallContext creates a CallContext wrapping ctx.
func NewCallContext(ctx context.Context, module, name string, arity int) CallContext {
	return &callContext{Context: ctx, module: module, name: name, arity: arity}
}

func (c *callContext) Module() string { return c.module }

func (c *callContext) Name() string { return c.name }

func (c *callContext) QualifiedName() string { return Qualify(c.module, c.name) }

func (c *callContext) Arity() int { return c.arity }

// FuncName returns the qualified name of the function ctx was created for,
// or "unknown" outside an invocation.
func FuncName(ctx context.Context) string {
	if cc, ok := ctx.(CallContext); ok {
		return cc.QualifiedName()
	}
	return "unknown"
}

// Qualify joins a module and a name.
func Qualify(module, name string) string {
	if module == "" {
		return name
	}
	return module + "." + name
}
