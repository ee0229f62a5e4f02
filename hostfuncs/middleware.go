package hostfuncs

import (
	"context"
	"log/slog"
	"time"
)

// Middleware wraps a Func to add cross-cutting behavior.
// Middleware executes in FIFO order (first registered wraps first, onion model).
type Middleware func(next Func) Func

// RegistryOption is a functional option for configuring a Registry.
type RegistryOption func(*registryBuilder)

// PanicRecoveryMiddleware converts a panicking function into one that raises
// a PanicException, so a host bug never unwinds into the collected runtime.
func PanicRecoveryMiddleware() Middleware {
	return func(next Func) Func {
		return func(ctx context.Context, args []Value) (v Value, err error) {
			defer func() {
				if r := recover(); r != nil {
					v = Value{}
					err = NewPanicException(r)
				}
			}()
			return next(ctx, args)
		}
	}
}

// LoggingMiddleware logs every invocation at Debug and failures at Warn.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Func) Func {
		return func(ctx context.Context, args []Value) (Value, error) {
			name := FuncName(ctx)
			start := time.Now()
			v, err := next(ctx, args)
			if err != nil {
				logger.WarnContext(ctx, "hostfuncs: call failed",
					"func", name, "arity", len(args), "error", err)
				return v, err
			}
			logger.DebugContext(ctx, "hostfuncs: call completed",
				"func", name, "arity", len(args), "result", v.Kind, "duration", time.Since(start))
			return v, nil
		}
	}
}
