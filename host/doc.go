// Package host is the runtime-call boundary between Go code and an embedded
// collected runtime.
//
// Start initializes a ports.Runtime once per process and returns a Runtime.
// Every interaction happens inside a root scope:
//
//	err := rt.Scope(2, func(tok host.Token, f *memory.Frame) error {
//	    a, err := tok.Box(ctx, f, uint64(2))
//	    if err != nil {
//	        return err
//	    }
//	    b, err := tok.Box(ctx, f, uint32(1))
//	    if err != nil {
//	        return err
//	    }
//	    plus, err := tok.Global(ctx, f, "Base", "+")
//	    ...
//	})
//
// The Token is the capability to call into the runtime. It is only handed out
// on the goroutine that owns the scope stack and is checked again on every
// use. Calls return two layers of failure: the error result means dispatch
// never happened, while CallResult reports whether the callee raised.
package host
