// Package wazero hosts a collected runtime inside a WebAssembly guest.
//
// The guest module is instantiated under a module name; its function exports
// are the globals of that module. Scalars box to host cells. Strings and byte
// slices are copied into guest memory through the guest's "allocate" export
// and passed to guest functions as a packed i64 (pointer in the upper 32
// bits, length in the lower). A trap inside a guest call is reported as a
// raised exception rather than an outer error.
//
// Cells are collected like the reference heap: at a safepoint every cell not
// reachable from the host's roots is swept, and swept guest buffers are
// returned through the guest's "deallocate" export.
//
// # Basic Usage
//
//	rt := wazero.New(wasmBytes, wazero.WithModuleName("guest"))
//	r, err := host.Start(ctx, rt)
//	if err != nil {
//	    return err
//	}
//	err = r.Scope(0, func(tok host.Token, f *memory.Frame) error {
//	    add, err := tok.Global(ctx, f, "guest", "add")
//	    ...
//	})
package wazero
