// Package heap is a reference collected runtime: a small mark-sweep object
// heap whose globals are host functions from a hostfuncs.Registry.
//
// It exists so the rooting layer can be exercised end to end without an
// external runtime. Objects are flat (scalars, strings, byte arrays, CBOR
// encoded structs and exceptions), so marking is a single pass over the
// host's roots plus the module bindings. Collection runs at safepoints and,
// once the allocation threshold is reached, at allocation.
//
// Objects allocated since the previous collection survive one extra cycle,
// so a handle returned by Box or Call stays valid while the owner roots it
// even if a worker reaches a safepoint in between.
package heap
