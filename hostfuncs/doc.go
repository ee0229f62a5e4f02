// Package hostfuncs provides the Go functions a collected runtime exposes as
// callable globals, grouped into modules.
//
// Functions operate on unboxed Values and never see handles, so a registry
// can back any ports.Runtime implementation. A function reports a runtime
// exception by returning an *Exception, and a dispatch failure (wrong arity
// or argument type) by returning an *errors.DispatchError.
package hostfuncs
