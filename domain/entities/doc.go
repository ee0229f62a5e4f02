// Package entities provides the core value types shared by the rooting layer,
// the runtime-call boundary and the task multiplexer.
// They carry no behavior that depends on a particular collected runtime.
package entities
