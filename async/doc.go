// Package async multiplexes tasks over a single runtime goroutine.
//
// Start launches a goroutine locked to its OS thread that owns the scope
// stack. Submitted tasks run one at a time on that stack: each starts by
// pushing a root frame for its subtree and ends by popping it. A task
// suspends only in TaskContext.Await, which hands an Offload to a bounded
// worker pool and parks the task until the result comes back.
//
// Resumption follows strict depth order. Only the task whose subtree is on
// top of the stack may resume; a finished wait on a lower subtree is held
// until every subtree above it has ended. Pending tasks may start while
// others are parked, pushing their subtree on top.
//
// A Persistent task keeps its root frame across calls and serves inputs sent
// through Call or TryCall, each in a child frame. Its wait for the next call
// does not take a worker permit.
//
// Task goroutines take turns through stack leases, so exactly one goroutine
// touches the runtime at any moment.
package async
