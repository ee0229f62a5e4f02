package entities

// StackStats is a point-in-time view of a scope stack.
type StackStats struct {
	// Depth is the number of live frames.
	Depth int `json:"depth"`
	// Roots is the number of filled slots across live frames.
	Roots int `json:"roots"`
	// Reserved is the number of reserved but unfilled slots.
	Reserved int `json:"reserved"`
	// Pushes counts every frame ever pushed.
	Pushes uint64 `json:"pushes"`
}

// HeapStats describes the reference heap after its most recent collection.
type HeapStats struct {
	Live        int    `json:"live"`
	Allocated   uint64 `json:"allocated"`
	Freed       uint64 `json:"freed"`
	Collections uint64 `json:"collections"`
}

// SchedulerStats is a point-in-time view of the task multiplexer.
type SchedulerStats struct {
	// Pending is the number of queued tasks that have not started.
	Pending int `json:"pending"`
	// Active is the number of started tasks whose subtree is on the stack.
	Active int `json:"active"`
	// Held is the number of active tasks whose wait finished but that cannot
	// resume because another subtree sits above theirs.
	Held      int    `json:"held"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	// Wakeups counts runtime signals the loop answered with a safepoint.
	Wakeups uint64 `json:"wakeups"`
}
