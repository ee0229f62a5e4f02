package entities

import "fmt"

// TaskID identifies a task submitted to the multiplexer. IDs grow in
// submission order.
type TaskID uint64

func (id TaskID) String() string {
	return fmt.Sprintf("task-%d", uint64(id))
}

// TaskState is the lifecycle state of a task.
type TaskState uint8

const (
	// TaskPending means the task sits in the queue and owns no frames.
	TaskPending TaskState = iota
	// TaskRunning means the task holds the runtime goroutine.
	TaskRunning
	// TaskAwaitingResult means the task is parked while offloaded work runs.
	TaskAwaitingResult
	// TaskCompleted means the task returned a result.
	TaskCompleted
	// TaskFailed means the task returned, or was cancelled with, an error.
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskAwaitingResult:
		return "awaiting_result"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal reports whether no further transitions can happen.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}
