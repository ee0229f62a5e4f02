package async

import (
	"slices"
	"sync"

	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
)

// queue holds submitted tasks until the loop starts them. Removal from the
// middle is needed for cancellation, so it is a guarded slice rather than a
// channel.
type queue struct {
	mu       sync.Mutex
	tasks    []*task
	capacity int
	closed   bool
	notify   chan struct{}
}

func newQueue(capacity int) *queue {
	return &queue{capacity: capacity, notify: make(chan struct{}, 1)}
}

func (q *queue) push(t *task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return rserrors.AlreadyFinalized("submit")
	}
	if len(q.tasks) >= q.capacity {
		return &rserrors.QueueFullError{Capacity: q.capacity}
	}
	q.tasks = append(q.tasks, t)
	q.wake()
	return nil
}

// pop removes the oldest task and marks it running.
func (q *queue) pop() *task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	t.setState(entities.TaskRunning)
	return t
}

// remove takes t out of the queue if it has not started.
func (q *queue) remove(t *task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := slices.Index(q.tasks, t)
	if i < 0 {
		return false
	}
	q.tasks = slices.Delete(q.tasks, i, i+1)
	return true
}

// close refuses further pushes and returns what was still queued.
func (q *queue) close() []*task {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	left := q.tasks
	q.tasks = nil
	return left
}

// resize changes the capacity. Tasks beyond a smaller capacity stay queued;
// pushes fail until the queue drains below it.
func (q *queue) resize(capacity int) (old int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return q.capacity, rserrors.AlreadyFinalized("resize queue")
	}
	old, q.capacity = q.capacity, capacity
	return old, nil
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// wake nudges the loop. The caller may or may not hold q.mu.
func (q *queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
