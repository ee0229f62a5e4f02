package async

import (
	"context"
	"runtime/debug"

	"github.com/reglet-dev/rootscope/domain/entities"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/reglet-dev/rootscope/domain/ports"
)

// Worker is what an Offload may do with the runtime: reach a safepoint so
// the collector can run while it works. It cannot root or call.
type Worker struct {
	rt   ports.Runtime
	task entities.TaskID
}

// Task returns the id of the task the work belongs to.
func (w *Worker) Task() entities.TaskID {
	return w.task
}

// Safepoint lets the collector run.
func (w *Worker) Safepoint(ctx context.Context) {
	w.rt.Safepoint(ctx)
}

type completion struct {
	value any
	err   error
	task  entities.TaskID
}

// dispatch runs off on the pool and delivers its result to the loop. An
// unpooled offload does not take a worker permit.
func (r *Runtime) dispatch(ctx context.Context, id entities.TaskID, off Offload, unpooled bool) {
	r.workers.Go(func() error {
		c := completion{task: id}
		w := &Worker{rt: r.host.Collaborator(), task: id}
		if unpooled {
			c.value, c.err = runOffload(ctx, w, off)
		} else if err := r.sem.Acquire(r.workCtx, 1); err != nil {
			c.err = err
		} else {
			c.value, c.err = runOffload(ctx, w, off)
			r.sem.Release(1)
		}

		r.host.Collaborator().Signal()
		select {
		case r.completions <- c:
		case <-r.stopped:
		}
		return nil
	})
}

func runOffload(ctx context.Context, w *Worker, off Offload) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &rserrors.PanicError{Value: p, Where: "offload", Stack: debug.Stack()}
		}
	}()
	return off(ctx, w)
}
