package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/reglet-dev/rootscope/application/config"
	"github.com/reglet-dev/rootscope/async"
	rserrors "github.com/reglet-dev/rootscope/domain/errors"
	"github.com/reglet-dev/rootscope/host"
	"github.com/reglet-dev/rootscope/hostfuncs"
	"github.com/reglet-dev/rootscope/memory"
	"github.com/spf13/cobra"
)

type demoFlags struct {
	tasks int
	delay time.Duration
}

func newDemoCmd(a *app) *cobra.Command {
	var flags demoFlags
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the scope scenarios against the heap collaborator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDemo(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}
	cmd.Flags().IntVar(&flags.tasks, "tasks", 3, "number of concurrent tasks")
	cmd.Flags().DurationVar(&flags.delay, "delay", 10*time.Millisecond, "how long each task's offloaded work takes")
	return cmd
}

func (a *app) runDemo(ctx context.Context, out io.Writer, flags demoFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if a.cfg.Runtime.Collaborator != config.CollaboratorHeap {
		return fmt.Errorf("demo: needs the %s collaborator, configured %q", config.CollaboratorHeap, a.cfg.Runtime.Collaborator)
	}
	collab, err := a.cfg.Collaborator(a.logger)
	if err != nil {
		return err
	}

	opts := append(a.cfg.AsyncOptions(a.logger), async.WithHostOptions(a.hostOptions()...))
	rt, err := async.Start(ctx, collab, opts...)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "demo: runtime started", "instance", rt.Host().ID())

	scenarios := []struct {
		name string
		run  func(ctx context.Context, tok host.Token, f *memory.Frame) (string, error)
	}{
		{"plus", plusScenario},
		{"output", outputScenario},
		{"raise", raiseScenario},
	}
	for _, s := range scenarios {
		var line string
		err := rt.Blocking(ctx, func(tok host.Token, f *memory.Frame) error {
			var err error
			line, err = s.run(ctx, tok, f)
			return err
		})
		if err != nil {
			return errors.Join(fmt.Errorf("demo %s: %w", s.name, err), rt.Shutdown(ctx))
		}
		fmt.Fprintf(out, "%-7s %s\n", s.name+":", line)
	}

	if err := taskScenario(ctx, out, rt, flags); err != nil {
		return errors.Join(err, rt.Shutdown(ctx))
	}
	if err := persistentScenario(ctx, out, rt, flags); err != nil {
		return errors.Join(err, rt.Shutdown(ctx))
	}

	st := rt.Stats()
	fmt.Fprintf(out, "stats:  completed=%d failed=%d wakeups=%d depth=%d\n",
		st.Completed, st.Failed, st.Wakeups, rt.Host().Stack().Depth())
	return rt.Shutdown(ctx)
}

// plusScenario adds a u64 and a u32 rooted in a two-slot frame. The frame is
// full after the operands, so the function and the sum go in a child.
func plusScenario(ctx context.Context, tok host.Token, f *memory.Frame) (string, error) {
	var line string
	err := f.Scope(2, func(f1 *memory.Frame) error {
		a, err := tok.Box(ctx, f1, uint64(2))
		if err != nil {
			return err
		}
		b, err := tok.Box(ctx, f1, uint32(1))
		if err != nil {
			return err
		}
		if _, err := tok.Global(ctx, f1, hostfuncs.BaseModule, "+"); !errors.Is(err, rserrors.ErrCapacityExceeded) {
			return fmt.Errorf("full frame accepted a root: %v", err)
		}

		return f1.Scope(0, func(child *memory.Frame) error {
			plus, err := tok.Global(ctx, child, hostfuncs.BaseModule, "+")
			if err != nil {
				return err
			}
			res, err := tok.Call(ctx, child, plus, a, b)
			if err != nil {
				return err
			}
			sum, err := res.Unwrap()
			if err != nil {
				return err
			}
			v, err := host.Unbox[uint64](ctx, tok, sum)
			if err != nil {
				return err
			}
			line = fmt.Sprintf("2 + 1 = %d (u64)", v)
			return nil
		})
	})
	return line, err
}

// outputScenario computes in a child frame and keeps the result in a slot
// reserved in the parent before the child was pushed.
func outputScenario(ctx context.Context, tok host.Token, f *memory.Frame) (string, error) {
	var line string
	err := f.Scope(1, func(f1 *memory.Frame) error {
		o, err := f1.Claim()
		if err != nil {
			return err
		}
		var result memory.Rooted
		err = f1.Scope(3, func(f2 *memory.Frame) error {
			a, err := tok.Box(ctx, f2, uint64(1))
			if err != nil {
				return err
			}
			b, err := tok.Box(ctx, f2, int32(2))
			if err != nil {
				return err
			}
			plus, err := tok.Global(ctx, f2, hostfuncs.BaseModule, "+")
			if err != nil {
				return err
			}
			res, err := tok.Call(ctx, o, plus, a, b)
			if err != nil {
				return err
			}
			result, err = res.Unwrap()
			return err
		})
		if err != nil {
			return err
		}
		if err := tok.Safepoint(ctx); err != nil {
			return err
		}
		v, err := host.Unbox[uint64](ctx, tok, result)
		if err != nil {
			return err
		}
		line = fmt.Sprintf("1 + 2 = %d, kept in depth %d after the child popped", v, result.Frame().Depth())
		return nil
	})
	return line, err
}

// raiseScenario forwards an exception raised in a child to the parent.
func raiseScenario(ctx context.Context, tok host.Token, f *memory.Frame) (string, error) {
	_, err := memory.ResultScope(f, 0, func(out *memory.Output, child *memory.Frame) (memory.Rooted, error) {
		msg, err := tok.Box(ctx, child, "division by zero")
		if err != nil {
			return memory.Rooted{}, err
		}
		raise, err := tok.Global(ctx, child, hostfuncs.BaseModule, "error")
		if err != nil {
			return memory.Rooted{}, err
		}
		res, err := tok.Call(ctx, out, raise, msg)
		if err != nil {
			return memory.Rooted{}, err
		}
		return res.Unwrap()
	})

	var exc *rserrors.ExceptionError
	if !errors.As(err, &exc) {
		return "", fmt.Errorf("expected an exception, got %v", err)
	}
	if _, herr := exc.Exception.Handle(); herr != nil {
		return "", herr
	}
	return fmt.Sprintf("caught %q, exception still rooted", exc.Message), nil
}

// taskScenario squares 1..n in tasks that each wait on the worker pool with
// their operand rooted.
func taskScenario(ctx context.Context, out io.Writer, rt *async.Runtime, flags demoFlags) error {
	handles := make([]*async.Handle, 0, flags.tasks)
	for i := 1; i <= flags.tasks; i++ {
		n := int64(i)
		h, err := rt.Submit(ctx, func(ctx context.Context, tc *async.TaskContext) (any, error) {
			tok := tc.Token()
			v, err := tok.Box(ctx, tc.Frame(), n)
			if err != nil {
				return nil, err
			}
			_, err = tc.Await(ctx, func(ctx context.Context, w *async.Worker) (any, error) {
				select {
				case <-time.After(flags.delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				w.Safepoint(ctx)
				return nil, nil
			})
			if err != nil {
				return nil, err
			}
			times, err := tok.Global(ctx, tc.Frame(), hostfuncs.BaseModule, "*")
			if err != nil {
				return nil, err
			}
			res, err := tok.Call(ctx, tc.Frame(), times, v, v)
			if err != nil {
				return nil, err
			}
			sq, err := res.Unwrap()
			if err != nil {
				return nil, err
			}
			return host.Unbox[int64](ctx, tok, sq)
		})
		if err != nil {
			return fmt.Errorf("demo tasks: submit: %w", err)
		}
		handles = append(handles, h)
	}

	for i, h := range handles {
		v, err := h.Await(ctx)
		if err != nil {
			return fmt.Errorf("demo tasks: %s: %w", h.ID(), err)
		}
		fmt.Fprintf(out, "task:   %s %d^2 = %v\n", h.ID(), i+1, v)
	}
	return nil
}

// persistentScenario keeps a running total rooted in a persistent task's
// root frame and adds 1..n to it, one call each.
func persistentScenario(ctx context.Context, out io.Writer, rt *async.Runtime, flags demoFlags) error {
	p, err := rt.Persistent(ctx, func(ctx context.Context, tc *async.TaskContext) (async.PersistentFunc, error) {
		tok := tc.Token()
		plus, err := tok.Global(ctx, tc.Frame(), hostfuncs.BaseModule, "+")
		if err != nil {
			return nil, err
		}
		total, err := tok.Box(ctx, tc.Frame(), int64(0))
		if err != nil {
			return nil, err
		}
		root := tc.Frame()

		return func(ctx context.Context, tc *async.TaskContext, input any) (any, error) {
			x, err := tok.Box(ctx, tc.Frame(), input)
			if err != nil {
				return nil, err
			}
			// each total takes a slot in the root frame and outlives the call
			res, err := tok.Call(ctx, root, plus, total, x)
			if err != nil {
				return nil, err
			}
			sum, err := res.Unwrap()
			if err != nil {
				return nil, err
			}
			total = sum
			return host.Unbox[int64](ctx, tok, sum)
		}, nil
	}, flags.tasks)
	if err != nil {
		return fmt.Errorf("demo persistent: %w", err)
	}

	var last any
	for i := 1; i <= flags.tasks; i++ {
		if last, err = p.Call(ctx, int64(i)); err != nil {
			return fmt.Errorf("demo persistent: call %d: %w", i, err)
		}
	}
	p.Close()
	served, err := p.Handle().Await(ctx)
	if err != nil {
		return fmt.Errorf("demo persistent: %w", err)
	}
	fmt.Fprintf(out, "persistent: %v calls, total %v\n", served, last)
	return nil
}
