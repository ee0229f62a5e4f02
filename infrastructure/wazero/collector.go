package wazero

import (
	"context"

	"github.com/reglet-dev/rootscope/domain/entities"
)

// collectLocked sweeps every cell not reachable from the host's roots, the
// function bindings or the nothing cell, and returns the packed locations of
// the guest buffers it freed. The caller holds rt.mu and releases the
// buffers after unlocking. Cells allocated since the last owner-side cycle
// are spared. Only a cycle on the stack owner's goroutine ages them, since a
// worker safepoint can land between an allocation and its rooting.
func (rt *Runtime) collectLocked(ctx context.Context) []uint64 {
	age := rt.roots.Owned()
	mark := func(h entities.Handle) {
		if c, ok := rt.cells[h]; ok {
			c.marked = true
		}
	}

	rt.roots.EachRoot(mark)
	for _, h := range rt.bindings {
		mark(h)
	}
	mark(rt.nothing)

	var dead []uint64
	freed := 0
	for h, c := range rt.cells {
		switch {
		case c.marked:
			c.marked = false
			c.young = c.young && !age
		case c.young:
			c.young = !age
		default:
			if c.inGuest() {
				dead = append(dead, c.bits)
			}
			delete(rt.cells, h)
			freed++
		}
	}

	rt.pending = 0
	rt.stats.Collections++
	rt.stats.Freed += uint64(freed)

	rt.cfg.logger.DebugContext(ctx, "wazero: collection finished",
		"freed", freed, "guest_buffers", len(dead), "live", len(rt.cells), "owner", age)
	return dead
}
