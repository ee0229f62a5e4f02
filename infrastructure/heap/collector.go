package heap

import (
	"context"

	"github.com/reglet-dev/rootscope/domain/entities"
)

// collectLocked runs one mark-sweep cycle and returns how many objects were
// freed. The caller holds rt.mu.
//
// Roots are the host's rooted handles, module bindings and the nothing
// singleton. Unmarked objects allocated since the previous owner-side cycle
// are spared; a cycle run by the stack owner ages them, so the next such
// cycle frees them if still unreachable. Worker safepoints never age: the
// owner may be between an allocation and the slot it fills.
func (rt *Runtime) collectLocked(ctx context.Context) int {
	age := rt.roots.Owned()
	mark := func(h entities.Handle) {
		if o, ok := rt.objects[h]; ok {
			o.marked = true
		}
	}

	rt.roots.EachRoot(mark)
	for _, h := range rt.bindings {
		mark(h)
	}
	mark(rt.nothing)

	freed, spared := 0, 0
	for h, o := range rt.objects {
		switch {
		case o.marked:
			o.marked = false
			o.young = o.young && !age
		case o.young:
			o.young = !age
			spared++
		default:
			delete(rt.objects, h)
			freed++
		}
	}

	rt.pending = 0
	rt.stats.Collections++
	rt.stats.Freed += uint64(freed)

	rt.cfg.logger.DebugContext(ctx, "heap: collection finished",
		"freed", freed, "spared", spared, "live", len(rt.objects), "owner", age)
	return freed
}
