// Package memory roots collected-runtime objects for the host.
//
// A Stack is a LIFO of Frames. Each Frame is a table of root slots: a handle
// stored in a live slot is reported to the collector through Stack.EachRoot
// and cannot be collected. Popping a frame releases all of its slots at once.
//
// Values are never referenced by pointer into a slot table. A Rooted is a
// (frame, generation, index) triple checked on every access, so using a value
// after its frame popped is a reported error instead of a dangling read:
//
//	f, _ := stack.Push(2)
//	a, _ := f.Root(h1)
//	_ = f.Pop()
//	_, err := a.Handle() // errors.Is(err, errors.ErrStaleHandle)
//
// # Scopes and outputs
//
// A Scope accepts a freshly produced value and roots it. Frames root locally
// and can be reused; an Output is a slot reserved in an ancestor frame and
// roots exactly one value there. ValueScope and ResultScope combine the two so
// a computation can spill any number of temporaries into a child frame while
// its result lands in the parent:
//
//	sum, err := memory.ValueScope(parent, 0, func(out *memory.Output, child *memory.Frame) (memory.Rooted, error) {
//	    a, _ := child.Root(x)
//	    b, _ := child.Root(y)
//	    return call(out, a, b)
//	})
//
// # Ownership
//
// A Stack belongs to the goroutine that created it. Every mutation and every
// Rooted access checks the caller; ownership moves only through a Lease the
// current owner hands out.
package memory
