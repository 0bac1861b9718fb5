package rt

// maxFrameVars matches the C original's MAX_VARS: a single stack frame may
// root at most seven local variables. Builtins and evaluator helpers that
// need more split the work across nested frames.
const maxFrameVars = 7

// Frame is one link in the root-set chain (spec.md §4.1, "Root set
// (frames)"). It lists the addresses of stack-resident Value variables that
// are live across a heap allocation, so the collector can find and update
// them during evacuation. The chain head is held by Runtime.frames and is
// process-global within a single Runtime: this runtime is single-threaded.
//
// slice roots an arbitrary-length []Value in place, for callers like List
// whose live set isn't known until runtime and so can't fit Enter's fixed
// 7-variable array.
type Frame struct {
	prev  *Frame
	n     int
	vars  [maxFrameVars]*Value
	slice []Value
}

// Enter pushes a new frame rooting the given variables and returns it; the
// caller must pair every Enter with a matching Leave along all return
// paths, typically via defer:
//
//	f := rt.Enter(&a, &b)
//	defer rt.Leave(f)
func (rt *Runtime) Enter(vars ...*Value) *Frame {
	if len(vars) > maxFrameVars {
		panic("rt: a single frame can only root up to 7 values")
	}
	f := &Frame{prev: rt.frames, n: len(vars)}
	copy(f.vars[:], vars)
	rt.frames = f
	return f
}

// EnterSlice pushes a new frame rooting every element of vs in place for
// its lifetime, used when the number of live Values isn't known until
// runtime (Enter's vars are a fixed 7-slot array). The caller must pair it
// with a Leave exactly like Enter.
func (rt *Runtime) EnterSlice(vs []Value) *Frame {
	f := &Frame{prev: rt.frames, slice: vs}
	rt.frames = f
	return f
}

// Leave pops f, restoring the previous top of the root-set chain.
func (rt *Runtime) Leave(f *Frame) {
	rt.frames = f.prev
}
