package rt

import (
	"math/rand/v2"
	"unsafe"

	"go.uber.org/zap"
)

// BuiltinFn is the native implementation of a builtin: it receives the
// current scope and the *unevaluated* argument list, matching spec.md §4.4
// ("Builtin: call the native builtin with (current_scope, raw_argument_list).
// Argument evaluation is the builtin's responsibility."). A builtin that
// hits one of the taxonomy errors in errors.go records it itself via
// rt.Errors.Record and returns Nil, matching the single-return eval(scope,
// value) -> value contract of spec.md §6 all the way down.
type BuiltinFn func(rt *Runtime, scope, args Value) Value

// Runtime bundles every piece of process-wide mutable state this runtime
// treats as global (heap, root-set head, interned-symbol list, global
// environment, error ring) into a single context threaded explicitly
// through the evaluator and builtins, per spec.md §9's "Design Notes"
// rewrite guidance. The JIT page list is not part of it: it is a package
// variable of internal/jit.
type Runtime struct {
	Heap *Heap

	frames   *Frame
	symbols  Value // head of the interned-symbol list (a Cell list), or Nil
	globalEnv Value // outermost scope

	builtins     []BuiltinFn
	builtinNames []string

	Errors *ErrorRing

	Log *zap.Logger

	// Trace enables the evaluator's stack-trace printer (spec.md §4.4,
	// "Debug/trace"). It has no effect on results, only on logging.
	Trace bool
	depth int

	rng *rand.Rand

	// tailCell is the heap-allocated trampoline cell of spec.md §3.1/§4.4:
	// its car/cdr hold the winning (expr, scope) pair that `if`/`progn`
	// return instead of evaluating themselves. The evaluator recognizes a
	// tail call by pointer identity against this cell (see IsTailCall),
	// not by value, since GC relocates it like any other cell.
	tailCell Value
}

// NewRuntime constructs a Runtime with a heap of the given semi-space size
// (0 selects the default) and a no-op logger; callers needing GC logging
// should replace Log.
func NewRuntime(spaceSize int) *Runtime {
	rt := &Runtime{
		Heap:      NewHeap(spaceSize),
		symbols:   Nil,
		Errors:    NewErrorRing(16),
		Log:       zap.NewNop(),
		rng:       rand.New(rand.NewPCG(1, 2)),
	}
	rt.globalEnv = NewScope(rt, Nil)
	rt.tailCell = Cons(rt, Nil, Nil)
	return rt
}

// SetTailCall stashes (expr, scope) into the trampoline cell and returns it;
// called by the `if` and `progn` builtins instead of evaluating their
// winning branch themselves (spec.md §4.4).
func (rt *Runtime) SetTailCall(expr, scope Value) Value {
	SetCar(rt.tailCell, expr)
	SetCdr(rt.tailCell, scope)
	return rt.tailCell
}

// IsTailCall reports whether v is the trampoline marker returned by
// SetTailCall, by pointer identity.
func (rt *Runtime) IsTailCall(v Value) bool { return v == rt.tailCell }

// TailCall reads back the (expr, scope) pair most recently stashed by
// SetTailCall.
func (rt *Runtime) TailCall() (expr, scope Value) {
	return Car(rt.tailCell), Cdr(rt.tailCell)
}

// SeedRand reseeds the per-Runtime random generator backing the `rand`
// builtin (see SPEC_FULL.md's supplemented-feature note: the C original's
// hidden libc global is replaced by explicit per-Runtime state).
func (rt *Runtime) SeedRand(seed1, seed2 uint64) {
	rt.rng = rand.New(rand.NewPCG(seed1, seed2))
}

// RandInt draws a tagged integer in [0, 2^61), the non-negative half of the
// 62-bit integer range.
func (rt *Runtime) RandInt() Value {
	return Int(int64(rt.rng.Uint64() >> 3))
}

// Raise records err to the error ring and returns Nil, the standard
// "failed evaluation" result per spec.md §7's propagation policy.
func (rt *Runtime) Raise(err error) Value {
	rt.Errors.Record(err)
	return Nil
}

// GlobalEnv returns the outermost lexical scope.
func (rt *Runtime) GlobalEnv() Value { return rt.globalEnv }

// Depth returns the evaluator's current recursion depth, tracked for the
// trace printer only.
func (rt *Runtime) Depth() int { return rt.depth }

// EnterEval and LeaveEval track evaluator recursion depth for the trace
// printer (spec.md §4.4); they have no effect on evaluation results.
func (rt *Runtime) EnterEval() { rt.depth++ }
func (rt *Runtime) LeaveEval() { rt.depth-- }

// RegisterBuiltin interns name, adds fn to the builtin table and binds the
// resulting builtin Value in the global scope. Returns the bound Value.
func (rt *Runtime) RegisterBuiltin(name string, fn BuiltinFn) Value {
	idx := len(rt.builtins)
	rt.builtins = append(rt.builtins, fn)
	rt.builtinNames = append(rt.builtinNames, name)
	v := rt.newBuiltin(idx)
	sym := rt.Symbol(name)
	BindValue(rt, rt.globalEnv, sym, v)
	return v
}

// Builtin looks up the native implementation behind a builtin Value.
func (rt *Runtime) Builtin(v Value) BuiltinFn {
	return rt.builtins[BuiltinIndex(v)]
}

// BuiltinName returns the registered name of a builtin Value, for error
// messages and printing.
func (rt *Runtime) BuiltinName(v Value) string {
	return rt.builtinNames[BuiltinIndex(v)]
}

// --- allocation ---

// Alloc bump-allocates size bytes tagged as tag, running the garbage
// collector and retrying once if the active semi-space is exhausted. A
// second failure is the only in-core fatal condition (spec.md §7,
// "out-of-memory after a GC ... is an abort in the core").
func (rt *Runtime) Alloc(size uintptr, tag Value) Value {
	if base, ok := rt.Heap.tryAllocate(size); ok {
		writeHeader(base, tag)
		return fromPtr(base, tag)
	}
	rt.collect()
	base, ok := rt.Heap.tryAllocate(size)
	if !ok {
		panic("rt: out of memory after garbage collection")
	}
	writeHeader(base, tag)
	return fromPtr(base, tag)
}

// Cons allocates a fresh cell. Both operands are rooted across the
// allocation (spec.md §4.1's per-allocation rooting contract).
func Cons(rt *Runtime, a, b Value) Value {
	f := rt.Enter(&a, &b)
	defer rt.Leave(f)
	v := rt.Alloc(cellSize(), TagCell)
	c := cellAt(v.ptr())
	c.car, c.cdr = a, b
	return v
}

// newBuiltin allocates a builtin handle wrapping a table index. Indices
// never need rooting across the allocation (they are plain integers).
func (rt *Runtime) newBuiltin(index int) Value {
	v := rt.Alloc(builtinSize(), TagBuiltin)
	builtinAt(v.ptr()).index = Int(int64(index))
	return v
}

// newSymbolObject allocates a bare symbol object (not yet interned).
func (rt *Runtime) newSymbolObject(name string) Value {
	if len(name) > 1024 {
		panic("rt: symbol name exceeds 1024 bytes")
	}
	v := rt.Alloc(symbolSize(len(name)), TagSymbol)
	dst := unsafe.Slice((*byte)(symbolNamePtr(v.ptr())), len(name)+1)
	copy(dst, name)
	dst[len(name)] = 0
	return v
}

// Symbol interns name, returning the unique symbol object for it (spec.md
// §4.3): symbol(s) == symbol(s) always holds by pointer identity.
func (rt *Runtime) Symbol(name string) Value {
	for l := rt.symbols; l.IsCell(); l = Cdr(l) {
		if s := Car(l); SymbolName(s) == name {
			return s
		}
	}
	s := rt.newSymbolObject(name)
	f := rt.Enter(&s)
	defer rt.Leave(f)
	rt.symbols = Cons(rt, s, rt.symbols)
	return s
}

// NewFunction allocates a user function or macro object capturing env.
func NewFunction(rt *Runtime, params, body, env Value, macro bool) Value {
	tag := TagFunc
	if macro {
		tag = TagMacro
	}
	f1 := rt.Enter(&params, &body, &env)
	defer rt.Leave(f1)
	v := rt.Alloc(funcSize(), tag)
	fl := funcAt(v.ptr())
	fl.params, fl.body, fl.env = params, body, env
	fl.compiled = Int(int64(CompiledNone))
	fl.jitMem = 0
	return v
}

// List builds a fresh proper list from vs, rooting the whole slice across
// every Cons call: a GC triggered while consing element i must not lose
// track of the not-yet-consumed elements below it.
func List(rt *Runtime, vs ...Value) Value {
	f := rt.EnterSlice(vs)
	defer rt.Leave(f)
	out := Nil
	for i := len(vs) - 1; i >= 0; i-- {
		out = Cons(rt, vs[i], out)
	}
	return out
}

// Length counts the elements of a proper list, stopping at the first
// non-cell cdr (an improper tail counts as the list ending there).
func Length(v Value) int {
	n := 0
	for v.IsCell() {
		n++
		v = Cdr(v)
	}
	return n
}
