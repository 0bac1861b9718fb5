package rt

import "unsafe"

// Heap object layout. Every object begins with a header word (the "moved"
// pointer of spec.md §3.2): before evacuation its low three bits hold the
// object's type tag (mirroring the tag of the Value that points to it);
// after evacuation it holds the forwarding address, which is always
// 3-bit aligned because every allocation is rounded up to a multiple of 8
// bytes.
const wordSize = unsafe.Sizeof(uintptr(0))

// Compiled states for a Function/Macro object's compiled slot.
type Compiled uint8

const (
	CompiledNone    Compiled = iota // never attempted
	CompiledSymbols                 // resolve-symbols pass has run
	CompiledCode                    // native entry point is live
)

func align8(n uintptr) uintptr {
	return (n + 7) &^ 7
}

func objMinSize(n uintptr) uintptr {
	n = align8(n)
	if n < 16 {
		n = 16
	}
	return n
}

// --- header ---

func headerAt(base unsafe.Pointer) *Value {
	return (*Value)(base)
}

func readHeader(base unsafe.Pointer) Value { return *headerAt(base) }

func writeHeader(base unsafe.Pointer, v Value) { *headerAt(base) = v }

// forwarded reports whether the object at base has already been evacuated
// in the current GC cycle.
func forwarded(base unsafe.Pointer) bool {
	return readHeader(base)&TagMask == 0
}

func payload(base unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(base, wordSize)
}

// --- cons cells ---

type cellLayout struct {
	car, cdr Value
}

func cellAt(base unsafe.Pointer) *cellLayout {
	return (*cellLayout)(payload(base))
}

func cellSize() uintptr { return objMinSize(wordSize + unsafe.Sizeof(cellLayout{})) }

// Car returns the first element of a cons cell, or Nil if v is not a cell.
func Car(v Value) Value {
	if !v.IsCell() {
		return Nil
	}
	return cellAt(v.ptr()).car
}

// Cdr returns the second element of a cons cell, or Nil if v is not a cell.
func Cdr(v Value) Value {
	if !v.IsCell() {
		return Nil
	}
	return cellAt(v.ptr()).cdr
}

// SetCar mutates a cell's car in place (spec.md §3.3). Function/macro
// objects are also mutated in place, through SetFuncCompiled.
func SetCar(v, x Value) {
	cellAt(v.ptr()).car = x
}

// SetCdr mutates a cell's cdr in place.
func SetCdr(v, x Value) {
	cellAt(v.ptr()).cdr = x
}

// --- symbols ---

// symbolNamePtr returns the address of a symbol object's NUL-terminated
// name bytes, which follow its header word.
func symbolNamePtr(base unsafe.Pointer) unsafe.Pointer { return payload(base) }

func symbolSize(nameLen int) uintptr {
	return objMinSize(wordSize + uintptr(nameLen) + 1)
}

// SymbolName reads the interned name of a symbol Value.
func SymbolName(v Value) string {
	if !v.IsSymbol() {
		return ""
	}
	base := v.ptr()
	p := symbolNamePtr(base)
	n := 0
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	return unsafe.String((*byte)(p), n)
}

func symbolObjectSize(base unsafe.Pointer) uintptr {
	p := symbolNamePtr(base)
	n := 0
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	return symbolSize(n)
}

// --- builtins ---

// builtinLayout stores the index of the native function in the Runtime's
// builtin table, not a raw Go function pointer: Go closures are not a byte
// layout this arena can safely own, so the "opaque native function
// reference" of spec.md §3.2 is an index into Runtime.builtins instead.
type builtinLayout struct {
	index Value
}

func builtinAt(base unsafe.Pointer) *builtinLayout {
	return (*builtinLayout)(payload(base))
}

func builtinSize() uintptr { return objMinSize(wordSize + unsafe.Sizeof(builtinLayout{})) }

// BuiltinIndex returns the index of v into the Runtime's builtin table.
func BuiltinIndex(v Value) int {
	return int(builtinAt(v.ptr()).index.Int64())
}

// --- functions / macros ---

type funcLayout struct {
	params, body, env Value
	jitMem            uintptr
	compiled          Value // Compiled, widened to a full word for alignment
}

func funcAt(base unsafe.Pointer) *funcLayout {
	return (*funcLayout)(payload(base))
}

func funcSize() uintptr { return objMinSize(wordSize + unsafe.Sizeof(funcLayout{})) }

func FuncParams(v Value) Value { return funcAt(v.ptr()).params }
func FuncBody(v Value) Value   { return funcAt(v.ptr()).body }
func FuncEnv(v Value) Value    { return funcAt(v.ptr()).env }

func FuncCompiled(v Value) Compiled {
	return Compiled(funcAt(v.ptr()).compiled.Int64())
}

func FuncJitEntry(v Value) uintptr { return funcAt(v.ptr()).jitMem }

// SetFuncCompiled updates a function/macro object's compilation state and
// (if entry is nonzero) its native entry point. Called only by the JIT
// package; printing or evaluating a function never reads jitMem as a Value.
func SetFuncCompiled(v Value, state Compiled, entry uintptr) {
	f := funcAt(v.ptr())
	f.compiled = Int(int64(state))
	f.jitMem = entry
}

// SetFuncBody rewrites a function/macro's body in place. The JIT front
// end's resolve-symbols pre-pass does not use it: it rewrites the body's
// cells with SetCar.
func SetFuncBody(v Value, body Value) {
	funcAt(v.ptr()).body = body
}

// --- generic object size / internal-pointer walk, used by the collector ---

// ObjectSize returns the number of bytes occupied by the object at base,
// whose header still carries (or has just been copied with) the given tag.
func ObjectSize(tag Value, base unsafe.Pointer) uintptr {
	switch tag {
	case TagSymbol:
		return symbolObjectSize(base)
	case TagCell:
		return cellSize()
	case TagBuiltin:
		return builtinSize()
	case TagFunc, TagMacro:
		return funcSize()
	default:
		panic("rt: unknown object tag in ObjectSize")
	}
}
