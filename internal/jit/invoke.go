package jit

import "unsafe"

import "github.com/markus456/golisp/internal/rt"

// funcval mirrors the runtime's internal representation of a non-closure
// Go function value: a pointer to a struct whose first word is the
// function's entry PC. Building one over a raw code pointer and taking its
// address as a compiledFn is how this package turns a JIT-compiled page
// into something Go's call instruction will jump into directly, the same
// unstable-but-precedented trick the reference JIT's dynamic dispatch
// shim uses to invoke raw machine code as if it were a native function
// value.
type funcval struct{ fn uintptr }

// compiledFn mirrors spec.md §4.7's calling convention onto Go's own
// register-based internal ABI: the sole parameter is read from the same
// register (RAX) the back end treats as its incoming argument-array
// pointer, and the second return value is read from RBX, the register the
// back end writes its result into. Go's ABI assigns argument and result
// registers in order (AX, BX, CX, ...); there is no way to mark the first
// result unused, so it is simply discarded by every caller.
type compiledFn func(unsafe.Pointer) (unsafe.Pointer, rt.Value)

// Invoke calls fn's compiled native entry point with args laid out as a
// flat array in parameter-declaration order (spec.md §4.7's "host sets up
// a flat array args[] ... and transfers control to the entry address").
// fn must satisfy rt.FuncCompiled(fn) == rt.CompiledCode.
func Invoke(fn rt.Value, args []rt.Value) rt.Value {
	entry := rt.FuncJitEntry(fn)
	fv := funcval{fn: entry}
	call := *(*compiledFn)(unsafe.Pointer(&fv))

	var base unsafe.Pointer
	if len(args) > 0 {
		base = unsafe.Pointer(&args[0])
	}
	_, result := call(base)
	return result
}
