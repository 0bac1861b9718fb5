package jit

import "github.com/markus456/golisp/internal/rt"

// pages is the process-wide list of mmap'd executable pages backing every
// function this package has compiled (spec.md §4.8). One list is enough:
// there is exactly one Runtime per process in this implementation.
var pages pageList

// Free unmaps every JIT page allocated so far (spec.md §6's jit_free
// teardown). cmd/lisp calls this once at shutdown.
func Free() { pages.free() }

// lookupNamed resolves one symbol in args (spec.md §6's list_of_symbol_names)
// against scope, failing with the taxonomy errors freeze/compile document
// in spec.md §4.5 (UndefinedSymbol, NotAFunction) rather than the JIT's own
// internal-only errors.
func lookupNamed(scope, sym rt.Value) (rt.Value, error) {
	if !sym.IsSymbol() {
		return rt.Nil, &rt.NotASymbolError{Got: sym}
	}
	fn := rt.SymbolLookup(scope, sym)
	if fn == rt.Undefined {
		return rt.Nil, &rt.UndefinedSymbolError{Name: rt.SymbolName(sym)}
	}
	if !fn.IsFunc() {
		return rt.Nil, &rt.NotAFunctionError{Got: fn}
	}
	return fn, nil
}

// ResolveNamed runs only the resolve-symbols pre-pass (spec.md §4.6) over
// each named function's body, recording CompiledSymbols. This is the
// `freeze` builtin's behavior (spec.md §4.5): a function frozen but never
// compiled still runs interpreted, just without a later re-walk of its
// scope chain paying off (nothing in the interpreter actually consults
// CompiledSymbols; it exists as a visible waypoint toward CompiledCode).
func ResolveNamed(r *rt.Runtime, scope, args rt.Value) rt.Value {
	for l := args; l.IsCell(); l = rt.Cdr(l) {
		fn, err := lookupNamed(scope, rt.Car(l))
		if err != nil {
			r.Raise(err)
			continue
		}
		if err := resolveSymbols(r, scope, fn, rt.FuncBody(fn)); err != nil {
			r.Raise(err)
			continue
		}
		rt.SetFuncCompiled(fn, rt.CompiledSymbols, 0)
	}
	return rt.Nil
}

// CompileNamed resolves symbols and then attempts native code generation
// for each named function in args, per spec.md §6's jit_compile: "on
// failure leave the function in interpreted form." JitUnsupportedError and
// JitFailureError are internal-only (spec.md §7) and are never recorded to
// the error ring; only the user-visible lookup errors are.
func CompileNamed(r *rt.Runtime, scope, args rt.Value) rt.Value {
	for l := args; l.IsCell(); l = rt.Cdr(l) {
		fn, err := lookupNamed(scope, rt.Car(l))
		if err != nil {
			r.Raise(err)
			continue
		}
		compileOne(r, scope, fn) // failure is silent; fn stays interpreted
	}
	return rt.Nil
}

// compileOne drives one function through resolve-symbols, lowering,
// folding, register counting and native code emission. Any failure along
// the way leaves fn callable interpreted; once resolve-symbols has
// succeeded, the body stays resolved and the state stays CompiledSymbols.
func compileOne(r *rt.Runtime, scope, fn rt.Value) {
	body := rt.FuncBody(fn)
	if err := resolveSymbols(r, scope, fn, body); err != nil {
		return
	}
	rt.SetFuncCompiled(fn, rt.CompiledSymbols, 0)

	paramIdx := make(map[rt.Value]int)
	i := 0
	for p := rt.FuncParams(fn); p.IsCell(); p = rt.Cdr(p) {
		paramIdx[rt.Car(p)] = i
		i++
	}

	bite, err := lowerBody(r, fn, paramIdx, rt.FuncBody(fn))
	if err != nil {
		return
	}
	bite = fold(bite)
	computeRegCounts(bite)

	e, ok := newHostEmitter()
	if !ok {
		return
	}

	// Reserve the page and provisionally record its address on fn before
	// codegen runs (spec.md §9's self-entry trick): a non-tail self-call
	// lowers to OpCall with Callee == fn, and emitCall reads
	// rt.FuncJitEntry(b.Callee) to bake in the call target, so that entry
	// must already be valid by the time codegen reaches it.
	page, entry, err := pages.reserve()
	if err != nil {
		return
	}
	rt.SetFuncCompiled(fn, rt.CompiledSymbols, entry)

	var code []byte
	func() {
		// codegen reports register exhaustion by panicking; treat that
		// like any other compilation failure.
		defer func() {
			if recover() != nil {
				code = nil
			}
		}()
		code = compileFunc(e, bite)
	}()

	if code == nil {
		pages.abandon(page)
		rt.SetFuncCompiled(fn, rt.CompiledSymbols, 0)
		return
	}
	if err := pages.finish(page, code); err != nil {
		pages.abandon(page)
		rt.SetFuncCompiled(fn, rt.CompiledSymbols, 0)
		return
	}
	rt.SetFuncCompiled(fn, rt.CompiledCode, entry)
}
