package eval

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/markus456/golisp/internal/jit"
	"github.com/markus456/golisp/internal/rt"
)

// Stdio bundles the host collaborators the print/write-char/load/exit
// builtins shell out to. Tests substitute buffers; cmd/lisp wires os.Stdin
// etc. This mirrors interp.go's Options.stdin/stdout/stderr fields, moved
// onto the evaluator rather than a full interpreter struct since eval has
// no need for the rest of Options.
type Stdio struct {
	Out io.Writer
	In  *bufio.Reader
}

// Register installs every builtin named in spec.md §4.5 into the global
// scope of r. io carries the host I/O collaborators for print/write-char/load.
func Register(r *rt.Runtime, io *Stdio, exit func(int)) {
	r.RegisterBuiltin("+", biAdd)
	r.RegisterBuiltin("-", biSub)
	r.RegisterBuiltin("<", biLess)
	r.RegisterBuiltin("eq", biEq)
	r.RegisterBuiltin("cons", biCons)
	r.RegisterBuiltin("car", biCar)
	r.RegisterBuiltin("cdr", biCdr)
	r.RegisterBuiltin("quote", biQuote)
	r.RegisterBuiltin("list", biList)
	r.RegisterBuiltin("if", biIf)
	r.RegisterBuiltin("progn", biProgn)
	r.RegisterBuiltin("eval", biEval)
	r.RegisterBuiltin("apply", biApply)
	r.RegisterBuiltin("lambda", biLambda)
	r.RegisterBuiltin("define", biDefine)
	r.RegisterBuiltin("defvar", biDefine)
	r.RegisterBuiltin("defun", biDefun)
	r.RegisterBuiltin("defmacro", biDefmacro)
	r.RegisterBuiltin("macroexpand", biMacroexpand)
	r.RegisterBuiltin("freeze", biFreeze)
	r.RegisterBuiltin("compile", biCompile)
	r.RegisterBuiltin("rand", biRand)

	r.RegisterBuiltin("print", func(rr *rt.Runtime, scope, args rt.Value) rt.Value {
		return biPrint(rr, scope, args, io)
	})
	r.RegisterBuiltin("write-char", func(rr *rt.Runtime, scope, args rt.Value) rt.Value {
		return biWriteChar(rr, scope, args, io)
	})
	r.RegisterBuiltin("load", func(rr *rt.Runtime, scope, args rt.Value) rt.Value {
		return biLoad(rr, scope, args)
	})
	r.RegisterBuiltin("exit", func(rr *rt.Runtime, scope, args rt.Value) rt.Value {
		code := 0
		if a := evalList(rr, scope, args); len(a) > 0 && a[0].IsInt() {
			code = int(a[0].Int64())
		}
		if exit != nil {
			exit(code)
		}
		return rt.Nil
	})
	r.RegisterBuiltin("debug", func(rr *rt.Runtime, scope, args rt.Value) rt.Value {
		rr.Trace = !rr.Trace
		return rt.Bool(rr.Trace)
	})
}

// evalList evaluates every element of a raw argument list left to right.
func evalList(r *rt.Runtime, scope, args rt.Value) []rt.Value {
	var out []rt.Value
	for args.IsCell() {
		out = append(out, Eval(r, scope, rt.Car(args)))
		args = rt.Cdr(args)
	}
	return out
}

func argAt(a []rt.Value, i int) rt.Value {
	if i < len(a) {
		return a[i]
	}
	return rt.Nil
}

// --- arithmetic ---

func biAdd(r *rt.Runtime, scope, args rt.Value) rt.Value {
	a := evalList(r, scope, args)
	if len(a) == 0 {
		return r.Raise(&rt.ArgCountMismatchError{Callee: "+", Expected: 1, Actual: 0, Direction: rt.TooFew})
	}
	sum := int64(0)
	for _, v := range a {
		if !v.IsInt() {
			return r.Raise(&rt.NotANumberError{Got: v})
		}
		sum += v.Int64()
	}
	return rt.Int(sum)
}

func biSub(r *rt.Runtime, scope, args rt.Value) rt.Value {
	a := evalList(r, scope, args)
	if len(a) == 0 {
		return r.Raise(&rt.ArgCountMismatchError{Callee: "-", Expected: 1, Actual: 0, Direction: rt.TooFew})
	}
	for _, v := range a {
		if !v.IsInt() {
			return r.Raise(&rt.NotANumberError{Got: v})
		}
	}
	if len(a) == 1 {
		return rt.Int(-a[0].Int64())
	}
	sum := a[0].Int64()
	for _, v := range a[1:] {
		sum -= v.Int64()
	}
	return rt.Int(sum)
}

func biLess(r *rt.Runtime, scope, args rt.Value) rt.Value {
	a := evalList(r, scope, args)
	if len(a) != 2 {
		return r.Raise(&rt.ArgCountMismatchError{Callee: "<", Expected: 2, Actual: len(a), Direction: direction(len(a), 2)})
	}
	if !a[0].IsInt() || !a[1].IsInt() {
		return r.Raise(&rt.NotANumberError{Got: a[0]})
	}
	return rt.Bool(a[0].Int64() < a[1].Int64())
}

func direction(actual, expected int) rt.ArgDirection {
	if actual < expected {
		return rt.TooFew
	}
	return rt.TooMany
}

// --- identity & pairs ---

func biEq(r *rt.Runtime, scope, args rt.Value) rt.Value {
	a := evalList(r, scope, args)
	if len(a) != 2 {
		return r.Raise(&rt.ArgCountMismatchError{Callee: "eq", Expected: 2, Actual: len(a), Direction: direction(len(a), 2)})
	}
	if a[0].IsInt() && a[1].IsInt() {
		return rt.Bool(a[0].Int64() == a[1].Int64())
	}
	return rt.Bool(a[0] == a[1])
}

func biCons(r *rt.Runtime, scope, args rt.Value) rt.Value {
	a := evalList(r, scope, args)
	if len(a) != 2 {
		return r.Raise(&rt.ArgCountMismatchError{Callee: "cons", Expected: 2, Actual: len(a), Direction: direction(len(a), 2)})
	}
	return rt.Cons(r, a[0], a[1])
}

func biCar(r *rt.Runtime, scope, args rt.Value) rt.Value {
	a := evalList(r, scope, args)
	if len(a) != 1 {
		return r.Raise(&rt.ArgCountMismatchError{Callee: "car", Expected: 1, Actual: len(a), Direction: direction(len(a), 1)})
	}
	if !a[0].IsCell() {
		return r.Raise(&rt.NotAListError{Got: a[0]})
	}
	return rt.Car(a[0])
}

func biCdr(r *rt.Runtime, scope, args rt.Value) rt.Value {
	a := evalList(r, scope, args)
	if len(a) != 1 {
		return r.Raise(&rt.ArgCountMismatchError{Callee: "cdr", Expected: 1, Actual: len(a), Direction: direction(len(a), 1)})
	}
	if !a[0].IsCell() {
		return r.Raise(&rt.NotAListError{Got: a[0]})
	}
	return rt.Cdr(a[0])
}

func biQuote(r *rt.Runtime, scope, args rt.Value) rt.Value {
	if !args.IsCell() || rt.Cdr(args) != rt.Nil {
		return r.Raise(&rt.ArgCountMismatchError{Callee: "quote", Expected: 1, Actual: rt.Length(args), Direction: direction(rt.Length(args), 1)})
	}
	return rt.Car(args)
}

func biList(r *rt.Runtime, scope, args rt.Value) rt.Value {
	return rt.List(r, evalList(r, scope, args)...)
}

// --- control flow: if/progn stash the winning tail expression instead of
// evaluating it themselves (spec.md §4.4's trampoline). ---

func biIf(r *rt.Runtime, scope, args rt.Value) rt.Value {
	if rt.Length(args) != 3 {
		return r.Raise(&rt.ArgCountMismatchError{Callee: "if", Expected: 3, Actual: rt.Length(args), Direction: direction(rt.Length(args), 3)})
	}
	cond := Eval(r, scope, rt.Car(args))
	rest := rt.Cdr(args)
	thenExpr := rt.Car(rest)
	elseExpr := rt.Car(rt.Cdr(rest))
	if !cond.IsNil() {
		return r.SetTailCall(thenExpr, scope)
	}
	return r.SetTailCall(elseExpr, scope)
}

func biProgn(r *rt.Runtime, scope, args rt.Value) rt.Value {
	if !args.IsCell() {
		return rt.Nil
	}
	for rt.Cdr(args).IsCell() {
		Eval(r, scope, rt.Car(args))
		args = rt.Cdr(args)
	}
	return r.SetTailCall(rt.Car(args), scope)
}

func biEval(r *rt.Runtime, scope, args rt.Value) rt.Value {
	a := evalList(r, scope, args)
	if len(a) != 1 {
		return r.Raise(&rt.ArgCountMismatchError{Callee: "eval", Expected: 1, Actual: len(a), Direction: direction(len(a), 1)})
	}
	return Eval(r, scope, a[0])
}

func biApply(r *rt.Runtime, scope, args rt.Value) rt.Value {
	a := evalList(r, scope, args)
	if len(a) != 2 {
		return r.Raise(&rt.ArgCountMismatchError{Callee: "apply", Expected: 2, Actual: len(a), Direction: direction(len(a), 2)})
	}
	if !a[1].IsCell() && a[1] != rt.Nil {
		return r.Raise(&rt.NotAListError{Got: a[1]})
	}
	call := rt.Cons(r, quoteValue(r, a[0]), a[1])
	return Eval(r, scope, call)
}

// quoteValue wraps v so that re-evaluating it (as apply's constructed call
// head must be) reproduces v itself rather than treating it as a symbol
// reference or nested application.
func quoteValue(r *rt.Runtime, v rt.Value) rt.Value {
	if v.IsInt() || v.IsConst() {
		return v
	}
	return rt.List(r, r.Symbol("quote"), v)
}

// --- function / macro construction ---

func biLambda(r *rt.Runtime, scope, args rt.Value) rt.Value {
	if rt.Length(args) != 2 {
		return r.Raise(&rt.ArgCountMismatchError{Callee: "lambda", Expected: 2, Actual: rt.Length(args), Direction: direction(rt.Length(args), 2)})
	}
	params := rt.Car(args)
	body := rt.Car(rt.Cdr(args))
	return rt.NewFunction(r, params, body, scope, false)
}

func biDefine(r *rt.Runtime, scope, args rt.Value) rt.Value {
	if rt.Length(args) != 2 {
		return r.Raise(&rt.ArgCountMismatchError{Callee: "define", Expected: 2, Actual: rt.Length(args), Direction: direction(rt.Length(args), 2)})
	}
	sym := rt.Car(args)
	if !sym.IsSymbol() {
		return r.Raise(&rt.NotASymbolError{Got: sym})
	}
	val := Eval(r, scope, rt.Car(rt.Cdr(args)))
	rt.BindValue(r, scope, sym, val)
	return val
}

func biDefun(r *rt.Runtime, scope, args rt.Value) rt.Value {
	return defineFunc(r, scope, args, false, "defun")
}

func biDefmacro(r *rt.Runtime, scope, args rt.Value) rt.Value {
	return defineFunc(r, scope, args, true, "defmacro")
}

func defineFunc(r *rt.Runtime, scope, args rt.Value, macro bool, callee string) rt.Value {
	if rt.Length(args) != 3 {
		return r.Raise(&rt.ArgCountMismatchError{Callee: callee, Expected: 3, Actual: rt.Length(args), Direction: direction(rt.Length(args), 3)})
	}
	name := rt.Car(args)
	if !name.IsSymbol() {
		return r.Raise(&rt.NotASymbolError{Got: name})
	}
	params := rt.Car(rt.Cdr(args))
	body := rt.Car(rt.Cdr(rt.Cdr(args)))
	fn := rt.NewFunction(r, params, body, scope, macro)
	rt.BindValue(r, scope, name, fn)
	return fn
}

// biMacroexpand implements spec.md §4.5/§8's documented two-argument form
// ("(macroexpand 'when '(t 42))"): both arguments are evaluated like any
// other builtin's (spec.md §4.4), the first naming the macro (a symbol,
// looked up in scope) and the second the already-built argument list the
// macro would have been called with. It performs exactly the macro's
// parameter-binding-and-body-eval step without the surrounding
// application's "re-evaluate the result in the current scope" step, so the
// expansion itself is returned unevaluated.
func biMacroexpand(r *rt.Runtime, scope, args rt.Value) rt.Value {
	a := evalList(r, scope, args)
	if len(a) != 2 {
		return r.Raise(&rt.ArgCountMismatchError{Callee: "macroexpand", Expected: 2, Actual: len(a), Direction: direction(len(a), 2)})
	}
	macro := a[0]
	if macro.IsSymbol() {
		macro = rt.SymbolLookup(scope, macro)
	}
	if !macro.IsMacro() {
		return r.Raise(&rt.NotAMacroError{Got: macro})
	}
	argList := a[1]
	if !argList.IsCell() && argList != rt.Nil {
		return r.Raise(&rt.NotAListError{Got: argList})
	}
	child := rt.NewScope(r, scope)
	if err := bindParams(r, child, rt.FuncParams(macro), argList, "macroexpand"); err != nil {
		return r.Raise(err)
	}
	return Eval(r, child, rt.FuncBody(macro))
}

// --- JIT requests ---

func biFreeze(r *rt.Runtime, scope, args rt.Value) rt.Value {
	return jit.ResolveNamed(r, scope, args)
}

func biCompile(r *rt.Runtime, scope, args rt.Value) rt.Value {
	return jit.CompileNamed(r, scope, args)
}

// --- host plumbing (print/write-char/load/rand/exit/debug) ---

func biPrint(r *rt.Runtime, scope, args rt.Value, io *Stdio) rt.Value {
	a := evalList(r, scope, args)
	for _, v := range a {
		fmt.Fprint(io.Out, debugString(v))
	}
	return rt.Nil
}

func biWriteChar(r *rt.Runtime, scope, args rt.Value, io *Stdio) rt.Value {
	a := evalList(r, scope, args)
	if len(a) != 1 || !a[0].IsInt() {
		return r.Raise(&rt.ArgCountMismatchError{Callee: "write-char", Expected: 1, Actual: len(a), Direction: direction(len(a), 1)})
	}
	fmt.Fprintf(io.Out, "%c", rune(a[0].Int64()))
	return rt.Nil
}

func biRand(r *rt.Runtime, scope, args rt.Value) rt.Value {
	return r.RandInt()
}

func biLoad(r *rt.Runtime, scope, args rt.Value) rt.Value {
	a := evalList(r, scope, args)
	if len(a) != 1 || !a[0].IsSymbol() {
		return r.Raise(&rt.NotASymbolError{Got: argAt(a, 0)})
	}
	path := rt.SymbolName(a[0])
	f, err := os.Open(path)
	if err != nil {
		return r.Raise(&rt.FileOpenError{Path: path, Message: err.Error()})
	}
	defer f.Close()
	return LoadSource(r, r.GlobalEnv(), f)
}

// seedFromCrypto returns two uint64 seeds drawn from the OS CSPRNG, used
// once at startup to seed the per-Runtime PCG generator behind `rand`
// (SPEC_FULL.md's supplemented-feature note on replacing the C original's
// hidden libc global with explicit state).
func seedFromCrypto() (uint64, uint64) {
	max := new(big.Int).Lsh(big.NewInt(1), 64)
	a, _ := rand.Int(rand.Reader, max)
	b, _ := rand.Int(rand.Reader, max)
	return a.Uint64(), b.Uint64()
}

// SeedFromOS seeds r's random generator from the OS CSPRNG.
func SeedFromOS(r *rt.Runtime) {
	s1, s2 := seedFromCrypto()
	r.SeedRand(s1, s2)
}
