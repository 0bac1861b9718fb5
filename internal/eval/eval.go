// Package eval implements the tree-walking evaluator: lexical application,
// the if/progn tail-call trampoline, and the builtin table (spec.md §4.4,
// §4.5). It is a direct analogue of interp.Eval/EvalWithContext's entry
// points and frame/scope plumbing, rewritten for the tagged-pointer value
// model instead of reflect.Value-backed Go interpretation.
package eval

import (
	"fmt"

	"github.com/markus456/golisp/internal/jit"
	"github.com/markus456/golisp/internal/rt"
)

// Eval evaluates expr in scope, returning its value. This is the core's
// sole external entry point named in spec.md §6: "eval(scope, value) ->
// value". Errors are never returned; they are recorded to the Runtime's
// error ring and the offending (sub)expression evaluates to Nil, per
// spec.md §7.
func Eval(r *rt.Runtime, scope, expr rt.Value) rt.Value {
	r.EnterEval()
	defer r.LeaveEval()

	for {
		if r.Trace {
			traceEnter(r, expr)
		}

		switch {
		case expr.IsInt(), expr.IsConst(), expr.IsBuiltin(), expr.IsFunc(), expr.IsMacro():
			// Self-evaluating.
			return trace(r, expr, expr)

		case expr.IsSymbol():
			v := rt.SymbolLookup(scope, expr)
			if v == rt.Undefined {
				return trace(r, expr, r.Raise(&rt.UndefinedSymbolError{Name: rt.SymbolName(expr)}))
			}
			return trace(r, expr, v)

		case expr.IsCell():
			result, tailExpr, tailScope, isTail := apply(r, scope, expr)
			if !isTail {
				return trace(r, expr, result)
			}
			// Tail call: restart the loop in the same stack frame
			// instead of recursing (spec.md §4.4's trampoline).
			expr, scope = tailExpr, tailScope
			continue

		default:
			return trace(r, expr, expr)
		}
	}
}

func trace(r *rt.Runtime, in, out rt.Value) rt.Value {
	if r.Trace {
		traceLeave(r, in, out)
	}
	return out
}

// apply evaluates a list in head position. It returns either a final
// result (isTail == false) or an unevaluated (tailExpr, tailScope) pair
// that the caller's loop should continue with (isTail == true), which
// happens when a builtin (if/progn) returns the tail-call marker or when
// an interpreted user function's body is a list (spec.md §4.4).
func apply(r *rt.Runtime, scope, expr rt.Value) (result, tailExpr, tailScope rt.Value, isTail bool) {
	headExpr := rt.Car(expr)
	head := Eval(r, scope, headExpr)
	args := rt.Cdr(expr)
	name := calleeName(headExpr)

	switch {
	case head.IsMacro():
		return evalMacro(r, scope, head, args, name), rt.Nil, rt.Nil, false

	case head.IsBuiltin():
		fn := r.Builtin(head)
		out := fn(r, scope, args)
		if r.IsTailCall(out) {
			te, ts := r.TailCall()
			return rt.Nil, te, ts, true
		}
		return out, rt.Nil, rt.Nil, false

	case head.IsFunc():
		return applyFunc(r, scope, head, args, name)

	default:
		return r.Raise(&rt.NotAFunctionError{Got: head}), rt.Nil, rt.Nil, false
	}
}

// calleeName recovers a human-readable name for error messages: the head
// of an application is usually a symbol, but may be any expression that
// evaluates to a function (e.g. a lambda literal).
func calleeName(headExpr rt.Value) string {
	if headExpr.IsSymbol() {
		return rt.SymbolName(headExpr)
	}
	return "lambda"
}

// evalMacro binds positional parameters to unevaluated argument
// expressions in a fresh child scope of the *current* scope, evaluates the
// macro body there, then re-evaluates the result in the current scope
// (spec.md §4.4).
func evalMacro(r *rt.Runtime, scope, macro, args rt.Value, name string) rt.Value {
	child := rt.NewScope(r, scope)
	if err := bindParams(r, child, rt.FuncParams(macro), args, name); err != nil {
		return r.Raise(err)
	}
	expanded := Eval(r, child, rt.FuncBody(macro))
	return Eval(r, scope, expanded)
}

// applyFunc implements the "User function" branch of spec.md §4.4.
func applyFunc(r *rt.Runtime, callerScope, fn, args rt.Value, name string) (result, tailExpr, tailScope rt.Value, isTail bool) {
	env := rt.FuncEnv(fn)
	if env == rt.Nil {
		env = callerScope
	}
	child := rt.NewScope(r, env)

	params := rt.FuncParams(fn)
	if err := bindEvaluatedParams(r, callerScope, child, params, args, name); err != nil {
		return r.Raise(err), rt.Nil, rt.Nil, false
	}

	if rt.FuncCompiled(fn) == rt.CompiledCode {
		out := jit.Invoke(fn, collectArgValues(r, child, params))
		return out, rt.Nil, rt.Nil, false
	}

	body := rt.FuncBody(fn)
	if body.IsCell() {
		// Tail call within the same native stack frame.
		return rt.Nil, body, child, true
	}
	return Eval(r, child, body), rt.Nil, rt.Nil, false
}

// bindEvaluatedParams evaluates each argument in callerScope (left to
// right, spec.md §5) and binds it to the matching parameter in newScope.
func bindEvaluatedParams(r *rt.Runtime, callerScope, newScope, params, args rt.Value, name string) error {
	p, a := params, args
	n := 0
	for p.IsCell() {
		if !a.IsCell() {
			expected := rt.Length(params)
			return &rt.ArgCountMismatchError{Callee: name, Expected: expected, Actual: n, Direction: rt.TooFew}
		}
		sym := rt.Car(p)
		val := Eval(r, callerScope, rt.Car(a))
		rt.BindValue(r, newScope, sym, val)
		p, a = rt.Cdr(p), rt.Cdr(a)
		n++
	}
	if a.IsCell() {
		expected := n
		return &rt.ArgCountMismatchError{Callee: name, Expected: expected, Actual: expected + rt.Length(a), Direction: rt.TooMany}
	}
	return nil
}

// bindParams binds unevaluated argument expressions (used by macros) to
// positional parameters, erroring on arity mismatch rather than silently
// dropping or appending extras (spec.md §9, pinned Open Question).
func bindParams(r *rt.Runtime, scope, params, args rt.Value, callee string) error {
	p, a := params, args
	n := 0
	for p.IsCell() {
		if !a.IsCell() {
			return &rt.ArgCountMismatchError{Callee: callee, Expected: rt.Length(params), Actual: n, Direction: rt.TooFew}
		}
		rt.BindValue(r, scope, rt.Car(p), rt.Car(a))
		p, a = rt.Cdr(p), rt.Cdr(a)
		n++
	}
	if a.IsCell() {
		return &rt.ArgCountMismatchError{Callee: callee, Expected: n, Actual: n + rt.Length(a), Direction: rt.TooMany}
	}
	return nil
}

// collectArgValues builds the flat argument array a JIT entry point
// expects, in parameter-declaration order, by reading back the bindings
// just installed in scope.
func collectArgValues(r *rt.Runtime, scope, params rt.Value) []rt.Value {
	n := rt.Length(params)
	out := make([]rt.Value, n)
	p := params
	for i := 0; i < n; i++ {
		out[i] = rt.SymbolLookup(scope, rt.Car(p))
		p = rt.Cdr(p)
	}
	return out
}

func traceEnter(r *rt.Runtime, expr rt.Value) {
	r.Log.Debug(fmt.Sprintf("%*seval %s", r.Depth()*2, "", debugString(expr)))
}

func traceLeave(r *rt.Runtime, in, out rt.Value) {
	r.Log.Debug(fmt.Sprintf("%*s=> %s", r.Depth()*2, "", debugString(out)))
}

// Print renders v the same way the trace logger and the `print` builtin do,
// for use by external collaborators like the REPL.
func Print(v rt.Value) string { return debugString(v) }

// debugString is a minimal, non-exported value stringer used by the
// -s/-d trace printer, the `print` builtin and Print. Pretty-printing
// proper is a collaborator's job (spec.md §1); this exists so output is
// legible without growing into a full printer. It never reads jit_mem: a
// compiled function's body stays a Value in this runtime's object layout
// (see rt.SetFuncCompiled), so there is nothing unsafe to guard against
// here, unlike the sentinel the C original had to avoid exposing.
func debugString(v rt.Value) string {
	switch {
	case v.IsInt():
		return fmt.Sprintf("%d", v.Int64())
	case v == rt.Nil:
		return "nil"
	case v == rt.True:
		return "t"
	case v == rt.Undefined:
		return "#<undefined>"
	case v.IsSymbol():
		return rt.SymbolName(v)
	case v.IsBuiltin():
		return "#<builtin>"
	case v.IsFunc():
		return "#<function>"
	case v.IsMacro():
		return "#<macro>"
	case v.IsCell():
		s := "("
		first := true
		for v.IsCell() {
			if !first {
				s += " "
			}
			first = false
			s += debugString(rt.Car(v))
			v = rt.Cdr(v)
		}
		if v != rt.Nil {
			s += " . " + debugString(v)
		}
		return s + ")"
	default:
		return "#<?>"
	}
}
