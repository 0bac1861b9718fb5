package jit

import "github.com/markus456/golisp/internal/rt"

// resolveSymbols runs the resolve-symbols pre-pass over fn's body in
// place (spec.md §4.6): every cons cell whose car is a symbol has that car
// rewritten to one of three things — left alone if it names a parameter
// (the lowering pass treats it as a positional index), replaced with fn
// itself if it is a self-reference, or replaced with its currently-bound
// value if it is a reference resolvable in scope. Resolving to the value
// rather than the binding cell keeps the mutated body directly
// interpretable: a resolved global sitting where its symbol used to be
// still evaluates to itself under Eval, exactly as the original symbol
// lookup would have. After this pass the body contains no symbol the
// lowering pass must re-look-up.
func resolveSymbols(r *rt.Runtime, scope, fn, body rt.Value) error {
	params := make(map[rt.Value]bool)
	for p := rt.FuncParams(fn); p.IsCell(); p = rt.Cdr(p) {
		params[rt.Car(p)] = true
	}
	return walkResolve(r, scope, fn, params, body)
}

func walkResolve(r *rt.Runtime, scope, fn rt.Value, params map[rt.Value]bool, cell rt.Value) error {
	if !cell.IsCell() {
		return nil
	}
	car := rt.Car(cell)
	switch {
	case car.IsSymbol():
		resolved, err := resolveOne(scope, fn, params, car)
		if err != nil {
			return err
		}
		rt.SetCar(cell, resolved)
	case car.IsCell():
		if err := walkResolve(r, scope, fn, params, car); err != nil {
			return err
		}
	}
	return walkResolve(r, scope, fn, params, rt.Cdr(cell))
}

// resolveOne resolves a single body-position symbol: parameters are left
// as symbols, a reference whose binding is fn itself (direct recursion)
// becomes the function object, anything else becomes the bound value
// itself — not the binding cell — so the lowering pass never re-walks the
// scope chain and the interpreter never sees anything but a self-evaluating
// value in that position.
func resolveOne(scope, fn rt.Value, params map[rt.Value]bool, sym rt.Value) (rt.Value, error) {
	if params[sym] {
		return sym, nil
	}
	cell := rt.BindingCell(scope, sym)
	if cell == rt.Nil {
		return rt.Nil, &rt.UndefinedSymbolError{Name: rt.SymbolName(sym)}
	}
	value := rt.Cdr(cell)
	if value == fn {
		return fn, nil
	}
	return value, nil
}
