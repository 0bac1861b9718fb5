package rt

// A scope is a cons list of binding lists (spec.md §3.3): its car is the
// local bindings of the innermost frame (a list of (symbol . value) cells,
// prepended on bind), its cdr is the parent scope. The global environment
// is the outermost scope, created once by NewRuntime.

// NewScope creates a fresh child scope of parent.
func NewScope(rt *Runtime, parent Value) Value {
	return Cons(rt, Nil, parent)
}

// BindValue creates a (sym . value) pair and prepends it to the innermost
// binding list of scope. Per spec.md §4.3, an existing binding for sym in
// the same frame is never overwritten: bindings are always added, and
// lookup order (most recent first) resolves shadowing.
func BindValue(rt *Runtime, scope, sym, value Value) {
	f := rt.Enter(&scope, &sym, &value)
	defer rt.Leave(f)
	pair := Cons(rt, sym, value)
	bindings := Cons(rt, pair, Car(scope))
	SetCar(scope, bindings)
}

// SymbolLookup walks scope outward and each frame's binding list inward,
// returning the first matching binding's value, or Undefined.
func SymbolLookup(scope, sym Value) Value {
	for s := scope; s.IsCell(); s = Cdr(s) {
		for b := Car(s); b.IsCell(); b = Cdr(b) {
			pair := Car(b)
			if Car(pair) == sym {
				return Cdr(pair)
			}
		}
	}
	return Undefined
}

// BindingCell returns the (symbol . value) pair bound to sym in scope, or
// Nil if unbound. Used by the JIT front end's resolve-symbols pass, which
// rewrites global references to the pair's current value instead of
// re-walking the scope chain.
func BindingCell(scope, sym Value) Value {
	for s := scope; s.IsCell(); s = Cdr(s) {
		for b := Car(s); b.IsCell(); b = Cdr(b) {
			pair := Car(b)
			if Car(pair) == sym {
				return pair
			}
		}
	}
	return Nil
}
