package rt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 42, MaxInt, MinInt} {
		got := Int(v)
		require.True(t, got.IsInt())
		require.Equal(t, v, got.Int64())
	}
}

func TestSentinelsAreConst(t *testing.T) {
	require.True(t, Nil.IsConst())
	require.True(t, True.IsConst())
	require.True(t, Undefined.IsConst())
	require.True(t, Nil.IsNil())
	require.False(t, True.IsNil())
}

func TestBoolConversion(t *testing.T) {
	require.Equal(t, True, Bool(true))
	require.Equal(t, Nil, Bool(false))
}

func TestConsCarCdr(t *testing.T) {
	r := NewRuntime(0)
	a := Int(1)
	b := Int(2)
	cell := Cons(r, a, b)
	require.True(t, cell.IsCell())
	require.Equal(t, a, Car(cell))
	require.Equal(t, b, Cdr(cell))
}

func TestSetCarSetCdrMutateInPlace(t *testing.T) {
	r := NewRuntime(0)
	cell := Cons(r, Int(1), Int(2))
	SetCar(cell, Int(99))
	SetCdr(cell, Int(100))
	require.Equal(t, Int(99), Car(cell))
	require.Equal(t, Int(100), Cdr(cell))
}

func TestCarCdrOfNonCellIsNil(t *testing.T) {
	require.Equal(t, Nil, Car(Int(5)))
	require.Equal(t, Nil, Cdr(Nil))
}

// TestSymbolInterningIdentity checks spec.md §4.3's "symbol(s) == symbol(s)
// always holds by pointer identity."
func TestSymbolInterningIdentity(t *testing.T) {
	r := NewRuntime(0)
	a := r.Symbol("foo")
	b := r.Symbol("foo")
	require.Equal(t, a, b)
	c := r.Symbol("bar")
	require.NotEqual(t, a, c)
	require.Equal(t, "foo", SymbolName(a))
}

func TestBindValueShadowingMostRecentWins(t *testing.T) {
	r := NewRuntime(0)
	scope := NewScope(r, r.GlobalEnv())
	sym := r.Symbol("x")
	BindValue(r, scope, sym, Int(1))
	BindValue(r, scope, sym, Int(2))
	require.Equal(t, Int(2), SymbolLookup(scope, sym))
}

func TestSymbolLookupWalksParentScope(t *testing.T) {
	r := NewRuntime(0)
	sym := r.Symbol("y")
	BindValue(r, r.GlobalEnv(), sym, Int(7))
	child := NewScope(r, r.GlobalEnv())
	require.Equal(t, Int(7), SymbolLookup(child, sym))
}

func TestSymbolLookupUndefined(t *testing.T) {
	r := NewRuntime(0)
	require.Equal(t, Undefined, SymbolLookup(r.GlobalEnv(), r.Symbol("nope")))
}

func TestBindingCellExposesLivePair(t *testing.T) {
	r := NewRuntime(0)
	sym := r.Symbol("z")
	BindValue(r, r.GlobalEnv(), sym, Int(3))
	cell := BindingCell(r.GlobalEnv(), sym)
	require.True(t, cell.IsCell())
	require.Equal(t, sym, Car(cell))
	require.Equal(t, Int(3), Cdr(cell))
}

// TestRootedCellSurvivesGC forces several collection cycles via a tiny
// heap and checks that a cell rooted across them, read through its
// forwarded pointer, is still a cell with its original car and cdr.
func TestRootedCellSurvivesGC(t *testing.T) {
	r := NewRuntime(256)
	held := Cons(r, Int(11), Int(22))
	f := r.Enter(&held)
	defer r.Leave(f)

	for i := 0; i < 200; i++ {
		Cons(r, Int(int64(i)), Nil)
	}

	require.True(t, held.IsCell())
	require.Equal(t, Int(11), Car(held))
	require.Equal(t, Int(22), Cdr(held))
}

// TestGCIdempotentWithoutIntervyingAllocation checks spec.md §8's invariant
// that running GC twice in a row with no allocation between the two runs
// leaves bump unchanged and produces byte-identical live semi-space
// contents (forwarding pointers aren't observable post-collection since
// nothing references the old space any more).
func TestGCIdempotentWithoutIntervyingAllocation(t *testing.T) {
	r := NewRuntime(256)
	held := Cons(r, Int(1), Cons(r, Int(2), Nil))
	f := r.Enter(&held)
	defer r.Leave(f)

	r.collect()
	bumpAfterFirst := r.Heap.Bump()
	snapshotAfterFirst := r.Heap.Snapshot()

	r.collect()
	require.Equal(t, bumpAfterFirst, r.Heap.Bump())
	require.Equal(t, snapshotAfterFirst, r.Heap.Snapshot())

	require.Equal(t, Int(1), Car(held))
	require.Equal(t, Int(2), Car(Cdr(held)))
}

func TestFrameEnterLeaveBalances(t *testing.T) {
	r := NewRuntime(0)
	a, b := Int(1), Int(2)
	f := r.Enter(&a, &b)
	require.NotNil(t, r.frames)
	r.Leave(f)
	require.Nil(t, r.frames)
}

func TestErrorRingDropsOldestPastCapacity(t *testing.T) {
	ring := NewErrorRing(2)
	ring.Record(&UndefinedSymbolError{Name: "a"})
	ring.Record(&UndefinedSymbolError{Name: "b"})
	ring.Record(&UndefinedSymbolError{Name: "c"})
	errs := ring.Drain()
	require.Len(t, errs, 2)
	require.Equal(t, "undefined symbol: b", errs[0].Error())
	require.Equal(t, "undefined symbol: c", errs[1].Error())
	require.Equal(t, 0, ring.Len())
}

func TestRaiseRecordsAndReturnsNil(t *testing.T) {
	r := NewRuntime(0)
	out := r.Raise(&NotANumberError{Got: Nil})
	require.Equal(t, Nil, out)
	require.Equal(t, 1, r.Errors.Len())
}

func TestRandIntWithinRange(t *testing.T) {
	r := NewRuntime(0)
	r.SeedRand(1, 2)
	v := r.RandInt()
	require.True(t, v.IsInt())
	require.GreaterOrEqual(t, v.Int64(), int64(0))
}

func TestTailCallTrampolineIdentity(t *testing.T) {
	r := NewRuntime(0)
	expr := Int(5)
	scope := r.GlobalEnv()
	marker := r.SetTailCall(expr, scope)
	require.True(t, r.IsTailCall(marker))
	require.False(t, r.IsTailCall(Cons(r, Nil, Nil)))
	gotExpr, gotScope := r.TailCall()
	require.Equal(t, expr, gotExpr)
	require.Equal(t, scope, gotScope)
}

func TestNewFunctionCompiledStateDefaultsToNone(t *testing.T) {
	r := NewRuntime(0)
	fn := NewFunction(r, Nil, Nil, r.GlobalEnv(), false)
	require.Equal(t, CompiledNone, FuncCompiled(fn))
	SetFuncCompiled(fn, CompiledCode, 0xdead)
	require.Equal(t, CompiledCode, FuncCompiled(fn))
	require.Equal(t, uintptr(0xdead), FuncJitEntry(fn))
}
