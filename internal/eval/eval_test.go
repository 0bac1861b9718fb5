package eval

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/markus456/golisp/internal/rt"
)

func newTestRuntime(t *testing.T) (*rt.Runtime, *bytes.Buffer) {
	t.Helper()
	r := rt.NewRuntime(0)
	var out bytes.Buffer
	stdio := &Stdio{Out: &out, In: bufio.NewReader(strings.NewReader(""))}
	Register(r, stdio, nil)
	return r, &out
}

// run evaluates every top-level form in src against a fresh runtime and
// returns the value of the last one.
func run(t *testing.T, src string) rt.Value {
	t.Helper()
	r, _ := newTestRuntime(t)
	return LoadSource(r, r.GlobalEnv(), strings.NewReader(src))
}

func TestArithmetic(t *testing.T) {
	require.Equal(t, int64(6), run(t, "(+ 1 2 3)").Int64())
	require.Equal(t, int64(-5), run(t, "(- 5)").Int64())
	require.Equal(t, int64(1), run(t, "(- 5 2 2)").Int64())
}

func TestLessAndEq(t *testing.T) {
	require.Equal(t, rt.True, run(t, "(< 1 2)"))
	require.Equal(t, rt.Nil, run(t, "(< 2 1)"))
	require.Equal(t, rt.True, run(t, "(eq 3 3)"))
	require.Equal(t, rt.True, run(t, "(eq 'a 'a)"))
}

func TestEqIsPointerIdentityForCells(t *testing.T) {
	// Two freshly consed lists with equal contents are not eq.
	require.Equal(t, rt.Nil, run(t, "(eq (cons 1 2) (cons 1 2))"))
	// The same binding read twice is eq to itself.
	require.Equal(t, rt.True, run(t, "(progn (defvar p (cons 1 2)) (eq p p))"))
}

func TestConsCarCdr(t *testing.T) {
	require.Equal(t, int64(1), run(t, "(car (cons 1 2))").Int64())
	require.Equal(t, int64(2), run(t, "(cdr (cons 1 2))").Int64())
}

func TestQuoteDoesNotEvaluate(t *testing.T) {
	v := run(t, "(quote (+ 1 2))")
	require.True(t, v.IsCell())
	require.Equal(t, 3, rt.Length(v))
}

func TestIfBranches(t *testing.T) {
	require.Equal(t, int64(1), run(t, "(if t 1 2)").Int64())
	require.Equal(t, int64(2), run(t, "(if nil 1 2)").Int64())
}

func TestDefineAndLookup(t *testing.T) {
	require.Equal(t, int64(42), run(t, "(progn (define x 42) x)").Int64())
}

func TestDefunSumToTen(t *testing.T) {
	src := `
(defun sum (n acc)
  (if (eq n 0) acc (sum (- n 1) (+ acc n))))
(sum 10 0)
`
	require.Equal(t, int64(55), run(t, src).Int64())
}

// TestTailRecursionDoesNotOverflowGoStack exercises the trampoline of
// spec.md §4.4: a self-recursive tail call must not grow the Go call
// stack, so a large iteration count must complete without a stack
// overflow panic.
func TestTailRecursionDoesNotOverflowGoStack(t *testing.T) {
	src := `
(defun count (n)
  (if (eq n 0) 0 (count (- n 1))))
(count 200000)
`
	require.Equal(t, int64(0), run(t, src).Int64())
}

func TestLambdaCapturesLexicalScope(t *testing.T) {
	src := `
(progn
  (define make-adder (lambda (n) (lambda (x) (+ x n))))
  (define add5 (make-adder 5))
  (add5 10))
`
	require.Equal(t, int64(15), run(t, src).Int64())
}

func TestDefmacroWhen(t *testing.T) {
	src := `
(defmacro when (cond body) (list 'if cond body 'nil))
(when t 42)
`
	require.Equal(t, int64(42), run(t, src).Int64())
}

func TestDefmacroWhenFalse(t *testing.T) {
	src := `
(defmacro when (cond body) (list 'if cond body 'nil))
(when nil 42)
`
	require.Equal(t, rt.Nil, run(t, src))
}

// TestMacroexpandDoesNotReevaluate exercises spec.md §8 scenario 4's exact
// form: `(macroexpand 'when '(t 42))` must yield the list `(if t 42 nil)`
// without evaluating it.
func TestMacroexpandDoesNotReevaluate(t *testing.T) {
	src := `
(defmacro when (c b) (list 'if c b 'nil))
(macroexpand 'when '(t 42))
`
	v := run(t, src)
	require.True(t, v.IsCell())
	require.Equal(t, 4, rt.Length(v))
	require.Equal(t, "if", rt.SymbolName(rt.Car(v)))
}

func TestApplyConstructsAndEvaluates(t *testing.T) {
	require.Equal(t, int64(6), run(t, "(apply (lambda (a b c) (+ a b c)) (list 1 2 3))").Int64())
}

func TestEvalDoubleEvaluates(t *testing.T) {
	require.Equal(t, int64(3), run(t, "(progn (define form (quote (+ 1 2))) (eval form))").Int64())
}

func TestUndefinedSymbolRecordsErrorAndReturnsNil(t *testing.T) {
	r, _ := newTestRuntime(t)
	v := LoadSource(r, r.GlobalEnv(), strings.NewReader("undefined-name"))
	require.Equal(t, rt.Nil, v)
	require.Equal(t, 1, r.Errors.Len())
}

func TestArgCountMismatchOnDefun(t *testing.T) {
	r, _ := newTestRuntime(t)
	src := `
(defun f (a b) (+ a b))
(f 1)
`
	v := LoadSource(r, r.GlobalEnv(), strings.NewReader(src))
	require.Equal(t, rt.Nil, v)
	require.Equal(t, 1, r.Errors.Len())
}

func TestPrintWritesToStdio(t *testing.T) {
	r, out := newTestRuntime(t)
	LoadSource(r, r.GlobalEnv(), strings.NewReader(`(print 1 2 3)`))
	require.Equal(t, "123", out.String())
}

func TestWriteCharWritesRune(t *testing.T) {
	r, out := newTestRuntime(t)
	LoadSource(r, r.GlobalEnv(), strings.NewReader(`(write-char 65)`))
	require.Equal(t, "A", out.String())
}
