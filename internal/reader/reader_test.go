package reader

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/markus456/golisp/internal/rt"
)

func readAll(t *testing.T, r *rt.Runtime, src string) []rt.Value {
	t.Helper()
	p := New(r, strings.NewReader(src))
	var out []rt.Value
	for {
		v, err := p.Read()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, v)
	}
}

func TestReadIntegers(t *testing.T) {
	r := rt.NewRuntime(0)
	vs := readAll(t, r, "1 -2 +3 0")
	require.Len(t, vs, 4)
	require.Equal(t, int64(1), vs[0].Int64())
	require.Equal(t, int64(-2), vs[1].Int64())
	require.Equal(t, int64(3), vs[2].Int64())
	require.Equal(t, int64(0), vs[3].Int64())
}

func TestReadIntegerOverflowRecordsError(t *testing.T) {
	r := rt.NewRuntime(0)
	big := "99999999999999999999999999"
	vs := readAll(t, r, big)
	require.Len(t, vs, 1)
	require.Equal(t, rt.Undefined, vs[0])
	require.Equal(t, 1, r.Errors.Len())
	errs := r.Errors.Drain()
	require.Contains(t, errs[0].Error(), "integer overflow")
}

func TestReadNilAndTrueLiterals(t *testing.T) {
	r := rt.NewRuntime(0)
	vs := readAll(t, r, "nil t")
	require.Equal(t, rt.Nil, vs[0])
	require.Equal(t, rt.True, vs[1])
}

func TestReadSymbolInterning(t *testing.T) {
	r := rt.NewRuntime(0)
	vs := readAll(t, r, "foo foo bar")
	require.True(t, vs[0].IsSymbol())
	require.Equal(t, vs[0], vs[1])
	require.NotEqual(t, vs[0], vs[2])
	require.Equal(t, "foo", rt.SymbolName(vs[0]))
}

func TestReadSymbolTooLong(t *testing.T) {
	r := rt.NewRuntime(0)
	name := strings.Repeat("a", 1025)
	vs := readAll(t, r, name)
	require.Equal(t, rt.Undefined, vs[0])
	errs := r.Errors.Drain()
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "symbol name too long")
}

func TestReadProperList(t *testing.T) {
	r := rt.NewRuntime(0)
	vs := readAll(t, r, "(1 2 3)")
	require.Len(t, vs, 1)
	list := vs[0]
	require.True(t, list.IsCell())
	require.Equal(t, 3, rt.Length(list))
	require.Equal(t, int64(1), rt.Car(list).Int64())
	require.Equal(t, int64(2), rt.Car(rt.Cdr(list)).Int64())
	require.Equal(t, int64(3), rt.Car(rt.Cdr(rt.Cdr(list))).Int64())
}

func TestReadNestedList(t *testing.T) {
	r := rt.NewRuntime(0)
	vs := readAll(t, r, "(1 (2 3) 4)")
	list := vs[0]
	require.Equal(t, 3, rt.Length(list))
	inner := rt.Car(rt.Cdr(list))
	require.True(t, inner.IsCell())
	require.Equal(t, 2, rt.Length(inner))
}

func TestReadEmptyList(t *testing.T) {
	r := rt.NewRuntime(0)
	vs := readAll(t, r, "()")
	require.Equal(t, rt.Nil, vs[0])
}

func TestReadQuote(t *testing.T) {
	r := rt.NewRuntime(0)
	vs := readAll(t, r, "'x")
	list := vs[0]
	require.Equal(t, 2, rt.Length(list))
	require.Equal(t, "quote", rt.SymbolName(rt.Car(list)))
	require.True(t, rt.Car(rt.Cdr(list)).IsSymbol())
}

func TestReadSkipsCommentsAndWhitespace(t *testing.T) {
	r := rt.NewRuntime(0)
	vs := readAll(t, r, "; a comment\n  1 ; trailing\n2")
	require.Len(t, vs, 2)
	require.Equal(t, int64(1), vs[0].Int64())
	require.Equal(t, int64(2), vs[1].Int64())
}

func TestReadUnterminatedListRecordsErrorButReturnsWhatItHas(t *testing.T) {
	r := rt.NewRuntime(0)
	vs := readAll(t, r, "(1 2")
	require.Len(t, vs, 1)
	require.Equal(t, 2, rt.Length(vs[0]))
	errs := r.Errors.Drain()
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "unterminated list")
}

func TestReadEOFOnEmptyInput(t *testing.T) {
	r := rt.NewRuntime(0)
	p := New(r, strings.NewReader(""))
	_, err := p.Read()
	require.ErrorIs(t, err, io.EOF)
}
