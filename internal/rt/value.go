// Package rt implements the tagged-pointer value model, the copying heap,
// the symbol table, the lexical scope chain and the shared Runtime context
// that the evaluator and JIT compiler both operate on.
package rt

import "unsafe"

// Value is a tagged, pointer-sized word. The low three bits carry a type
// tag; everything else is either a 62-bit signed integer (shifted left two)
// or the address of a heap object owned by a Heap's active semi-space.
type Value uintptr

// Tag bits, mirroring the C original's TYPE_MASK scheme (lisp.h). Integers
// are distinguished by their low two bits being zero; the third bit is part
// of the integer's magnitude, not the tag.
const (
	tagIntMask Value = 0x3
	TagMask    Value = 0x7

	TagInt     Value = 0x0 // low two bits zero; third bit is value, not tag
	TagSymbol  Value = 0x1
	TagBuiltin Value = 0x2
	TagCell    Value = 0x3
	TagFunc    Value = 0x5
	TagMacro   Value = 0x6
	TagConst   Value = 0x7
)

// Constant sentinels. These never live in the heap and are never forwarded
// by the collector.
//
// There is a fourth sentinel-like value, TailCall, realized not as a fixed
// constant but as a dedicated heap cell (Runtime.tailCell): a fixed
// tagged address can't survive being relocated by the copying GC, so the
// evaluator instead recognizes the marker by pointer identity against the
// Runtime's own tail-call cell, which GC updates like any other root. See
// Runtime.SetTailCall/IsTailCall in runtime.go.
const (
	Nil       Value = 0x0F
	True      Value = 0x1F
	Undefined Value = 0x2F // symbol not bound, or parse produced nothing
)

// MaxInt and MinInt bound the 62-bit signed integer range representable by
// a tagged Value.
const (
	MaxInt int64 = 1<<61 - 1
	MinInt int64 = -(1 << 61)
)

// Int returns the tagged representation of v. Callers are responsible for
// keeping v within [MinInt, MaxInt]; the reader enforces this at parse time
// (IntegerOverflow) and arithmetic builtins wrap per two's-complement.
func Int(v int64) Value {
	return Value(v << 2)
}

// IsInt reports whether v encodes an integer.
func (v Value) IsInt() bool { return v&tagIntMask == TagInt }

// Int64 decodes v as a signed integer. Behaviour is undefined if !v.IsInt().
func (v Value) Int64() int64 {
	return int64(v) >> 2
}

// Tag returns the heap-object tag of v. Only meaningful when !v.IsInt().
func (v Value) Tag() Value { return v & TagMask }

// IsConst reports whether v carries the constant tag (Nil, True,
// Undefined). The tail-call marker is a heap cell, not a constant.
func (v Value) IsConst() bool { return v.Tag() == TagConst }

func (v Value) IsSymbol() bool  { return v.Tag() == TagSymbol }
func (v Value) IsBuiltin() bool { return v.Tag() == TagBuiltin }
func (v Value) IsCell() bool    { return v.Tag() == TagCell }
func (v Value) IsFunc() bool    { return v.Tag() == TagFunc }
func (v Value) IsMacro() bool   { return v.Tag() == TagMacro }

// IsCallable reports whether v can appear in head position of an application.
func (v Value) IsCallable() bool {
	return v.IsBuiltin() || v.IsFunc() || v.IsMacro()
}

// IsNil reports Lisp falsiness: only Nil is false.
func (v Value) IsNil() bool { return v == Nil }

// Bool converts a Go boolean into True/Nil.
func Bool(b bool) Value {
	if b {
		return True
	}
	return Nil
}

// ptr recovers the untagged heap address carried by v.
func (v Value) ptr() unsafe.Pointer {
	return unsafe.Pointer(uintptr(v &^ TagMask))
}

// fromPtr re-tags a bare address.
func fromPtr(p unsafe.Pointer, tag Value) Value {
	return Value(uintptr(p)) | tag
}
