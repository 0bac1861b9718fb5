package jit

import "github.com/markus456/golisp/internal/rt"

// fold performs constant folding bottom-up (spec.md §4.6/§8's testable
// property: nested +/- over integer literals collapse to a single
// CONSTANT, with no ADD/SUB nodes surviving in the emitted IR).
func fold(b *Bite) *Bite {
	if b == nil {
		return nil
	}
	for i, a := range b.Args {
		b.Args[i] = fold(a)
	}
	b.Then = fold(b.Then)
	b.Else = fold(b.Else)

	switch b.Op {
	case OpNeg:
		if isIntConst(b.Args[0]) {
			return &Bite{Op: OpConstant, Const: rt.Int(-b.Args[0].Const.Int64())}
		}
	case OpAdd:
		if isIntConst(b.Args[0]) && isIntConst(b.Args[1]) {
			return &Bite{Op: OpConstant, Const: rt.Int(b.Args[0].Const.Int64() + b.Args[1].Const.Int64())}
		}
	case OpSub:
		if isIntConst(b.Args[0]) && isIntConst(b.Args[1]) {
			return &Bite{Op: OpConstant, Const: rt.Int(b.Args[0].Const.Int64() - b.Args[1].Const.Int64())}
		}
	case OpLess:
		if isIntConst(b.Args[0]) && isIntConst(b.Args[1]) {
			return &Bite{Op: OpConstant, Const: rt.Bool(b.Args[0].Const.Int64() < b.Args[1].Const.Int64())}
		}
	case OpEq:
		if b.Args[0].Op == OpConstant && b.Args[1].Op == OpConstant {
			return &Bite{Op: OpConstant, Const: rt.Bool(b.Args[0].Const == b.Args[1].Const)}
		}
	case OpIf:
		if b.Args[0].Op == OpConstant {
			if !b.Args[0].Const.IsNil() {
				return b.Then
			}
			return b.Else
		}
	}
	return b
}

func isIntConst(b *Bite) bool {
	return b.Op == OpConstant && b.Const.IsInt()
}
