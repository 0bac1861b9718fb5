// Package jit implements the tiered JIT compiler: the "bite" IR front end
// (resolve-symbols, validity check, constant folding, Sethi-Ullman
// register counting) and an amd64 back end that emits native code through
// the internal/emitter abstraction (spec.md §4.6-§4.8). It is grounded on
// the reference JIT's expression-tree compiler (scm-jit.go/scm-jit_amd64.go):
// where that compiler walks a dynamically-typed Scheme expression directly
// against Declaration.JITEmit callbacks, this one lowers to an explicit,
// inspectable IR first, matching this runtime's fixed, closed opcode set.
package jit

import "github.com/markus456/golisp/internal/rt"

// Op is a bite IR opcode (spec.md §4.6).
type Op int

const (
	OpConstant  Op = iota // CONSTANT(value)
	OpParameter           // PARAMETER(offset)
	OpAdd
	OpSub
	OpNeg
	OpLess
	OpEq
	OpPtr     // PTR(base, offset) — car/cdr
	OpIf      // IF(cond, then, else)
	OpRecurse // RECURSE(args) — tail self-call
	OpCall    // CALL(args, entryPtr) — non-tail call of another compiled fn
	OpProgn
	OpWriteChar
)

// Bite is one IR node. Only the fields relevant to Op are populated; the
// rest stay zero. RegCount is filled in by the Sethi-Ullman pass (sethiullman.go)
// and consumed by the back end (codegen.go).
type Bite struct {
	Op       Op
	Args     []*Bite
	Const    rt.Value // OpConstant
	Offset   int      // OpParameter: byte offset into the argument array; OpPtr: byte offset into the cell
	Then     *Bite    // OpIf
	Else     *Bite    // OpIf
	Callee   rt.Value // OpCall/OpRecurse: the target function object
	RegCount int
}

func leaf(op Op) *Bite { return &Bite{Op: op} }
