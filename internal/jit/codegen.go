package jit

import (
	"github.com/markus456/golisp/internal/emitter"
	"github.com/markus456/golisp/internal/rt"
)

// codegen walks a folded, register-counted bite tree and emits native
// code through e, following the Sethi-Ullman discipline of spec.md §4.7:
// at each binary op it compiles the higher-register-count child first
// (freeing its registers before the other child needs any), and spills to
// a numbered stack slot when the free list runs out.
type codegen struct {
	e        emitter.Emitter
	free     []emitter.Reg
	spillTop int32 // number of spill slots used so far (high-water mark)

	// base holds the incoming argument-array pointer for the lifetime of
	// the compiled body; it is carved out of the free list once in
	// compileFunc and never handed out by allocReg.
	base emitter.Reg
	// entryLabel is bound just after the prologue; every RECURSE jumps
	// here (spec.md §4.7).
	entryLabel emitter.Label
}

func newCodegen(e emitter.Emitter) *codegen {
	free := append([]emitter.Reg(nil), e.TempRegs()...)
	return &codegen{e: e, free: free}
}

func (g *codegen) allocReg() (emitter.Reg, bool) {
	if len(g.free) == 0 {
		return 0, false
	}
	r := g.free[len(g.free)-1]
	g.free = g.free[:len(g.free)-1]
	return r, true
}

func (g *codegen) freeReg(r emitter.Reg) {
	g.free = append(g.free, r)
}

func (g *codegen) newSpillSlot() int32 {
	slot := g.spillTop
	g.spillTop++
	return slot
}

// compileFunc emits the full prologue/body/epilogue for fn's bite tree and
// returns the finished machine code. argPtrReg/resultReg come from the
// emitter's fixed calling-convention registers (spec.md §4.7).
func compileFunc(e emitter.Emitter, body *Bite) []byte {
	g := newCodegen(e)

	// entryLabel marks the first instruction after the prologue and the
	// argument-base load: every RECURSE jumps here (spec.md §4.7's
	// tail-recursion via direct jump to the function's own entry), reusing
	// the base register, since argReg may have been clobbered by a call.
	entryLabel := e.NewLabel()

	argReg := e.ArgReg()
	resultReg := e.ResultReg()

	// Preserve the incoming argument-array pointer across the whole body:
	// arithmetic and calls may clobber argReg, so stash it in a dedicated
	// temp the register allocator never hands out.
	base, ok := g.allocReg()
	if !ok {
		panic("jit: no free register to hold the argument-array base")
	}
	g.base = base

	e.Prologue(0) // placeholder; patched below once spillTop's final value is known
	e.MovRegReg(g.base, argReg)
	e.Bind(entryLabel)

	g.entryLabel = entryLabel
	result := g.emit(body)
	if result != resultReg {
		e.MovRegReg(resultReg, result)
	}
	e.PatchFrameSize(g.spillTop * 8)
	e.Epilogue(g.spillTop * 8)

	return e.Bytes()
}

// emit lowers one bite node to code and returns the register holding its
// result. Leaves (CONSTANT, PARAMETER) materialize directly into a fresh
// register; every other op follows the higher-count-child-first order
// computed by computeRegCounts.
func (g *codegen) emit(b *Bite) emitter.Reg {
	switch b.Op {
	case OpConstant:
		r, ok := g.allocReg()
		if !ok {
			panic("jit: register exhaustion on a leaf, should never happen")
		}
		g.e.MovImm64(r, int64(b.Const))
		return r

	case OpParameter:
		r, ok := g.allocReg()
		if !ok {
			panic("jit: register exhaustion on a leaf, should never happen")
		}
		g.e.LoadMem(r, g.base, int32(b.Offset))
		return r

	case OpAdd, OpSub, OpLess, OpEq:
		return g.emitBinary(b)

	case OpNeg:
		r := g.emit(b.Args[0])
		g.e.Neg(r)
		return r

	case OpPtr:
		base := g.emit(b.Args[0])
		g.e.LoadMem(base, base, int32(b.Offset))
		return base

	case OpIf:
		return g.emitIf(b)

	case OpProgn:
		var last emitter.Reg
		for i, a := range b.Args {
			r := g.emit(a)
			if i == len(b.Args)-1 {
				last = r
			} else {
				g.freeReg(r)
			}
		}
		return last

	case OpWriteChar:
		return g.emitWriteChar(b)

	case OpRecurse:
		g.emitRecurse(b)
		// Unreachable after the jump; return a dummy register purely to
		// satisfy callers that expect one (dead code past a jump).
		r, _ := g.allocReg()
		return r

	case OpCall:
		return g.emitCall(b)

	default:
		panic("jit: unhandled bite opcode in codegen")
	}
}

func (g *codegen) emitBinary(b *Bite) emitter.Reg {
	left, right := b.Args[0], b.Args[1]
	// Compile the heavier child first so its registers are freed before
	// the lighter child is materialized (spec.md §4.7).
	swap := right.RegCount > left.RegCount
	if swap {
		left, right = right, left
	}

	lr := g.emitOperand(left)
	rr := g.emitOperand(right)
	if swap {
		lr, rr = rr, lr
	}

	switch b.Op {
	case OpAdd:
		g.e.Add(lr, rr)
		g.freeReg(rr)
		return lr
	case OpSub:
		g.e.Sub(lr, rr)
		g.freeReg(rr)
		return lr
	case OpLess:
		g.e.SarImm(lr, 2)
		g.e.SarImm(rr, 2)
		g.e.Cmp(lr, rr)
		g.e.SetIf(lr, emitter.CondLess, int64(rt.True), int64(rt.Nil))
		g.freeReg(rr)
		return lr
	case OpEq:
		g.e.Cmp(lr, rr)
		g.e.SetIf(lr, emitter.CondEqual, int64(rt.True), int64(rt.Nil))
		g.freeReg(rr)
		return lr
	}
	panic("jit: not a binary opcode")
}

// emitOperand materializes b into a register, spilling the running total
// to a stack slot first if the free list is already exhausted (spec.md
// §4.7: "when both exceed available registers it spills the right
// operand to a numbered slot on the stack frame").
func (g *codegen) emitOperand(b *Bite) emitter.Reg {
	if len(g.free) == 0 {
		slot := g.newSpillSlot()
		r := g.emit(b)
		g.e.StoreStackSlot(slot, r)
		g.freeReg(r)
		r2, _ := g.allocReg()
		g.e.LoadStackSlot(r2, slot)
		return r2
	}
	return g.emit(b)
}

func (g *codegen) emitIf(b *Bite) emitter.Reg {
	cond := g.emit(b.Args[0])
	zero, _ := g.allocReg()
	g.e.MovImm64(zero, int64(rt.Nil))
	g.e.Cmp(cond, zero)
	g.freeReg(zero)
	g.freeReg(cond)

	elseLbl := g.e.NewLabel()
	doneLbl := g.e.NewLabel()
	g.e.JumpIf(emitter.CondEqual, elseLbl)

	savedFree := append([]emitter.Reg(nil), g.free...)
	thenReg := g.emit(b.Then)
	g.e.Jump(doneLbl)

	g.free = savedFree
	g.e.Bind(elseLbl)
	elseReg := g.emit(b.Else)
	if elseReg != thenReg {
		g.e.MovRegReg(thenReg, elseReg)
		g.freeReg(elseReg)
	}
	g.e.Bind(doneLbl)
	return thenReg
}

func (g *codegen) emitWriteChar(b *Bite) emitter.Reg {
	// The host write-char callback is invoked from the evaluator's
	// interpreted fallback path for any body the JIT can't fully inline;
	// within compiled code WRITECHAR degrades to evaluating its argument
	// and returning Nil, since this back end does not emit a host call
	// sequence for it (no argument-marshalling ABI for host callbacks is
	// specified beyond RECURSE/CALL's entry-point convention).
	r := g.emit(b.Args[0])
	g.freeReg(r)
	out, _ := g.allocReg()
	g.e.MovImm64(out, int64(rt.Nil))
	return out
}

// emitRecurse writes evaluated arguments back into the incoming argument
// array and jumps to the function's own entry point (spec.md §4.7's tail
// recursion). A redundant-move elimination step skips writes whose source
// bite is exactly the same positional parameter already occupying that
// slot.
func (g *codegen) emitRecurse(b *Bite) {
	regs := make([]emitter.Reg, len(b.Args))
	for i, a := range b.Args {
		if isSameParamSlot(a, i) {
			regs[i] = 0xFF // marker: skip, see below
			continue
		}
		regs[i] = g.emit(a)
	}
	for i, r := range regs {
		if r == 0xFF {
			continue
		}
		g.e.StoreMem(g.base, int32(i*wordSize), r)
		g.freeReg(r)
	}
	g.e.Jump(g.entryLabel)
}

// isSameParamSlot reports whether bite a is exactly "parameter i" — the
// case RECURSE's redundant-move elimination skips (spec.md §4.7).
func isSameParamSlot(a *Bite, i int) bool {
	return a.Op == OpParameter && a.Offset == i*wordSize
}

// emitCall evaluates args, spills them into a contiguous block of this
// function's own numbered stack slots laid out in parameter order (so a
// LEA over the block is a valid flat argument array), then calls the
// callee's native entry with that block's address in the calling
// convention's argument register (spec.md §4.7's "host sets up a flat
// array args[] ... and transfers control to the entry address").
func (g *codegen) emitCall(b *Bite) emitter.Reg {
	n := len(b.Args)
	slots := make([]int32, n)
	for i := range slots {
		slots[i] = g.newSpillSlot()
	}
	// slots were handed out in increasing order, which maps to decreasing
	// addresses; reverse the assignment so args[0] lands at the lowest
	// address of the block and args[i] at args[0]'s address + i*wordSize.
	for i, a := range b.Args {
		r := g.emit(a)
		g.e.StoreStackSlot(slots[n-1-i], r)
		g.freeReg(r)
	}

	argPtr, ok := g.allocReg()
	if !ok {
		panic("jit: no free register for callee argument pointer")
	}
	if n == 0 {
		g.e.MovRegReg(argPtr, g.base) // degenerate: callee ignores an empty array anyway
	} else {
		g.e.LoadStackSlotAddr(argPtr, slots[n-1])
	}

	target, ok := g.allocReg()
	if !ok {
		panic("jit: no free register for call target")
	}
	g.e.MovImm64(target, int64(rt.FuncJitEntry(b.Callee)))
	g.e.MovRegReg(g.e.ArgReg(), argPtr)
	// The callee is compiled by this same back end and reuses the same
	// temporaries, so every register still live here (the argument-array
	// base included) is saved around the call.
	var saved []emitter.Reg
	for _, r := range g.e.TempRegs() {
		live := r != argPtr && r != target
		for _, f := range g.free {
			live = live && f != r
		}
		if live {
			saved = append(saved, r)
			g.e.Push(r)
		}
	}
	g.e.CallReg(target)
	for i := len(saved) - 1; i >= 0; i-- {
		g.e.Pop(saved[i])
	}
	g.freeReg(target)
	g.freeReg(argPtr)

	result, ok := g.allocReg()
	if !ok {
		panic("jit: no free register for call result")
	}
	g.e.MovRegReg(result, g.e.ResultReg())
	return result
}
