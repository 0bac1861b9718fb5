// Package emitter declares the abstract instruction-emitter contract the
// JIT back end compiles against (spec.md §4.7): "register-to-register
// move, register-to/from-memory at a small displacement, reserve/free
// stack, push/pop, arithmetic on 64-bit registers and 32-bit immediates,
// compare, conditional jumps with 8- or 32-bit displacements, unconditional
// jump, call of a register, return, and a prologue/epilogue pair." The
// specification deliberately does not name an ISA; internal/emitter/amd64
// is the one concrete implementation shipped here, modeled on the
// register-bitmap/JITContext discipline of the reference JIT this package
// is grounded on.
package emitter

// Reg is an abstract hardware register index. Its meaning (which physical
// register it names) is defined entirely by the concrete Emitter.
type Reg uint8

// Cond names a comparison outcome a conditional jump can test.
type Cond uint8

const (
	CondLess Cond = iota
	CondEqual
	CondNotEqual
)

// Label identifies a not-yet-placed jump target. Emit* calls that jump to
// a Label record a fixup; Bind writes the label's position and the back
// end patches every outstanding fixup once all labels are bound.
type Label int

// Emitter accumulates machine code for one compiled function body into an
// internal byte buffer. Every method appends bytes; nothing here touches
// memory protection or page allocation (that is internal/jit's job, via
// the x/sys/unix-backed executable-page allocator).
type Emitter interface {
	// ArgReg and ResultReg name the argument-pointer and result registers
	// of the calling convention of spec.md §4.7; TempRegs lists the
	// general-purpose registers the back end's register allocator may use.
	ArgReg() Reg
	ResultReg() Reg
	TempRegs() []Reg

	// NewLabel allocates a fresh unbound label.
	NewLabel() Label
	// Bind fixes lbl's target to the current write position, patching any
	// fixups recorded by earlier jumps to it.
	Bind(lbl Label)

	MovRegReg(dst, src Reg)
	MovImm64(dst Reg, imm int64)
	LoadMem(dst, base Reg, disp int32)
	StoreMem(base Reg, disp int32, src Reg)

	Add(dst, src Reg)
	Sub(dst, src Reg)
	AddImm32(dst Reg, imm int32)
	Neg(dst Reg)
	// SarImm arithmetic-shifts dst right by imm bits, sign-extending. Used
	// to strip the tag-shift off a tagged integer before a signed compare
	// (spec.md §4.6's LESS semantics).
	SarImm(dst Reg, imm uint8)

	// Cmp compares a and b and records the condition for the next
	// JumpIf/SetIf; EQ uses pointer identity, LESS a signed compare, per
	// spec.md §4.6's numeric semantics.
	Cmp(a, b Reg)
	// SetIf materializes cond (from the most recent Cmp) as True/Nil into
	// dst, using the tagged-constant encoding the caller supplies.
	SetIf(dst Reg, cond Cond, trueVal, falseVal int64)

	Push(r Reg)
	Pop(r Reg)
	ReserveStack(bytes int32)
	FreeStack(bytes int32)
	StoreStackSlot(slot int32, src Reg)
	LoadStackSlot(dst Reg, slot int32)
	// LoadStackSlotAddr computes the address of a spill slot into dst,
	// used to hand a compiled callee a pointer to a freshly built argument
	// array living in the caller's own spill slots.
	LoadStackSlotAddr(dst Reg, slot int32)

	JumpIf(cond Cond, lbl Label)
	Jump(lbl Label)
	CallReg(r Reg)
	Ret()

	// Prologue/Epilogue bracket the function body, reserving spillBytes of
	// stack for spill slots. The true spill count is only known once the
	// whole body has been walked (register counting and calls may both
	// introduce slots), so the back end emits Prologue with a placeholder
	// of 0, calls PatchFrameSize once codegen finishes (spec.md §4.7:
	// "displacements are recorded as markers and patched once the final
	// prologue size ... is known"), and then emits Epilogue with the final
	// count.
	Prologue(spillBytes int32)
	Epilogue(spillBytes int32)
	// PatchFrameSize rewrites the immediate operand Prologue emitted so it
	// reserves bytes of stack. Safe to call only because
	// this architecture's AddImm32 always encodes a fixed-width 32-bit
	// immediate, so the patch never changes the surrounding code's length.
	PatchFrameSize(bytes int32)

	// Bytes returns the accumulated machine code. Valid only after every
	// label has been Bind-ed; calling it earlier panics.
	Bytes() []byte

	// Pos reports the current write offset. The amd64 emitter uses it for
	// label and fixup bookkeeping; every jump it emits is rel32.
	Pos() int32
}
