//go:build amd64

// Package amd64 is the one concrete architecture backend for the abstract
// emitter.Emitter contract (spec.md §4.7). It is grounded on the reference
// JIT's rax/rbx return-register convention and register free-list
// discipline (scm-jit_amd64.go, scm-jit_types.go's JITContext): this file
// plays the role their jitCompileExprBody/JITContext pair does, but speaks
// the abstract Emitter interface instead of a single hardcoded calling
// convention for one Go function shape.
package amd64

import (
	"encoding/binary"

	"github.com/markus456/golisp/internal/emitter"
)

// Physical register encodings (ModRM/REX numbering, ignoring the high bit
// carried in REX.B/R/X — addRex folds that in separately).
const (
	rax = emitter.Reg(0)
	rcx = emitter.Reg(1)
	rdx = emitter.Reg(2)
	rbx = emitter.Reg(3)
	rsp = emitter.Reg(4)
	rbp = emitter.Reg(5)
	rsi = emitter.Reg(6)
	rdi = emitter.Reg(7)
	r8  = emitter.Reg(8)
	r9  = emitter.Reg(9)
	r10 = emitter.Reg(10)
	r11 = emitter.Reg(11)
)

type fixup struct {
	pos  int32 // byte offset of the displacement field
	lbl  emitter.Label
	size uint8 // always 4: every jump is emitted with a rel32 displacement
	cur  int32 // offset immediately after the displacement field
}

// Emitter implements emitter.Emitter for amd64. The calling convention it
// assumes matches spec.md §4.7 exactly: the argument-array pointer arrives
// in RAX, the result leaves in RBX, and RCX/RDX are available as scratch
// — mirroring the reference JIT's rax(ptr)/rbx(aux) return-register pair,
// repurposed here as (incoming args pointer)/(outgoing result).
type Emitter struct {
	code    []byte
	labels  map[emitter.Label]int32
	fixups  []fixup
	nextLbl emitter.Label

	// prologueImmPos records the byte offset just past the prologue's
	// reserve instruction's 32-bit immediate, so PatchFrameSize can
	// rewrite it once the real spill count is known. The epilogue's free
	// is emitted after that count is already final, so it needs no patch.
	prologueImmPos int32
}

func New() *Emitter {
	return &Emitter{labels: make(map[emitter.Label]int32)}
}

func (e *Emitter) ArgReg() emitter.Reg    { return rax }
func (e *Emitter) ResultReg() emitter.Reg { return rbx }
func (e *Emitter) TempRegs() []emitter.Reg {
	return []emitter.Reg{rcx, rdx, rsi, rdi, r8, r9, r10, r11}
}

func (e *Emitter) Pos() int32 { return int32(len(e.code)) }

func (e *Emitter) emit(b ...byte) { e.code = append(e.code, b...) }

// rex builds a REX prefix: W=64-bit operand, R/X/B extend reg fields into
// r8-r15.
func rex(w bool, r, x, b emitter.Reg) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r >= 8 {
		v |= 0x04
	}
	if x >= 8 {
		v |= 0x02
	}
	if b >= 8 {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm emitter.Reg) byte {
	return byte(mod)<<6 | byte(reg&7)<<3 | byte(rm&7)
}

// --- data movement ---

func (e *Emitter) MovRegReg(dst, src emitter.Reg) {
	if dst == src {
		return
	}
	e.emit(rex(true, src, 0, dst), 0x89, modrm(3, src, dst))
}

func (e *Emitter) MovImm64(dst emitter.Reg, imm int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(imm))
	e.emit(rex(true, 0, 0, dst), 0xB8+byte(dst&7))
	e.emit(buf[:]...)
}

func (e *Emitter) LoadMem(dst, base emitter.Reg, disp int32) {
	e.emitMemOp(0x8B, dst, base, disp)
}

func (e *Emitter) StoreMem(base emitter.Reg, disp int32, src emitter.Reg) {
	e.emitMemOp(0x89, src, base, disp)
}

// emitMemOp encodes `op reg, [base+disp]` (or the store form, `op
// [base+disp], reg`), choosing a disp8 or disp32 ModRM form.
func (e *Emitter) emitMemOp(opcode byte, reg, base emitter.Reg, disp int32) {
	e.emit(rex(true, reg, 0, base), opcode)
	switch {
	case disp == 0 && base&7 != 5:
		e.emit(modrm(0, reg, base))
		if base&7 == 4 {
			e.emit(0x24) // SIB: base, no index
		}
	case disp >= -128 && disp <= 127:
		e.emit(modrm(1, reg, base))
		if base&7 == 4 {
			e.emit(0x24)
		}
		e.emit(byte(int8(disp)))
	default:
		e.emit(modrm(2, reg, base))
		if base&7 == 4 {
			e.emit(0x24)
		}
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(disp))
		e.emit(buf[:]...)
	}
}

// --- arithmetic ---

func (e *Emitter) Add(dst, src emitter.Reg) {
	e.emit(rex(true, src, 0, dst), 0x01, modrm(3, src, dst))
}

func (e *Emitter) Sub(dst, src emitter.Reg) {
	e.emit(rex(true, src, 0, dst), 0x29, modrm(3, src, dst))
}

func (e *Emitter) AddImm32(dst emitter.Reg, imm int32) {
	e.addImm32At(dst, imm)
}

// addImm32At emits `add dst, imm` and returns the byte offset just past the
// 4-byte immediate field, so callers that may need to rewrite it later
// (PatchFrameSize) can find it again by subtracting 4.
func (e *Emitter) addImm32At(dst emitter.Reg, imm int32) int32 {
	e.emit(rex(true, 0, 0, dst), 0x81, modrm(3, emitter.Reg(0), dst))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(imm))
	e.emit(buf[:]...)
	return e.Pos()
}

func (e *Emitter) Neg(dst emitter.Reg) {
	e.emit(rex(true, 0, 0, dst), 0xF7, modrm(3, emitter.Reg(3), dst))
}

func (e *Emitter) SarImm(dst emitter.Reg, imm uint8) {
	e.emit(rex(true, 0, 0, dst), 0xC1, modrm(3, emitter.Reg(7), dst), imm)
}

// --- compare / branch ---

func (e *Emitter) Cmp(a, b emitter.Reg) {
	e.emit(rex(true, b, 0, a), 0x39, modrm(3, b, a))
}

func (e *Emitter) SetIf(dst emitter.Reg, cond emitter.Cond, trueVal, falseVal int64) {
	skip := e.NewLabel()
	done := e.NewLabel()
	e.emitJcc(invertByte(condByte(cond)), skip)
	e.MovImm64(dst, trueVal)
	e.Jump(done)
	e.Bind(skip)
	e.MovImm64(dst, falseVal)
	e.Bind(done)
}

// condByte maps a Cond to the Jcc tttn nibble (0x0F 0x8x family).
func condByte(c emitter.Cond) byte {
	switch c {
	case emitter.CondLess:
		return 0x8C // JL
	case emitter.CondEqual:
		return 0x84 // JE
	case emitter.CondNotEqual:
		return 0x85 // JNE
	}
	panic("amd64: unknown condition")
}

// invertByte flips a Jcc condition byte to its logical negation (the
// x86 tttn encoding negates by toggling the low bit).
func invertByte(b byte) byte { return b ^ 0x01 }

func (e *Emitter) emitJcc(jccByte byte, lbl emitter.Label) {
	e.emit(0x0F, jccByte)
	e.recordFixup(lbl, 4)
	var buf [4]byte
	e.emit(buf[:]...)
}

// --- stack ---

func (e *Emitter) Push(r emitter.Reg) {
	if r >= 8 {
		e.emit(0x41)
	}
	e.emit(0x50 + byte(r&7))
}

func (e *Emitter) Pop(r emitter.Reg) {
	if r >= 8 {
		e.emit(0x41)
	}
	e.emit(0x58 + byte(r&7))
}

func (e *Emitter) ReserveStack(bytes int32) {
	if bytes == 0 {
		return
	}
	e.AddImm32(rsp, -bytes)
}

func (e *Emitter) FreeStack(bytes int32) {
	if bytes == 0 {
		return
	}
	e.AddImm32(rsp, bytes)
}

// StoreStackSlot/LoadStackSlot address spill slots relative to RBP, one
// 8-byte slot per index, growing downward from the saved frame pointer
// (spec.md §4.7's "numbered slot on the stack frame").
func (e *Emitter) StoreStackSlot(slot int32, src emitter.Reg) {
	e.StoreMem(rbp, -8*(slot+1), src)
}

func (e *Emitter) LoadStackSlot(dst emitter.Reg, slot int32) {
	e.LoadMem(dst, rbp, -8*(slot+1))
}

func (e *Emitter) LoadStackSlotAddr(dst emitter.Reg, slot int32) {
	// LEA dst, [rbp + disp]
	e.emit(rex(true, dst, 0, rbp))
	e.emit(0x8D)
	disp := -8 * (slot + 1)
	switch {
	case disp >= -128 && disp <= 127:
		e.emit(modrm(1, dst, rbp))
		e.emit(byte(int8(disp)))
	default:
		e.emit(modrm(2, dst, rbp))
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(disp))
		e.emit(buf[:]...)
	}
}

// --- control flow ---

func (e *Emitter) NewLabel() emitter.Label {
	e.nextLbl++
	return e.nextLbl
}

func (e *Emitter) Bind(lbl emitter.Label) {
	e.labels[lbl] = e.Pos()
	e.patchAll()
}

func (e *Emitter) JumpIf(cond emitter.Cond, lbl emitter.Label) {
	e.emitJcc(condByte(cond), lbl)
}

func (e *Emitter) Jump(lbl emitter.Label) {
	e.emit(0xE9)
	e.recordFixup(lbl, 4)
	var buf [4]byte
	e.emit(buf[:]...)
}

func (e *Emitter) recordFixup(lbl emitter.Label, size uint8) {
	e.fixups = append(e.fixups, fixup{pos: e.Pos(), lbl: lbl, size: size, cur: e.Pos() + int32(size)})
}

// patchAll rewrites every fixup whose label is now bound. Called after
// each Bind so a label may be referenced both before and after its
// definition.
func (e *Emitter) patchAll() {
	kept := e.fixups[:0]
	for _, f := range e.fixups {
		target, ok := e.labels[f.lbl]
		if !ok {
			kept = append(kept, f)
			continue
		}
		rel := target - f.cur
		binary.LittleEndian.PutUint32(e.code[f.pos:f.pos+4], uint32(rel))
	}
	e.fixups = kept
}

func (e *Emitter) CallReg(r emitter.Reg) {
	if r >= 8 {
		e.emit(0x41)
	}
	e.emit(0xFF, modrm(3, emitter.Reg(2), r))
}

func (e *Emitter) Ret() { e.emit(0xC3) }

func (e *Emitter) Prologue(spillBytes int32) {
	e.Push(rbp)
	e.MovRegReg(rbp, rsp)
	// Always emit the reserve, even for spillBytes == 0: AddImm32's
	// encoding is fixed-width regardless of the immediate's value, so
	// PatchFrameSize can fill in the true count later without disturbing
	// any code or label position that follows (spec.md §4.7).
	e.prologueImmPos = e.addImm32At(rsp, -spillBytes)
}

func (e *Emitter) Epilogue(spillBytes int32) {
	e.addImm32At(rsp, spillBytes)
	e.Pop(rbp)
	e.Ret()
}

func (e *Emitter) PatchFrameSize(bytes int32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(-bytes))
	copy(e.code[e.prologueImmPos-4:e.prologueImmPos], buf[:])
}

func (e *Emitter) Bytes() []byte {
	if len(e.fixups) != 0 {
		panic("amd64: Bytes called with unresolved label fixups")
	}
	return e.code
}
