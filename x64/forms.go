package x64

import "fmt"

// rexBits accumulates the REX prefix's four meaningful bits while a form
// lowerer walks its operands, plus the forbid/force flags the legacy
// high-byte registers and the spl/bpl/sil/dil disambiguation case need.
type rexBits struct {
	w, r, x, b    bool
	forbid, force bool
}

// applyReg folds a register's REX consequences into rb, setting the bit
// pointed to by extBit (R, X, or B, depending on which ModR/M/SIB field the
// register occupies) when the register is one of r8..r15.
func (rb *rexBits) applyReg(reg Register, extBit *bool) {
	if reg.IsHighByte() {
		rb.forbid = true
	}
	if reg.NeedsRexToDisambiguate() {
		rb.force = true
	}
	if reg.IsExtended() {
		*extBit = true
	}
}

func mustOpcode(ok bool, m Mnemonic, form EncodingForm) {
	if !ok {
		panic(fmt.Sprintf("BUG: no opcode for (%s, %s)", m, form))
	}
}

func mustExt(ok bool, m Mnemonic) {
	if !ok {
		panic(fmt.Sprintf("BUG: no modrm extension for %s", m))
	}
}

func emitOpcode(e *Encoder, op Opcode) {
	b := op.Bytes()
	if len(b) == 1 {
		e.Opcode1Byte(b[0])
	} else {
		e.Opcode2Byte(b[0], b[1])
	}
}

func fitsI8(v int32) bool { return v >= -128 && v <= 127 }

// rexForRM folds the REX consequences of a RegisterOrMemory operand into rb:
// a direct register contributes to B; a memory operand's base contributes to
// B and its SIB index (if any) contributes to X.
func rexForRM(rm RegisterOrMemory, rb *rexBits) {
	if !rm.IsMemory() {
		rb.applyReg(rm.Register(), &rb.b)
		return
	}
	mem := rm.Memory()
	if mem.Base != nil {
		rb.applyReg(*mem.Base, &rb.b)
	}
	if mem.SIB != nil {
		rb.applyReg(mem.SIB.Index, &rb.x)
	}
}

// emitModRM writes the ModR/M byte (and any SIB/displacement that follow
// it) for rm, with regField occupying the ModR/M.reg position — either a
// register's low 3 bits or an opcode-extension nibble. This implements the
// SDM's addressing-mode selection table (Vol. 2 §2.1.5, tables 2-2/2-3),
// including the rsp/r12 forced-SIB and rbp/r13 disp0-forbidden edge cases.
func emitModRM(e *Encoder, regField byte, rm RegisterOrMemory) {
	if !rm.IsMemory() {
		e.ModRMDirect(regField, rm.Register().LowID())
		return
	}
	mem := rm.Memory()
	switch {
	case mem.RipRelative:
		e.ModRMRipDisp32(regField)
		e.Disp32(mem.Displacement)
	case mem.Base == nil:
		e.ModRMSIBDisp0(regField)
		e.SIB(0, 4, 5)
		e.Disp32(mem.Displacement)
	default:
		base := *mem.Base
		baseLow3 := base.LowID()
		disp := mem.Displacement
		useSIB := mem.SIB != nil || baseLow3 == 4
		if useSIB {
			var scale, indexLow3 byte
			if mem.SIB != nil {
				scale = mem.SIB.Scale
				indexLow3 = mem.SIB.Index.LowID()
			} else {
				indexLow3 = 4 // no index
			}
			switch {
			case disp == 0 && baseLow3 != 5:
				e.ModRMSIBDisp0(regField)
				e.SIB(scale, indexLow3, baseLow3)
			case baseLow3 == 5 && disp == 0:
				e.ModRMSIBDisp8(regField)
				e.SIB(scale, indexLow3, baseLow3)
				e.Disp8(0)
			case fitsI8(disp):
				e.ModRMSIBDisp8(regField)
				e.SIB(scale, indexLow3, baseLow3)
				e.Disp8(int8(disp))
			default:
				e.ModRMSIBDisp32(regField)
				e.SIB(scale, indexLow3, baseLow3)
				e.Disp32(disp)
			}
			return
		}
		switch {
		case disp == 0 && baseLow3 != 5:
			e.ModRMIndirectDisp0(regField, baseLow3)
		case baseLow3 == 5 && disp == 0:
			e.ModRMIndirectDisp8(regField, baseLow3)
			e.Disp8(0)
		case fitsI8(disp):
			e.ModRMIndirectDisp8(regField, baseLow3)
			e.Disp8(int8(disp))
		default:
			e.ModRMIndirectDisp32(regField, baseLow3)
			e.Disp32(disp)
		}
	}
}

// lowerZO emits a no-operand instruction.
func lowerZO(e *Encoder, m Mnemonic) {
	op, ok := opcode(m, FormZO, false)
	mustOpcode(ok, m, FormZO)
	emitOpcode(e, op)
}

// lowerD emits an opcode followed by a 32-bit displacement placeholder and
// returns the byte offset the placeholder starts at, for the caller to
// register as a relocation's patch_offset.
func lowerD(e *Encoder, m Mnemonic) int {
	op, ok := opcode(m, FormD, false)
	mustOpcode(ok, m, FormD)
	emitOpcode(e, op)
	patchOffset := e.Len()
	e.Disp32(0)
	return patchOffset
}

// lowerO emits OP reg, with the register's low 3 bits embedded in the
// opcode byte (push/pop).
func lowerO(e *Encoder, m Mnemonic, reg Register) error {
	if reg.Width() != Width16 && reg.Width() != Width64 {
		return ErrOperandSizeMismatch
	}
	op, ok := opcode(m, FormO, false)
	mustOpcode(ok, m, FormO)
	var rb rexBits
	rb.applyReg(reg, &rb.b)
	if reg.Width() == Width16 {
		e.Prefix16Bit()
	}
	e.Rex(false, rb.r, rb.x, rb.b, rb.forbid, rb.force)
	e.OpcodeWithReg(op.Bytes()[0], reg.LowID())
	return nil
}

// lowerI emits OP imm. opWidth means different things per mnemonic: for
// ret_near/ret_far it is ignored (the immediate is always 16-bit); for push
// it is simply the chosen immediate width (8/16/32, no REX involved); for
// test (the accumulator form) it is the implicit rax operand's width, which
// drives REX.W when 64.
func lowerI(e *Encoder, m Mnemonic, opWidth Width, imm int64) error {
	switch m.family {
	case mRetNear, mRetFar:
		op, ok := opcode(m, FormI, false)
		mustOpcode(ok, m, FormI)
		emitOpcode(e, op)
		e.Imm16(uint16(imm)) // invariant 6: always 16 bits, value notwithstanding.
		return nil

	case mPush:
		isByte := opWidth == Width8
		op, ok := opcode(m, FormI, isByte)
		mustOpcode(ok, m, FormI)
		if opWidth == Width16 {
			e.Prefix16Bit()
		}
		emitOpcode(e, op)
		switch opWidth {
		case Width8:
			e.Imm8(uint8(imm))
		case Width16:
			e.Imm16(uint16(imm))
		case Width32:
			e.Imm32(uint32(imm))
		default:
			return ErrOperandSizeMismatch
		}
		return nil

	case mTest:
		isByte := opWidth == Width8
		op, ok := opcode(m, FormI, isByte)
		mustOpcode(ok, m, FormI)
		if opWidth == Width16 {
			e.Prefix16Bit()
		}
		if opWidth == Width64 {
			e.Rex(true, false, false, false, false, false)
		}
		emitOpcode(e, op)
		switch opWidth {
		case Width8:
			e.Imm8(uint8(imm))
		case Width16:
			e.Imm16(uint16(imm))
		case Width32, Width64:
			e.Imm32(uint32(imm))
		}
		return nil

	default:
		panic(fmt.Sprintf("BUG: %s has no I-form lowering", m))
	}
}

// lowerM emits OP r/m: jmp/call/push indirect, pop, or a conditional
// set-byte destination.
func lowerM(e *Encoder, m Mnemonic, rm RegisterOrMemory) error {
	if rm.IsMemory() {
		rm.Memory().Validate()
		w := rm.Memory().Size.Width()
		if w != Width16 && w != Width64 {
			return ErrOperandSizeMismatch
		}
	} else {
		reg := rm.Register()
		if m.IsSetByte() {
			if reg.Width() != Width8 {
				return ErrOperandSizeMismatch
			}
		} else if reg.Width() != Width16 && reg.Width() != Width64 {
			return ErrOperandSizeMismatch
		}
	}
	op, ok := opcode(m, FormM, false)
	mustOpcode(ok, m, FormM)
	ext, ok := modrmExt(m)
	mustExt(ok, m)

	var rb rexBits
	rexForRM(rm, &rb)
	if rm.Width() == Width16 {
		e.Prefix16Bit()
	}
	e.Rex(false, rb.r, rb.x, rb.b, rb.forbid, rb.force)
	emitOpcode(e, op)
	emitModRM(e, ext, rm)
	return nil
}

// lowerMI emits OP r/m, imm. The operand width is taken from rm itself; the
// immediate is sign-extended conceptually for qword but only ever 4 bytes
// are written (the SDM's MI encoding for 64-bit operands takes a 32-bit
// immediate, sign-extended at execution time, never a full imm64).
func lowerMI(e *Encoder, m Mnemonic, rm RegisterOrMemory, imm int64) error {
	if rm.IsMemory() {
		rm.Memory().Validate()
	}
	width := rm.Width()
	isByte := width == Width8
	op, ok := opcode(m, FormMI, isByte)
	mustOpcode(ok, m, FormMI)
	ext, ok := modrmExt(m)
	mustExt(ok, m)

	var rb rexBits
	rexForRM(rm, &rb)
	if width == Width64 {
		rb.w = true
	}
	if width == Width16 {
		e.Prefix16Bit()
	}
	e.Rex(rb.w, rb.r, rb.x, rb.b, rb.forbid, rb.force)
	emitOpcode(e, op)
	emitModRM(e, ext, rm)
	switch width {
	case Width8:
		e.Imm8(uint8(imm))
	case Width16:
		e.Imm16(uint16(imm))
	case Width32, Width64:
		e.Imm32(uint32(imm))
	}
	return nil
}

// lowerMR emits OP r/m, reg.
func lowerMR(e *Encoder, m Mnemonic, rm RegisterOrMemory, reg Register) error {
	if rm.IsMemory() {
		rm.Memory().Validate()
	}
	if rm.Width() != reg.Width() {
		return ErrOperandSizeMismatch
	}
	width := reg.Width()
	isByte := width == Width8
	op, ok := opcode(m, FormMR, isByte)
	mustOpcode(ok, m, FormMR)

	var rb rexBits
	rexForRM(rm, &rb)
	rb.applyReg(reg, &rb.r)
	if width == Width64 {
		rb.w = true
	}
	if width == Width16 {
		e.Prefix16Bit()
	}
	e.Rex(rb.w, rb.r, rb.x, rb.b, rb.forbid, rb.force)
	emitOpcode(e, op)
	emitModRM(e, reg.LowID(), rm)
	return nil
}

// lowerRM emits OP reg, r/m.
func lowerRM(e *Encoder, m Mnemonic, reg Register, rm RegisterOrMemory) error {
	if rm.IsMemory() {
		rm.Memory().Validate()
	}
	if rm.Width() != reg.Width() {
		return ErrOperandSizeMismatch
	}
	width := reg.Width()
	isByte := width == Width8
	op, ok := opcode(m, FormRM, isByte)
	mustOpcode(ok, m, FormRM)

	var rb rexBits
	rb.applyReg(reg, &rb.r)
	rexForRM(rm, &rb)
	if width == Width64 {
		rb.w = true
	}
	if width == Width16 {
		e.Prefix16Bit()
	}
	e.Rex(rb.w, rb.r, rb.x, rb.b, rb.forbid, rb.force)
	emitOpcode(e, op)
	emitModRM(e, reg.LowID(), rm)
	return nil
}

// lowerOI emits OP reg, imm, with the register's low 3 bits embedded in the
// opcode byte. The 64-bit form is the movabs encoding (a full 8-byte
// immediate).
func lowerOI(e *Encoder, m Mnemonic, reg Register, imm uint64) error {
	isByte := reg.Width() == Width8
	op, ok := opcode(m, FormOI, isByte)
	mustOpcode(ok, m, FormOI)

	var rb rexBits
	rb.applyReg(reg, &rb.b)
	if reg.Width() == Width64 {
		rb.w = true
	}
	if reg.Width() == Width16 {
		e.Prefix16Bit()
	}
	e.Rex(rb.w, false, false, rb.b, rb.forbid, rb.force)
	e.OpcodeWithReg(op.Bytes()[0], reg.LowID())
	switch reg.Width() {
	case Width8:
		e.Imm8(uint8(imm))
	case Width16:
		e.Imm16(uint16(imm))
	case Width32:
		e.Imm32(uint32(imm))
	case Width64:
		e.Imm64(imm)
	}
	return nil
}

// lowerFD emits MOV reg, moffs (accumulator <- absolute address).
func lowerFD(e *Encoder, m Mnemonic, reg Register, moffs Moffs) error {
	if !reg.IsRAX() {
		return ErrRaxOperandExpected
	}
	if moffs.Size.Width() != reg.Width() {
		return ErrOperandSizeMismatch
	}
	isByte := reg.Width() == Width8
	op, ok := opcode(m, FormFD, isByte)
	mustOpcode(ok, m, FormFD)

	w := reg.Width() == Width64
	if reg.Width() == Width16 {
		e.Prefix16Bit()
	}
	e.Rex(w, false, false, false, false, false)
	emitOpcode(e, op)
	e.Imm64(moffs.Addr)
	return nil
}

// lowerTD emits MOV moffs, reg (absolute address <- accumulator).
func lowerTD(e *Encoder, m Mnemonic, moffs Moffs, reg Register) error {
	if !reg.IsRAX() {
		return ErrRaxOperandExpected
	}
	if moffs.Size.Width() != reg.Width() {
		return ErrOperandSizeMismatch
	}
	isByte := reg.Width() == Width8
	op, ok := opcode(m, FormTD, isByte)
	mustOpcode(ok, m, FormTD)

	w := reg.Width() == Width64
	if reg.Width() == Width16 {
		e.Prefix16Bit()
	}
	e.Rex(w, false, false, false, false, false)
	emitOpcode(e, op)
	e.Imm64(moffs.Addr)
	return nil
}

// lowerRMI emits OP reg, r/m, imm (two-operand imul with an immediate).
// immIsByte is supplied by the caller rather than computed from the
// immediate's value: this form's two opcodes (6Bh imm8 / 69h imm32) select
// on the declared immediate width, not on whether the value happens to fit
// in a byte — the dispatcher's imul_complex sub-form always requests the
// 32-bit immediate, even for small constants.
func lowerRMI(e *Encoder, m Mnemonic, reg Register, rm RegisterOrMemory, imm int32, immIsByte bool) error {
	if reg.Width() == Width8 {
		return ErrOperandSizeMismatch
	}
	if rm.IsMemory() {
		rm.Memory().Validate()
		if rm.Memory().Size == PtrByte {
			return ErrOperandSizeMismatch
		}
	}
	if rm.Width() != reg.Width() {
		return ErrOperandSizeMismatch
	}
	op, ok := opcode(m, FormRMI, immIsByte)
	mustOpcode(ok, m, FormRMI)

	var rb rexBits
	rb.applyReg(reg, &rb.r)
	rexForRM(rm, &rb)
	if reg.Width() == Width64 {
		rb.w = true
	}
	if reg.Width() == Width16 {
		e.Prefix16Bit()
	}
	e.Rex(rb.w, rb.r, rb.x, rb.b, rb.forbid, rb.force)
	emitOpcode(e, op)
	emitModRM(e, reg.LowID(), rm)
	if immIsByte {
		e.Imm8(uint8(imm))
	} else {
		e.Imm32(uint32(imm))
	}
	return nil
}
