package x64

import (
	"fmt"

	"github.com/hronro/mirx64/mir"
)

// calleePreservedRegs is the fixed ordered list push_regs_from_callee_
// preserved_regs / pop_... walk, in push order; pop walks it in
// reverse. This is the SysV AMD64 callee-saved set, excluding rsp (which is
// never individually pushed/popped by this mechanism).
var calleePreservedRegs = [6]uint8{RBX, RBP, R12, R13, R14, R15}

// Lower walks prog in MIR index order and emits machine code for every
// instruction, recording each one's start offset before lowering it. It
// stops at the first failure and leaves that failure in s.Err().
func (s *Session) Lower(prog *mir.Program) error {
	s.offsetMap = make([]int, prog.Len())
	for i := range s.offsetMap {
		s.offsetMap[i] = -1
	}
	for i := 0; i < prog.Len(); i++ {
		s.recordOffset(i)
		if err := s.dispatchOne(i, prog, prog.At(i)); err != nil {
			return s.fail(i, err.Error(), err)
		}
	}
	if err := s.backpatch(); err != nil {
		return err
	}
	return nil
}

func toRegister(r mir.RegRef) Register {
	if !r.Present {
		panic("BUG: absent register reference used where a register is required")
	}
	if r.HighByte {
		switch r.Index {
		case RSP:
			return AH
		case RBP:
			return CH
		case RSI:
			return DH
		case RDI:
			return BH
		default:
			panic(fmt.Sprintf("BUG: invalid high-byte register index %d", r.Index))
		}
	}
	return R(Width(r.Width), r.Index)
}

func toPtrSize(p mir.PtrSize) PtrSize {
	switch p {
	case mir.PtrByte:
		return PtrByte
	case mir.PtrWord:
		return PtrWord
	case mir.PtrDword:
		return PtrDword
	case mir.PtrQword:
		return PtrQword
	default:
		panic(fmt.Sprintf("BUG: invalid mir.PtrSize %d", p))
	}
}

var aluMnemonics = map[mir.Tag]Mnemonic{
	mir.TagAdc: Adc, mir.TagAdd: Add, mir.TagSub: Sub, mir.TagXor: Xor,
	mir.TagAnd: And, mir.TagOr: Or, mir.TagSbb: Sbb, mir.TagCmp: Cmp, mir.TagMov: Mov,
}

var aluMemImmMnemonics = map[mir.Tag]Mnemonic{
	mir.TagAdcMemImm: Adc, mir.TagAddMemImm: Add, mir.TagSubMemImm: Sub, mir.TagXorMemImm: Xor,
	mir.TagAndMemImm: And, mir.TagOrMemImm: Or, mir.TagSbbMemImm: Sbb, mir.TagCmpMemImm: Cmp,
	mir.TagMovMemImm: Mov,
}

var jccGroup1 = [4]Condition{CondGE, CondG, CondL, CondLE}
var jccGroup2 = [4]Condition{CondAE, CondA, CondB, CondBE}
var jccGroup3 = [2]Condition{CondNE, CondE}

// dispatchOne decodes one MIR instruction's tag/ops/data and drives the
// matching encoding-form lowerer. Unknown tags and unused flag
// combinations fail with IselFail, never panic: the MIR is borrowed,
// untrusted input from the producer's point of view even though this core
// trusts its own internal tables.
func (s *Session) dispatchOne(i int, prog *mir.Program, in mir.Instr) error {
	if mnem, ok := aluMnemonics[in.Tag]; ok {
		return s.dispatchArith(mnem, in)
	}
	if mnem, ok := aluMemImmMnemonics[in.Tag]; ok {
		return s.dispatchMemImm(prog, mnem, in)
	}

	switch in.Tag {
	case mir.TagScaleSrc:
		return s.dispatchScaleSrc(in)
	case mir.TagScaleDst:
		return s.dispatchScaleDst(prog, in)
	case mir.TagScaleImm:
		return s.dispatchScaleImm(prog, in)
	case mir.TagMovabs:
		return s.dispatchMovabs(prog, in)
	case mir.TagLea:
		return s.dispatchLea(prog, in)
	case mir.TagImulComplex:
		return s.dispatchImulComplex(prog, in)
	case mir.TagPush:
		return s.dispatchPushPop(Push, in)
	case mir.TagPop:
		return s.dispatchPushPop(Pop, in)
	case mir.TagPushCalleeRegs:
		return s.dispatchPushCalleeRegs(in)
	case mir.TagPopCalleeRegs:
		return s.dispatchPopCalleeRegs(in)
	case mir.TagJmp:
		return s.dispatchJmpCall(JmpNear, i, in)
	case mir.TagCall:
		return s.dispatchJmpCall(CallNear, i, in)
	case mir.TagCallExtern:
		return s.dispatchCallExtern(in)
	case mir.TagJccGroup1:
		return s.dispatchJcc(jccGroup1[:], i, in)
	case mir.TagJccGroup2:
		return s.dispatchJcc(jccGroup2[:], i, in)
	case mir.TagJccGroup3:
		return s.dispatchJcc(jccGroup3[:], i, in)
	case mir.TagSetccGroup1:
		return s.dispatchSetcc(jccGroup1[:], in)
	case mir.TagSetccGroup2:
		return s.dispatchSetcc(jccGroup2[:], in)
	case mir.TagSetccGroup3:
		return s.dispatchSetcc(jccGroup3[:], in)
	case mir.TagTest:
		return s.dispatchTest(prog, in)
	case mir.TagRet:
		return s.dispatchRet(in)
	case mir.TagBrk:
		lowerZO(s.enc, Brk)
		return nil
	case mir.TagNop:
		lowerZO(s.enc, Nop)
		return nil
	case mir.TagSyscall:
		lowerZO(s.enc, Syscall)
		return nil
	case mir.TagDbgLine:
		dlc := prog.DbgLineColumns[in.Data.Payload]
		s.debug.Line(s.enc.Len(), dlc.Line, dlc.Column)
		return nil
	case mir.TagDbgPrologueEnd:
		s.debug.PrologueEnd(s.enc.Len())
		return nil
	case mir.TagDbgEpilogueBegin:
		s.debug.EpilogueBegin(s.enc.Len())
		return nil
	case mir.TagArgDbgInfo:
		return s.dispatchArgDbgInfo(prog, in)
	}

	return fmt.Errorf("unknown mir tag %s", in.Tag)
}

// dispatchArith covers the nine binary-arithmetic mnemonics: flags 00
// (reg-reg when reg2 is present, reg-imm via MI otherwise), 01 (RM with
// memory source), 10 (MR with memory destination).
func (s *Session) dispatchArith(mnem Mnemonic, in mir.Instr) error {
	switch in.Flags {
	case 0:
		dst := toRegister(in.Reg1)
		if in.Reg2.Present {
			return lowerMR(s.enc, mnem, RM(dst), toRegister(in.Reg2))
		}
		return lowerMI(s.enc, mnem, RM(dst), int64(in.Data.Imm))
	case 1:
		dst := toRegister(in.Reg1)
		base := toRegister(in.Reg2)
		mem := Mem(base, in.Data.Imm, PtrSizeForWidth(dst.Width()))
		return lowerRM(s.enc, mnem, dst, RMMem(mem))
	case 2:
		base := toRegister(in.Reg1)
		src := toRegister(in.Reg2)
		mem := Mem(base, in.Data.Imm, PtrSizeForWidth(src.Width()))
		return lowerMR(s.enc, mnem, RMMem(mem), src)
	default:
		return fmt.Errorf("%s: flags=11 is unused", mnem)
	}
}

// dispatchMemImm covers the *_mem_imm family: always MI with a memory
// destination; flags select the pointer size, and the (displacement,
// immediate) pair comes from the ImmPair side array.
func (s *Session) dispatchMemImm(prog *mir.Program, mnem Mnemonic, in mir.Instr) error {
	base := toRegister(in.Reg1)
	pair := prog.ImmPairs[in.Data.Payload]
	size := toPtrSize(mir.PtrSize(in.Flags & 3))
	mem := Mem(base, pair.DestOff, size)
	return lowerMI(s.enc, mnem, RMMem(mem), int64(pair.Operand))
}

// dispatchScaleSrc emits `reg1 <- [reg2 + scale*rcx + disp]`, scale taken
// from flags.
func (s *Session) dispatchScaleSrc(in mir.Instr) error {
	dst := toRegister(in.Reg1)
	base := toRegister(in.Reg2)
	mem := MemSIB(base, R(Width64, RCX), in.Flags, in.Data.Imm, PtrSizeForWidth(dst.Width()))
	return lowerRM(s.enc, Mov, dst, RMMem(mem))
}

// dispatchScaleDst emits `[reg1 + scale*rax + disp] <- reg2` (MR, when reg2
// is present) or `<- imm` (MI, via the ImmPair side array otherwise).
func (s *Session) dispatchScaleDst(prog *mir.Program, in mir.Instr) error {
	base := toRegister(in.Reg1)
	if in.Reg2.Present {
		src := toRegister(in.Reg2)
		mem := MemSIB(base, R(Width64, RAX), in.Flags, in.Data.Imm, PtrSizeForWidth(src.Width()))
		return lowerMR(s.enc, Mov, RMMem(mem), src)
	}
	pair := prog.ImmPairs[in.Data.Payload]
	mem := MemSIB(base, R(Width64, RAX), in.Flags, pair.DestOff, PtrDword)
	return lowerMI(s.enc, Mov, RMMem(mem), int64(pair.Operand))
}

// dispatchScaleImm emits `[reg1 + scale*rax + disp] <- imm`, both the
// displacement and the immediate coming from the ImmPair side array.
func (s *Session) dispatchScaleImm(prog *mir.Program, in mir.Instr) error {
	base := toRegister(in.Reg1)
	pair := prog.ImmPairs[in.Data.Payload]
	mem := MemSIB(base, R(Width64, RAX), in.Flags, pair.DestOff, PtrDword)
	return lowerMI(s.enc, Mov, RMMem(mem), int64(pair.Operand))
}

// dispatchMovabs covers movabs's three sub-forms: flags 00 is OI (a 64-bit
// immediate from the Imm64 side array when the destination is 64-bit, else
// a plain i32); otherwise reg1 absent means TD (moffs <- rax), reg1 present
// means FD (rax <- moffs).
func (s *Session) dispatchMovabs(prog *mir.Program, in mir.Instr) error {
	if in.Flags == 0 {
		dst := toRegister(in.Reg1)
		if dst.Width() == Width64 {
			return lowerOI(s.enc, Mov, dst, uint64(prog.Imm64s[in.Data.Payload]))
		}
		return lowerOI(s.enc, Mov, dst, uint64(uint32(in.Data.Imm)))
	}
	var moffsAddr uint64
	if in.Data.HasPayload {
		moffsAddr = uint64(prog.Imm64s[in.Data.Payload])
	} else {
		moffsAddr = uint64(uint32(in.Data.Imm))
	}
	moffs := Moffs{Addr: moffsAddr, Size: PtrQword}
	if !in.Reg1.Present {
		return lowerTD(s.enc, Mov, moffs, R(Width64, RAX))
	}
	return lowerFD(s.enc, Mov, R(Width64, RAX), moffs)
}

// dispatchLea covers lea's three reachable sub-forms (flags 11 is unused).
func (s *Session) dispatchLea(prog *mir.Program, in mir.Instr) error {
	dst := toRegister(in.Reg1)
	switch in.Flags {
	case 0:
		base := toRegister(in.Reg2)
		mem := Mem(base, in.Data.Imm, PtrSizeForWidth(dst.Width()))
		return lowerRM(s.enc, Lea, dst, RMMem(mem))
	case 1:
		start := s.enc.Len()
		mem := MemRIP(0, PtrSizeForWidth(dst.Width()))
		if err := lowerRM(s.enc, Lea, dst, RMMem(mem)); err != nil {
			return err
		}
		end := s.enc.Len()
		imm64 := int64(prog.Imm64s[in.Data.Payload])
		disp := int32(imm64 - int64(end-start))
		s.enc.PatchDisp32(end-4, disp)
		return nil
	case 2:
		mem := MemRIP(0, PtrSizeForWidth(dst.Width()))
		if err := lowerRM(s.enc, Lea, dst, RMMem(mem)); err != nil {
			return err
		}
		patchOffset := s.enc.Len() - 4
		s.externRelocs = append(s.externRelocs, ExternRelocation{
			Offset: patchOffset, Kind: RelocGOT, GotEntryIndex: in.Data.GotEntry,
			PCRelative: true, Length: 2,
		})
		return nil
	default:
		return fmt.Errorf("lea: flags=11 is unused")
	}
}

// dispatchImulComplex covers the two reachable sub-forms of two-operand
// imul: RM (flags 00, memory source, no immediate) and RMI (flags 10, with
// an immediate carried in the ImmPair side array alongside the memory
// source's displacement).
func (s *Session) dispatchImulComplex(prog *mir.Program, in mir.Instr) error {
	dst := toRegister(in.Reg1)
	base := toRegister(in.Reg2)
	switch in.Flags {
	case 0:
		mem := Mem(base, in.Data.Imm, PtrSizeForWidth(dst.Width()))
		return lowerRM(s.enc, Imul, dst, RMMem(mem))
	case 2:
		pair := prog.ImmPairs[in.Data.Payload]
		mem := Mem(base, pair.DestOff, PtrSizeForWidth(dst.Width()))
		return lowerRMI(s.enc, Imul, dst, RMMem(mem), pair.Operand, false)
	default:
		return fmt.Errorf("imul_complex: flags=%d is unimplemented", in.Flags)
	}
}

// dispatchPushPop covers push/pop's register-direct O-form (flags 00) and
// M-form (flags 01); flags 10 is push-imm (I-form), valid for push only.
func (s *Session) dispatchPushPop(mnem Mnemonic, in mir.Instr) error {
	switch in.Flags {
	case 0:
		return lowerO(s.enc, mnem, toRegister(in.Reg1))
	case 1:
		return lowerM(s.enc, mnem, RM(toRegister(in.Reg1)))
	case 2:
		if mnem.family != mPush {
			return fmt.Errorf("%s: flags=10 (push-imm) is push-only", mnem)
		}
		width := Width(in.Reg1.Width)
		if !in.Reg1.Present {
			width = Width32
		}
		return lowerI(s.enc, Push, width, int64(in.Data.Imm))
	default:
		return fmt.Errorf("%s: flags=11 is unused", mnem)
	}
}

func (s *Session) dispatchPushCalleeRegs(in mir.Instr) error {
	for idx, regIndex := range calleePreservedRegs {
		if in.Data.RegsMask&(1<<uint(idx)) == 0 {
			continue
		}
		if err := lowerO(s.enc, Push, R(Width64, regIndex)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) dispatchPopCalleeRegs(in mir.Instr) error {
	for idx := len(calleePreservedRegs) - 1; idx >= 0; idx-- {
		if in.Data.RegsMask&(1<<uint(idx)) == 0 {
			continue
		}
		if err := lowerO(s.enc, Pop, R(Width64, calleePreservedRegs[idx])); err != nil {
			return err
		}
	}
	return nil
}

// dispatchJmpCall covers jmp/call's direct (relocated) and indirect forms.
func (s *Session) dispatchJmpCall(mnem Mnemonic, i int, in mir.Instr) error {
	if in.Flags&1 == 0 {
		source := s.enc.Len()
		patchOffset := lowerD(s.enc, mnem)
		s.relocs = append(s.relocs, Relocation{
			SourceOffset: source, TargetMIRIndex: int(in.Data.Inst),
			PatchOffset: patchOffset, InstructionLength: 5,
		})
		return nil
	}
	if !in.Reg1.Present {
		mem := MemAbsolute(in.Data.Imm, PtrQword)
		return lowerM(s.enc, mnem, RMMem(mem))
	}
	return lowerM(s.enc, mnem, RM(toRegister(in.Reg1)))
}

func (s *Session) dispatchCallExtern(in mir.Instr) error {
	patchOffset := lowerD(s.enc, CallNear)
	s.externRelocs = append(s.externRelocs, ExternRelocation{
		Offset: patchOffset, Kind: RelocBranch, ExternNameIndex: in.Data.ExternFn,
		PCRelative: true, Length: 2,
	})
	return nil
}

func (s *Session) dispatchJcc(conds []Condition, i int, in mir.Instr) error {
	if int(in.Flags) >= len(conds) {
		return fmt.Errorf("jcc: flags=%d is unused for this condition group", in.Flags)
	}
	source := s.enc.Len()
	patchOffset := lowerD(s.enc, JCC(conds[in.Flags]))
	s.relocs = append(s.relocs, Relocation{
		SourceOffset: source, TargetMIRIndex: int(in.Data.Inst),
		PatchOffset: patchOffset, InstructionLength: 6,
	})
	return nil
}

func (s *Session) dispatchSetcc(conds []Condition, in mir.Instr) error {
	if int(in.Flags) >= len(conds) {
		return fmt.Errorf("setcc: flags=%d is unused for this condition group", in.Flags)
	}
	reg := toRegister(in.Reg1)
	return lowerM(s.enc, SETCC(conds[in.Flags]), RM(reg))
}

// dispatchTest prefers the I accumulator encoding when the r/m operand is
// rax, since that shape is one byte shorter than the general MI/MR forms.
func (s *Session) dispatchTest(prog *mir.Program, in mir.Instr) error {
	if in.Reg1.Present {
		reg := toRegister(in.Reg1)
		if reg.IsRAX() {
			return lowerI(s.enc, Test, reg.Width(), int64(in.Data.Imm))
		}
		return lowerMI(s.enc, Test, RM(reg), int64(in.Data.Imm))
	}
	base := toRegister(in.Reg2)
	pair := prog.ImmPairs[in.Data.Payload]
	size := toPtrSize(mir.PtrSize(in.Flags & 3))
	mem := Mem(base, pair.DestOff, size)
	return lowerMI(s.enc, Test, RMMem(mem), int64(pair.Operand))
}

// dispatchRet covers ret's four sub-forms: flags bit0 selects far/near,
// bit1 selects with/without a 16-bit immediate.
func (s *Session) dispatchRet(in mir.Instr) error {
	mnem := RetNear
	if in.Flags&1 != 0 {
		mnem = RetFar
	}
	if in.Flags&2 != 0 {
		return lowerI(s.enc, mnem, Width16, int64(in.Data.Imm))
	}
	lowerZO(s.enc, mnem)
	return nil
}

func (s *Session) dispatchArgDbgInfo(prog *mir.Program, in mir.Instr) error {
	adi := prog.ArgDbgInfos[in.Data.Payload]
	loc, ok := s.argLocs.resolve(adi.ArgIndex)
	if !ok {
		return fmt.Errorf("arg_dbg_info: no argument location supplied for argument %d", adi.ArgIndex)
	}
	if loc.IsRegister {
		reg := loc.Reg
		s.debug.Param(&reg, 0, adi.AirInst, s.enc.Len())
	} else {
		s.debug.Param(nil, loc.StackOffset, adi.AirInst, s.enc.Len())
	}
	return nil
}
