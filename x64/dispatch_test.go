package x64

import (
	"testing"

	"github.com/hronro/mirx64/internal/require"
	"github.com/hronro/mirx64/mir"
)

func TestDispatchArithRegImm(t *testing.T) {
	b := mir.NewBuilder()
	b.Emit(mir.Instr{Tag: mir.TagMov, Reg1: mir.Reg(64, RAX), Data: mir.Data{Imm: 0x10}})

	s := NewSession()
	require.NoError(t, s.Lower(b.Program()))
	require.Equal(t, []byte{0x48, 0xC7, 0xC0, 0x10, 0x00, 0x00, 0x00}, s.Code())
}

func TestDispatchArithRegReg(t *testing.T) {
	b := mir.NewBuilder()
	b.Emit(mir.Instr{Tag: mir.TagAdd, Reg1: mir.Reg(32, RAX), Reg2: mir.Reg(32, RCX)})

	s := NewSession()
	require.NoError(t, s.Lower(b.Program()))
	// MR form: add eax, ecx -> 01 C8 (modrm mod=11,reg=ecx(1),rm=eax(0)).
	require.Equal(t, []byte{0x01, 0xC8}, s.Code())
}

func TestDispatchArithMemSource(t *testing.T) {
	b := mir.NewBuilder()
	b.Emit(mir.Instr{Tag: mir.TagAdd, Flags: 1, Reg1: mir.Reg(64, RAX), Reg2: mir.Reg(64, RCX), Data: mir.Data{Imm: 8}})

	s := NewSession()
	require.NoError(t, s.Lower(b.Program()))
	require.Equal(t, []byte{0x48, 0x03, 0x41, 0x08}, s.Code())
}

func TestDispatchArithMemDest(t *testing.T) {
	b := mir.NewBuilder()
	b.Emit(mir.Instr{Tag: mir.TagAdd, Flags: 2, Reg1: mir.Reg(64, RCX), Reg2: mir.Reg(64, RAX), Data: mir.Data{Imm: 8}})

	s := NewSession()
	require.NoError(t, s.Lower(b.Program()))
	// MR form, memory destination: add [rcx+8], rax -> 48 01 41 08.
	require.Equal(t, []byte{0x48, 0x01, 0x41, 0x08}, s.Code())
}

func TestDispatchArithFlags3Unused(t *testing.T) {
	b := mir.NewBuilder()
	b.Emit(mir.Instr{Tag: mir.TagAdd, Flags: 3, Reg1: mir.Reg(64, RAX), Reg2: mir.Reg(64, RCX)})

	s := NewSession()
	err := s.Lower(b.Program())
	require.Error(t, err)
	require.Equal(t, 0, s.Err().MIRIndex)
}

func TestDispatchMemImm(t *testing.T) {
	b := mir.NewBuilder()
	pair := b.AddImmPair(0x10000000, 0x10)
	b.Emit(mir.Instr{Tag: mir.TagSubMemImm, Flags: 2, Reg1: mir.Reg(64, R11), Data: mir.Data{HasPayload: true, Payload: pair}})

	s := NewSession()
	require.NoError(t, s.Lower(b.Program()))
	require.Equal(t, []byte{0x41, 0x81, 0xAB, 0x00, 0x00, 0x00, 0x10, 0x10, 0x00, 0x00, 0x00}, s.Code())
}

func TestDispatchMovabs64BitImmediate(t *testing.T) {
	b := mir.NewBuilder()
	imm := b.AddImm64(0x1000000000000000)
	b.Emit(mir.Instr{Tag: mir.TagMovabs, Reg1: mir.Reg(64, RAX), Data: mir.Data{HasPayload: true, Payload: imm}})

	s := NewSession()
	require.NoError(t, s.Lower(b.Program()))
	require.Equal(t, []byte{0x48, 0xB8, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10}, s.Code())
}

func TestDispatchRetNearNoImm(t *testing.T) {
	b := mir.NewBuilder()
	b.Emit(mir.Instr{Tag: mir.TagRet})

	s := NewSession()
	require.NoError(t, s.Lower(b.Program()))
	require.Equal(t, []byte{0xC3}, s.Code())
}

func TestDispatchRetNearWithImm(t *testing.T) {
	b := mir.NewBuilder()
	b.Emit(mir.Instr{Tag: mir.TagRet, Flags: 2, Data: mir.Data{Imm: 4}})

	s := NewSession()
	require.NoError(t, s.Lower(b.Program()))
	require.Equal(t, []byte{0xC2, 0x04, 0x00}, s.Code())
}

// TestDispatchJccForwardBranchRelocation drives a conditional forward
// branch whose back-patched i32 equals target_offset - (source_offset +
// 6), the length of a near jcc's 0x0F 0x8x opcode plus its rel32.
func TestDispatchJccForwardBranchRelocation(t *testing.T) {
	b := mir.NewBuilder()
	jccIdx := b.Emit(mir.Instr{Tag: mir.TagJccGroup3, Flags: 0, Data: mir.Data{Inst: 2}}) // jne -> index 2
	b.Emit(mir.Instr{Tag: mir.TagNop})
	b.Emit(mir.Instr{Tag: mir.TagRet})
	_ = jccIdx

	s := NewSession()
	require.NoError(t, s.Lower(b.Program()))

	code := s.Code()
	require.Equal(t, []byte{0x0F, 0x85}, code[0:2]) // jne near.
	targetOffset := s.OffsetMap()[2]
	sourceOffset := s.OffsetMap()[0]
	want := int32(targetOffset - (sourceOffset + 6))
	require.Equal(t, want, s.enc.ReadDisp32(2))
}

func TestDispatchPushPopCalleeRegs(t *testing.T) {
	mask := uint64(1<<0 | 1<<2) // rbx, r12.
	b := mir.NewBuilder()
	b.Emit(mir.Instr{Tag: mir.TagPushCalleeRegs, Data: mir.Data{RegsMask: mask}})
	b.Emit(mir.Instr{Tag: mir.TagPopCalleeRegs, Data: mir.Data{RegsMask: mask}})

	s := NewSession()
	require.NoError(t, s.Lower(b.Program()))
	// push rbx (53), push r12 (41 54), pop r12 (41 5C), pop rbx (5B) -- popped in reverse order.
	require.Equal(t, []byte{0x53, 0x41, 0x54, 0x41, 0x5C, 0x5B}, s.Code())
}

func TestDispatchArgDbgInfoRegisterParam(t *testing.T) {
	b := mir.NewBuilder()
	adi := b.AddArgDbgInfo(99, 0)
	b.Emit(mir.Instr{Tag: mir.TagArgDbgInfo, Data: mir.Data{HasPayload: true, Payload: adi}})

	dwarf := NewDwarfSink()
	s := NewSession(
		WithDebugSink(dwarf),
		WithArgLocations(ArgLocations{{IsRegister: true, Reg: R(Width64, RDI)}}),
	)
	require.NoError(t, s.Lower(b.Program()))
	require.Equal(t, []byte{abbrevParameter, dwOpReg(R(Width64, RDI)), 0, 0, 0, 0}, dwarf.Info)
	require.Equal(t, []int{2}, dwarf.PendingTypeRelocs[99])
}

func TestDispatchArgDbgInfoMissingLocationFails(t *testing.T) {
	b := mir.NewBuilder()
	adi := b.AddArgDbgInfo(99, 3)
	b.Emit(mir.Instr{Tag: mir.TagArgDbgInfo, Data: mir.Data{HasPayload: true, Payload: adi}})

	s := NewSession()
	err := s.Lower(b.Program())
	require.Error(t, err)
	require.NotNil(t, s.Err())
}

func TestDispatchUnknownTagIsStructuralError(t *testing.T) {
	b := mir.NewBuilder()
	b.Emit(mir.Instr{Tag: mir.Tag(9999)})

	s := NewSession()
	err := s.Lower(b.Program())
	require.Error(t, err)
	require.Equal(t, 0, s.Err().MIRIndex)
}

func TestToRegisterHighByteMapping(t *testing.T) {
	require.Equal(t, AH, toRegister(mir.RegHighByte(RSP)))
	require.Equal(t, CH, toRegister(mir.RegHighByte(RBP)))
	require.Equal(t, DH, toRegister(mir.RegHighByte(RSI)))
	require.Equal(t, BH, toRegister(mir.RegHighByte(RDI)))
}

func TestToRegisterPanicsOnAbsent(t *testing.T) {
	require.Panics(t, func() {
		toRegister(mir.NoReg)
	})
}
