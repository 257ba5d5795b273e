package mir

import (
	"testing"

	"github.com/hronro/mirx64/internal/require"
)

func TestBuilderEmitAssignsSequentialIndices(t *testing.T) {
	b := NewBuilder()
	i0 := b.Emit(Instr{Tag: TagMov, Reg1: Reg(64, 0)})
	i1 := b.Emit(Instr{Tag: TagRet})
	require.Equal(t, uint32(0), i0)
	require.Equal(t, uint32(1), i1)
	require.Equal(t, 2, b.Program().Len())
}

func TestBuilderSideArraysReturnStableIndices(t *testing.T) {
	b := NewBuilder()
	i0 := b.AddImm64(0xdeadbeef)
	i1 := b.AddImm64(0x1)
	require.Equal(t, uint32(0), i0)
	require.Equal(t, uint32(1), i1)
	require.Equal(t, Imm64(0xdeadbeef), b.Program().Imm64s[0])

	p0 := b.AddImmPair(16, -8)
	require.Equal(t, uint32(0), p0)
	require.Equal(t, ImmPair{DestOff: 16, Operand: -8}, b.Program().ImmPairs[0])

	d0 := b.AddDbgLineColumn(10, 4)
	require.Equal(t, DbgLineColumn{Line: 10, Column: 4}, b.Program().DbgLineColumns[d0])

	a0 := b.AddArgDbgInfo(3, 1)
	require.Equal(t, ArgDbgInfo{AirInst: 3, ArgIndex: 1}, b.Program().ArgDbgInfos[a0])
}

func TestRegConstructors(t *testing.T) {
	r := Reg(32, 5)
	require.True(t, r.Present)
	require.Equal(t, uint8(32), r.Width)
	require.Equal(t, uint8(5), r.Index)
	require.False(t, r.HighByte)

	hb := RegHighByte(1)
	require.True(t, hb.Present)
	require.True(t, hb.HighByte)
	require.Equal(t, uint8(8), hb.Width)

	require.False(t, NoReg.Present)
}

func TestTagStringKnownAndUnknown(t *testing.T) {
	require.Equal(t, "mov", TagMov.String())
	require.Equal(t, "call_extern", TagCallExtern.String())
	require.Equal(t, "Tag(9999)", Tag(9999).String())
}

func TestProgramAtIndexesInstrs(t *testing.T) {
	b := NewBuilder()
	b.Emit(Instr{Tag: TagNop})
	b.Emit(Instr{Tag: TagBrk})
	p := b.Program()
	require.Equal(t, TagNop, p.At(0).Tag)
	require.Equal(t, TagBrk, p.At(1).Tag)
}
