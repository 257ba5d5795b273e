package linker_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hronro/mirx64/linker"
	"github.com/hronro/mirx64/mir"
	"github.com/hronro/mirx64/x64"
)

func TestApplyRelocationsBranch(t *testing.T) {
	s := x64.NewSession()
	b := mir.NewBuilder()
	b.Emit(mir.Instr{Tag: mir.TagCallExtern, Data: mir.Data{ExternFn: 7}})
	require.NoError(t, s.Lower(b.Program()))

	mem := linker.NewMemory(0x1000)
	mem.DefineExtern(7, 0x2000)
	mem.Load(s.Code())

	require.NoError(t, mem.ApplyRelocations(s.ExternRelocations()))

	reloc := s.ExternRelocations()[0]
	patched := int32(mem.Code[reloc.Offset]) | int32(mem.Code[reloc.Offset+1])<<8 |
		int32(mem.Code[reloc.Offset+2])<<16 | int32(mem.Code[reloc.Offset+3])<<24
	siteAddr := int64(0x1000) + int64(reloc.Offset)
	want := int32(0x2000 - (siteAddr + 4))
	require.Equal(t, want, patched)
}

func TestApplyRelocationsUndefinedExternFails(t *testing.T) {
	mem := linker.NewMemory(0)
	mem.Load([]byte{0, 0, 0, 0})
	err := mem.ApplyRelocations([]x64.ExternRelocation{
		{Offset: 0, Kind: x64.RelocBranch, ExternNameIndex: 42, PCRelative: true, Length: 2},
	})
	require.Error(t, err)
}

func TestFromDwarfSinkCopiesBuffers(t *testing.T) {
	d := x64.NewDwarfSink()
	d.PrologueEnd(0)
	img := linker.FromDwarfSink(d)
	require.Equal(t, d.LineProgram, img.LineProgram)
}
