package x64

import (
	"testing"

	"github.com/hronro/mirx64/internal/require"
)

func TestDwarfSinkLineProgramAdvances(t *testing.T) {
	d := NewDwarfSink()
	d.Line(0, 10, 1)
	// first event: no PC delta yet (prevPC starts at 0), line delta 10-0=10.
	require.Equal(t, []byte{dwLNSAdvanceLine, 0x0A, dwLNSCopy}, d.LineProgram)

	d.Line(5, 11, 1)
	want := []byte{
		dwLNSAdvanceLine, 0x0A, dwLNSCopy,
		dwLNSAdvancePC, 0x05, dwLNSAdvanceLine, 0x01, dwLNSCopy,
	}
	require.Equal(t, want, d.LineProgram)
}

func TestDwarfSinkPrologueAndEpilogue(t *testing.T) {
	d := NewDwarfSink()
	d.PrologueEnd(3)
	require.Equal(t, []byte{dwLNSSetPrologueEnd, dwLNSAdvancePC, 0x03, dwLNSCopy}, d.LineProgram)

	d2 := NewDwarfSink()
	d2.EpilogueBegin(7)
	require.Equal(t, []byte{dwLNSSetEpilogueBegin, dwLNSAdvancePC, 0x07, dwLNSCopy}, d2.LineProgram)
}

func TestDwarfSinkParamRegisterRecordsPendingReloc(t *testing.T) {
	d := NewDwarfSink()
	rax := R(Width64, RAX)
	d.Param(&rax, 0, 42, 8)
	require.Equal(t, []byte{abbrevParameter, dwOpReg(rax), 0, 0, 0, 0}, d.Info)
	require.Equal(t, []int{2}, d.PendingTypeRelocs[42])
}

func TestDwarfSinkParamStackIsNoOp(t *testing.T) {
	d := NewDwarfSink()
	d.Param(nil, 16, 42, 8)
	require.Equal(t, 0, len(d.Info))
}

func TestPlan9SinkCountsLineOps(t *testing.T) {
	p := NewPlan9Sink(1)
	p.Line(0, 1, 0)  // no PC delta from 0, no-op.
	p.Line(4, 2, 0)
	require.Equal(t, uint32(1), p.LineCounter)
	require.Equal(t, 1, p.PCOpIndex)
}

func TestNoneSinkDiscardsEverything(t *testing.T) {
	var n NoneSink
	n.Line(1, 2, 3)
	n.PrologueEnd(4)
	n.EpilogueBegin(5)
	reg := R(Width64, RAX)
	n.Param(&reg, 0, 1, 2) // must not panic
}

func TestULEB128RoundTripShapes(t *testing.T) {
	cases := []struct {
		v    uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xAC, 0x02}},
	}
	for _, c := range cases {
		got := appendULEB128(nil, c.v)
		require.Equal(t, c.want, got)
	}
}

func TestSLEB128RoundTripShapes(t *testing.T) {
	cases := []struct {
		v    int64
		want []byte
	}{
		{0, []byte{0x00}},
		{-1, []byte{0x7F}},
		{63, []byte{0x3F}},
		{-64, []byte{0x40}},
		{64, []byte{0xC0, 0x00}},
	}
	for _, c := range cases {
		got := appendSLEB128(nil, c.v)
		require.Equal(t, c.want, got)
	}
}
