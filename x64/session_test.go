package x64

import (
	"testing"

	"github.com/hronro/mirx64/internal/require"
)

func TestNewSessionDefaults(t *testing.T) {
	s := NewSession()
	require.Equal(t, 0, len(s.Code()))
	require.Nil(t, s.Err())
	_, ok := s.DebugSink().(NoneSink)
	require.True(t, ok, "default debug sink must be NoneSink")
}

func TestWithDebugSinkOption(t *testing.T) {
	d := NewDwarfSink()
	s := NewSession(WithDebugSink(d))
	require.Equal(t, d, s.DebugSink())
}

func TestSessionFailPopulatesOnlyOnce(t *testing.T) {
	s := NewSession()
	first := s.fail(3, "first failure", ErrOverflow)
	second := s.fail(7, "second failure", nil)
	require.Equal(t, first, second, "the error slot must not be overwritten after the first failure")
	require.Equal(t, 3, s.Err().MIRIndex)
}

func TestRecordOffsetPanicsOnDoubleInsertion(t *testing.T) {
	s := NewSession()
	s.offsetMap = []int{-1, -1}
	s.recordOffset(0)
	require.Panics(t, func() {
		s.recordOffset(0)
	})
}

func TestArgLocationsResolve(t *testing.T) {
	locs := ArgLocations{
		{IsRegister: true, Reg: R(Width64, RDI)},
		{IsRegister: false, StackOffset: 16},
	}
	loc, ok := locs.resolve(1)
	require.True(t, ok)
	require.Equal(t, int32(16), loc.StackOffset)

	_, ok = locs.resolve(5)
	require.False(t, ok)
}
