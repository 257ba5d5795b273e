package x64

import "fmt"

// Relocation is a pending branch back-patch: a direct jmp/call or
// conditional jump whose target's offset is not yet known at emission
// time.
type Relocation struct {
	SourceOffset      int
	TargetMIRIndex    int
	PatchOffset       int
	InstructionLength int
}

// ExternRelocKind distinguishes the two external relocation record shapes
// this core can produce.
type ExternRelocKind uint8

const (
	RelocBranch ExternRelocKind = iota // MachO X86_64_RELOC_BRANCH, at call_extern sites.
	RelocGOT                           // MachO X86_64_RELOC_GOT, at lea rip+reloc sites.
)

// ExternRelocation is a relocation record pushed to the linker collaborator,
// rather than resolved internally like Relocation.
type ExternRelocation struct {
	Offset          int
	Kind            ExternRelocKind
	ExternNameIndex uint32 // meaningful when Kind == RelocBranch
	GotEntryIndex   uint32 // meaningful when Kind == RelocGOT
	PCRelative      bool
	Length          uint8
	Addend          int32
}

// backpatch resolves every pending branch relocation against the offset
// map, computing each displacement as target - (source + instruction
// length) and failing if the result doesn't fit in an i32.
func (s *Session) backpatch() error {
	for _, r := range s.relocs {
		targetOffset, ok := s.lookupOffset(r.TargetMIRIndex)
		if !ok {
			return s.fail(-1, fmt.Sprintf("relocation target mir index %d has no recorded offset", r.TargetMIRIndex), nil)
		}
		disp64 := int64(targetOffset) - (int64(r.SourceOffset) + int64(r.InstructionLength))
		if disp64 < -(1<<31) || disp64 > (1<<31)-1 {
			return s.fail(-1, "relocation displacement overflows i32", ErrOverflow)
		}
		s.enc.PatchDisp32(r.PatchOffset, int32(disp64))
	}
	s.relocs = nil
	return nil
}

func (s *Session) lookupOffset(mirIndex int) (int, bool) {
	if mirIndex < 0 || mirIndex >= len(s.offsetMap) {
		return 0, false
	}
	off := s.offsetMap[mirIndex]
	if off < 0 {
		return 0, false
	}
	return off, true
}
