// Package linker defines the external collaborator interfaces the x64
// backend's output feeds into — a relocation symbol resolver and a loaded
// code image — and ships a minimal in-memory implementation of each.
//
// This is deliberately not a real linker: object-file writing and the real
// relocation/symbol-resolution machinery belong to a separate concern.
// Memory exists so the collaborator contracts are concrete enough to drive
// from a test, the same way wazero's wazevo engine resolves inter-function
// call sites against a binary offset table once every function in a module
// has been placed (backend/isa/amd64/machine.go's ResolveRelocations)
// rather than shipping a standalone ELF/MachO linker.
package linker

import (
	"encoding/binary"
	"fmt"

	"github.com/hronro/mirx64/x64"
)

// SymbolTable resolves the two relocation-target kinds a Session can
// produce: an extern function name and a GOT entry, each to an absolute
// address in the loaded image.
type SymbolTable interface {
	ExternFunctionAddress(nameIndex uint32) (uint64, bool)
	GOTEntryAddress(entryIndex uint32) (uint64, bool)
}

// Memory is an in-memory loaded code image: one function body's machine
// code placed at a fixed base address, plus the symbol table its external
// relocations resolve against. It reads every field of
// x64.ExternRelocation except Length, which a no-op stub would not.
type Memory struct {
	Base uint64
	Code []byte

	extern map[uint32]uint64
	got    map[uint32]uint64
}

// NewMemory returns an empty Memory with code loaded starting at base.
func NewMemory(base uint64) *Memory {
	return &Memory{Base: base, extern: make(map[uint32]uint64), got: make(map[uint32]uint64)}
}

// DefineExtern registers the absolute address an extern_fn name-table index
// resolves to.
func (m *Memory) DefineExtern(nameIndex uint32, addr uint64) { m.extern[nameIndex] = addr }

// DefineGOTEntry registers the absolute address a GOT entry index resolves
// to.
func (m *Memory) DefineGOTEntry(entryIndex uint32, addr uint64) { m.got[entryIndex] = addr }

func (m *Memory) ExternFunctionAddress(nameIndex uint32) (uint64, bool) {
	addr, ok := m.extern[nameIndex]
	return addr, ok
}

func (m *Memory) GOTEntryAddress(entryIndex uint32) (uint64, bool) {
	addr, ok := m.got[entryIndex]
	return addr, ok
}

// Load places code at Base, replacing whatever was there.
func (m *Memory) Load(code []byte) uint64 {
	m.Code = append([]byte(nil), code...)
	return m.Base
}

// ApplyRelocations patches every external relocation a Session produced
// into the loaded code, resolving RelocBranch against an extern function
// address and RelocGOT against a GOT entry address — the MachO
// X86_64_RELOC_BRANCH / X86_64_RELOC_GOT semantics.
func (m *Memory) ApplyRelocations(relocs []x64.ExternRelocation) error {
	for _, r := range relocs {
		var target uint64
		switch r.Kind {
		case x64.RelocBranch:
			addr, ok := m.ExternFunctionAddress(r.ExternNameIndex)
			if !ok {
				return fmt.Errorf("linker: undefined extern function index %d", r.ExternNameIndex)
			}
			target = addr
		case x64.RelocGOT:
			addr, ok := m.GOTEntryAddress(r.GotEntryIndex)
			if !ok {
				return fmt.Errorf("linker: undefined GOT entry index %d", r.GotEntryIndex)
			}
			target = addr
		default:
			return fmt.Errorf("linker: unknown relocation kind %d", r.Kind)
		}

		if r.Offset < 0 || r.Offset+4 > len(m.Code) {
			return fmt.Errorf("linker: relocation offset %d out of range", r.Offset)
		}

		var value int64
		if r.PCRelative {
			// r.Length is the MachO r_length code (2 == log2(4)), not a byte
			// count; the field being patched is always 4 bytes wide, so the
			// "next instruction" term is the fixed +4, matching wazevo's
			// ResolveRelocations (offset+4, "we want the offset of the next
			// instruction").
			siteAddr := int64(m.Base) + int64(r.Offset)
			value = int64(target) - (siteAddr + 4) + int64(r.Addend)
		} else {
			value = int64(target) + int64(r.Addend)
		}
		if value < -(1<<31) || value > (1<<31)-1 {
			return fmt.Errorf("linker: relocation at offset %d overflows i32", r.Offset)
		}
		binary.LittleEndian.PutUint32(m.Code[r.Offset:r.Offset+4], uint32(int32(value)))
	}
	return nil
}

// DebugImage accumulates the two debug-sink byte streams a session
// produced, as a linker would before handing them to an object-file
// writer. It is a passive container; nothing here interprets the bytes.
type DebugImage struct {
	LineProgram []byte
	Info        []byte
}

// FromDwarfSink copies a DwarfSink's accumulated buffers into a DebugImage.
func FromDwarfSink(sink *x64.DwarfSink) DebugImage {
	return DebugImage{LineProgram: sink.LineProgram, Info: sink.Info}
}
