package x64

import "fmt"

// SIB describes the scale/index half of a SIB-byte addressing mode, used
// only when Memory.SIB is non-nil; the base register half of the
// scale/index/base triple is Memory.Base itself, shared with the non-SIB
// forms.
type SIB struct {
	Scale uint8 // 0..3, meaning a shift of 1,2,4,8
	Index Register
}

// Memory is a memory operand.
//
// Invariants enforced by Validate:
//   - if RipRelative, Base is absent (nil).
//   - if Base is present, it must be a 64-bit register (32-bit addressing,
//     which would need the 0x67 prefix, is not supported).
type Memory struct {
	Base         *Register
	RipRelative  bool
	Displacement int32
	Size         PtrSize
	SIB          *SIB
}

// Mem constructs a [base + disp] memory operand with no index.
func Mem(base Register, disp int32, size PtrSize) Memory {
	b := base
	return Memory{Base: &b, Displacement: disp, Size: size}
}

// MemSIB constructs a [base + scale*index + disp] memory operand.
func MemSIB(base Register, index Register, scale uint8, disp int32, size PtrSize) Memory {
	b := base
	return Memory{Base: &b, Displacement: disp, Size: size, SIB: &SIB{Scale: scale, Index: index}}
}

// MemAbsolute constructs a memory operand with no base register at all,
// i.e. an absolute 32-bit displacement (always encoded via the no-base SIB
// form, since mod=00/rm=101 is reserved for RIP-relative addressing in
// 64-bit mode).
func MemAbsolute(disp int32, size PtrSize) Memory {
	return Memory{Displacement: disp, Size: size}
}

// MemRIP constructs a RIP-relative memory operand.
func MemRIP(disp int32, size PtrSize) Memory {
	return Memory{RipRelative: true, Displacement: disp, Size: size}
}

// Validate enforces the Memory operand invariants documented above.
// Violations are structural bugs (callers control their own construction),
// so this panics rather than returning an error.
func (m Memory) Validate() {
	if m.RipRelative && m.Base != nil {
		panic("BUG: rip-relative memory operand must not carry a base register")
	}
	if m.Base != nil && m.Base.Width() != Width64 {
		panic(fmt.Sprintf("BUG: memory base register must be 64-bit, got %s", m.Base.Width()))
	}
	if m.SIB != nil && m.SIB.Index.Width() != Width64 {
		panic(fmt.Sprintf("BUG: memory index register must be 64-bit, got %s", m.SIB.Index.Width()))
	}
	if m.SIB != nil && m.SIB.Index.LowID() == RSP && !m.SIB.Index.IsExtended() {
		panic("BUG: rsp cannot be used as a SIB index")
	}
	if m.SIB != nil && m.SIB.Scale > 3 {
		panic(fmt.Sprintf("BUG: SIB scale %d out of range", m.SIB.Scale))
	}
}

func (m Memory) String() string {
	size := m.Size.String() + " ptr "
	switch {
	case m.RipRelative:
		return fmt.Sprintf("%s[rip + 0x%x]", size, uint32(m.Displacement))
	case m.Base == nil:
		return fmt.Sprintf("%s[0x%x]", size, uint32(m.Displacement))
	case m.SIB != nil:
		return fmt.Sprintf("%s[%s + %s*%d + 0x%x]", size, m.Base, m.SIB.Index, 1<<m.SIB.Scale, uint32(m.Displacement))
	default:
		return fmt.Sprintf("%s[%s + 0x%x]", size, m.Base, uint32(m.Displacement))
	}
}

// Moffs is the absolute-address operand of the FD/TD accumulator forms of
// mov. The address itself is always emitted as a full 64-bit immediate
// regardless of Size (64-bit long mode has no narrower moffs encoding);
// Size exists purely so the FD/TD lowerers can enforce that the moffs
// width matches the accumulator register's width.
type Moffs struct {
	Addr uint64
	Size PtrSize
}

// RegisterOrMemory is the tagged variant over {Register, Memory}.
type RegisterOrMemory struct {
	isMem bool
	reg   Register
	mem   Memory
}

// RM wraps a Register as a RegisterOrMemory.
func RM(r Register) RegisterOrMemory { return RegisterOrMemory{reg: r} }

// RMMem wraps a Memory operand as a RegisterOrMemory.
func RMMem(m Memory) RegisterOrMemory { return RegisterOrMemory{isMem: true, mem: m} }

// IsMemory reports whether this operand denotes memory rather than a
// register.
func (rm RegisterOrMemory) IsMemory() bool { return rm.isMem }

// Register returns the wrapped register. Panics (structural bug) if this
// operand is memory.
func (rm RegisterOrMemory) Register() Register {
	if rm.isMem {
		panic("BUG: RegisterOrMemory is memory, not a register")
	}
	return rm.reg
}

// Memory returns the wrapped memory operand. Panics (structural bug) if
// this operand is a register.
func (rm RegisterOrMemory) Memory() Memory {
	if !rm.isMem {
		panic("BUG: RegisterOrMemory is a register, not memory")
	}
	return rm.mem
}

// Width returns the operand's width in bits, whichever variant it is.
func (rm RegisterOrMemory) Width() Width {
	if rm.isMem {
		return rm.mem.Size.Width()
	}
	return rm.reg.width
}

func (rm RegisterOrMemory) String() string {
	if rm.isMem {
		return rm.mem.String()
	}
	return rm.reg.String()
}
