// Package x64 implements the instruction-selection and encoding backend
// that lowers MIR (see package mir) for the x86-64 architecture into a flat
// buffer of machine code bytes.
package x64

import "fmt"

// Width is the operand size of a register or memory access, in bits.
type Width uint8

const (
	Width8  Width = 8
	Width16 Width = 16
	Width32 Width = 32
	Width64 Width = 64
)

func (w Width) String() string {
	switch w {
	case Width8:
		return "8"
	case Width16:
		return "16"
	case Width32:
		return "32"
	case Width64:
		return "64"
	default:
		return fmt.Sprintf("Width(%d)", uint8(w))
	}
}

// Register identifiers for the 16 general-purpose registers, indexed the
// same way regardless of width (the width is carried separately on
// Register). These double as the index used by rax..r15 below.
const (
	RAX uint8 = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Register is identified by (width, index). index is in 0..15 for the
// ordinary general-purpose registers. The four legacy high-byte registers
// (ah, bh, ch, dh) reuse the ModRM/SIB encodings of rsp/rbp/rsi/rdi at width
// 8 but are a semantically distinct register identity: they set highByte,
// and the encoder must never emit a REX prefix alongside them.
type Register struct {
	width    Width
	index    uint8
	highByte bool
}

// R constructs a Register with the given width and index (0..15).
func R(width Width, index uint8) Register {
	if index > 15 {
		panic(fmt.Sprintf("BUG: register index %d out of range", index))
	}
	return Register{width: width, index: index}
}

// Legacy 8-bit high-byte registers. These are only ever 8 bits wide; there
// is no 16/32/64-bit form sharing their identity (AH != SPL's high byte).
var (
	AH = Register{width: Width8, index: RSP, highByte: true}
	CH = Register{width: Width8, index: RBP, highByte: true}
	DH = Register{width: Width8, index: RSI, highByte: true}
	BH = Register{width: Width8, index: RDI, highByte: true}
)

// Width returns the register's operand width in bits.
func (r Register) Width() Width { return r.width }

// Index returns the register's 0..15 identifier. For the high-byte legacy
// registers this returns the same index their low-byte sibling (spl/bpl/
// sil/dil) would use; callers that care must check IsHighByte first.
func (r Register) Index() uint8 { return r.index }

// LowID returns index & 7, the 3-bit field embedded directly into ModRM.reg,
// ModRM.rm, SIB.base/index, or an opcode's low 3 bits.
func (r Register) LowID() uint8 { return r.index & 7 }

// IsExtended reports whether this register is one of r8..r15, requiring the
// corresponding REX extension bit (R/X/B) to be set.
func (r Register) IsExtended() bool { return !r.highByte && r.index >= 8 }

// IsHighByte reports whether r is one of the legacy ah/ch/dh/bh registers,
// which forbid any REX prefix whatsoever.
func (r Register) IsHighByte() bool { return r.highByte }

// NeedsRexToDisambiguate reports whether encoding r at width 8 requires a
// REX prefix purely to distinguish it from a legacy high-byte register
// sharing the same 3-bit field (spl/bpl/sil/dil at index 4..7).
func (r Register) NeedsRexToDisambiguate() bool {
	return !r.highByte && r.width == Width8 && r.index >= RSP && r.index <= RDI
}

// Size returns the register's width in bits, as an int.
func (r Register) Size() int { return int(r.width) }

// To8 returns the 8-bit form of the same register identity. Panics (a
// structural bug) if called on a high-byte register, which has no other
// width.
func (r Register) To8() Register {
	if r.highByte {
		panic("BUG: legacy high-byte register has no other width")
	}
	return Register{width: Width8, index: r.index}
}

// To64 returns the 64-bit form of the same register identity.
func (r Register) To64() Register {
	if r.highByte {
		panic("BUG: legacy high-byte register has no 64-bit form")
	}
	return Register{width: Width64, index: r.index}
}

// WithWidth returns the same register identity at a different width.
func (r Register) WithWidth(w Width) Register {
	if r.highByte {
		panic("BUG: legacy high-byte register has no other width")
	}
	return Register{width: w, index: r.index}
}

// Equal reports whether r and o denote the same physical register at the
// same width.
func (r Register) Equal(o Register) bool {
	return r.width == o.width && r.index == o.index && r.highByte == o.highByte
}

// IsRAX reports whether r, regardless of width, names the accumulator
// register (rax/eax/ax/al). This is the predicate the FD/TD form lowerers
// use: both forms are accumulator-only, per the SDM's moffs encodings.
func (r Register) IsRAX() bool { return !r.highByte && r.index == RAX }

var regNames8 = [16]string{"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil", "r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b"}
var regNames16 = [16]string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di", "r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w"}
var regNames32 = [16]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi", "r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d"}
var regNames64 = [16]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi", "r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}

// String implements fmt.Stringer, primarily for panic/error messages.
func (r Register) String() string {
	if r.highByte {
		switch r.index {
		case RSP:
			return "ah"
		case RBP:
			return "ch"
		case RSI:
			return "dh"
		case RDI:
			return "bh"
		}
	}
	switch r.width {
	case Width8:
		return regNames8[r.index]
	case Width16:
		return regNames16[r.index]
	case Width32:
		return regNames32[r.index]
	case Width64:
		return regNames64[r.index]
	default:
		return fmt.Sprintf("Register(width=%d,index=%d)", r.width, r.index)
	}
}

// PtrSize is the {byte, word, dword, qword} tag bijecting with widths
// {8, 16, 32, 64}.
type PtrSize uint8

const (
	PtrByte PtrSize = iota
	PtrWord
	PtrDword
	PtrQword
)

// Width converts a pointer-size tag to its bit width.
func (p PtrSize) Width() Width {
	switch p {
	case PtrByte:
		return Width8
	case PtrWord:
		return Width16
	case PtrDword:
		return Width32
	case PtrQword:
		return Width64
	default:
		panic(fmt.Sprintf("BUG: invalid PtrSize %d", p))
	}
}

// PtrSizeForWidth is the inverse of Width: it maps a bit width back to its
// pointer-size tag.
func PtrSizeForWidth(w Width) PtrSize {
	switch w {
	case Width8:
		return PtrByte
	case Width16:
		return PtrWord
	case Width32:
		return PtrDword
	case Width64:
		return PtrQword
	default:
		panic(fmt.Sprintf("BUG: invalid width %d", w))
	}
}

func (p PtrSize) String() string {
	switch p {
	case PtrByte:
		return "byte"
	case PtrWord:
		return "word"
	case PtrDword:
		return "dword"
	case PtrQword:
		return "qword"
	default:
		return fmt.Sprintf("PtrSize(%d)", uint8(p))
	}
}
