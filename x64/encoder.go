package x64

import "encoding/binary"

// maxCodeBufferSize bounds how large a single function's code buffer may
// grow. Real functions never come close to this; it exists purely so
// Reserve has a genuine failure mode to return ErrOutOfMemory through,
// rather than that branch being unreachable dead code.
const maxCodeBufferSize = 1 << 30 // 1 GiB

// Encoder is the byte-level writer: it owns a growable code buffer and
// knows how to emit REX prefixes, opcode bytes, ModR/M, SIB, displacements,
// and immediates. It makes no decisions about which bytes to emit for a
// given instruction — that is the opcode tables' (opcodes.go) and
// encoding-form lowerers' (forms.go) job. The Encoder is mechanical.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the accumulated code buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the current size of the code buffer, i.e. the offset the next
// emitted byte will land at.
func (e *Encoder) Len() int { return len(e.buf) }

// Reserve ensures at least n bytes of additional capacity are available,
// growing the buffer if needed. It fails with ErrOutOfMemory if doing so
// would exceed maxCodeBufferSize.
func (e *Encoder) Reserve(n int) error {
	if len(e.buf)+n > maxCodeBufferSize {
		return ErrOutOfMemory
	}
	if cap(e.buf)-len(e.buf) >= n {
		return nil
	}
	grown := make([]byte, len(e.buf), growCap(cap(e.buf), len(e.buf)+n))
	copy(grown, e.buf)
	e.buf = grown
	return nil
}

func growCap(cur, need int) int {
	if cur == 0 {
		cur = 64
	}
	for cur < need {
		cur *= 2
	}
	return cur
}

// EmitByte appends a single raw byte.
func (e *Encoder) EmitByte(b byte) { e.buf = append(e.buf, b) }

// Rex emits a REX prefix: 0x40 | (W<<3)|(R<<2)|(X<<1)|B, but only if any bit
// is set, or force is true (needed to select spl/bpl/sil/dil over ah/ch/dh/
// bh at width 8, since the two register sets are otherwise indistinguishable
// except by the presence of a REX prefix). If forbid is true (a legacy
// high-byte register is one of the operands), no REX may be emitted at all;
// it is a structural bug to ask for one anyway.
func (e *Encoder) Rex(w, r, x, b, forbid, force bool) {
	if forbid {
		if w || r || x || b || force {
			panic("BUG: REX required but forbidden by a legacy high-byte register operand")
		}
		return
	}
	rex := byte(0x40)
	if w {
		rex |= 0x08
	}
	if r {
		rex |= 0x04
	}
	if x {
		rex |= 0x02
	}
	if b {
		rex |= 0x01
	}
	if rex != 0x40 || force {
		e.EmitByte(rex)
	}
}

// Prefix16Bit emits the 0x66 operand-size override prefix.
func (e *Encoder) Prefix16Bit() { e.EmitByte(0x66) }

// Opcode1Byte emits a single opcode byte.
func (e *Encoder) Opcode1Byte(b byte) { e.EmitByte(b) }

// Opcode2Byte emits a two-byte opcode, i.e. 0x0F followed by b2. This takes
// both bytes explicitly rather than hard-coding 0x0F, since the opcode
// tables already carry the full byte sequence.
func (e *Encoder) Opcode2Byte(b1, b2 byte) {
	e.EmitByte(b1)
	e.EmitByte(b2)
}

// OpcodeWithReg emits an opcode with a register's low 3 bits embedded in it
// (the O and OI forms): b | low3.
func (e *Encoder) OpcodeWithReg(b, low3 byte) { e.EmitByte(b | low3) }

// ModRM mod-field values (Intel SDM Vol. 2 §2.1, table 2.2).
const (
	modIndirectDisp0  = 0b00
	modIndirectDisp8  = 0b01
	modIndirectDisp32 = 0b10
	modDirect         = 0b11
)

func modrm(mod, reg, rm byte) byte { return mod<<6 | (reg&7)<<3 | (rm & 7) }

// ModRMDirect constructs a ModR/M byte for a register-direct operand
// (mod=11): reg is either a register's low 3 bits or an opcode-extension
// nibble, rm is the r/m register's low 3 bits.
func (e *Encoder) ModRMDirect(reg, rm byte) { e.EmitByte(modrm(modDirect, reg, rm)) }

// ModRMIndirectDisp0 constructs mod=00 (no displacement). rm must not be 4
// (SIB present) or 5 (RIP-relative) — callers route those cases through
// ModRMSIBDisp0 / ModRMRipDisp32 instead.
func (e *Encoder) ModRMIndirectDisp0(reg, rm byte) { e.EmitByte(modrm(modIndirectDisp0, reg, rm)) }

// ModRMIndirectDisp8 constructs mod=01 (8-bit displacement follows).
func (e *Encoder) ModRMIndirectDisp8(reg, rm byte) { e.EmitByte(modrm(modIndirectDisp8, reg, rm)) }

// ModRMIndirectDisp32 constructs mod=10 (32-bit displacement follows).
func (e *Encoder) ModRMIndirectDisp32(reg, rm byte) { e.EmitByte(modrm(modIndirectDisp32, reg, rm)) }

// ModRMSIBDisp0 constructs mod=00, rm=4 (a SIB byte follows, no
// displacement).
func (e *Encoder) ModRMSIBDisp0(reg byte) { e.EmitByte(modrm(modIndirectDisp0, reg, 4)) }

// ModRMSIBDisp8 constructs mod=01, rm=4 (SIB byte, then an 8-bit
// displacement).
func (e *Encoder) ModRMSIBDisp8(reg byte) { e.EmitByte(modrm(modIndirectDisp8, reg, 4)) }

// ModRMSIBDisp32 constructs mod=10, rm=4 (SIB byte, then a 32-bit
// displacement).
func (e *Encoder) ModRMSIBDisp32(reg byte) { e.EmitByte(modrm(modIndirectDisp32, reg, 4)) }

// ModRMRipDisp32 constructs mod=00, rm=5 — "[RIP + disp32]".
func (e *Encoder) ModRMRipDisp32(reg byte) { e.EmitByte(modrm(modIndirectDisp0, reg, 5)) }

// SIB constructs a SIB byte: scale (0..3), index low-3-bits, base
// low-3-bits.
func (e *Encoder) SIB(scale, index, base byte) {
	e.EmitByte(scale<<6 | (index&7)<<3 | (base & 7))
}

// Disp8 writes a sign-extended 8-bit displacement.
func (e *Encoder) Disp8(v int8) { e.EmitByte(byte(v)) }

// Disp16 writes a little-endian 16-bit displacement.
func (e *Encoder) Disp16(v int16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	e.buf = append(e.buf, b[:]...)
}

// Disp32 writes a little-endian 32-bit displacement.
func (e *Encoder) Disp32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	e.buf = append(e.buf, b[:]...)
}

// Imm8 writes a single immediate byte.
func (e *Encoder) Imm8(v uint8) { e.EmitByte(v) }

// Imm16 writes a little-endian 16-bit immediate.
func (e *Encoder) Imm16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// Imm32 writes a little-endian 32-bit immediate.
func (e *Encoder) Imm32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// Imm64 writes a little-endian 64-bit immediate (the movabs encoding).
func (e *Encoder) Imm64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// PatchDisp32 overwrites a previously-emitted placeholder 32-bit
// displacement at byte offset patchOffset, little-endian. Used by the
// relocation back-patcher (reloc.go) and the LEA RIP-relative back-patch.
func (e *Encoder) PatchDisp32(patchOffset int, v int32) {
	binary.LittleEndian.PutUint32(e.buf[patchOffset:patchOffset+4], uint32(v))
}

// ReadDisp32 reads a little-endian i32 at the given offset. Exposed for
// tests that need to verify a back-patched displacement directly.
func (e *Encoder) ReadDisp32(offset int) int32 {
	return int32(binary.LittleEndian.Uint32(e.buf[offset : offset+4]))
}
