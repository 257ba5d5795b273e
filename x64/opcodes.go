package x64

// Opcode is the byte sequence identifying an instruction, before any REX
// prefix, ModR/M, SIB, displacement, or immediate. Most are a single byte;
// the two-byte forms (0x0F xx) carry a leading 0x0F escape byte. Three-byte
// opcodes are not representable.
type Opcode struct {
	bytes [2]byte
	n     uint8
}

func op1(b byte) Opcode      { return Opcode{bytes: [2]byte{b}, n: 1} }
func op2(b1, b2 byte) Opcode { return Opcode{bytes: [2]byte{b1, b2}, n: 2} }

// Bytes returns the opcode's byte sequence.
func (o Opcode) Bytes() []byte { return o.bytes[:o.n] }

// opcode maps (mnemonic, encoding form, is_byte) to the opcode bytes the
// SDM assigns that combination. It is a pure, total function over the
// (mnemonic, form) pairs this core claims to support; every other pair
// returns ok=false, which callers in forms.go treat as a structural bug —
// an unsupported combination reaching this table is an assertion failure,
// not a runtime condition the caller should recover from.
//
// For the RMI form, is_byte is repurposed (following the same pattern
// wazero's instr_encoding.go uses for imul's reg-mem-imm case) to mean
// "the immediate fits in an imm8", since RMI has no byte-operand variant at
// all — imul's reg-mem-imm case only ever operates on word/dword/qword
// operands, so the table only needs one bit to pick between its two
// opcodes.
func opcode(m Mnemonic, form EncodingForm, isByte bool) (Opcode, bool) {
	switch form {
	case FormZO:
		switch m.family {
		case mRetNear:
			return op1(0xC3), true
		case mRetFar:
			return op1(0xCB), true
		case mBrk:
			return op1(0xCC), true
		case mNop:
			return op1(0x90), true
		case mSyscall:
			return op2(0x0F, 0x05), true
		}

	case FormI:
		switch m.family {
		case mRetNear:
			return op1(0xC2), true
		case mRetFar:
			return op1(0xCA), true
		case mPush:
			if isByte {
				return op1(0x6A), true
			}
			return op1(0x68), true
		case mTest:
			if isByte {
				return op1(0xA8), true
			}
			return op1(0xA9), true
		}

	case FormD:
		switch {
		case m.family == mJmpNear:
			return op1(0xE9), true
		case m.family == mCallNear:
			return op1(0xE8), true
		case m.family == mJcc:
			return op2(0x0F, 0x80+byte(m.cond)), true
		}

	case FormM:
		switch m.family {
		case mJmpNear:
			return op1(0xFF), true
		case mCallNear:
			return op1(0xFF), true
		case mPush:
			return op1(0xFF), true
		case mPop:
			return op1(0x8F), true
		case mSetcc:
			return op2(0x0F, 0x90+byte(m.cond)), true
		}

	case FormO:
		switch m.family {
		case mPush:
			return op1(0x50), true
		case mPop:
			return op1(0x58), true
		}

	case FormMI:
		if ext, ok := aluExtOpcode(m, isByte); ok {
			return ext, true
		}
		switch m.family {
		case mMov:
			if isByte {
				return op1(0xC6), true
			}
			return op1(0xC7), true
		case mTest:
			if isByte {
				return op1(0xF6), true
			}
			return op1(0xF7), true
		}

	case FormMR:
		if o, ok := aluMROpcode(m, isByte); ok {
			return o, true
		}
		if m.family == mMov {
			if isByte {
				return op1(0x88), true
			}
			return op1(0x89), true
		}

	case FormRM:
		// The RM arithmetic opcodes mirror MR, offset by 2: the SDM assigns
		// each of these eight mnemonics an opcode pair two bytes apart for
		// its MR and RM forms (e.g. add's 0x00/0x01 MR vs. 0x02/0x03 RM).
		// Applying the +2 formula uniformly, instead of special-casing `or`,
		// already produces the SDM-correct 0x0A/0x0B for `or`'s byte/
		// non-byte RM forms without needing a special case at all.
		if o, ok := aluMROpcode(m, isByte); ok {
			b := o.bytes[o.n-1] + 2
			if o.n == 1 {
				return op1(b), true
			}
			return op2(o.bytes[0], b), true
		}
		switch m.family {
		case mMov:
			if isByte {
				return op1(0x8A), true
			}
			return op1(0x8B), true
		case mLea:
			if !isByte {
				return op1(0x8D), true
			}
		case mImul:
			if !isByte {
				return op2(0x0F, 0xAF), true
			}
		}

	case FormOI:
		if m.family == mMov {
			if isByte {
				return op1(0xB0), true
			}
			return op1(0xB8), true
		}

	case FormFD:
		if m.family == mMov {
			if isByte {
				return op1(0xA0), true
			}
			return op1(0xA1), true
		}

	case FormTD:
		if m.family == mMov {
			if isByte {
				return op1(0xA2), true
			}
			return op1(0xA3), true
		}

	case FormRMI:
		if m.family == mImul {
			if isByte { // imm8 fits (see doc comment above).
				return op1(0x6B), true
			}
			return op1(0x69), true
		}
	}

	return Opcode{}, false
}

// aluMROpcode covers the shared MR opcode shape of the eight binary ALU
// mnemonics: adc 10/11, add 00/01, sub 28/29, xor 30/31, and 20/21, or
// 08/09, sbb 18/19, cmp 38/39.
func aluMROpcode(m Mnemonic, isByte bool) (Opcode, bool) {
	var base byte
	switch m.family {
	case mAdc:
		base = 0x10
	case mAdd:
		base = 0x00
	case mSub:
		base = 0x28
	case mXor:
		base = 0x30
	case mAnd:
		base = 0x20
	case mOr:
		base = 0x08
	case mSbb:
		base = 0x18
	case mCmp:
		base = 0x38
	default:
		return Opcode{}, false
	}
	if isByte {
		return op1(base), true
	}
	return op1(base + 1), true
}

// aluExtOpcode covers the shared MI opcode shape of the eight binary ALU
// mnemonics (80h/81h, distinguished from one another only by modrm_ext).
func aluExtOpcode(m Mnemonic, isByte bool) (Opcode, bool) {
	if !m.IsALU() {
		return Opcode{}, false
	}
	if isByte {
		return op1(0x80), true
	}
	return op1(0x81), true
}

// modrmExt returns the ModR/M.reg opcode-extension nibble for the MI/M
// forms that the SDM distinguishes from one another purely by that field
// rather than by the opcode byte itself (e.g. 0x81 /0 is add, 0x81 /1 is
// or, and so on).
func modrmExt(m Mnemonic) (uint8, bool) {
	switch m.family {
	case mAdd:
		return 0, true
	case mOr:
		return 1, true
	case mAdc:
		return 2, true
	case mSbb:
		return 3, true
	case mAnd:
		return 4, true
	case mSub:
		return 5, true
	case mXor:
		return 6, true
	case mCmp:
		return 7, true
	case mMov, mTest, mPop:
		return 0, true
	case mCallNear:
		return 2, true
	case mJmpNear:
		return 4, true
	case mPush:
		return 6, true
	case mSetcc:
		return 0, true
	default:
		return 0, false
	}
}
