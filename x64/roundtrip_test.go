package x64

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

// TestRoundTripDisassembly checks that every byte sequence produced here
// disassembles, via an independent disassembler, to the mnemonic that was
// requested. This is the integration-level layer of the test suite,
// grounded on jam-duna's PVM recompiler (pvm/recompiler/recompiler.go),
// which verifies its own JIT-generated x86-64 the same way.
func TestRoundTripDisassembly(t *testing.T) {
	cases := []struct {
		name   string
		encode func(*Encoder) error
		opcode string
	}{
		{
			name: "mov rax, imm32",
			encode: func(e *Encoder) error {
				return lowerMI(e, Mov, RM(R(Width64, RAX)), 0x10)
			},
			opcode: "MOV",
		},
		{
			name: "lea rax, [rip+disp]",
			encode: func(e *Encoder) error {
				return lowerRM(e, Lea, R(Width64, RAX), RMMem(MemRIP(0x10, PtrQword)))
			},
			opcode: "LEA",
		},
		{
			name: "seta r11b",
			encode: func(e *Encoder) error {
				return lowerM(e, SETCC(CondA), RM(R(Width8, R11)))
			},
			opcode: "SETA",
		},
		{
			name: "push r12w",
			encode: func(e *Encoder) error {
				return lowerO(e, Push, R(Width16, R12))
			},
			opcode: "PUSH",
		},
		{
			name: "jmp [r12+0x1000]",
			encode: func(e *Encoder) error {
				return lowerM(e, JmpNear, RMMem(Mem(R(Width64, R12), 0x1000, PtrQword)))
			},
			opcode: "JMP",
		},
		{
			name: "imul rax, [rbp-8], imm32",
			encode: func(e *Encoder) error {
				return lowerRMI(e, Imul, R(Width64, RAX), RMMem(Mem(R(Width64, RBP), -8, PtrQword)), 0x10, false)
			},
			opcode: "IMUL",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := NewEncoder()
			err := c.encode(e)
			require.NoError(t, err)

			inst, decErr := x86asm.Decode(e.Bytes(), 64)
			require.NoError(t, decErr, "disassembler must accept the produced bytes")
			require.Equal(t, len(e.Bytes()), inst.Len, "disassembler must consume the whole instruction")
			require.Equal(t, c.opcode, inst.Op.String())
		})
	}
}
