// Package mir is the machine-independent instruction representation the
// x64 backend lowers. It is the columnar, tagged-instruction table spec'd
// as an external collaborator: a flat list of instructions, each carrying a
// tag (which operation), up to two register operands, a 2-bit flags
// discriminator selecting among that tag's operand-shape variants, and a
// data field whose interpretation depends on the tag. Larger payloads that
// do not fit in a single word live in side arrays, referenced by index.
package mir

import "fmt"

// RegRef is a register operand reference. It deliberately mirrors x64's
// (width, index, high-byte) register identity rather than the architecture
// itself, so this package stays free of any x64 import — the backend
// package is the one translating RegRef into x64.Register, not the other
// way around.
type RegRef struct {
	Present  bool
	Width    uint8 // 8, 16, 32, or 64
	Index    uint8 // 0..15
	HighByte bool
}

// NoReg is the absent-operand sentinel.
var NoReg = RegRef{}

// Reg constructs a present register reference.
func Reg(width, index uint8) RegRef { return RegRef{Present: true, Width: width, Index: index} }

// RegHighByte constructs a legacy high-byte register reference (ah/ch/dh/bh
// share index with sp/bp/si/di but are a distinct register identity).
func RegHighByte(index uint8) RegRef {
	return RegRef{Present: true, Width: 8, Index: index, HighByte: true}
}

// PtrSize mirrors x64.PtrSize without importing it.
type PtrSize uint8

const (
	PtrByte PtrSize = iota
	PtrWord
	PtrDword
	PtrQword
)

// Tag identifies which operation an instruction performs and, implicitly,
// how its Flags field discriminates among that operation's operand-shape
// variants; the dispatch tables in the x64 package document the
// discrimination rule per tag family.
type Tag uint16

const (
	TagAdc Tag = iota
	TagAdd
	TagSub
	TagXor
	TagAnd
	TagOr
	TagSbb
	TagCmp
	TagMov

	TagAdcMemImm
	TagAddMemImm
	TagSubMemImm
	TagXorMemImm
	TagAndMemImm
	TagOrMemImm
	TagSbbMemImm
	TagCmpMemImm
	TagMovMemImm

	TagScaleSrc // RM, reg <- [base + scale*rcx + disp]
	TagScaleDst // MR/MI, [base + scale*rax + disp] <- reg/imm
	TagScaleImm // MI with an ImmPair(dest_off, operand) payload

	TagMovabs
	TagLea
	TagImulComplex

	TagPush
	TagPop
	TagPushCalleeRegs
	TagPopCalleeRegs

	TagJmp
	TagCall
	TagCallExtern

	TagJccGroup1 // jge, jg, jl, jle
	TagJccGroup2 // jae, ja, jb, jbe
	TagJccGroup3 // jne, je

	TagSetccGroup1
	TagSetccGroup2
	TagSetccGroup3

	TagTest
	TagRet
	TagBrk
	TagNop
	TagSyscall

	TagDbgLine
	TagDbgPrologueEnd
	TagDbgEpilogueBegin
	TagArgDbgInfo
)

var tagNames = map[Tag]string{
	TagAdc: "adc", TagAdd: "add", TagSub: "sub", TagXor: "xor", TagAnd: "and",
	TagOr: "or", TagSbb: "sbb", TagCmp: "cmp", TagMov: "mov",
	TagAdcMemImm: "adc_mem_imm", TagAddMemImm: "add_mem_imm", TagSubMemImm: "sub_mem_imm",
	TagXorMemImm: "xor_mem_imm", TagAndMemImm: "and_mem_imm", TagOrMemImm: "or_mem_imm",
	TagSbbMemImm: "sbb_mem_imm", TagCmpMemImm: "cmp_mem_imm", TagMovMemImm: "mov_mem_imm",
	TagScaleSrc: "scale_src", TagScaleDst: "scale_dst", TagScaleImm: "scale_imm",
	TagMovabs: "movabs", TagLea: "lea", TagImulComplex: "imul_complex",
	TagPush: "push", TagPop: "pop",
	TagPushCalleeRegs: "push_regs_from_callee_preserved_regs",
	TagPopCalleeRegs:  "pop_regs_from_callee_preserved_regs",
	TagJmp: "jmp", TagCall: "call", TagCallExtern: "call_extern",
	TagJccGroup1: "jcc_group1", TagJccGroup2: "jcc_group2", TagJccGroup3: "jcc_group3",
	TagSetccGroup1: "setcc_group1", TagSetccGroup2: "setcc_group2", TagSetccGroup3: "setcc_group3",
	TagTest: "test", TagRet: "ret", TagBrk: "brk", TagNop: "nop", TagSyscall: "syscall",
	TagDbgLine: "dbg_line", TagDbgPrologueEnd: "dbg_prologue_end",
	TagDbgEpilogueBegin: "dbg_epilogue_begin", TagArgDbgInfo: "arg_dbg_info",
}

func (t Tag) String() string {
	if n, ok := tagNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Tag(%d)", uint16(t))
}

// Data is the per-instruction side data; which fields are meaningful
// depends on Tag. Most tags use exactly one field.
type Data struct {
	Imm       int32
	Inst      uint32 // branch/relocation target MIR index
	ExternFn  uint32 // extern_fn name-table index
	GotEntry  uint32 // GOT entry index
	RegsMask  uint64 // callee-preserved-register bitmask
	HasPayload bool
	Payload   uint32 // index into one of Program's side arrays
}

// Imm64 is a 64-bit immediate side-array entry (movabs's 64-bit form).
type Imm64 uint64

// ImmPair is a (memory displacement, immediate operand) side-array entry,
// used by the SIB-scaled stores and scale_imm.
type ImmPair struct {
	DestOff int32
	Operand int32
}

// DbgLineColumn is a (line, column) side-array entry for dbg_line events.
type DbgLineColumn struct {
	Line   uint32
	Column uint32
}

// ArgDbgInfo names which source-level argument an arg_dbg_info instruction
// describes.
type ArgDbgInfo struct {
	AirInst  uint32
	ArgIndex uint32
}

// Instr is one row of the columnar MIR table.
type Instr struct {
	Tag   Tag
	Reg1  RegRef
	Reg2  RegRef
	Flags uint8 // 2 bits meaningful
	Data  Data
}

// Program is the full MIR table for one function body, plus its side
// arrays. It is built once (via Builder) and then handed to the x64 backend
// read-only.
type Program struct {
	Instrs         []Instr
	Imm64s         []Imm64
	ImmPairs       []ImmPair
	DbgLineColumns []DbgLineColumn
	ArgDbgInfos    []ArgDbgInfo
}

// Len returns the number of instructions.
func (p *Program) Len() int { return len(p.Instrs) }

// At returns the instruction at MIR index i.
func (p *Program) At(i int) Instr { return p.Instrs[i] }

// Builder accumulates a Program in instruction order.
type Builder struct {
	prog Program
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// Program returns the built program. Valid at any point; further Emit calls
// continue to extend it.
func (b *Builder) Program() *Program { return &b.prog }

// Emit appends instr and returns its MIR index.
func (b *Builder) Emit(instr Instr) uint32 {
	b.prog.Instrs = append(b.prog.Instrs, instr)
	return uint32(len(b.prog.Instrs) - 1)
}

// AddImm64 appends a 64-bit immediate to the side array and returns its
// payload index.
func (b *Builder) AddImm64(v uint64) uint32 {
	b.prog.Imm64s = append(b.prog.Imm64s, Imm64(v))
	return uint32(len(b.prog.Imm64s) - 1)
}

// AddImmPair appends a (dest_off, operand) pair and returns its payload
// index.
func (b *Builder) AddImmPair(destOff, operand int32) uint32 {
	b.prog.ImmPairs = append(b.prog.ImmPairs, ImmPair{DestOff: destOff, Operand: operand})
	return uint32(len(b.prog.ImmPairs) - 1)
}

// AddDbgLineColumn appends a (line, column) pair and returns its payload
// index.
func (b *Builder) AddDbgLineColumn(line, column uint32) uint32 {
	b.prog.DbgLineColumns = append(b.prog.DbgLineColumns, DbgLineColumn{Line: line, Column: column})
	return uint32(len(b.prog.DbgLineColumns) - 1)
}

// AddArgDbgInfo appends an argument debug-info record and returns its
// payload index.
func (b *Builder) AddArgDbgInfo(airInst, argIndex uint32) uint32 {
	b.prog.ArgDbgInfos = append(b.prog.ArgDbgInfos, ArgDbgInfo{AirInst: airInst, ArgIndex: argIndex})
	return uint32(len(b.prog.ArgDbgInfos) - 1)
}
