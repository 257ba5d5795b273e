package x64

// DebugSink is the polymorphic debug-output collaborator: a variant over
// {DWARF, Plan9, None}, each owning its own buffers rather than sharing
// state through inheritance.
type DebugSink interface {
	// Line records a dbg_line event at the given code-buffer offset.
	Line(codeOffset int, line, column uint32)
	// PrologueEnd records a dbg_prologue_end event.
	PrologueEnd(codeOffset int)
	// EpilogueBegin records a dbg_epilogue_begin event.
	EpilogueBegin(codeOffset int)
	// Param records an arg_dbg_info event: reg is non-nil for a
	// register-resident argument, nil for a stack-resident one (in which
	// case stackOffset is meaningful instead); typeRef is the abstract
	// type reference the caller will later resolve to a DWARF type DIE
	// offset.
	Param(reg *Register, stackOffset int32, typeRef uint32, codeOffset int)
}

// NoneSink discards all debug output.
type NoneSink struct{}

func (NoneSink) Line(int, uint32, uint32) {}
func (NoneSink) PrologueEnd(int) {}
func (NoneSink) EpilogueBegin(int) {}
func (NoneSink) Param(*Register, int32, uint32, int) {}

// DWARF line-number program standard opcodes (DWARF5 §6.2.5.2). This core
// only ever emits this fixed subset.
const (
	dwLNSCopy             = 0x01
	dwLNSAdvancePC        = 0x02
	dwLNSAdvanceLine      = 0x03
	dwLNSSetPrologueEnd   = 0x0a
	dwLNSSetEpilogueBegin = 0x0b
)

// abbrevParameter is this core's chosen abbreviation code for a DW_TAG_
// formal_parameter DIE. There is no abbreviation-table producer in this
// package, since the DWARF consumer (the object-file writer) is an
// external collaborator; the value only needs to be self-consistent with
// whatever abbreviation table that collaborator eventually emits alongside
// this stream.
const abbrevParameter = 0x05

// DwarfSink accumulates a DWARF line-number program and a minimal
// debug_info parameter stream. Written directly against the DWARF5
// standard-opcode encoding and LEB128 integer encoding, since no example
// in this module's reference corpus emits DWARF.
type DwarfSink struct {
	LineProgram []byte // the line-number program
	Info        []byte // the parameter DIE stream

	// PendingTypeRelocs maps an abstract type reference (ArgDbgInfo.AirInst)
	// to the byte offsets within Info still holding a 4-byte zero
	// placeholder for that type's eventual DIE offset.
	PendingTypeRelocs map[uint32][]int

	prevPC   int
	prevLine uint32
}

// NewDwarfSink returns an empty DwarfSink.
func NewDwarfSink() *DwarfSink {
	return &DwarfSink{PendingTypeRelocs: make(map[uint32][]int)}
}

func (d *DwarfSink) advancePC(codeOffset int) {
	delta := codeOffset - d.prevPC
	if delta != 0 {
		d.LineProgram = append(d.LineProgram, dwLNSAdvancePC)
		d.LineProgram = appendULEB128(d.LineProgram, uint64(delta))
	}
	d.prevPC = codeOffset
}

func (d *DwarfSink) Line(codeOffset int, line, column uint32) {
	d.advancePC(codeOffset)
	deltaLine := int64(line) - int64(d.prevLine)
	if deltaLine != 0 {
		d.LineProgram = append(d.LineProgram, dwLNSAdvanceLine)
		d.LineProgram = appendSLEB128(d.LineProgram, deltaLine)
	}
	d.LineProgram = append(d.LineProgram, dwLNSCopy)
	d.prevLine = line
}

func (d *DwarfSink) PrologueEnd(codeOffset int) {
	d.LineProgram = append(d.LineProgram, dwLNSSetPrologueEnd)
	d.advancePC(codeOffset)
	d.LineProgram = append(d.LineProgram, dwLNSCopy)
}

func (d *DwarfSink) EpilogueBegin(codeOffset int) {
	d.LineProgram = append(d.LineProgram, dwLNSSetEpilogueBegin)
	d.advancePC(codeOffset)
	d.LineProgram = append(d.LineProgram, dwLNSCopy)
}

func (d *DwarfSink) Param(reg *Register, stackOffset int32, typeRef uint32, codeOffset int) {
	if reg == nil {
		// Stack-resident arguments carry no register DWARF expression in
		// this core; the linker collaborator is responsible for emitting
		// a location list from stackOffset if it chooses to.
		return
	}
	d.Info = append(d.Info, abbrevParameter)
	d.Info = append(d.Info, dwOpReg(*reg))
	patchOffset := len(d.Info)
	d.Info = append(d.Info, 0, 0, 0, 0)
	d.PendingTypeRelocs[typeRef] = append(d.PendingTypeRelocs[typeRef], patchOffset)
}

// dwOpReg returns the single-byte DW_OP_reg<N> expression opcode for a
// register's DWARF register number, which for the general-purpose set
// coincides with its low_id. DW_OP_reg0 is 0x50.
func dwOpReg(r Register) byte { return 0x50 + r.LowID() }

// Plan9Sink accumulates a Plan9 pcline table, using a per-architecture
// quantum (the minimum instruction length the table can represent a PC
// advance in, conventionally 1 on x86).
type Plan9Sink struct {
	Buf []byte

	quantum     int
	prevPC      int
	LineCounter uint32
	PCOpIndex   int
}

// NewPlan9Sink returns an empty Plan9Sink with the given PC quantum.
func NewPlan9Sink(quantum int) *Plan9Sink {
	return &Plan9Sink{quantum: quantum}
}

func (p *Plan9Sink) Line(codeOffset int, line, column uint32) {
	delta := codeOffset - p.prevPC
	if delta > 0 {
		p.LineCounter++
		p.Buf = append(p.Buf, byte(((delta-p.quantum)/p.quantum)+128-p.quantum))
		p.PCOpIndex++
	}
	p.prevPC = codeOffset
}

func (p *Plan9Sink) PrologueEnd(codeOffset int)   { p.Line(codeOffset, 0, 0) }
func (p *Plan9Sink) EpilogueBegin(codeOffset int) { p.Line(codeOffset, 0, 0) }

// Param is a no-op for Plan9: the Plan9 pcline table carries no
// per-parameter type information.
func (p *Plan9Sink) Param(*Register, int32, uint32, int) {}

// appendULEB128 appends v to buf as an unsigned LEB128 integer.
func appendULEB128(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			return buf
		}
	}
}

// appendSLEB128 appends v to buf as a signed LEB128 integer.
func appendSLEB128(buf []byte, v int64) []byte {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		buf = append(buf, b)
	}
	return buf
}
