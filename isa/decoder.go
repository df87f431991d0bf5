package isa

// Instruction word layout. The opcode byte selects the table entry; the
// remaining fields are interpreted per the entry's format:
//
//	op[31:24] rd[23:20] ra[19:16] rb[15:12] -         (FormatReg)
//	op[31:24] rd[23:20] ra[19:16] imm16[15:0]         (FormatImm)
//	op[31:24] rd[23:20] ra[19:16] disp16[15:0]        (FormatMem)
//	op[31:24] -         -         off16[15:0]         (FormatBranch)
const (
	opcodeShift = 24
	rdShift     = 20
	raShift     = 16
	rbShift     = 12
	regMask     = 0xF
	imm16Mask   = 0xFFFF
)

// Decoder decodes raw instruction words against one opcode table.
type Decoder struct {
	table *Table
}

// NewDecoder creates a decoder for the given table.
func NewDecoder(table *Table) *Decoder {
	return &Decoder{table: table}
}

// Table returns the opcode table the decoder consults.
func (d *Decoder) Table() *Table {
	return d.table
}

// Decode decodes a 32-bit instruction word. Decoding is a total,
// deterministic function of the word: equal words decode to equal
// instructions. Words whose opcode byte has no table entry fail with a
// *DecodeError.
func (d *Decoder) Decode(word uint32) (*Instruction, error) {
	op := Opcode(word >> opcodeShift)
	entry := d.table.Lookup(op)
	if entry == nil {
		return nil, &DecodeError{Word: word, Opcode: op}
	}

	inst := &Instruction{
		Entry:  entry,
		Raw:    word,
		Opcode: op,
	}

	switch entry.Format {
	case FormatReg:
		inst.Rd = uint8((word >> rdShift) & regMask)
		inst.Ra = uint8((word >> raShift) & regMask)
		inst.Rb = uint8((word >> rbShift) & regMask)
	case FormatImm:
		inst.Rd = uint8((word >> rdShift) & regMask)
		inst.Ra = uint8((word >> raShift) & regMask)
		inst.Imm = word & imm16Mask
	case FormatMem:
		inst.Rd = uint8((word >> rdShift) & regMask)
		inst.Ra = uint8((word >> raShift) & regMask)
		inst.Off = signExtend16(word & imm16Mask)
	case FormatBranch:
		inst.Off = signExtend16(word & imm16Mask)
	case FormatNone:
		// No operands.
	}

	return inst, nil
}

// signExtend16 sign-extends the low 16 bits of v.
func signExtend16(v uint32) int32 {
	return int32(int16(v))
}

// Encode assembles an instruction word from an entry and operand fields.
// It is the inverse of Decode for valid operand ranges and exists so tests
// and loaders can build programs without hand-packing bits.
func Encode(e *Entry, rd, ra, rb uint8, imm uint32) uint32 {
	word := uint32(e.Opcode) << opcodeShift
	switch e.Format {
	case FormatReg:
		word |= uint32(rd&regMask) << rdShift
		word |= uint32(ra&regMask) << raShift
		word |= uint32(rb&regMask) << rbShift
	case FormatImm, FormatMem:
		word |= uint32(rd&regMask) << rdShift
		word |= uint32(ra&regMask) << raShift
		word |= imm & imm16Mask
	case FormatBranch:
		word |= imm & imm16Mask
	}
	return word
}
