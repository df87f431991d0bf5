// Package isa defines the simulated instruction set as a declarative,
// validated opcode table. The pipeline consults the table for decode rules
// and per-stage cycle costs but never depends on concrete opcodes.
package isa

import "fmt"

// Opcode identifies an instruction encoding. The top byte of every
// instruction word selects the table entry.
type Opcode uint8

// Format represents an instruction operand shape.
type Format uint8

// Instruction formats.
const (
	FormatUnknown Format = iota
	FormatNone           // no operands (NOP, HALT)
	FormatReg            // rd, ra, rb register operands
	FormatImm            // rd, ra and a 16-bit immediate
	FormatMem            // rd, [ra + disp16]
	FormatBranch         // PC-relative signed 16-bit word offset
)

// String returns the config-file name of the format.
func (f Format) String() string {
	switch f {
	case FormatNone:
		return "none"
	case FormatReg:
		return "reg"
	case FormatImm:
		return "imm"
	case FormatMem:
		return "mem"
	case FormatBranch:
		return "branch"
	default:
		return "unknown"
	}
}

// Stage identifies a pipeline stage for cycle-cost lookup.
type Stage int

// Pipeline stages, in program order.
const (
	StageFetch Stage = iota
	StageDecode
	StageExecute
	StageMemory
	StageWriteback

	// NumStages is the pipeline depth.
	NumStages = 5
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageFetch:
		return "fetch"
	case StageDecode:
		return "decode"
	case StageExecute:
		return "execute"
	case StageMemory:
		return "memory"
	case StageWriteback:
		return "writeback"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// StageCosts holds the cycle cost an instruction contributes to each
// pipeline stage. Every cost must be at least 1.
type StageCosts [NumStages]uint64

// UniformCosts returns a cost vector with the same cost in every stage.
func UniformCosts(c uint64) StageCosts {
	var costs StageCosts
	for i := range costs {
		costs[i] = c
	}
	return costs
}

// Flags holds the condition flags produced by compare instructions.
type Flags struct {
	// Z is set when the last compare found its operands equal.
	Z bool
	// N is set when the last compare found a negative (signed) difference.
	N bool
}

// ExecInput carries the operand values an instruction observes in the
// Execute stage. Operand values may have been forwarded; the semantic
// function never touches the register file directly.
type ExecInput struct {
	Inst *Instruction

	// A is the first source operand (value of ra).
	A uint32
	// B is the second source operand (rb value or zero-extended immediate).
	B uint32
	// StoreValue is the rd value for store instructions.
	StoreValue uint32

	// PC is the address of the instruction.
	PC uint32

	// Flags is the flag state visible to the instruction.
	Flags Flags
}

// ExecOutput is the architectural effect computed in the Execute stage.
type ExecOutput struct {
	// Value is the ALU result, or the effective address for loads/stores.
	Value uint32

	// StoreValue is the value a store sends to memory.
	StoreValue uint32

	// Taken and Target describe a resolved branch.
	Taken  bool
	Target uint32

	// FlagsValid marks Flags as a new flag state to commit.
	FlagsValid bool
	Flags      Flags

	// Halt stops the core after this instruction retires.
	Halt bool
}

// ExecFunc is the semantic action of one table entry.
type ExecFunc func(ExecInput) ExecOutput

// Entry describes one instruction: its encoding, operand shape, per-stage
// cycle costs, hazard-relevant operand usage, and semantic action.
type Entry struct {
	Opcode   Opcode
	Mnemonic string
	Format   Format
	Costs    StageCosts

	// Operand usage, consulted by hazard detection.
	ReadsA   bool // reads ra in Decode
	ReadsB   bool // reads rb in Decode
	ReadsRd  bool // reads rd in Decode (store data)
	WritesRd bool // writes rd in Writeback

	// Instruction class.
	IsLoad   bool
	IsStore  bool
	IsBranch bool
	IsHalt   bool

	// ReadsFlags marks conditional branches that consume compare flags.
	// WritesFlags marks compares that produce a new flag state.
	ReadsFlags  bool
	WritesFlags bool

	Exec ExecFunc
}

// Instruction is one decoded instruction. Immutable once decoded.
type Instruction struct {
	// Entry is the table entry that produced this instruction.
	Entry *Entry

	// Raw is the undecoded instruction word.
	Raw uint32

	Opcode Opcode
	Rd     uint8
	Ra     uint8
	Rb     uint8

	// Imm is the zero-extended 16-bit immediate (FormatImm).
	Imm uint32

	// Off is the sign-extended 16-bit offset: a word offset for branches,
	// a byte displacement for loads and stores.
	Off int32
}

// Mnemonic returns the mnemonic of the instruction's table entry.
func (i *Instruction) Mnemonic() string {
	if i == nil || i.Entry == nil {
		return "???"
	}
	return i.Entry.Mnemonic
}

// String renders the instruction for traces and error messages.
func (i *Instruction) String() string {
	if i == nil || i.Entry == nil {
		return "???"
	}
	switch i.Entry.Format {
	case FormatReg:
		return fmt.Sprintf("%s r%d, r%d, r%d", i.Entry.Mnemonic, i.Rd, i.Ra, i.Rb)
	case FormatImm:
		return fmt.Sprintf("%s r%d, r%d, #%d", i.Entry.Mnemonic, i.Rd, i.Ra, i.Imm)
	case FormatMem:
		return fmt.Sprintf("%s r%d, [r%d%+d]", i.Entry.Mnemonic, i.Rd, i.Ra, i.Off)
	case FormatBranch:
		return fmt.Sprintf("%s %+d", i.Entry.Mnemonic, i.Off)
	default:
		return i.Entry.Mnemonic
	}
}

// Table is a validated, collision-free opcode table. It is pure lookup
// state: the table has no notion of cycles or pipeline position.
type Table struct {
	entries [256]*Entry
	byName  map[string]*Entry
}

// NewTable builds a table from the given entries. It fails with a
// *ValidationError if two entries share an opcode, a mnemonic is duplicated
// or empty, a format is unknown, a stage cost is zero, or an entry has no
// semantic action.
func NewTable(entries []Entry) (*Table, error) {
	t := &Table{byName: make(map[string]*Entry, len(entries))}

	for i := range entries {
		e := entries[i]
		if e.Mnemonic == "" {
			return nil, &ValidationError{Opcode: e.Opcode, Reason: "empty mnemonic"}
		}
		if e.Format == FormatUnknown || e.Format > FormatBranch {
			return nil, &ValidationError{Mnemonic: e.Mnemonic, Opcode: e.Opcode, Reason: "unknown format"}
		}
		if e.Exec == nil {
			return nil, &ValidationError{Mnemonic: e.Mnemonic, Opcode: e.Opcode, Reason: "no semantic action"}
		}
		for s, c := range e.Costs {
			if c == 0 {
				return nil, &ValidationError{
					Mnemonic: e.Mnemonic,
					Opcode:   e.Opcode,
					Reason:   fmt.Sprintf("zero cycle cost in %s stage", Stage(s)),
				}
			}
		}
		if prev := t.entries[e.Opcode]; prev != nil {
			return nil, &ValidationError{
				Mnemonic: e.Mnemonic,
				Opcode:   e.Opcode,
				Reason:   fmt.Sprintf("encoding collides with %s", prev.Mnemonic),
			}
		}
		if _, dup := t.byName[e.Mnemonic]; dup {
			return nil, &ValidationError{Mnemonic: e.Mnemonic, Opcode: e.Opcode, Reason: "duplicate mnemonic"}
		}

		stored := e
		t.entries[e.Opcode] = &stored
		t.byName[e.Mnemonic] = &stored
	}

	return t, nil
}

// MustNewTable is NewTable for tables known valid at compile time.
func MustNewTable(entries []Entry) *Table {
	t, err := NewTable(entries)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the entry for an opcode, or nil if none is defined.
func (t *Table) Lookup(op Opcode) *Entry {
	return t.entries[op]
}

// LookupMnemonic returns the entry with the given mnemonic, or nil.
func (t *Table) LookupMnemonic(name string) *Entry {
	return t.byName[name]
}

// Entries returns all defined entries in ascending opcode order.
func (t *Table) Entries() []*Entry {
	out := make([]*Entry, 0, len(t.byName))
	for op := 0; op < 256; op++ {
		if t.entries[op] != nil {
			out = append(out, t.entries[op])
		}
	}
	return out
}
