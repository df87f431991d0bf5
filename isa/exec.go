package isa

// Semantics bundles the format, operand usage, instruction class, and
// semantic action of one mnemonic, independent of its encoding and costs.
// Loading a table from a config file binds encodings and cycle costs to
// registered semantics by mnemonic.
type Semantics struct {
	Format      Format
	ReadsA      bool
	ReadsB      bool
	ReadsRd     bool
	WritesRd    bool
	IsLoad      bool
	IsStore     bool
	IsBranch    bool
	IsHalt      bool
	ReadsFlags  bool
	WritesFlags bool
	Exec        ExecFunc
}

// semantics is the open mnemonic registry. Built-in instructions register
// here at init time; users add new mnemonics with RegisterSemantics before
// loading a table that names them.
var semantics = map[string]Semantics{}

// RegisterSemantics registers the semantics of a mnemonic. Registering a
// mnemonic twice fails with a *ValidationError so that a user extension
// cannot silently shadow a built-in instruction.
func RegisterSemantics(mnemonic string, s Semantics) error {
	if _, dup := semantics[mnemonic]; dup {
		return &ValidationError{Mnemonic: mnemonic, Reason: "semantics already registered"}
	}
	if s.Exec == nil {
		return &ValidationError{Mnemonic: mnemonic, Reason: "no semantic action"}
	}
	semantics[mnemonic] = s
	return nil
}

// LookupSemantics returns the registered semantics for a mnemonic.
func LookupSemantics(mnemonic string) (Semantics, bool) {
	s, ok := semantics[mnemonic]
	return s, ok
}

func mustRegister(mnemonic string, s Semantics) {
	if err := RegisterSemantics(mnemonic, s); err != nil {
		panic(err)
	}
}

// branchTarget computes a PC-relative branch target from a word offset.
func branchTarget(pc uint32, off int32) uint32 {
	return uint32(int64(pc) + int64(off)*4)
}

func aluSemantics(fn func(a, b uint32) uint32) Semantics {
	return Semantics{
		Format:   FormatReg,
		ReadsA:   true,
		ReadsB:   true,
		WritesRd: true,
		Exec: func(in ExecInput) ExecOutput {
			return ExecOutput{Value: fn(in.A, in.B)}
		},
	}
}

func condBranchSemantics(cond func(f Flags) bool) Semantics {
	return Semantics{
		Format:     FormatBranch,
		IsBranch:   true,
		ReadsFlags: true,
		Exec: func(in ExecInput) ExecOutput {
			if !cond(in.Flags) {
				return ExecOutput{}
			}
			return ExecOutput{Taken: true, Target: branchTarget(in.PC, in.Inst.Off)}
		},
	}
}

func compareFlags(a, b uint32) Flags {
	return Flags{
		Z: a == b,
		N: int32(a)-int32(b) < 0,
	}
}

func init() {
	mustRegister("NOP", Semantics{
		Format: FormatNone,
		Exec:   func(ExecInput) ExecOutput { return ExecOutput{} },
	})
	mustRegister("HALT", Semantics{
		Format: FormatNone,
		IsHalt: true,
		Exec:   func(ExecInput) ExecOutput { return ExecOutput{Halt: true} },
	})

	mustRegister("MOVI", Semantics{
		Format:   FormatImm,
		WritesRd: true,
		Exec: func(in ExecInput) ExecOutput {
			return ExecOutput{Value: in.B}
		},
	})
	mustRegister("ADDI", Semantics{
		Format:   FormatImm,
		ReadsA:   true,
		WritesRd: true,
		Exec: func(in ExecInput) ExecOutput {
			return ExecOutput{Value: in.A + in.B}
		},
	})
	mustRegister("CMPI", Semantics{
		Format:      FormatImm,
		ReadsA:      true,
		WritesFlags: true,
		Exec: func(in ExecInput) ExecOutput {
			return ExecOutput{FlagsValid: true, Flags: compareFlags(in.A, in.B)}
		},
	})

	mustRegister("ADD", aluSemantics(func(a, b uint32) uint32 { return a + b }))
	mustRegister("SUB", aluSemantics(func(a, b uint32) uint32 { return a - b }))
	mustRegister("AND", aluSemantics(func(a, b uint32) uint32 { return a & b }))
	mustRegister("OR", aluSemantics(func(a, b uint32) uint32 { return a | b }))
	mustRegister("XOR", aluSemantics(func(a, b uint32) uint32 { return a ^ b }))
	mustRegister("SHL", aluSemantics(func(a, b uint32) uint32 { return a << (b & 31) }))
	mustRegister("SHR", aluSemantics(func(a, b uint32) uint32 { return a >> (b & 31) }))
	mustRegister("MUL", aluSemantics(func(a, b uint32) uint32 { return a * b }))
	mustRegister("CMP", Semantics{
		Format:      FormatReg,
		ReadsA:      true,
		ReadsB:      true,
		WritesFlags: true,
		Exec: func(in ExecInput) ExecOutput {
			return ExecOutput{FlagsValid: true, Flags: compareFlags(in.A, in.B)}
		},
	})

	mustRegister("LD", Semantics{
		Format:   FormatMem,
		ReadsA:   true,
		WritesRd: true,
		IsLoad:   true,
		Exec: func(in ExecInput) ExecOutput {
			return ExecOutput{Value: uint32(int64(in.A) + int64(in.Inst.Off))}
		},
	})
	mustRegister("ST", Semantics{
		Format:  FormatMem,
		ReadsA:  true,
		ReadsRd: true,
		IsStore: true,
		Exec: func(in ExecInput) ExecOutput {
			return ExecOutput{
				Value:      uint32(int64(in.A) + int64(in.Inst.Off)),
				StoreValue: in.StoreValue,
			}
		},
	})

	mustRegister("JMP", Semantics{
		Format:   FormatBranch,
		IsBranch: true,
		Exec: func(in ExecInput) ExecOutput {
			return ExecOutput{Taken: true, Target: branchTarget(in.PC, in.Inst.Off)}
		},
	})
	mustRegister("JZ", condBranchSemantics(func(f Flags) bool { return f.Z }))
	mustRegister("JNZ", condBranchSemantics(func(f Flags) bool { return !f.Z }))
	mustRegister("JN", condBranchSemantics(func(f Flags) bool { return f.N }))
}

// entryFor builds a table entry binding a mnemonic's semantics to an
// opcode and cost vector.
func entryFor(op Opcode, mnemonic string, costs StageCosts) (Entry, error) {
	s, ok := LookupSemantics(mnemonic)
	if !ok {
		return Entry{}, &ValidationError{Mnemonic: mnemonic, Opcode: op, Reason: "no registered semantics"}
	}
	return Entry{
		Opcode:      op,
		Mnemonic:    mnemonic,
		Format:      s.Format,
		Costs:       costs,
		ReadsA:      s.ReadsA,
		ReadsB:      s.ReadsB,
		ReadsRd:     s.ReadsRd,
		WritesRd:    s.WritesRd,
		IsLoad:      s.IsLoad,
		IsStore:     s.IsStore,
		IsBranch:    s.IsBranch,
		IsHalt:      s.IsHalt,
		ReadsFlags:  s.ReadsFlags,
		WritesFlags: s.WritesFlags,
		Exec:        s.Exec,
	}, nil
}

// Default opcode assignments for the built-in instruction set.
const (
	OpNOP  Opcode = 0x00
	OpHALT Opcode = 0x01
	OpMOVI Opcode = 0x10
	OpADDI Opcode = 0x11
	OpCMPI Opcode = 0x12
	OpADD  Opcode = 0x20
	OpSUB  Opcode = 0x21
	OpAND  Opcode = 0x22
	OpOR   Opcode = 0x23
	OpXOR  Opcode = 0x24
	OpSHL  Opcode = 0x25
	OpSHR  Opcode = 0x26
	OpCMP  Opcode = 0x27
	OpMUL  Opcode = 0x28
	OpLD   Opcode = 0x30
	OpST   Opcode = 0x31
	OpJMP  Opcode = 0x40
	OpJZ   Opcode = 0x41
	OpJNZ  Opcode = 0x42
	OpJN   Opcode = 0x43
)

// DefaultTable returns the built-in instruction set. Single-cycle stage
// costs everywhere except MUL, which occupies Execute for three cycles.
// Load and store memory timing comes from the memory hierarchy, not the
// table, so their Memory cost stays at the one-cycle occupancy minimum.
func DefaultTable() *Table {
	one := UniformCosts(1)
	mulCosts := one
	mulCosts[StageExecute] = 3

	specs := []struct {
		op    Opcode
		name  string
		costs StageCosts
	}{
		{OpNOP, "NOP", one},
		{OpHALT, "HALT", one},
		{OpMOVI, "MOVI", one},
		{OpADDI, "ADDI", one},
		{OpCMPI, "CMPI", one},
		{OpADD, "ADD", one},
		{OpSUB, "SUB", one},
		{OpAND, "AND", one},
		{OpOR, "OR", one},
		{OpXOR, "XOR", one},
		{OpSHL, "SHL", one},
		{OpSHR, "SHR", one},
		{OpCMP, "CMP", one},
		{OpMUL, "MUL", mulCosts},
		{OpLD, "LD", one},
		{OpST, "ST", one},
		{OpJMP, "JMP", one},
		{OpJZ, "JZ", one},
		{OpJNZ, "JNZ", one},
		{OpJN, "JN", one},
	}

	entries := make([]Entry, 0, len(specs))
	for _, sp := range specs {
		e, err := entryFor(sp.op, sp.name, sp.costs)
		if err != nil {
			panic(err)
		}
		entries = append(entries, e)
	}
	return MustNewTable(entries)
}
