package emu

import "github.com/psylab/psycore/isa"

// StepResult is the outcome of executing a single instruction.
type StepResult struct {
	// Halted is true once the core has executed a halt instruction.
	Halted bool

	// Fault is set when the instruction raised a core fault. The core
	// halts but the fault is recoverable at the simulation level.
	Fault *CoreFault
}

// Emulator executes instructions functionally, one per step, with no
// timing model. The cycle-accurate pipeline in timing/ must always agree
// with the emulator on architectural state; tests cross-check the two.
type Emulator struct {
	regFile *RegFile
	bus     *Bus
	decoder *isa.Decoder

	halted           bool
	fault            *CoreFault
	instructionCount uint64
	maxInstructions  uint64
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithBus attaches a shared peripheral bus instead of a private memory.
func WithBus(bus *Bus) EmulatorOption {
	return func(e *Emulator) {
		e.bus = bus
	}
}

// WithMaxInstructions bounds the number of instructions Run executes.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// NewEmulator creates a functional emulator for the given opcode table.
func NewEmulator(table *isa.Table, opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regFile: &RegFile{},
		decoder: isa.NewDecoder(table),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.bus == nil {
		e.bus = NewBus(NewMemory())
	}

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile { return e.regFile }

// Bus returns the emulator's bus.
func (e *Emulator) Bus() *Bus { return e.bus }

// Memory returns the backing memory behind the emulator's bus.
func (e *Emulator) Memory() *Memory { return e.bus.Memory() }

// SetPC sets the program counter.
func (e *Emulator) SetPC(pc uint32) { e.regFile.PC = pc }

// Halted reports whether the emulator has stopped.
func (e *Emulator) Halted() bool { return e.halted }

// Fault returns the core fault that stopped the emulator, if any.
func (e *Emulator) Fault() *CoreFault { return e.fault }

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 { return e.instructionCount }

// Step executes one instruction.
func (e *Emulator) Step() StepResult {
	if e.halted {
		return StepResult{Halted: true, Fault: e.fault}
	}

	pc := e.regFile.PC
	if pc%4 != 0 {
		return e.raise(&CoreFault{Kind: FaultMisaligned, PC: pc, Addr: pc})
	}

	word, _ := e.bus.Read32(pc)
	inst, err := e.decoder.Decode(word)
	if err != nil {
		return e.raise(&CoreFault{Kind: FaultDecode, PC: pc, Err: err})
	}

	entry := inst.Entry
	in := isa.ExecInput{
		Inst:  inst,
		PC:    pc,
		Flags: e.regFile.Flags,
	}
	if entry.ReadsA {
		in.A = e.regFile.Read(inst.Ra)
	}
	switch entry.Format {
	case isa.FormatImm:
		in.B = inst.Imm
	default:
		if entry.ReadsB {
			in.B = e.regFile.Read(inst.Rb)
		}
	}
	if entry.ReadsRd {
		in.StoreValue = e.regFile.Read(inst.Rd)
	}

	out := entry.Exec(in)

	switch {
	case entry.IsLoad:
		if out.Value%4 != 0 {
			return e.raise(&CoreFault{Kind: FaultMisaligned, PC: pc, Addr: out.Value})
		}
		value, _ := e.bus.Read32(out.Value)
		e.regFile.Write(inst.Rd, value)
	case entry.IsStore:
		if out.Value%4 != 0 {
			return e.raise(&CoreFault{Kind: FaultMisaligned, PC: pc, Addr: out.Value})
		}
		e.bus.Write32(out.Value, out.StoreValue)
	case entry.WritesRd:
		e.regFile.Write(inst.Rd, out.Value)
	}

	if out.FlagsValid {
		e.regFile.Flags = out.Flags
	}

	if out.Taken {
		e.regFile.PC = out.Target
	} else {
		e.regFile.PC = pc + 4
	}

	e.instructionCount++

	if out.Halt {
		e.halted = true
	}

	return StepResult{Halted: e.halted}
}

func (e *Emulator) raise(f *CoreFault) StepResult {
	e.halted = true
	e.fault = f
	return StepResult{Halted: true, Fault: f}
}

// Run executes until the core halts, faults, or hits the instruction
// limit. It returns the fault that stopped execution, if any.
func (e *Emulator) Run() *CoreFault {
	for !e.halted {
		if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
			break
		}
		e.Step()
	}
	return e.fault
}

// Reset clears register and execution state. Memory is left untouched so
// a loaded program can be re-run.
func (e *Emulator) Reset() {
	e.regFile.Reset()
	e.halted = false
	e.fault = nil
	e.instructionCount = 0
}
