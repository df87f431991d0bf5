// Package pipeline provides the 5-stage in-order pipeline model for
// cycle-accurate timing simulation of a configurable instruction set.
package pipeline

import (
	"github.com/psylab/psycore/emu"
	"github.com/psylab/psycore/isa"
)

// SlotState is the occupancy state of one pipeline stage slot.
type SlotState uint8

// Slot states.
const (
	// SlotEmpty means the stage holds a bubble.
	SlotEmpty SlotState = iota
	// SlotOccupied means the stage is working on an instruction.
	SlotOccupied
	// SlotDone means the stage finished its work and the instruction is
	// waiting to advance.
	SlotDone
)

// StallReason classifies why an instruction is held in place.
type StallReason uint8

// Stall reasons.
const (
	StallNone StallReason = iota
	// StallStructural marks contention for a shared resource (the
	// core's memory port or the shared bus).
	StallStructural
	// StallData marks a read of a register with an in-flight writer.
	StallData
	// StallControl marks cycles lost to a control-flow redirect.
	StallControl
)

// String returns the stall reason name.
func (r StallReason) String() string {
	switch r {
	case StallStructural:
		return "structural"
	case StallData:
		return "data"
	case StallControl:
		return "control"
	default:
		return "none"
	}
}

// Slot is the content of one pipeline stage: an instruction with its
// per-stage progress, or a bubble. Exactly one owner (the pipeline)
// mutates it.
type Slot struct {
	State       SlotState
	StallReason StallReason

	// PC is the address of the instruction.
	PC uint32

	// Word is the raw instruction word (valid from fetch completion).
	Word uint32

	// Inst is the decoded instruction (valid from decode completion).
	Inst *isa.Instruction

	// IssueCycle is the global cycle the instruction entered the
	// pipeline; older instructions win structural arbitration.
	IssueCycle uint64

	// Remaining is the stage-cost countdown for the current stage.
	Remaining uint64

	// Operand values captured when the instruction entered Execute.
	AVal     uint32
	BVal     uint32
	StoreVal uint32

	// Execute results.
	Value      uint32
	Taken      bool
	Target     uint32
	FlagsValid bool
	Flags      isa.Flags
	Halt       bool

	// MemData is the value a load read from memory.
	MemData uint32

	// MemIssued marks that the Memory stage already submitted this
	// instruction's access to the hierarchy.
	MemIssued bool

	// Pending-mark bookkeeping, so a purged instruction releases its
	// register file reservations.
	PendingMarked      bool
	FlagsPendingMarked bool

	// Branch prediction captured at fetch.
	PredictedTaken  bool
	PredictedTarget uint32

	// Fault carries a precise fault raised by this instruction; it
	// surfaces when the instruction reaches writeback, so wrong-path
	// instructions never fault the core.
	Fault *emu.CoreFault
}

// Clear resets the slot to a bubble.
func (s *Slot) Clear() {
	*s = Slot{}
}

// Occupied reports whether the slot holds an instruction.
func (s *Slot) Occupied() bool {
	return s.State != SlotEmpty
}

// writesReg reports whether the slot's instruction writes rd, and which
// register that is.
func (s *Slot) writesReg() (uint8, bool) {
	if s.State == SlotEmpty || s.Inst == nil || s.Inst.Entry == nil {
		return 0, false
	}
	if !s.Inst.Entry.WritesRd {
		return 0, false
	}
	return s.Inst.Rd, true
}

// writesFlags reports whether the slot's instruction writes the flags.
func (s *Slot) writesFlags() bool {
	return s.State != SlotEmpty && s.Inst != nil && s.Inst.Entry != nil &&
		s.Inst.Entry.WritesFlags
}
