package pipeline

import (
	"fmt"

	"github.com/psylab/psycore/emu"
	"github.com/psylab/psycore/isa"
)

// HazardPolicy selects how decode resolves reads of registers with an
// in-flight writer.
type HazardPolicy uint8

// Hazard policies.
const (
	// StallUntilWriteback holds the reader in Decode until the writer
	// commits.
	StallUntilWriteback HazardPolicy = iota
	// Forwarding bypasses completed results from the Memory and
	// Writeback slots; only a load feeding its immediate successor
	// still stalls.
	Forwarding
)

// String returns the policy name.
func (p HazardPolicy) String() string {
	if p == Forwarding {
		return "forwarding"
	}
	return "stall"
}

// ParseHazardPolicy maps a policy name to its value.
func ParseHazardPolicy(name string) (HazardPolicy, error) {
	switch name {
	case "stall", "":
		return StallUntilWriteback, nil
	case "forwarding":
		return Forwarding, nil
	default:
		return StallUntilWriteback, fmt.Errorf("unknown hazard policy %q", name)
	}
}

// operands holds the source values an instruction carries into Execute.
type operands struct {
	a     uint32
	b     uint32
	store uint32
	flags isa.Flags
}

// hazardUnit resolves decode-stage data hazards against the register
// file and the downstream pipeline slots. The policy is fixed for the
// lifetime of a run.
type hazardUnit struct {
	policy  HazardPolicy
	regFile *emu.RegFile
}

func newHazardUnit(policy HazardPolicy, regFile *emu.RegFile) *hazardUnit {
	return &hazardUnit{policy: policy, regFile: regFile}
}

// resolve gathers the operands of inst, forwarding from memSlot and
// wbSlot when the policy allows. ok is false when a hazard holds the
// instruction in Decode this cycle.
func (h *hazardUnit) resolve(inst *isa.Instruction, memSlot, wbSlot *Slot) (operands, bool) {
	var ops operands
	entry := inst.Entry

	// A second in-flight writer of the same register or the flags
	// would break the one-writer bookkeeping, so it waits regardless
	// of policy.
	if entry.WritesRd && h.regFile.Pending(inst.Rd) {
		return ops, false
	}
	if entry.WritesFlags && h.regFile.FlagsPending() {
		return ops, false
	}

	if entry.ReadsA {
		v, ok := h.regValue(inst.Ra, memSlot, wbSlot)
		if !ok {
			return ops, false
		}
		ops.a = v
	}
	switch {
	case entry.Format == isa.FormatImm:
		ops.b = inst.Imm
	case entry.ReadsB:
		v, ok := h.regValue(inst.Rb, memSlot, wbSlot)
		if !ok {
			return ops, false
		}
		ops.b = v
	}
	if entry.ReadsRd {
		v, ok := h.regValue(inst.Rd, memSlot, wbSlot)
		if !ok {
			return ops, false
		}
		ops.store = v
	}
	if entry.ReadsFlags {
		f, ok := h.flagsValue(memSlot, wbSlot)
		if !ok {
			return ops, false
		}
		ops.flags = f
	}
	return ops, true
}

// regValue resolves one source register. With no pending writer the
// committed value is used. Otherwise the writer must be found in the
// Memory or Writeback slot with its result ready, and only under the
// Forwarding policy.
func (h *hazardUnit) regValue(reg uint8, memSlot, wbSlot *Slot) (uint32, bool) {
	if !h.regFile.Pending(reg) {
		return h.regFile.Read(reg), true
	}
	if h.policy != Forwarding {
		return 0, false
	}
	for _, s := range [...]*Slot{memSlot, wbSlot} {
		rd, writes := s.writesReg()
		if !writes || rd != reg {
			continue
		}
		if s.Inst.Entry.IsLoad {
			// Load data is only available once the access
			// finished; a load-use pair still costs a stall.
			if s == memSlot && s.State != SlotDone {
				return 0, false
			}
			return s.MemData, true
		}
		return s.Value, true
	}
	return 0, false
}

// flagsValue resolves the compare flags the same way regValue resolves
// a register.
func (h *hazardUnit) flagsValue(memSlot, wbSlot *Slot) (isa.Flags, bool) {
	if !h.regFile.FlagsPending() {
		return h.regFile.Flags, true
	}
	if h.policy != Forwarding {
		return isa.Flags{}, false
	}
	for _, s := range [...]*Slot{memSlot, wbSlot} {
		if s.writesFlags() && s.FlagsValid {
			return s.Flags, true
		}
	}
	return isa.Flags{}, false
}
