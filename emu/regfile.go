// Package emu provides the architectural state of one core (registers,
// flat memory, peripheral bus) and a functional reference emulator for the
// configured instruction set.
package emu

import "github.com/psylab/psycore/isa"

// NumRegs is the number of general-purpose work registers per core.
const NumRegs = 16

// RegFile is the per-core register file: 16 work registers R0-R15, the
// program counter, and the compare flags. Pending-write marks make
// in-flight writers visible to hazard detection.
type RegFile struct {
	// R holds the work registers.
	R [NumRegs]uint32

	// PC is the program counter, in bytes.
	PC uint32

	// Flags holds the compare flags.
	Flags isa.Flags

	// pending marks registers with an in-flight writer. At most one
	// writer per register may be in flight; the pipeline enforces this
	// by stalling issue on a second writer.
	pending [NumRegs]bool

	// flagsPending marks an in-flight flags writer (a compare in the
	// pipeline that has not reached writeback).
	flagsPending bool
}

// NewRegFile creates a zeroed register file.
func NewRegFile() *RegFile {
	return &RegFile{}
}

// Read returns the value of a register.
func (r *RegFile) Read(reg uint8) uint32 {
	return r.R[reg&(NumRegs-1)]
}

// Write sets the value of a register.
func (r *RegFile) Write(reg uint8, value uint32) {
	r.R[reg&(NumRegs-1)] = value
}

// MarkPending records an in-flight writer for a register. It reports
// false if the register already has a pending writer.
func (r *RegFile) MarkPending(reg uint8) bool {
	idx := reg & (NumRegs - 1)
	if r.pending[idx] {
		return false
	}
	r.pending[idx] = true
	return true
}

// ClearPending removes the in-flight writer mark from a register.
func (r *RegFile) ClearPending(reg uint8) {
	r.pending[reg&(NumRegs-1)] = false
}

// Pending reports whether a register has an in-flight writer.
func (r *RegFile) Pending(reg uint8) bool {
	return r.pending[reg&(NumRegs-1)]
}

// MarkFlagsPending records an in-flight flags writer.
func (r *RegFile) MarkFlagsPending() { r.flagsPending = true }

// ClearFlagsPending removes the in-flight flags writer mark.
func (r *RegFile) ClearFlagsPending() { r.flagsPending = false }

// FlagsPending reports whether the flags have an in-flight writer.
func (r *RegFile) FlagsPending() bool { return r.flagsPending }

// Reset clears all registers, flags, and pending marks.
func (r *RegFile) Reset() {
	*r = RegFile{}
}
