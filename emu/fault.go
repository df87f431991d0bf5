package emu

import "fmt"

// FaultKind classifies recoverable per-core runtime anomalies.
type FaultKind uint8

// Fault kinds.
const (
	FaultDecode FaultKind = iota
	FaultMisaligned
)

// String returns the fault kind name.
func (k FaultKind) String() string {
	switch k {
	case FaultDecode:
		return "decode"
	case FaultMisaligned:
		return "misaligned"
	default:
		return fmt.Sprintf("fault(%d)", uint8(k))
	}
}

// CoreFault is a recoverable runtime anomaly on one core: a decode
// failure or a misaligned access. Faults are surfaced as events and
// counted; they halt the faulting core, never the host process.
type CoreFault struct {
	Kind   FaultKind
	CoreID int
	PC     uint32
	Cycle  uint64

	// Addr is the offending address for misaligned accesses.
	Addr uint32

	// Err is the underlying error, e.g. an *isa.DecodeError.
	Err error
}

func (f *CoreFault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("core %d: %s fault at PC=0x%08X (cycle %d): %v",
			f.CoreID, f.Kind, f.PC, f.Cycle, f.Err)
	}
	return fmt.Sprintf("core %d: %s fault at PC=0x%08X addr=0x%08X (cycle %d)",
		f.CoreID, f.Kind, f.PC, f.Addr, f.Cycle)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (f *CoreFault) Unwrap() error {
	return f.Err
}
