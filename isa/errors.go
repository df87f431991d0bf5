package isa

import "fmt"

// ValidationError reports a malformed or colliding opcode table entry.
// Table validation is fatal: a simulation never starts with a bad table.
type ValidationError struct {
	Mnemonic string
	Opcode   Opcode
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Mnemonic == "" {
		return fmt.Sprintf("isa: invalid entry for opcode 0x%02X: %s", uint8(e.Opcode), e.Reason)
	}
	return fmt.Sprintf("isa: invalid entry %s (opcode 0x%02X): %s", e.Mnemonic, uint8(e.Opcode), e.Reason)
}

// DecodeError reports an instruction word with no table entry. It is a
// recoverable per-core fault, not a simulation failure.
type DecodeError struct {
	Word   uint32
	Opcode Opcode
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("isa: cannot decode word 0x%08X (opcode 0x%02X not in table)", e.Word, uint8(e.Opcode))
}
