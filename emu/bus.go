package emu

import "fmt"

// Peripheral is a memory-mapped device. Devices are opaque beyond this
// contract: every access reports its own latency in cycles, and internal
// device behavior is out of the simulation engine's scope.
type Peripheral interface {
	// Name identifies the device in errors and traces.
	Name() string
	// Read returns size bytes at addr along with the access latency.
	Read(addr uint32, size int) (data []byte, latency uint64)
	// Write stores data at addr and returns the access latency.
	Write(addr uint32, data []byte) (latency uint64)
}

// RangeConflictError reports an attempt to register a peripheral over an
// address range that overlaps an existing registration. Registration
// conflicts are fatal at setup time.
type RangeConflictError struct {
	Device   string
	Existing string
	Start    uint32
	End      uint32
}

func (e *RangeConflictError) Error() string {
	return fmt.Sprintf("emu: peripheral %s range [0x%08X, 0x%08X] overlaps %s",
		e.Device, e.Start, e.End, e.Existing)
}

// mapping binds one peripheral to one address range, end inclusive.
type mapping struct {
	start, end uint32
	dev        Peripheral
}

// Bus dispatches accesses by address range: registered peripheral ranges
// go to their device, everything else to backing memory. One peripheral
// per range; overlapping registrations fail.
type Bus struct {
	memory   *Memory
	mappings []mapping
}

// NewBus creates a bus over the given backing memory.
func NewBus(memory *Memory) *Bus {
	return &Bus{memory: memory}
}

// Memory returns the backing memory behind the bus.
func (b *Bus) Memory() *Memory {
	return b.memory
}

// Register maps a peripheral over [start, end]. It fails with a
// *RangeConflictError if the range overlaps an existing registration.
func (b *Bus) Register(start, end uint32, dev Peripheral) error {
	if end < start {
		return fmt.Errorf("emu: peripheral %s has inverted range [0x%08X, 0x%08X]",
			dev.Name(), start, end)
	}
	for _, m := range b.mappings {
		if start <= m.end && end >= m.start {
			return &RangeConflictError{
				Device:   dev.Name(),
				Existing: m.dev.Name(),
				Start:    start,
				End:      end,
			}
		}
	}
	b.mappings = append(b.mappings, mapping{start: start, end: end, dev: dev})
	return nil
}

// Lookup returns the peripheral mapped at addr, or nil for plain memory.
func (b *Bus) Lookup(addr uint32) Peripheral {
	for _, m := range b.mappings {
		if addr >= m.start && addr <= m.end {
			return m.dev
		}
	}
	return nil
}

// IsPeripheral reports whether addr falls in a registered device range.
// Peripheral ranges bypass the cache hierarchy.
func (b *Bus) IsPeripheral(addr uint32) bool {
	return b.Lookup(addr) != nil
}

// Read32 reads a word through the bus and returns the device latency.
// Plain memory reads report zero latency here; memory timing is modeled
// by the cache hierarchy, not the bus.
func (b *Bus) Read32(addr uint32) (value uint32, latency uint64) {
	if dev := b.Lookup(addr); dev != nil {
		data, lat := dev.Read(addr, 4)
		var v uint32
		for i := 0; i < len(data) && i < 4; i++ {
			v |= uint32(data[i]) << (8 * i)
		}
		return v, lat
	}
	return b.memory.Read32(addr), 0
}

// Write32 writes a word through the bus and returns the device latency.
func (b *Bus) Write32(addr uint32, value uint32) (latency uint64) {
	if dev := b.Lookup(addr); dev != nil {
		data := []byte{
			byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24),
		}
		return dev.Write(addr, data)
	}
	b.memory.Write32(addr, value)
	return 0
}
