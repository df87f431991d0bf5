package emu

// memPageSize is the granularity of lazily allocated memory pages.
const memPageSize = 4096

// Memory is a sparse byte-addressable backing store. Pages are allocated
// on first touch; reads from untouched pages return zero. Memory models
// storage only; all access timing lives in timing/mem.
type Memory struct {
	pages map[uint32][]byte
}

// NewMemory creates an empty memory.
func NewMemory() *Memory {
	return &Memory{pages: make(map[uint32][]byte)}
}

func (m *Memory) page(addr uint32, alloc bool) []byte {
	base := addr &^ (memPageSize - 1)
	p, ok := m.pages[base]
	if !ok && alloc {
		p = make([]byte, memPageSize)
		m.pages[base] = p
	}
	return p
}

// Read8 reads one byte.
func (m *Memory) Read8(addr uint32) uint8 {
	p := m.page(addr, false)
	if p == nil {
		return 0
	}
	return p[addr%memPageSize]
}

// Write8 writes one byte.
func (m *Memory) Write8(addr uint32, value uint8) {
	m.page(addr, true)[addr%memPageSize] = value
}

// Read32 reads a little-endian 32-bit word.
func (m *Memory) Read32(addr uint32) uint32 {
	var v uint32
	for i := uint32(0); i < 4; i++ {
		v |= uint32(m.Read8(addr+i)) << (8 * i)
	}
	return v
}

// Write32 writes a little-endian 32-bit word.
func (m *Memory) Write32(addr uint32, value uint32) {
	for i := uint32(0); i < 4; i++ {
		m.Write8(addr+i, uint8(value>>(8*i)))
	}
}

// ReadBytes copies size bytes starting at addr.
func (m *Memory) ReadBytes(addr uint32, size int) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = m.Read8(addr + uint32(i))
	}
	return out
}

// WriteBytes stores data starting at addr.
func (m *Memory) WriteBytes(addr uint32, data []byte) {
	for i, b := range data {
		m.Write8(addr+uint32(i), b)
	}
}

// Reset drops all allocated pages.
func (m *Memory) Reset() {
	m.pages = make(map[uint32][]byte)
}
