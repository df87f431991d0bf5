package mem

import (
	"fmt"

	"github.com/psylab/psycore/emu"
)

// Op is a memory operation kind.
type Op uint8

// Memory operations.
const (
	OpRead Op = iota
	OpWrite
)

// String returns the operation name.
func (o Op) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

// Request is one memory access issued by a pipeline memory or fetch
// stage. Requests are word-sized and word-aligned; the pipeline faults
// misaligned accesses before they reach the hierarchy.
type Request struct {
	Op   Op
	Addr uint32
	// Data is the value to store for writes.
	Data uint32
	// CoreID is the issuing core, used for contention tie-breaks.
	CoreID int
	// IssueCycle is the global cycle the request was issued.
	IssueCycle uint64
}

// Response resolves a request to a completion cycle.
type Response struct {
	// Data is the value read (for reads).
	Data uint32
	// Latency is the total modeled latency in cycles: the sum of the
	// latencies of every level probed, through the hit.
	Latency uint64
	// CompleteCycle is IssueCycle + Latency.
	CompleteCycle uint64
	// HitLevel is the index of the level that hit, len(levels) for the
	// backing store, or -1 for a peripheral access.
	HitLevel int
	// Peripheral is true when the access bypassed the hierarchy.
	Peripheral bool
}

// Observer receives cache events as they happen. Implemented by the
// performance monitor; a nil observer is allowed.
type Observer interface {
	// CacheAccess reports one probe of one cache level.
	CacheAccess(coreID, level int, hit bool)
}

// Config describes a private cache hierarchy over the shared backing
// store.
type Config struct {
	// Levels lists cache levels outermost-first (L1 first). Empty means
	// uncached: every access goes straight to the backing store.
	Levels []LevelConfig `json:"levels"`

	// MemoryLatency is the backing store access latency in cycles.
	MemoryLatency uint64 `json:"memory_latency"`
}

// DefaultConfig returns a two-level hierarchy with a small write-back L1
// and a larger write-back L2.
func DefaultConfig() Config {
	return Config{
		Levels: []LevelConfig{
			{Name: "L1", Size: 4 * 1024, Associativity: 2, BlockSize: 16, Latency: 1},
			{Name: "L2", Size: 64 * 1024, Associativity: 4, BlockSize: 64, Latency: 6},
		},
		MemoryLatency: 30,
	}
}

// Validate checks all level parameters and the backing latency.
func (c Config) Validate() error {
	if c.MemoryLatency == 0 {
		return fmt.Errorf("memory latency must be > 0")
	}
	for _, lc := range c.Levels {
		if err := lc.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Hierarchy is one core's private cache hierarchy over the shared bus.
// Every access resolves to a completion cycle: cache levels are probed
// outermost-first, charging each probed level's latency; peripheral
// ranges bypass the levels entirely and charge the device's latency.
type Hierarchy struct {
	coreID   int
	levels   []*Level
	memLat   uint64
	bus      *emu.Bus
	observer Observer
}

// NewHierarchy creates a hierarchy from a validated configuration.
func NewHierarchy(coreID int, config Config, bus *emu.Bus) *Hierarchy {
	levels := make([]*Level, len(config.Levels))
	for i, lc := range config.Levels {
		levels[i] = NewLevel(lc)
	}
	return &Hierarchy{
		coreID: coreID,
		levels: levels,
		memLat: config.MemoryLatency,
		bus:    bus,
	}
}

// SetObserver attaches a cache event observer.
func (h *Hierarchy) SetObserver(o Observer) {
	h.observer = o
}

// Levels returns the hierarchy's cache levels, L1 first.
func (h *Hierarchy) Levels() []*Level {
	return h.levels
}

// WouldReachShared reports whether an access to addr would cross the
// shared bus this cycle: peripheral traffic always does, and cached
// traffic does when no private level holds the line. The check does not
// disturb replacement state, so arbitration losers retry unchanged.
func (h *Hierarchy) WouldReachShared(addr uint32) bool {
	if h.bus.IsPeripheral(addr) {
		return true
	}
	for _, lvl := range h.levels {
		if lvl.peek(addr) {
			return false
		}
	}
	return true
}

// Submit resolves one request to a completion cycle. The modeled latency
// is deterministic: identical request sequences against identical
// configurations always resolve identically.
func (h *Hierarchy) Submit(req Request) Response {
	if h.bus.IsPeripheral(req.Addr) {
		return h.submitPeripheral(req)
	}

	var resp Response
	switch req.Op {
	case OpWrite:
		resp = h.write(req.Addr, req.Data)
	default:
		resp = h.read(req.Addr)
	}
	resp.CompleteCycle = req.IssueCycle + resp.Latency
	return resp
}

func (h *Hierarchy) submitPeripheral(req Request) Response {
	resp := Response{HitLevel: -1, Peripheral: true}
	if req.Op == OpWrite {
		resp.Latency = h.bus.Write32(req.Addr, req.Data)
	} else {
		resp.Data, resp.Latency = h.bus.Read32(req.Addr)
	}
	if resp.Latency == 0 {
		resp.Latency = 1
	}
	resp.CompleteCycle = req.IssueCycle + resp.Latency
	return resp
}

// probe walks the levels until a hit, charging each probed level's
// latency and reporting per-level events. It returns the hit level index
// (len(levels) for the backing store) and the accumulated latency.
func (h *Hierarchy) probe(addr uint32, write bool) (hitLevel int, latency uint64) {
	for i, lvl := range h.levels {
		latency += lvl.config.Latency
		if write {
			lvl.stats.Writes++
		} else {
			lvl.stats.Reads++
		}
		if block := lvl.lookup(addr); block != nil {
			lvl.stats.Hits++
			h.event(i, true)
			return i, latency
		}
		lvl.stats.Misses++
		h.event(i, false)
	}
	return len(h.levels), latency + h.memLat
}

func (h *Hierarchy) event(level int, hit bool) {
	if h.observer != nil {
		h.observer.CacheAccess(h.coreID, level, hit)
	}
}

func (h *Hierarchy) read(addr uint32) Response {
	hitLevel, latency := h.probe(addr, false)

	var data uint32
	if hitLevel < len(h.levels) {
		lvl := h.levels[hitLevel]
		data = lvl.readWord(lvl.lookup(addr), addr)
	} else {
		data = h.bus.Memory().Read32(addr)
	}

	h.backfill(hitLevel, addr)

	return Response{Data: data, Latency: latency, HitLevel: hitLevel}
}

func (h *Hierarchy) write(addr uint32, value uint32) Response {
	hitLevel, latency := h.probe(addr, true)

	// Write-allocate: a missing line is installed in every level above
	// the hit before the word is written.
	h.backfill(hitLevel, addr)

	if len(h.levels) == 0 {
		h.bus.Memory().Write32(addr, value)
		return Response{Latency: latency, HitLevel: hitLevel}
	}

	l1 := h.levels[0]
	block := l1.lookup(addr)
	if block == nil {
		// Backfill always installs the line in L1.
		h.bus.Memory().Write32(addr, value)
		return Response{Latency: latency, HitLevel: hitLevel}
	}
	l1.writeWord(block, addr, value)

	if l1.config.Policy() == WriteBack {
		block.IsDirty = true
	} else {
		h.propagateWord(1, addr, value)
	}

	return Response{Latency: latency, HitLevel: hitLevel}
}

// backfill installs the line holding addr into every level above the hit,
// innermost-first so an L2 install can absorb an L1 victim drain.
func (h *Hierarchy) backfill(hitLevel int, addr uint32) {
	for i := hitLevel - 1; i >= 0; i-- {
		if i >= len(h.levels) {
			continue
		}
		lvl := h.levels[i]
		line := h.lineFor(lvl, addr, hitLevel)
		if victim := lvl.install(addr, line); victim != nil && victim.dirty {
			lvl.stats.Writebacks++
			h.drain(i+1, victim.addr, victim.data)
		}
	}
}

// lineFor assembles the block-sized line of lvl covering addr, sourcing
// words from the hit level where its line covers them and from backing
// memory otherwise.
func (h *Hierarchy) lineFor(lvl *Level, addr uint32, hitLevel int) []byte {
	base := lvl.blockAddr(addr)
	line := make([]byte, lvl.config.BlockSize)

	var hit *Level
	if hitLevel < len(h.levels) {
		hit = h.levels[hitLevel]
	}

	for off := 0; off < lvl.config.BlockSize; off += 4 {
		wordAddr := base + uint32(off)
		var word uint32
		if hit != nil {
			if block := hit.lookup(wordAddr); block != nil {
				word = hit.readWord(block, wordAddr)
			} else {
				word = h.bus.Memory().Read32(wordAddr)
			}
		} else {
			word = h.bus.Memory().Read32(wordAddr)
		}
		line[off] = byte(word)
		line[off+1] = byte(word >> 8)
		line[off+2] = byte(word >> 16)
		line[off+3] = byte(word >> 24)
	}
	return line
}

// drain delivers an evicted dirty line to the next level that holds it,
// or to the backing store. A write-back level absorbs the drain; a
// write-through level forwards it onward.
func (h *Hierarchy) drain(from int, addr uint32, data []byte) {
	for i := from; i < len(h.levels); i++ {
		lvl := h.levels[i]
		block := lvl.lookup(addr)
		if block == nil {
			continue
		}
		line := lvl.lineData(block)
		offset := int(addr) % lvl.config.BlockSize
		copy(line[offset:], data)
		if lvl.config.Policy() == WriteBack {
			block.IsDirty = true
			return
		}
	}
	h.bus.Memory().WriteBytes(addr, data)
}

// propagateWord pushes a written word down the hierarchy, as required by
// write-through levels. A resident write-back line absorbs the word.
func (h *Hierarchy) propagateWord(from int, addr uint32, value uint32) {
	for i := from; i < len(h.levels); i++ {
		lvl := h.levels[i]
		block := lvl.lookup(addr)
		if block == nil {
			continue
		}
		lvl.writeWord(block, addr, value)
		if lvl.config.Policy() == WriteBack {
			block.IsDirty = true
			return
		}
	}
	h.bus.Memory().Write32(addr, value)
}

// Flush drains every dirty line in every level to the backing store and
// invalidates all lines.
func (h *Hierarchy) Flush() {
	for i, lvl := range h.levels {
		for _, set := range lvl.directory.GetSets() {
			for _, block := range set.Blocks {
				if block.IsValid && block.IsDirty {
					lvl.stats.Writebacks++
					h.drain(i+1, uint32(block.Tag), lvl.lineData(block))
				}
				block.IsValid = false
				block.IsDirty = false
			}
		}
	}
}

// Reset invalidates all levels without writeback and clears statistics.
func (h *Hierarchy) Reset() {
	for _, lvl := range h.levels {
		lvl.Reset()
	}
}
