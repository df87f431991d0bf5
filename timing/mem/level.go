// Package mem models the memory hierarchy for cycle-accurate timing:
// configurable cache levels over a backing store, with per-access latency
// resolution and peripheral bypass through the system bus.
package mem

import (
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// WritePolicy selects how a cache level handles writes.
type WritePolicy uint8

// Write policies.
const (
	// WriteBack marks written lines dirty and drains them to the next
	// level on eviction.
	WriteBack WritePolicy = iota
	// WriteThrough propagates every write to the next level immediately
	// and never marks lines dirty.
	WriteThrough
)

// String returns the config-file name of the policy.
func (p WritePolicy) String() string {
	switch p {
	case WriteBack:
		return "write-back"
	case WriteThrough:
		return "write-through"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// LevelConfig holds the configuration of one cache level.
type LevelConfig struct {
	// Name identifies the level in stats and errors (e.g. "L1").
	Name string `json:"name"`
	// Size in bytes.
	Size int `json:"size"`
	// Associativity is the number of ways per set.
	Associativity int `json:"associativity"`
	// BlockSize in bytes (cache line size).
	BlockSize int `json:"block_size"`
	// Latency in cycles charged whenever this level is probed.
	Latency uint64 `json:"latency"`
	// WriteThrough selects the write policy (default write-back).
	WriteThrough bool `json:"write_through,omitempty"`
}

// Policy returns the level's write policy.
func (c LevelConfig) Policy() WritePolicy {
	if c.WriteThrough {
		return WriteThrough
	}
	return WriteBack
}

// Validate checks the level parameters.
func (c LevelConfig) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("cache level %s: size must be > 0", c.Name)
	}
	if c.Associativity <= 0 {
		return fmt.Errorf("cache level %s: associativity must be > 0", c.Name)
	}
	if c.BlockSize <= 0 || c.BlockSize%4 != 0 {
		return fmt.Errorf("cache level %s: block size must be a positive multiple of 4", c.Name)
	}
	if c.Latency == 0 {
		return fmt.Errorf("cache level %s: latency must be > 0", c.Name)
	}
	if c.Size%(c.Associativity*c.BlockSize) != 0 {
		return fmt.Errorf("cache level %s: size %d is not divisible by ways*block (%d*%d)",
			c.Name, c.Size, c.Associativity, c.BlockSize)
	}
	return nil
}

// LevelStats holds per-level access statistics.
type LevelStats struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
}

// evicted describes a line displaced by an install.
type evicted struct {
	addr  uint32
	data  []byte
	dirty bool
}

// Level is one cache level. Tag state and LRU victim selection use the
// Akita cache directory; line data lives in a flat store indexed by
// (set, way).
type Level struct {
	config    LevelConfig
	directory *akitacache.DirectoryImpl
	dataStore [][]byte
	stats     LevelStats
}

// NewLevel creates a cache level from a validated configuration.
func NewLevel(config LevelConfig) *Level {
	numSets := config.Size / (config.Associativity * config.BlockSize)
	totalBlocks := numSets * config.Associativity

	dataStore := make([][]byte, totalBlocks)
	for i := range dataStore {
		dataStore[i] = make([]byte, config.BlockSize)
	}

	return &Level{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		dataStore: dataStore,
	}
}

// Config returns the level configuration.
func (l *Level) Config() LevelConfig {
	return l.config
}

// Stats returns the level statistics.
func (l *Level) Stats() LevelStats {
	return l.stats
}

// blockAddr aligns addr down to the level's block size.
func (l *Level) blockAddr(addr uint32) uint32 {
	return addr - addr%uint32(l.config.BlockSize)
}

// blockIndex computes the data-store index of a directory block.
func (l *Level) blockIndex(block *akitacache.Block) int {
	return block.SetID*l.config.Associativity + block.WayID
}

// lookup returns the resident block holding addr, or nil on miss. A hit
// counts as an access for the replacement policy.
func (l *Level) lookup(addr uint32) *akitacache.Block {
	block := l.directory.Lookup(0, uint64(l.blockAddr(addr)))
	if block == nil || !block.IsValid {
		return nil
	}
	l.directory.Visit(block)
	return block
}

// peek reports whether addr is resident without touching replacement
// state or statistics.
func (l *Level) peek(addr uint32) bool {
	block := l.directory.Lookup(0, uint64(l.blockAddr(addr)))
	return block != nil && block.IsValid
}

// install places line data for addr into the level, evicting the LRU
// victim of the set if necessary. The displaced line, if any, is returned
// so write-back levels can drain it before reuse.
func (l *Level) install(addr uint32, data []byte) *evicted {
	blockAddr := l.blockAddr(addr)
	victim := l.directory.FindVictim(uint64(blockAddr))
	if victim == nil {
		return nil
	}

	var out *evicted
	victimData := l.dataStore[l.blockIndex(victim)]
	if victim.IsValid {
		l.stats.Evictions++
		out = &evicted{
			addr:  uint32(victim.Tag),
			dirty: victim.IsDirty,
		}
		if victim.IsDirty {
			out.data = append([]byte(nil), victimData...)
		}
	}

	copy(victimData, data)
	victim.Tag = uint64(blockAddr)
	victim.IsValid = true
	victim.IsDirty = false
	l.directory.Visit(victim)

	return out
}

// readWord extracts the 32-bit word at addr from a resident block.
func (l *Level) readWord(block *akitacache.Block, addr uint32) uint32 {
	data := l.dataStore[l.blockIndex(block)]
	offset := int(addr) % l.config.BlockSize
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(data[offset+i]) << (8 * i)
	}
	return v
}

// writeWord stores a 32-bit word at addr into a resident block.
func (l *Level) writeWord(block *akitacache.Block, addr uint32, value uint32) {
	data := l.dataStore[l.blockIndex(block)]
	offset := int(addr) % l.config.BlockSize
	for i := 0; i < 4; i++ {
		data[offset+i] = byte(value >> (8 * i))
	}
}

// lineData returns the data of a resident block.
func (l *Level) lineData(block *akitacache.Block) []byte {
	return l.dataStore[l.blockIndex(block)]
}

// Reset invalidates all lines and clears statistics.
func (l *Level) Reset() {
	l.directory.Reset()
	l.stats = LevelStats{}
}
