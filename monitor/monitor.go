// Package monitor collects performance counters from pipeline and
// cache events. Counters are raw tallies; derived metrics such as miss
// rates and prediction accuracy are computed on demand from the
// counters, never stored.
package monitor

import (
	"github.com/psylab/psycore/emu"
	"github.com/psylab/psycore/isa"
	"github.com/psylab/psycore/timing/pipeline"
)

// CoreCounters holds the raw event tallies for one core.
type CoreCounters struct {
	Cycles  uint64
	Retired uint64

	StallCycles      uint64
	StructuralStalls uint64
	DataStalls       uint64
	ControlStalls    uint64
	Bubbles          uint64

	Branches         uint64
	BranchesTaken    uint64
	BranchesCorrect  uint64
	Mispredictions   uint64

	Faults uint64

	// CacheHits and CacheMisses are indexed by hierarchy level, L1
	// first.
	CacheHits   []uint64
	CacheMisses []uint64
}

// Accesses returns the total accesses observed at a cache level.
func (c *CoreCounters) Accesses(level int) uint64 {
	if level >= len(c.CacheHits) {
		return 0
	}
	return c.CacheHits[level] + c.CacheMisses[level]
}

// MissRate returns the miss rate at a cache level, derived from the
// counters at call time.
func (c *CoreCounters) MissRate(level int) float64 {
	total := c.Accesses(level)
	if total == 0 {
		return 0
	}
	return float64(c.CacheMisses[level]) / float64(total)
}

// CPI returns the core's cycles per retired instruction, derived from
// the counters at call time.
func (c *CoreCounters) CPI() float64 {
	if c.Retired == 0 {
		return 0
	}
	return float64(c.Cycles) / float64(c.Retired)
}

// PredictionAccuracy returns the fraction of resolved branches whose
// fetch-time guess was right.
func (c *CoreCounters) PredictionAccuracy() float64 {
	if c.Branches == 0 {
		return 0
	}
	return float64(c.BranchesCorrect) / float64(c.Branches)
}

// Monitor observes pipeline and cache events across all cores. It
// implements pipeline.Observer and mem.Observer; all callbacks arrive
// synchronously from the scheduler's tick.
type Monitor struct {
	cores []CoreCounters
}

// New creates a monitor for the given number of cores.
func New(numCores int) *Monitor {
	return &Monitor{cores: make([]CoreCounters, numCores)}
}

// Core returns the counters for one core.
func (m *Monitor) Core(id int) *CoreCounters {
	return &m.cores[id]
}

// NumCores returns the number of monitored cores.
func (m *Monitor) NumCores() int {
	return len(m.cores)
}

// Totals returns counters summed across all cores.
func (m *Monitor) Totals() CoreCounters {
	var t CoreCounters
	for i := range m.cores {
		c := &m.cores[i]
		t.Cycles += c.Cycles
		t.Retired += c.Retired
		t.StallCycles += c.StallCycles
		t.StructuralStalls += c.StructuralStalls
		t.DataStalls += c.DataStalls
		t.ControlStalls += c.ControlStalls
		t.Bubbles += c.Bubbles
		t.Branches += c.Branches
		t.BranchesTaken += c.BranchesTaken
		t.BranchesCorrect += c.BranchesCorrect
		t.Mispredictions += c.Mispredictions
		t.Faults += c.Faults
		for lvl := 0; lvl < len(c.CacheHits); lvl++ {
			t.ensureLevel(lvl)
			t.CacheHits[lvl] += c.CacheHits[lvl]
			t.CacheMisses[lvl] += c.CacheMisses[lvl]
		}
	}
	return t
}

// Reset clears all counters.
func (m *Monitor) Reset() {
	for i := range m.cores {
		m.cores[i] = CoreCounters{}
	}
}

// CycleTicked implements pipeline.Observer.
func (m *Monitor) CycleTicked(coreID int) {
	m.cores[coreID].Cycles++
}

// InstructionRetired implements pipeline.Observer.
func (m *Monitor) InstructionRetired(coreID int, _ *isa.Instruction) {
	m.cores[coreID].Retired++
}

// StallCycle implements pipeline.Observer.
func (m *Monitor) StallCycle(coreID int, reason pipeline.StallReason) {
	c := &m.cores[coreID]
	c.StallCycles++
	switch reason {
	case pipeline.StallStructural:
		c.StructuralStalls++
	case pipeline.StallData:
		c.DataStalls++
	case pipeline.StallControl:
		c.ControlStalls++
	}
}

// BubbleInjected implements pipeline.Observer.
func (m *Monitor) BubbleInjected(coreID int) {
	m.cores[coreID].Bubbles++
}

// BranchResolved implements pipeline.Observer.
func (m *Monitor) BranchResolved(coreID int, taken, correct bool) {
	c := &m.cores[coreID]
	c.Branches++
	if taken {
		c.BranchesTaken++
	}
	if correct {
		c.BranchesCorrect++
	} else {
		c.Mispredictions++
	}
}

// FaultRaised implements pipeline.Observer.
func (m *Monitor) FaultRaised(coreID int, _ *emu.CoreFault) {
	m.cores[coreID].Faults++
}

// CacheAccess implements mem.Observer.
func (m *Monitor) CacheAccess(coreID, level int, hit bool) {
	c := &m.cores[coreID]
	c.ensureLevel(level)
	if hit {
		c.CacheHits[level]++
	} else {
		c.CacheMisses[level]++
	}
}

func (c *CoreCounters) ensureLevel(level int) {
	for len(c.CacheHits) <= level {
		c.CacheHits = append(c.CacheHits, 0)
		c.CacheMisses = append(c.CacheMisses, 0)
	}
}
