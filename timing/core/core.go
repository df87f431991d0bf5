// Package core assembles one cycle-accurate CPU core: a register file,
// a private cache hierarchy, and a 5-stage pipeline over a shared
// instruction table.
package core

import (
	"fmt"

	"github.com/psylab/psycore/emu"
	"github.com/psylab/psycore/isa"
	"github.com/psylab/psycore/timing/mem"
	"github.com/psylab/psycore/timing/pipeline"
)

// Config describes one core.
type Config struct {
	// Hierarchy configures the core's private cache levels.
	Hierarchy mem.Config

	// HazardPolicy and BranchStrategy are fixed for the lifetime of a
	// run.
	HazardPolicy   pipeline.HazardPolicy
	BranchStrategy pipeline.BranchStrategy
}

// DefaultConfig returns a core with the default two-level hierarchy,
// stall-until-writeback hazards, and no branch prediction.
func DefaultConfig() Config {
	return Config{Hierarchy: mem.DefaultConfig()}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Hierarchy.Validate(); err != nil {
		return fmt.Errorf("hierarchy: %w", err)
	}
	return nil
}

// Core is one CPU core. All cores of a machine share the instruction
// table and the bus behind their private hierarchies.
type Core struct {
	id       int
	regFile  *emu.RegFile
	hier     *mem.Hierarchy
	Pipeline *pipeline.Pipeline
}

// New creates a core wired to the shared bus.
func New(id int, table *isa.Table, bus *emu.Bus, config Config, clock pipeline.Clock, observer pipeline.Observer) *Core {
	regFile := emu.NewRegFile()
	hier := mem.NewHierarchy(id, config.Hierarchy, bus)
	p := pipeline.New(id, table, regFile, hier,
		pipeline.WithHazardPolicy(config.HazardPolicy),
		pipeline.WithBranchStrategy(config.BranchStrategy),
		pipeline.WithClock(clock),
		pipeline.WithObserver(observer),
	)
	return &Core{
		id:       id,
		regFile:  regFile,
		hier:     hier,
		Pipeline: p,
	}
}

// ID returns the core id.
func (c *Core) ID() int {
	return c.id
}

// RegFile returns the core's register file.
func (c *Core) RegFile() *emu.RegFile {
	return c.regFile
}

// Hierarchy returns the core's private cache hierarchy.
func (c *Core) Hierarchy() *mem.Hierarchy {
	return c.hier
}

// SetPC sets the core's program counter.
func (c *Core) SetPC(pc uint32) {
	c.Pipeline.SetPC(pc)
}

// Tick advances the core by one cycle.
func (c *Core) Tick() {
	c.Pipeline.Tick()
}

// Done reports whether the core halted or faulted.
func (c *Core) Done() bool {
	return c.Pipeline.Done()
}

// Halted reports whether a HALT retired on this core.
func (c *Core) Halted() bool {
	return c.Pipeline.Halted()
}

// Fault returns the fault that stopped the core, or nil.
func (c *Core) Fault() *emu.CoreFault {
	return c.Pipeline.Fault()
}

// Stats returns the core's pipeline counters.
func (c *Core) Stats() pipeline.Stats {
	return c.Pipeline.Stats()
}

// Flush writes all dirty cache lines back to the shared store. Called
// when a run ends so memory reflects the final architectural state.
func (c *Core) Flush() {
	c.hier.Flush()
}

// Reset clears all core state.
func (c *Core) Reset() {
	c.regFile.Reset()
	c.hier.Reset()
	c.Pipeline.Reset()
}
