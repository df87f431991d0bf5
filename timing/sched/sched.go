// Package sched drives one or more cores in lock step against a global
// cycle counter. Shared-bus contention between cores is resolved by a
// deterministic arbiter, so multi-core runs are exactly reproducible.
package sched

import (
	"fmt"

	"github.com/psylab/psycore/emu"
	"github.com/psylab/psycore/isa"
	"github.com/psylab/psycore/timing/core"
	"github.com/psylab/psycore/timing/mem"
	"github.com/psylab/psycore/timing/pipeline"
)

// Clock is the single global cycle counter. It only ever moves forward,
// one cycle per tick.
type Clock struct {
	cycle uint64
}

// Now returns the current cycle.
func (c *Clock) Now() uint64 {
	return c.cycle
}

// Config describes a machine: how many cores, their shape, and the run
// limits.
type Config struct {
	// NumCores is the number of lock-stepped cores.
	NumCores int

	// Core is the per-core configuration, identical across cores.
	Core core.Config

	// MaxCycles stops the run after this many cycles. Zero means no
	// limit.
	MaxCycles uint64

	// HaltOnFault stops the whole machine when any core faults. Off by
	// default: a faulted core halts alone and the others keep running.
	HaltOnFault bool
}

// DefaultConfig returns a single-core machine with default core
// settings.
func DefaultConfig() Config {
	return Config{
		NumCores: 1,
		Core:     core.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NumCores < 1 {
		return fmt.Errorf("invalid core count %d", c.NumCores)
	}
	if err := c.Core.Validate(); err != nil {
		return fmt.Errorf("core config: %w", err)
	}
	return nil
}

// Option is a functional option for configuring the Scheduler.
type Option func(*Scheduler)

// WithObserver attaches a pipeline event observer to every core.
func WithObserver(o pipeline.Observer) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// WithMemObserver attaches a cache access observer to every core's
// hierarchy.
func WithMemObserver(o mem.Observer) Option {
	return func(s *Scheduler) {
		s.memObserver = o
	}
}

// Scheduler owns the clock and ticks every core once per cycle in
// ascending core id order. Everything runs on the caller's goroutine;
// determinism comes from the fixed ordering, not from locks.
type Scheduler struct {
	config Config
	clock  Clock
	bus    *emu.Bus
	cores  []*core.Core

	observer    pipeline.Observer
	memObserver mem.Observer

	stopRequested bool
}

// New creates a machine over the shared bus.
func New(table *isa.Table, bus *emu.Bus, config Config, opts ...Option) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}

	s := &Scheduler{
		config: config,
		bus:    bus,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cores = make([]*core.Core, config.NumCores)
	for i := range s.cores {
		c := core.New(i, table, bus, config.Core, &s.clock, s.observer)
		if s.memObserver != nil {
			c.Hierarchy().SetObserver(s.memObserver)
		}
		s.cores[i] = c
	}
	return s, nil
}

// Cycle returns the global cycle count.
func (s *Scheduler) Cycle() uint64 {
	return s.clock.Now()
}

// Cores returns the machine's cores, in id order.
func (s *Scheduler) Cores() []*core.Core {
	return s.cores
}

// Core returns the core with the given id.
func (s *Scheduler) Core(id int) *core.Core {
	return s.cores[id]
}

// Bus returns the shared bus.
func (s *Scheduler) Bus() *emu.Bus {
	return s.bus
}

// RequestStop asks the run loop to stop. Takes effect at the next tick
// boundary, never mid-cycle.
func (s *Scheduler) RequestStop() {
	s.stopRequested = true
}

// Done reports whether the machine will make no further progress:
// every core halted or faulted, or any core faulted under HaltOnFault.
func (s *Scheduler) Done() bool {
	allDone := true
	for _, c := range s.cores {
		if c.Fault() != nil && s.config.HaltOnFault {
			return true
		}
		if !c.Done() {
			allDone = false
		}
	}
	return allDone
}

// Fault returns the lowest-id core's fault, or nil if no core faulted.
func (s *Scheduler) Fault() *emu.CoreFault {
	for _, c := range s.cores {
		if f := c.Fault(); f != nil {
			return f
		}
	}
	return nil
}

// Tick advances the whole machine by one cycle. Bus intents are
// collected first and arbitrated, then every core ticks. The loser of
// an arbitration stalls this cycle and reposts with its original issue
// cycle, so it ages into priority.
func (s *Scheduler) Tick() {
	s.clock.cycle++

	var intents []intent
	for _, c := range s.cores {
		if req, ok := c.Pipeline.BusRequest(); ok {
			intents = append(intents, intent{coreID: c.ID(), req: req})
		}
	}
	if len(intents) > 1 {
		winner := arbitrate(intents)
		for i, in := range intents {
			if i != winner {
				s.cores[in.coreID].Pipeline.SetBusStall(true)
			}
		}
	}

	for _, c := range s.cores {
		c.Tick()
	}
}

// Run ticks until the machine is done, a stop is requested, or the
// cycle limit is reached. Dirty cache lines are flushed afterwards so
// the shared memory holds the final architectural state. Returns the
// number of cycles consumed by this call.
func (s *Scheduler) Run() uint64 {
	start := s.clock.Now()
	for !s.Done() {
		if s.stopRequested {
			s.stopRequested = false
			break
		}
		if s.config.MaxCycles > 0 && s.clock.Now() >= s.config.MaxCycles {
			break
		}
		s.Tick()
	}
	if s.Done() {
		for _, c := range s.cores {
			c.Flush()
		}
	}
	return s.clock.Now() - start
}

// Step ticks at most n cycles, stopping early when the machine is
// done. Returns the number of cycles consumed.
func (s *Scheduler) Step(n uint64) uint64 {
	var ticked uint64
	for ticked < n && !s.Done() {
		s.Tick()
		ticked++
	}
	return ticked
}

// Reset returns the machine to cycle zero with all cores cleared. The
// bus and its backing memory keep their contents.
func (s *Scheduler) Reset() {
	s.clock.cycle = 0
	s.stopRequested = false
	for _, c := range s.cores {
		c.Reset()
	}
}
