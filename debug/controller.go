// Package debug provides interactive control over a machine: stepping,
// breakpoints over arbitrary machine state, and a ring-buffer trace of
// recent cycles.
package debug

import (
	"fmt"
	"io"

	"github.com/k0kubun/pp/v3"

	"github.com/psylab/psycore/timing/sched"
)

// BreakpointID identifies an installed breakpoint.
type BreakpointID int

// Predicate inspects the machine after a tick and reports whether to
// stop. Predicates must not mutate the machine.
type Predicate func(s *sched.Scheduler) bool

// AtPC breaks when a core's fetch PC reaches pc.
func AtPC(coreID int, pc uint32) Predicate {
	return func(s *sched.Scheduler) bool {
		return s.Core(coreID).Pipeline.PC() == pc
	}
}

// AtCycle breaks when the global clock reaches cycle.
func AtCycle(cycle uint64) Predicate {
	return func(s *sched.Scheduler) bool {
		return s.Cycle() >= cycle
	}
}

// OnRegister breaks when a core's register holds value.
func OnRegister(coreID int, reg uint8, value uint32) Predicate {
	return func(s *sched.Scheduler) bool {
		return s.Core(coreID).RegFile().Read(reg) == value
	}
}

// OnWord breaks when the memory word at addr holds value. Reads the
// shared store directly, so a value still sitting dirty in a private
// cache is not seen until it drains.
func OnWord(addr, value uint32) Predicate {
	return func(s *sched.Scheduler) bool {
		return s.Bus().Memory().Read32(addr) == value
	}
}

// StopCause reports why a Run or Step returned.
type StopCause int

// Stop causes.
const (
	// StopDone means the machine halted or faulted.
	StopDone StopCause = iota
	// StopBreakpoint means a breakpoint predicate fired.
	StopBreakpoint
	// StopStepped means the requested step count was consumed.
	StopStepped
	// StopPaused means Pause was requested.
	StopPaused
)

// String returns the cause name.
func (c StopCause) String() string {
	switch c {
	case StopBreakpoint:
		return "breakpoint"
	case StopStepped:
		return "stepped"
	case StopPaused:
		return "paused"
	default:
		return "done"
	}
}

// Stop describes why execution returned to the controller.
type Stop struct {
	Cause      StopCause
	Breakpoint BreakpointID
	Cycle      uint64
}

// Controller drives a scheduler tick by tick, checking breakpoints and
// recording the trace after every cycle. It is the only component that
// advances the clock while attached; the machine never calls back into
// it.
type breakpoint struct {
	id   BreakpointID
	pred Predicate
}

type Controller struct {
	sched       *sched.Scheduler
	breakpoints []breakpoint
	nextID      BreakpointID
	trace       *Trace
	paused      bool
}

// NewController attaches a controller to a machine, keeping the last
// traceDepth cycles of history.
func NewController(s *sched.Scheduler, traceDepth int) *Controller {
	return &Controller{
		sched:  s,
		nextID: 1,
		trace:  NewTrace(traceDepth),
	}
}

// Trace returns the cycle trace.
func (c *Controller) Trace() *Trace {
	return c.trace
}

// AddBreakpoint installs a predicate and returns its id. Breakpoints
// are evaluated in installation order after every tick.
func (c *Controller) AddBreakpoint(p Predicate) BreakpointID {
	id := c.nextID
	c.nextID++
	c.breakpoints = append(c.breakpoints, breakpoint{id: id, pred: p})
	return id
}

// RemoveBreakpoint uninstalls a breakpoint. Reports whether it existed.
func (c *Controller) RemoveBreakpoint(id BreakpointID) bool {
	for i, bp := range c.breakpoints {
		if bp.id == id {
			c.breakpoints = append(c.breakpoints[:i], c.breakpoints[i+1:]...)
			return true
		}
	}
	return false
}

// Pause requests a stop at the next tick boundary. Intended to be
// called from a breakpoint predicate or between steps; ticks never
// stop mid-cycle.
func (c *Controller) Pause() {
	c.paused = true
}

// Step advances at most n cycles, stopping early on a breakpoint, a
// pause, or machine completion.
func (c *Controller) Step(n uint64) Stop {
	for i := uint64(0); i < n; i++ {
		if stop, stopped := c.tickOnce(); stopped {
			return stop
		}
	}
	return Stop{Cause: StopStepped, Cycle: c.sched.Cycle()}
}

// Run advances until a breakpoint fires, a pause is requested, or the
// machine is done.
func (c *Controller) Run() Stop {
	for {
		if stop, stopped := c.tickOnce(); stopped {
			return stop
		}
	}
}

// tickOnce advances one cycle and evaluates the stop conditions.
func (c *Controller) tickOnce() (Stop, bool) {
	if c.sched.Done() {
		return Stop{Cause: StopDone, Cycle: c.sched.Cycle()}, true
	}
	if c.paused {
		c.paused = false
		return Stop{Cause: StopPaused, Cycle: c.sched.Cycle()}, true
	}

	c.sched.Tick()
	c.trace.Record(c.snapshot())

	for _, bp := range c.breakpoints {
		if bp.pred(c.sched) {
			return Stop{
				Cause:      StopBreakpoint,
				Breakpoint: bp.id,
				Cycle:      c.sched.Cycle(),
			}, true
		}
	}
	if c.sched.Done() {
		return Stop{Cause: StopDone, Cycle: c.sched.Cycle()}, true
	}
	return Stop{}, false
}

// snapshot captures every core's state for the trace.
func (c *Controller) snapshot() Entry {
	e := Entry{Cycle: c.sched.Cycle()}
	for _, cr := range c.sched.Cores() {
		rf := cr.RegFile()
		e.Cores = append(e.Cores, CoreSnapshot{
			CoreID: cr.ID(),
			PC:     cr.Pipeline.PC(),
			Regs:   rf.R,
			Flags:  rf.Flags,
			Slots:  cr.Pipeline.Slots(),
			Halted: cr.Halted(),
		})
	}
	return e
}

// DumpTrace pretty-prints the recorded trace, oldest cycle first.
func (c *Controller) DumpTrace(w io.Writer) {
	printer := pp.New()
	printer.SetOutput(w)
	printer.SetColoringEnabled(false)
	for _, e := range c.trace.Entries() {
		fmt.Fprintf(w, "cycle %d\n", e.Cycle)
		printer.Println(e.Cores)
	}
}
