package pipeline

import (
	"github.com/psylab/psycore/emu"
	"github.com/psylab/psycore/isa"
	"github.com/psylab/psycore/timing/mem"
)

// Clock provides the global cycle count. The scheduler's clock is the
// usual source; a nil clock falls back to the pipeline's own counter.
type Clock interface {
	Now() uint64
}

// Observer receives pipeline events as they happen. All methods are
// called synchronously from Tick; implementations must not call back
// into the pipeline.
type Observer interface {
	CycleTicked(coreID int)
	InstructionRetired(coreID int, inst *isa.Instruction)
	StallCycle(coreID int, reason StallReason)
	BubbleInjected(coreID int)
	BranchResolved(coreID int, taken, correct bool)
	FaultRaised(coreID int, fault *emu.CoreFault)
}

// Stats holds pipeline performance counters. Derived figures such as
// CPI are computed from these on demand, never stored.
type Stats struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64
	// Instructions is the number of instructions retired.
	Instructions uint64
	// Stalls is the total number of stall cycles.
	Stalls uint64
	// StructuralStalls counts cycles lost to memory port or bus
	// contention.
	StructuralStalls uint64
	// DataStalls counts cycles a reader waited on an in-flight writer.
	DataStalls uint64
	// ControlStalls counts cycles lost to control-flow redirects.
	ControlStalls uint64
	// Bubbles is the number of wrong-path instructions squashed by a
	// flush. Gaps opened by in-place stalls are counted as stall
	// cycles instead: each stall cycle leaves exactly one successor
	// slot empty.
	Bubbles uint64
	// Flushes is the number of front-end flushes.
	Flushes uint64
	// Faults is the number of faults raised.
	Faults uint64
}

// CPI returns the cycles per retired instruction.
func (s Stats) CPI() float64 {
	if s.Instructions == 0 {
		return 0
	}
	return float64(s.Cycles) / float64(s.Instructions)
}

// Option is a functional option for configuring the Pipeline.
type Option func(*Pipeline)

// WithHazardPolicy selects the data hazard resolution policy.
func WithHazardPolicy(policy HazardPolicy) Option {
	return func(p *Pipeline) {
		p.policy = policy
	}
}

// WithBranchStrategy selects the static branch strategy.
func WithBranchStrategy(strategy BranchStrategy) Option {
	return func(p *Pipeline) {
		p.strategy = strategy
	}
}

// WithObserver attaches an event observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// WithClock sets the global cycle source.
func WithClock(c Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// Pipeline is a 5-stage in-order pipeline:
// Fetch (IF) -> Decode (ID) -> Execute (EX) -> Memory (MEM) -> Writeback (WB).
// Each stage holds one Slot; per-stage occupancy comes from the
// instruction table's cost vector and, for memory traffic, from the
// cache hierarchy. The core has a single memory port shared between
// fetch and the Memory stage, with the older access winning.
type Pipeline struct {
	coreID   int
	decoder  *isa.Decoder
	regFile  *emu.RegFile
	hier     *mem.Hierarchy
	hazard   *hazardUnit
	policy   HazardPolicy
	strategy BranchStrategy

	predictor *Predictor
	clock     Clock
	observer  Observer

	slots [isa.NumStages]Slot
	pc    uint32

	// busStall is set by the scheduler when this core lost shared-bus
	// arbitration for the current cycle. Consumed by one Tick.
	busStall bool

	// portBusy marks the core's memory port as used this cycle.
	portBusy bool

	// redirect is set when a misprediction resolved this cycle; it
	// holds fetch off until the next cycle, so the front end never
	// fetches the corrected path in the resolution cycle.
	redirect bool

	halted bool
	fault  *emu.CoreFault
	stats  Stats
}

// New creates a pipeline over the given decoder, register file, and
// memory hierarchy. Defaults: stall-until-writeback hazards, no branch
// prediction.
func New(coreID int, table *isa.Table, regFile *emu.RegFile, hier *mem.Hierarchy, opts ...Option) *Pipeline {
	p := &Pipeline{
		coreID:  coreID,
		decoder: isa.NewDecoder(table),
		regFile: regFile,
		hier:    hier,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.hazard = newHazardUnit(p.policy, regFile)
	p.predictor = NewPredictor(p.strategy)
	return p
}

// CoreID returns the owning core's id.
func (p *Pipeline) CoreID() int {
	return p.coreID
}

// PC returns the fetch program counter.
func (p *Pipeline) PC() uint32 {
	return p.pc
}

// SetPC redirects fetch. Only meaningful between runs or at reset.
func (p *Pipeline) SetPC(pc uint32) {
	p.pc = pc
	p.regFile.PC = pc
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return p.stats
}

// Predictor returns the branch predictor.
func (p *Pipeline) Predictor() *Predictor {
	return p.predictor
}

// Hierarchy returns the core's memory hierarchy.
func (p *Pipeline) Hierarchy() *mem.Hierarchy {
	return p.hier
}

// RegFile returns the core's register file.
func (p *Pipeline) RegFile() *emu.RegFile {
	return p.regFile
}

// Slots returns a copy of the stage slots, Fetch first. Intended for
// tracing and debugger inspection.
func (p *Pipeline) Slots() [isa.NumStages]Slot {
	return p.slots
}

// Halted reports whether a HALT retired.
func (p *Pipeline) Halted() bool {
	return p.halted
}

// Fault returns the fault that stopped the core, or nil.
func (p *Pipeline) Fault() *emu.CoreFault {
	return p.fault
}

// Done reports whether the core will make no further progress.
func (p *Pipeline) Done() bool {
	return p.halted || p.fault != nil
}

// SetBusStall marks this core as an arbitration loser for the next
// Tick. Its shared-bus access waits a cycle and retries.
func (p *Pipeline) SetBusStall(stall bool) {
	p.busStall = stall
}

// BusRequest reports the shared-bus access this core would start this
// cycle, if any. At most one per core per cycle: the Memory stage owns
// the port, fetch gets it otherwise. Requests that hit in private
// cache levels never reach the bus and are not reported.
func (p *Pipeline) BusRequest() (mem.Request, bool) {
	if p.Done() {
		return mem.Request{}, false
	}

	m := &p.slots[isa.StageMemory]
	if p.memWantsPort(m) {
		if p.fetchHoldsPort() {
			return mem.Request{}, false
		}
		addr := m.Value
		if addr%4 != 0 || !p.hier.WouldReachShared(addr) {
			return mem.Request{}, false
		}
		req := mem.Request{
			Op:         mem.OpRead,
			Addr:       addr,
			CoreID:     p.coreID,
			IssueCycle: m.IssueCycle,
		}
		if m.Inst.Entry.IsStore {
			req.Op = mem.OpWrite
			req.Data = m.StoreVal
		}
		return req, true
	}

	f := &p.slots[isa.StageFetch]
	if f.State != SlotEmpty || p.redirect || p.memHoldsPort(m) {
		return mem.Request{}, false
	}
	if p.pc%4 != 0 || !p.hier.WouldReachShared(p.pc) {
		return mem.Request{}, false
	}
	return mem.Request{
		Op:         mem.OpRead,
		Addr:       p.pc,
		CoreID:     p.coreID,
		IssueCycle: p.now(),
	}, true
}

// Tick advances the pipeline by one cycle. Stages run in reverse order
// so results commit before younger instructions read them and a slot
// freed this cycle can accept the instruction behind it.
func (p *Pipeline) Tick() {
	if p.Done() {
		return
	}
	p.stats.Cycles++
	if p.observer != nil {
		p.observer.CycleTicked(p.coreID)
	}
	p.portBusy = false

	p.tickWriteback()
	if p.Done() {
		p.busStall = false
		return
	}
	p.tickMemory()
	p.tickExecute()
	p.tickDecode()
	p.tickFetch()

	p.busStall = false
}

// Reset returns the pipeline to its initial state. The register file
// and hierarchy are reset by their owners.
func (p *Pipeline) Reset() {
	for i := range p.slots {
		p.slots[i].Clear()
	}
	p.pc = 0
	p.busStall = false
	p.portBusy = false
	p.redirect = false
	p.halted = false
	p.fault = nil
	p.stats = Stats{}
	p.predictor.Reset()
}

func (p *Pipeline) now() uint64 {
	if p.clock != nil {
		return p.clock.Now()
	}
	return p.stats.Cycles
}

// costFor returns the stage occupancy of a slot's instruction,
// defaulting to one cycle for faulted slots passing through.
func costFor(s *Slot, stage isa.Stage) uint64 {
	if s.Inst == nil || s.Inst.Entry == nil {
		return 1
	}
	c := s.Inst.Entry.Costs[stage]
	if c == 0 {
		return 1
	}
	return c
}

func (p *Pipeline) stallEvent(s *Slot, reason StallReason) {
	s.StallReason = reason
	p.stats.Stalls++
	switch reason {
	case StallStructural:
		p.stats.StructuralStalls++
	case StallData:
		p.stats.DataStalls++
	case StallControl:
		p.stats.ControlStalls++
	}
	if p.observer != nil {
		p.observer.StallCycle(p.coreID, reason)
	}
}

// frontStall records a stall cycle with no instruction to pin it on,
// such as fetch waiting for the memory port.
func (p *Pipeline) frontStall(reason StallReason) {
	p.stats.Stalls++
	switch reason {
	case StallStructural:
		p.stats.StructuralStalls++
	case StallData:
		p.stats.DataStalls++
	case StallControl:
		p.stats.ControlStalls++
	}
	if p.observer != nil {
		p.observer.StallCycle(p.coreID, reason)
	}
}

func (p *Pipeline) memWantsPort(m *Slot) bool {
	return m.State == SlotOccupied && m.Fault == nil && m.Inst != nil &&
		(m.Inst.Entry.IsLoad || m.Inst.Entry.IsStore) && !m.MemIssued
}

func (p *Pipeline) memHoldsPort(m *Slot) bool {
	return m.State == SlotOccupied && m.MemIssued && m.Remaining > 0
}

func (p *Pipeline) fetchHoldsPort() bool {
	f := &p.slots[isa.StageFetch]
	return f.State == SlotOccupied && f.Remaining > 0
}

// tickWriteback retires the instruction in WB once its stage cost
// elapses: results commit to the register file, pending marks clear,
// and hazarded readers held in Decode proceed this same cycle.
func (p *Pipeline) tickWriteback() {
	s := &p.slots[isa.StageWriteback]
	if s.State != SlotOccupied {
		return
	}
	s.Remaining--
	if s.Remaining > 0 {
		return
	}
	p.commit(s)
	s.Clear()
}

func (p *Pipeline) commit(s *Slot) {
	if s.Fault != nil {
		p.raise(s.Fault)
		return
	}

	e := s.Inst.Entry
	if e.WritesRd {
		v := s.Value
		if e.IsLoad {
			v = s.MemData
		}
		p.regFile.Write(s.Inst.Rd, v)
		p.regFile.ClearPending(s.Inst.Rd)
	}
	if e.WritesFlags {
		if s.FlagsValid {
			p.regFile.Flags = s.Flags
		}
		p.regFile.ClearFlagsPending()
	}
	if s.Taken {
		p.regFile.PC = s.Target
	} else {
		p.regFile.PC = s.PC + 4
	}

	p.stats.Instructions++
	if p.observer != nil {
		p.observer.InstructionRetired(p.coreID, s.Inst)
	}

	if e.IsHalt || s.Halt {
		p.halted = true
		p.flushAll()
	}
}

// raise records a precise fault and stops the core. Younger in-flight
// instructions are squashed.
func (p *Pipeline) raise(f *emu.CoreFault) {
	p.fault = f
	p.stats.Faults++
	if p.observer != nil {
		p.observer.FaultRaised(p.coreID, f)
	}
	p.flushAll()
}

func (p *Pipeline) tickMemory() {
	s := &p.slots[isa.StageMemory]
	if s.State == SlotEmpty {
		return
	}

	if s.State == SlotOccupied {
		switch {
		case s.Fault != nil:
			s.State = SlotDone

		case s.Inst.Entry.IsLoad || s.Inst.Entry.IsStore:
			if !s.MemIssued {
				if !p.issueMemAccess(s) {
					return
				}
			}
			p.portBusy = true
			s.Remaining--
			if s.Remaining > 0 {
				return
			}
			s.State = SlotDone

		default:
			s.Remaining--
			if s.Remaining > 0 {
				return
			}
			s.State = SlotDone
		}
	}

	wb := &p.slots[isa.StageWriteback]
	if wb.Occupied() {
		return
	}
	*wb = *s
	wb.State = SlotOccupied
	wb.StallReason = StallNone
	wb.Remaining = costFor(wb, isa.StageWriteback)
	s.Clear()
}

// issueMemAccess submits the Memory-stage access to the hierarchy.
// Returns false when the access must wait a cycle: the port is held by
// an in-flight fetch, or the shared bus went to another core.
func (p *Pipeline) issueMemAccess(s *Slot) bool {
	addr := s.Value
	if addr%4 != 0 {
		s.Fault = &emu.CoreFault{
			Kind:   emu.FaultMisaligned,
			CoreID: p.coreID,
			PC:     s.PC,
			Cycle:  p.now(),
			Addr:   addr,
		}
		s.State = SlotDone
		return false
	}
	if p.fetchHoldsPort() {
		p.stallEvent(s, StallStructural)
		return false
	}
	if p.busStall && p.hier.WouldReachShared(addr) {
		p.stallEvent(s, StallStructural)
		return false
	}

	req := mem.Request{
		Op:         mem.OpRead,
		Addr:       addr,
		CoreID:     p.coreID,
		IssueCycle: s.IssueCycle,
	}
	if s.Inst.Entry.IsStore {
		req.Op = mem.OpWrite
		req.Data = s.StoreVal
	}
	resp := p.hier.Submit(req)

	s.MemIssued = true
	s.MemData = resp.Data
	s.Remaining = resp.Latency
	if min := costFor(s, isa.StageMemory); s.Remaining < min {
		s.Remaining = min
	}
	s.StallReason = StallNone
	return true
}

func (p *Pipeline) tickExecute() {
	s := &p.slots[isa.StageExecute]
	if s.State == SlotEmpty {
		return
	}

	if s.State == SlotOccupied {
		if s.Fault != nil {
			s.State = SlotDone
		} else {
			s.Remaining--
			if s.Remaining > 0 {
				return
			}
			p.execute(s)
			s.State = SlotDone
		}
	}

	m := &p.slots[isa.StageMemory]
	if m.Occupied() {
		return
	}
	*m = *s
	m.State = SlotOccupied
	m.StallReason = StallNone
	m.MemIssued = false
	if !(m.Inst != nil && (m.Inst.Entry.IsLoad || m.Inst.Entry.IsStore)) {
		m.Remaining = costFor(m, isa.StageMemory)
	}
	s.Clear()
}

// execute runs the instruction's semantic action on its final Execute
// cycle and resolves branches against the prediction made at fetch.
func (p *Pipeline) execute(s *Slot) {
	e := s.Inst.Entry
	out := e.Exec(isa.ExecInput{
		Inst:       s.Inst,
		A:          s.AVal,
		B:          s.BVal,
		StoreValue: s.StoreVal,
		PC:         s.PC,
		Flags:      s.Flags,
	})

	s.Value = out.Value
	if e.IsStore {
		s.StoreVal = out.StoreValue
	}
	s.Taken = out.Taken
	s.Target = out.Target
	s.Halt = out.Halt
	s.FlagsValid = out.FlagsValid
	if out.FlagsValid {
		s.Flags = out.Flags
	}

	if e.IsBranch {
		p.resolveBranch(s)
	}
}

// resolveBranch compares the actual outcome against the fetch-time
// guess. A wrong guess squashes everything fetched since the branch;
// correct-path fetch resumes on the next cycle, never within the
// resolution cycle.
func (p *Pipeline) resolveBranch(s *Slot) {
	correct := p.predictor.Resolve(s.PredictedTaken, s.Taken)
	if p.observer != nil {
		p.observer.BranchResolved(p.coreID, s.Taken, correct)
	}
	if correct {
		return
	}

	next := s.PC + 4
	if s.Taken {
		next = s.Target
	}
	p.flushFrontend()
	p.pc = next
	p.redirect = true
	p.stats.Flushes++
}

func (p *Pipeline) tickDecode() {
	s := &p.slots[isa.StageDecode]
	if s.State == SlotEmpty {
		return
	}

	if s.State == SlotOccupied {
		if s.Inst == nil && s.Fault == nil {
			inst, err := p.decoder.Decode(s.Word)
			if err != nil {
				s.Fault = &emu.CoreFault{
					Kind:   emu.FaultDecode,
					CoreID: p.coreID,
					PC:     s.PC,
					Cycle:  p.now(),
					Err:    err,
				}
			} else {
				s.Inst = inst
				s.Remaining = costFor(s, isa.StageDecode)
			}
		}
		if s.Fault != nil {
			s.State = SlotDone
		} else {
			s.Remaining--
			if s.Remaining > 0 {
				return
			}
			s.State = SlotDone
		}
	}

	ex := &p.slots[isa.StageExecute]
	if ex.Occupied() {
		return
	}

	if s.Fault == nil {
		ops, ok := p.hazard.resolve(
			s.Inst,
			&p.slots[isa.StageMemory],
			&p.slots[isa.StageWriteback],
		)
		if !ok {
			p.stallEvent(s, StallData)
			return
		}
		s.AVal = ops.a
		s.BVal = ops.b
		s.StoreVal = ops.store
		s.Flags = ops.flags

		e := s.Inst.Entry
		if e.WritesRd {
			p.regFile.MarkPending(s.Inst.Rd)
			s.PendingMarked = true
		}
		if e.WritesFlags {
			p.regFile.MarkFlagsPending()
			s.FlagsPendingMarked = true
		}
	}

	*ex = *s
	ex.State = SlotOccupied
	ex.StallReason = StallNone
	ex.Remaining = costFor(ex, isa.StageExecute)
	s.Clear()
}

func (p *Pipeline) tickFetch() {
	s := &p.slots[isa.StageFetch]

	if s.State == SlotEmpty {
		if !p.startFetch(s) {
			return
		}
	}

	if s.State == SlotOccupied {
		s.Remaining--
		if s.Remaining > 0 {
			return
		}
		s.State = SlotDone
	}

	d := &p.slots[isa.StageDecode]
	if d.Occupied() {
		return
	}
	*d = *s
	d.State = SlotOccupied
	d.StallReason = StallNone
	s.Clear()
}

// startFetch begins fetching the next instruction word. The fetched
// word is peeked for its fetch-stage cost and, when the strategy calls
// for it, an early branch redirect.
func (p *Pipeline) startFetch(s *Slot) bool {
	if p.redirect {
		p.redirect = false
		p.frontStall(StallControl)
		return false
	}

	if p.portBusy {
		p.frontStall(StallStructural)
		return false
	}

	pc := p.pc
	if pc%4 != 0 {
		s.State = SlotOccupied
		s.PC = pc
		s.IssueCycle = p.now()
		s.Remaining = 1
		s.Fault = &emu.CoreFault{
			Kind:   emu.FaultMisaligned,
			CoreID: p.coreID,
			PC:     pc,
			Cycle:  p.now(),
			Addr:   pc,
		}
		p.pc = pc + 4
		return true
	}

	if p.busStall && p.hier.WouldReachShared(pc) {
		p.frontStall(StallStructural)
		return false
	}

	resp := p.hier.Submit(mem.Request{
		Op:         mem.OpRead,
		Addr:       pc,
		CoreID:     p.coreID,
		IssueCycle: p.now(),
	})

	s.State = SlotOccupied
	s.PC = pc
	s.IssueCycle = p.now()
	s.Word = resp.Data
	s.Remaining = resp.Latency
	if s.Remaining == 0 {
		s.Remaining = 1
	}

	next := pc + 4
	if inst, err := p.decoder.Decode(s.Word); err == nil {
		if extra := inst.Entry.Costs[isa.StageFetch]; extra > 1 {
			s.Remaining += extra - 1
		}
		if inst.Entry.IsBranch {
			target := uint32(int64(pc) + int64(inst.Off)*4)
			taken, guessed := p.predictor.Predict(pc, target)
			s.PredictedTaken = taken
			next = guessed
		}
	}
	s.PredictedTarget = next
	p.pc = next
	return true
}

// flushFrontend squashes the Fetch and Decode slots after a
// misprediction. Neither has marked pending writes yet.
func (p *Pipeline) flushFrontend() {
	for _, stage := range [...]isa.Stage{isa.StageFetch, isa.StageDecode} {
		s := &p.slots[stage]
		if !s.Occupied() {
			continue
		}
		s.Clear()
		p.stats.Bubbles++
		p.stats.ControlStalls++
		p.stats.Stalls++
		if p.observer != nil {
			p.observer.BubbleInjected(p.coreID)
		}
	}
}

// flushAll squashes every slot, releasing any register reservations
// held by in-flight instructions. Used on halt and fault.
func (p *Pipeline) flushAll() {
	for i := range p.slots {
		s := &p.slots[i]
		if !s.Occupied() {
			continue
		}
		if s.PendingMarked {
			p.regFile.ClearPending(s.Inst.Rd)
		}
		if s.FlagsPendingMarked {
			p.regFile.ClearFlagsPending()
		}
		s.Clear()
	}
}
