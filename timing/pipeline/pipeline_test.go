package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/psylab/psycore/emu"
	"github.com/psylab/psycore/isa"
	"github.com/psylab/psycore/timing/mem"
	"github.com/psylab/psycore/timing/pipeline"
)

var table = isa.DefaultTable()

// word assembles one instruction against the default table.
func word(mnemonic string, rd, ra, rb uint8, imm uint32) uint32 {
	entry := table.LookupMnemonic(mnemonic)
	ExpectWithOffset(1, entry).ToNot(BeNil())
	return isa.Encode(entry, rd, ra, rb, imm)
}

// machine is a single pipeline over an uncached hierarchy with a
// one-cycle backing store, so every access costs exactly one cycle and
// cycle counts are exact.
type machine struct {
	bus  *emu.Bus
	pipe *pipeline.Pipeline
}

func newMachine(words []uint32, opts ...pipeline.Option) *machine {
	bus := emu.NewBus(emu.NewMemory())
	for i, w := range words {
		bus.Memory().Write32(uint32(i)*4, w)
	}
	hier := mem.NewHierarchy(0, mem.Config{MemoryLatency: 1}, bus)
	pipe := pipeline.New(0, table, emu.NewRegFile(), hier, opts...)
	return &machine{bus: bus, pipe: pipe}
}

// run ticks until the pipeline halts or faults, bounded so a broken
// machine cannot hang the suite.
func (m *machine) run() uint64 {
	for i := 0; i < 1000 && !m.pipe.Done(); i++ {
		m.pipe.Tick()
	}
	ExpectWithOffset(1, m.pipe.Done()).To(BeTrue())
	return m.pipe.Stats().Cycles
}

func (m *machine) reg(r uint8) uint32 {
	return m.pipe.RegFile().Read(r)
}

var _ = Describe("Pipeline", func() {
	Describe("straight-line execution", func() {
		It("should fill the pipeline and retire one instruction per cycle", func() {
			m := newMachine([]uint32{
				word("MOVI", 1, 0, 0, 1),
				word("HALT", 0, 0, 0, 0),
			})
			cycles := m.run()

			Expect(m.pipe.Halted()).To(BeTrue())
			Expect(m.reg(1)).To(Equal(uint32(1)))
			Expect(m.pipe.Stats().Instructions).To(Equal(uint64(2)))
			// Five cycles of fill plus one per extra instruction.
			Expect(cycles).To(Equal(uint64(6)))
		})

		It("should retire independent instructions back to back", func() {
			m := newMachine([]uint32{
				word("MOVI", 1, 0, 0, 10),
				word("MOVI", 2, 0, 0, 20),
				word("MOVI", 3, 0, 0, 30),
				word("HALT", 0, 0, 0, 0),
			})
			cycles := m.run()

			Expect(m.reg(1)).To(Equal(uint32(10)))
			Expect(m.reg(2)).To(Equal(uint32(20)))
			Expect(m.reg(3)).To(Equal(uint32(30)))
			Expect(cycles).To(Equal(uint64(8)))
			Expect(m.pipe.Stats().DataStalls).To(BeZero())
		})
	})

	Describe("data hazards", func() {
		program := []uint32{
			word("MOVI", 1, 0, 0, 5),
			word("ADD", 2, 1, 1, 0),
			word("HALT", 0, 0, 0, 0),
		}

		It("should hold a dependent reader until writeback under the stall policy", func() {
			m := newMachine(program,
				pipeline.WithHazardPolicy(pipeline.StallUntilWriteback))
			cycles := m.run()

			Expect(m.reg(2)).To(Equal(uint32(10)))
			Expect(m.pipe.Stats().DataStalls).To(Equal(uint64(2)))
			Expect(cycles).To(Equal(uint64(9)))
		})

		It("should bypass the result under the forwarding policy", func() {
			m := newMachine(program,
				pipeline.WithHazardPolicy(pipeline.Forwarding))
			cycles := m.run()

			Expect(m.reg(2)).To(Equal(uint32(10)))
			Expect(m.pipe.Stats().DataStalls).To(BeZero())
			Expect(cycles).To(Equal(uint64(7)))
		})

		It("should still stall a load-use pair under forwarding", func() {
			m := newMachine([]uint32{
				word("MOVI", 1, 0, 0, 0x100),
				word("MOVI", 2, 0, 0, 42),
				word("ST", 2, 1, 0, 0),
				word("LD", 3, 1, 0, 0),
				word("ADD", 4, 3, 3, 0),
				word("HALT", 0, 0, 0, 0),
			}, pipeline.WithHazardPolicy(pipeline.Forwarding))
			m.run()

			Expect(m.reg(4)).To(Equal(uint32(84)))
			Expect(m.bus.Memory().Read32(0x100)).To(Equal(uint32(42)))
			Expect(m.pipe.Stats().DataStalls).ToNot(BeZero())
		})
	})

	Describe("multi-cycle execute", func() {
		It("should occupy Execute for the instruction's full stage cost", func() {
			build := func(mnemonic string) *machine {
				return newMachine([]uint32{
					word("MOVI", 1, 0, 0, 3),
					word("MOVI", 2, 0, 0, 4),
					word(mnemonic, 3, 1, 2, 0),
					word("HALT", 0, 0, 0, 0),
				}, pipeline.WithHazardPolicy(pipeline.Forwarding))
			}

			add := build("ADD")
			addCycles := add.run()
			Expect(add.reg(3)).To(Equal(uint32(7)))

			mul := build("MUL")
			mulCycles := mul.run()
			Expect(mul.reg(3)).To(Equal(uint32(12)))

			// MUL carries a three-cycle Execute cost, two cycles
			// beyond the single-cycle ADD.
			Expect(mulCycles).To(Equal(addCycles + 2))
		})
	})

	Describe("control flow", func() {
		program := []uint32{
			word("MOVI", 5, 0, 0, 1),
			word("JMP", 0, 0, 0, 2), // to 0x0C
			word("MOVI", 5, 0, 0, 99),
			word("HALT", 0, 0, 0, 0),
		}

		It("should squash the wrong path when no prediction is made", func() {
			m := newMachine(program,
				pipeline.WithBranchStrategy(pipeline.PredictNone))
			cycles := m.run()

			Expect(m.reg(5)).To(Equal(uint32(1)))
			Expect(m.pipe.Stats().Instructions).To(Equal(uint64(3)))
			Expect(m.pipe.Stats().Flushes).To(Equal(uint64(1)))
			Expect(m.pipe.Stats().Bubbles).To(Equal(uint64(1)))
			// Flush penalty: one squashed slot plus the dead fetch
			// cycle before the redirect takes effect.
			Expect(cycles).To(Equal(uint64(9)))
			Expect(m.pipe.Predictor().Stats().Predictions).To(BeZero())
		})

		It("should resume correct-path fetch the cycle after resolution", func() {
			m := newMachine(program,
				pipeline.WithBranchStrategy(pipeline.PredictNone))

			for i := 0; i < 100 && m.pipe.Stats().Flushes == 0; i++ {
				m.pipe.Tick()
			}
			Expect(m.pipe.Stats().Flushes).To(Equal(uint64(1)))

			// The resolution cycle ends with an empty front end: the
			// corrected path must not be in flight yet.
			slots := m.pipe.Slots()
			Expect(slots[isa.StageFetch].State).To(Equal(pipeline.SlotEmpty))
			Expect(slots[isa.StageDecode].State).To(Equal(pipeline.SlotEmpty))

			// The following cycle fetches the branch target.
			m.pipe.Tick()
			slots = m.pipe.Slots()
			Expect(slots[isa.StageDecode].State).To(Equal(pipeline.SlotOccupied))
			Expect(slots[isa.StageDecode].PC).To(Equal(uint32(0x0C)))
		})

		It("should redirect fetch at prediction time under static-taken", func() {
			m := newMachine(program,
				pipeline.WithBranchStrategy(pipeline.PredictStaticTaken))
			cycles := m.run()

			Expect(m.reg(5)).To(Equal(uint32(1)))
			Expect(m.pipe.Stats().Flushes).To(BeZero())
			Expect(m.pipe.Stats().Bubbles).To(BeZero())
			Expect(cycles).To(Equal(uint64(7)))

			stats := m.pipe.Predictor().Stats()
			Expect(stats.Predictions).To(Equal(uint64(1)))
			Expect(stats.Correct).To(Equal(uint64(1)))
		})

		It("should predict a fall-through correctly under static-not-taken", func() {
			m := newMachine([]uint32{
				word("CMPI", 0, 0, 0, 1), // r0=0, so Z clear
				word("JZ", 0, 0, 0, 2),
				word("MOVI", 1, 0, 0, 7),
				word("HALT", 0, 0, 0, 0),
			},
				pipeline.WithHazardPolicy(pipeline.Forwarding),
				pipeline.WithBranchStrategy(pipeline.PredictStaticNotTaken))
			m.run()

			Expect(m.reg(1)).To(Equal(uint32(7)))
			Expect(m.pipe.Stats().Flushes).To(BeZero())

			stats := m.pipe.Predictor().Stats()
			Expect(stats.Predictions).To(Equal(uint64(1)))
			Expect(stats.Correct).To(Equal(uint64(1)))
			Expect(stats.Mispredictions).To(BeZero())
		})

		It("should recover from a mispredicted not-taken branch", func() {
			m := newMachine([]uint32{
				word("CMPI", 0, 0, 0, 1), // Z clear, JZ falls through
				word("JZ", 0, 0, 0, 2),
				word("MOVI", 1, 0, 0, 7),
				word("HALT", 0, 0, 0, 0),
			},
				pipeline.WithHazardPolicy(pipeline.Forwarding),
				pipeline.WithBranchStrategy(pipeline.PredictStaticTaken))
			m.run()

			Expect(m.reg(1)).To(Equal(uint32(7)))
			Expect(m.pipe.Stats().Flushes).To(Equal(uint64(1)))
			Expect(m.pipe.Predictor().Stats().Mispredictions).To(Equal(uint64(1)))
		})

		It("should never fault on wrong-path garbage", func() {
			m := newMachine([]uint32{
				word("JMP", 0, 0, 0, 2), // to 0x08
				0xEE000000,              // wrong path, not a valid word
				word("HALT", 0, 0, 0, 0),
			}, pipeline.WithBranchStrategy(pipeline.PredictNone))
			m.run()

			Expect(m.pipe.Halted()).To(BeTrue())
			Expect(m.pipe.Fault()).To(BeNil())
			Expect(m.pipe.Stats().Faults).To(BeZero())
			Expect(m.pipe.Stats().Instructions).To(Equal(uint64(2)))
		})
	})

	Describe("faults", func() {
		It("should surface a decode fault precisely at retirement", func() {
			m := newMachine([]uint32{
				word("MOVI", 1, 0, 0, 1),
				0xEE000000,
			})
			m.run()

			Expect(m.pipe.Halted()).To(BeFalse())
			fault := m.pipe.Fault()
			Expect(fault).ToNot(BeNil())
			Expect(fault.Kind).To(Equal(emu.FaultDecode))
			Expect(fault.PC).To(Equal(uint32(4)))
			// The older instruction retired before the fault.
			Expect(m.reg(1)).To(Equal(uint32(1)))
			Expect(m.pipe.Stats().Instructions).To(Equal(uint64(1)))
		})

		It("should fault on a misaligned data access", func() {
			m := newMachine([]uint32{
				word("MOVI", 1, 0, 0, 2),
				word("ST", 1, 1, 0, 0), // address 2
			})
			m.run()

			fault := m.pipe.Fault()
			Expect(fault).ToNot(BeNil())
			Expect(fault.Kind).To(Equal(emu.FaultMisaligned))
			Expect(fault.Addr).To(Equal(uint32(2)))
			Expect(m.pipe.Stats().Instructions).To(Equal(uint64(1)))
		})

		It("should discard an invalid word fetched past a halt", func() {
			m := newMachine([]uint32{
				word("MOVI", 1, 0, 0, 1),
				word("HALT", 0, 0, 0, 0),
				0xEE000000,
			})
			m.run()

			Expect(m.pipe.Halted()).To(BeTrue())
			Expect(m.pipe.Fault()).To(BeNil())
			Expect(m.reg(1)).To(Equal(uint32(1)))
		})
	})

	Describe("architectural equivalence", func() {
		// Sum of 1..5 computed with a compare-and-branch loop.
		program := []uint32{
			word("MOVI", 1, 0, 0, 5),
			word("MOVI", 2, 0, 0, 0),
			word("MOVI", 3, 0, 0, 1),
			word("ADD", 2, 2, 1, 0), // 0x0C
			word("SUB", 1, 1, 3, 0),
			word("CMPI", 1, 1, 0, 0),
			word("JNZ", 0, 0, 0, 0xFFFD), // back to 0x0C
			word("HALT", 0, 0, 0, 0),
		}

		It("should match the functional model's final state", func() {
			ref := emu.NewEmulator(table)
			for i, w := range program {
				ref.Memory().Write32(uint32(i)*4, w)
			}
			Expect(ref.Run()).To(BeNil())

			m := newMachine(program)
			m.run()

			Expect(m.pipe.Fault()).To(BeNil())
			for r := uint8(0); r < emu.NumRegs; r++ {
				Expect(m.reg(r)).To(Equal(ref.RegFile().Read(r)),
					"register %d", r)
			}
			Expect(m.pipe.Stats().Instructions).
				To(Equal(ref.InstructionCount()))
		})

		It("should run faster with forwarding and static-taken prediction", func() {
			slow := newMachine(program,
				pipeline.WithHazardPolicy(pipeline.StallUntilWriteback),
				pipeline.WithBranchStrategy(pipeline.PredictNone))
			slowCycles := slow.run()

			fast := newMachine(program,
				pipeline.WithHazardPolicy(pipeline.Forwarding),
				pipeline.WithBranchStrategy(pipeline.PredictStaticTaken))
			fastCycles := fast.run()

			Expect(fast.reg(2)).To(Equal(uint32(15)))
			Expect(slow.reg(2)).To(Equal(uint32(15)))
			Expect(fastCycles).To(BeNumerically("<", slowCycles))
		})
	})

	Describe("Reset", func() {
		It("should return the pipeline to a runnable initial state", func() {
			m := newMachine([]uint32{
				word("MOVI", 1, 0, 0, 1),
				word("HALT", 0, 0, 0, 0),
			})
			first := m.run()

			m.pipe.Reset()
			m.pipe.RegFile().Reset()
			Expect(m.pipe.Stats().Cycles).To(BeZero())

			second := m.run()
			Expect(second).To(Equal(first))
			Expect(m.reg(1)).To(Equal(uint32(1)))
		})
	})
})
