// Package main provides the psyCore command line interface: a
// cycle-accurate simulator for a configurable instruction set, with a
// functional emulation mode for cross-checking.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/psylab/psycore/debug"
	"github.com/psylab/psycore/emu"
	"github.com/psylab/psycore/isa"
	"github.com/psylab/psycore/loader"
	"github.com/psylab/psycore/monitor"
	"github.com/psylab/psycore/timing/sched"
)

var (
	configPath = flag.String("config", "", "Path to machine configuration JSON file")
	isaPath    = flag.String("isa", "", "Path to instruction table JSON file")
	cores      = flag.Int("cores", 0, "Number of cores (overrides config)")
	cycles     = flag.Uint64("cycles", 0, "Stop after this many cycles (0 = no limit)")
	emulate    = flag.Bool("emu", false, "Functional emulation mode (no timing)")
	traceDepth = flag.Int("trace", 0, "Dump the last N cycles of pipeline trace")
	verbose    = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: psycore [options] <program.hex|program.bin>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	table, err := loadTable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading instruction table: %v\n", err)
		os.Exit(1)
	}

	programPath := flag.Arg(0)
	prog, err := loader.Load(programPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading program: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Printf("Loaded: %s\n", programPath)
		fmt.Printf("Base: 0x%08X  Entry: 0x%08X  Words: %d\n",
			prog.Base, prog.Entry, len(prog.Words))
	}

	if *emulate {
		os.Exit(runEmulation(table, prog))
	}
	os.Exit(runTiming(table, prog))
}

func loadTable() (*isa.Table, error) {
	if *isaPath == "" {
		return isa.DefaultTable(), nil
	}
	return isa.LoadTable(*isaPath)
}

// runEmulation runs the program on the functional reference emulator.
func runEmulation(table *isa.Table, prog *loader.Program) int {
	bus := emu.NewBus(emu.NewMemory())
	prog.LoadInto(bus.Memory())

	emulator := emu.NewEmulator(table, emu.WithBus(bus))
	emulator.SetPC(prog.Entry)

	if fault := emulator.Run(); fault != nil {
		fmt.Fprintf(os.Stderr, "Fault: %v\n", fault)
		return 1
	}

	if *verbose {
		fmt.Printf("\nInstructions executed: %d\n", emulator.InstructionCount())
	}
	return 0
}

// runTiming runs the program on the cycle-accurate machine.
func runTiming(table *isa.Table, prog *loader.Program) int {
	config, err := loadMachineConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}

	bus := emu.NewBus(emu.NewMemory())
	prog.LoadInto(bus.Memory())

	mon := monitor.New(config.NumCores)
	machine, err := sched.New(table, bus, config,
		sched.WithObserver(mon),
		sched.WithMemObserver(mon),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building machine: %v\n", err)
		return 1
	}
	for _, c := range machine.Cores() {
		c.SetPC(prog.Entry)
	}

	var controller *debug.Controller
	if *traceDepth > 0 {
		controller = debug.NewController(machine, *traceDepth)
		controller.Run()
	} else {
		machine.Run()
	}

	report(machine, mon)

	if controller != nil {
		fmt.Printf("\nTrace (last %d cycles):\n", controller.Trace().Len())
		controller.DumpTrace(os.Stdout)
	}

	if fault := machine.Fault(); fault != nil {
		fmt.Fprintf(os.Stderr, "Fault: %v\n", fault)
		return 1
	}
	return 0
}

func loadMachineConfig() (sched.Config, error) {
	config := sched.DefaultConfig()
	if *configPath != "" {
		loaded, err := sched.LoadConfig(*configPath)
		if err != nil {
			return sched.Config{}, err
		}
		config = loaded
	}
	if *cores > 0 {
		config.NumCores = *cores
	}
	if *cycles > 0 {
		config.MaxCycles = *cycles
	}
	return config, config.Validate()
}

func report(machine *sched.Scheduler, mon *monitor.Monitor) {
	fmt.Printf("\nTotal Cycles: %d\n", machine.Cycle())

	for _, c := range machine.Cores() {
		stats := c.Stats()
		counters := mon.Core(c.ID())

		fmt.Printf("\nCore %d:\n", c.ID())
		fmt.Printf("  Instructions: %d\n", stats.Instructions)
		fmt.Printf("  CPI: %.2f\n", stats.CPI())
		fmt.Printf("  Stalls: %d (structural %d, data %d, control %d)\n",
			stats.Stalls, stats.StructuralStalls, stats.DataStalls, stats.ControlStalls)
		fmt.Printf("  Flushes: %d  Bubbles: %d\n", stats.Flushes, stats.Bubbles)

		predStats := c.Pipeline.Predictor().Stats()
		if predStats.Predictions > 0 {
			fmt.Printf("  Branch predictions: %d (%.1f%% correct)\n",
				predStats.Predictions, 100*predStats.Accuracy())
		}

		for lvl, cache := range c.Hierarchy().Levels() {
			lc := cache.Config()
			fmt.Printf("  %s: %d accesses, %.1f%% miss\n",
				lc.Name, counters.Accesses(lvl), 100*counters.MissRate(lvl))
		}

		if f := c.Fault(); f != nil {
			fmt.Printf("  Fault: %v\n", f)
		}
	}
}
