package debug

import (
	"github.com/psylab/psycore/emu"
	"github.com/psylab/psycore/isa"
	"github.com/psylab/psycore/timing/pipeline"
)

// CoreSnapshot is one core's state at the end of a cycle.
type CoreSnapshot struct {
	CoreID int
	PC     uint32
	Regs   [emu.NumRegs]uint32
	Flags  isa.Flags
	Slots  [isa.NumStages]pipeline.Slot
	Halted bool
}

// Entry is one cycle of trace: the cycle number and every core's
// snapshot.
type Entry struct {
	Cycle uint64
	Cores []CoreSnapshot
}

// Trace is a fixed-depth ring buffer of the most recent cycles. The
// depth never grows; recording the depth+1-th entry drops the oldest.
type Trace struct {
	entries []Entry
	next    int
	filled  bool
}

// NewTrace creates a trace keeping the last depth cycles. A depth of
// zero disables recording.
func NewTrace(depth int) *Trace {
	if depth < 0 {
		depth = 0
	}
	return &Trace{entries: make([]Entry, depth)}
}

// Depth returns the trace capacity.
func (t *Trace) Depth() int {
	return len(t.entries)
}

// Len returns the number of recorded entries, at most Depth.
func (t *Trace) Len() int {
	if t.filled {
		return len(t.entries)
	}
	return t.next
}

// Record appends one cycle, displacing the oldest when full.
func (t *Trace) Record(e Entry) {
	if len(t.entries) == 0 {
		return
	}
	t.entries[t.next] = e
	t.next++
	if t.next == len(t.entries) {
		t.next = 0
		t.filled = true
	}
}

// Entries returns the recorded cycles, oldest first.
func (t *Trace) Entries() []Entry {
	out := make([]Entry, 0, t.Len())
	if t.filled {
		out = append(out, t.entries[t.next:]...)
	}
	out = append(out, t.entries[:t.next]...)
	return out
}

// Last returns the most recent entry.
func (t *Trace) Last() (Entry, bool) {
	if t.Len() == 0 {
		return Entry{}, false
	}
	i := t.next - 1
	if i < 0 {
		i = len(t.entries) - 1
	}
	return t.entries[i], true
}

// Reset discards all recorded entries.
func (t *Trace) Reset() {
	t.next = 0
	t.filled = false
}
