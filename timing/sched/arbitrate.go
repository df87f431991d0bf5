package sched

import "github.com/psylab/psycore/timing/mem"

// intent is one core's posted shared-bus request for the coming cycle.
type intent struct {
	coreID int
	req    mem.Request
}

// arbitrate picks the winning intent for one cycle: the oldest issue
// cycle wins, ties break toward the lowest core id. Pure function of
// its input, so identical tick sequences arbitrate identically.
func arbitrate(intents []intent) int {
	winner := -1
	for i, in := range intents {
		if winner < 0 {
			winner = i
			continue
		}
		w := intents[winner]
		if in.req.IssueCycle < w.req.IssueCycle ||
			(in.req.IssueCycle == w.req.IssueCycle && in.coreID < w.coreID) {
			winner = i
		}
	}
	return winner
}
