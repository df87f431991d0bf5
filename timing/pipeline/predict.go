package pipeline

import "fmt"

// BranchStrategy selects how fetch guesses the outcome of a branch
// before it resolves in Execute.
type BranchStrategy uint8

// Branch strategies.
const (
	// PredictNone makes no guess: fetch proceeds sequentially and every
	// taken branch pays the full redirect penalty. No predictions are
	// recorded.
	PredictNone BranchStrategy = iota
	// PredictStaticTaken redirects fetch to the branch target as soon
	// as the branch is fetched.
	PredictStaticTaken
	// PredictStaticNotTaken fetches sequentially past the branch and
	// records the guess.
	PredictStaticNotTaken
)

// String returns the strategy name.
func (s BranchStrategy) String() string {
	switch s {
	case PredictStaticTaken:
		return "static-taken"
	case PredictStaticNotTaken:
		return "static-not-taken"
	default:
		return "none"
	}
}

// ParseBranchStrategy maps a strategy name to its value.
func ParseBranchStrategy(name string) (BranchStrategy, error) {
	switch name {
	case "none", "":
		return PredictNone, nil
	case "static-taken":
		return PredictStaticTaken, nil
	case "static-not-taken":
		return PredictStaticNotTaken, nil
	default:
		return PredictNone, fmt.Errorf("unknown branch strategy %q", name)
	}
}

// PredictorStats counts prediction outcomes. PredictNone records
// nothing here; its redirects still show up as control stalls.
type PredictorStats struct {
	Predictions    uint64
	Correct        uint64
	Mispredictions uint64
}

// Accuracy returns the fraction of predictions that were correct.
// Computed on demand from the raw counters.
func (s PredictorStats) Accuracy() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Predictions)
}

// Predictor applies one static branch strategy and tracks its outcomes.
type Predictor struct {
	strategy BranchStrategy
	stats    PredictorStats
}

// NewPredictor creates a predictor with the given strategy.
func NewPredictor(strategy BranchStrategy) *Predictor {
	return &Predictor{strategy: strategy}
}

// Strategy returns the configured strategy.
func (p *Predictor) Strategy() BranchStrategy {
	return p.strategy
}

// Stats returns a snapshot of the prediction counters.
func (p *Predictor) Stats() PredictorStats {
	return p.stats
}

// Predict returns the guessed outcome for a branch at pc with the given
// statically computed target.
func (p *Predictor) Predict(pc, target uint32) (taken bool, predicted uint32) {
	if p.strategy == PredictStaticTaken {
		return true, target
	}
	return false, pc + 4
}

// Resolve records the actual outcome of a predicted branch and reports
// whether the guess was right. Under PredictNone every taken branch is
// a redirect but no prediction is counted.
func (p *Predictor) Resolve(predictedTaken, actualTaken bool) bool {
	correct := predictedTaken == actualTaken
	if p.strategy != PredictNone {
		p.stats.Predictions++
		if correct {
			p.stats.Correct++
		} else {
			p.stats.Mispredictions++
		}
	}
	return correct
}

// Reset clears the prediction counters.
func (p *Predictor) Reset() {
	p.stats = PredictorStats{}
}
