package train

import "strings"

// Scheduler gives the learning rate to use at a given scheduler step (0 for the first update).
type Scheduler interface {
	LearningRate(step int) float64
}

// LinearDecayWithWarmup increases the learning rate linearly from 0 to Base during the first
// Warmup steps, then decreases it linearly to 0 at Total steps.
type LinearDecayWithWarmup struct {
	Base   float64
	Total  int
	Warmup int
}

// NewLinearDecayWithWarmup creates the schedule.
func NewLinearDecayWithWarmup(base float64, total, warmup int) *LinearDecayWithWarmup {
	return &LinearDecayWithWarmup{Base: base, Total: total, Warmup: warmup}
}

// LearningRate implements Scheduler.
func (s *LinearDecayWithWarmup) LearningRate(step int) float64 {
	if step < s.Warmup {
		return s.Base * float64(step) / float64(max(1, s.Warmup))
	}
	factor := float64(s.Total-step) / float64(max(1, s.Total-s.Warmup))
	return s.Base * max(0, factor)
}

// noDecaySubstrings mark parameters excluded from weight decay.
var noDecaySubstrings = []string{"bias", "norm"}

// DecayParams returns the parameter names weight decay applies to: all but biases and
// normalization parameters.
func DecayParams(names []string) []string {
	var out []string
	for _, name := range names {
		decay := true
		for _, sub := range noDecaySubstrings {
			if strings.Contains(name, sub) {
				decay = false
				break
			}
		}
		if decay {
			out = append(out, name)
		}
	}
	return out
}
