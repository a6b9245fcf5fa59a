package sentiment

import (
	"sync"

	"synthfeed/internal/synth"
)

// Condition is the traffic-light market state.
type Condition string

const (
	Dangerous Condition = "dangerous"
	Caution   Condition = "caution"
	Secure    Condition = "secure"
)

// Conditions lists every state in draw order.
var Conditions = []Condition{Dangerous, Caution, Secure}

// Describe returns the headline and advice shown for c.
func (c Condition) Describe() (title, description string) {
	switch c {
	case Dangerous:
		return "High Risk Zone", "Extreme volatility detected. Avoid new entries and consider reducing exposure."
	case Caution:
		return "Proceed with Caution", "Moderate market fluctuations observed. Enter with strict stop-loss orders in place."
	default:
		return "Favorable Conditions", "Low volatility environment with stable directional signals."
	}
}

// ConditionSim picks a uniformly random condition on every step.
type ConditionSim struct {
	mu  sync.Mutex
	rnd synth.Source
	cur Condition
}

// NewConditionSim starts in Secure.
func NewConditionSim(rnd synth.Source) *ConditionSim {
	if rnd == nil {
		rnd = synth.NewTimeSource()
	}
	return &ConditionSim{rnd: rnd, cur: Secure}
}

// Step draws the next condition.
func (s *ConditionSim) Step() Condition {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := int(s.rnd() * float64(len(Conditions)))
	if i >= len(Conditions) {
		i = len(Conditions) - 1
	}
	s.cur = Conditions[i]
	return s.cur
}

// Current returns the last drawn condition.
func (s *ConditionSim) Current() Condition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}
