// Package sentiment simulates the dashboard's secondary widgets: the AI
// success-probability gauge and the market-condition traffic light. Both are
// random processes driven by an injected synth.Source.
package sentiment

import (
	"math"
	"sync"

	"synthfeed/internal/synth"
)

// Gauge bounds and defaults.
const (
	GaugeMin     = 50
	GaugeMax     = 99
	GaugeStart   = 85
	gaugeSwing   = 3
	baseAccuracy = 76
	baseTrades   = 1247
)

// Tone buckets a gauge value for display.
type Tone string

const (
	ToneGreen Tone = "green" // >= 75
	ToneAmber Tone = "amber" // >= 50
	ToneRed   Tone = "red"
)

// ToneFor returns the display tone of a probability value.
func ToneFor(v int) Tone {
	switch {
	case v >= 75:
		return ToneGreen
	case v >= 50:
		return ToneAmber
	default:
		return ToneRed
	}
}

// Gauge is a bounded random walk of an integer percentage.
type Gauge struct {
	mu    sync.Mutex
	rnd   synth.Source
	value int
}

// NewGauge returns a gauge at GaugeStart.
func NewGauge(rnd synth.Source) *Gauge {
	if rnd == nil {
		rnd = synth.NewTimeSource()
	}
	return &Gauge{rnd: rnd, value: GaugeStart}
}

// Step moves the gauge by a uniform amount in [-3, 3), rounds half up and
// clamps to [GaugeMin, GaugeMax]. Returns the new value.
func (g *Gauge) Step() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	change := g.rnd()*2*gaugeSwing - gaugeSwing
	v := int(math.Floor(float64(g.value) + change + 0.5))
	g.value = max(GaugeMin, min(GaugeMax, v))
	return g.value
}

// Value returns the current gauge value.
func (g *Gauge) Value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}
