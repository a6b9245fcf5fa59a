package sentiment

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"synthfeed/internal/scheduler"
)

// Reading is the widget state served to the dashboard.
type Reading struct {
	Probability int       `json:"probability"`
	Tone        Tone      `json:"tone"`
	Accuracy    int       `json:"accuracy"`
	Trades      int       `json:"trades"`
	Condition   Condition `json:"condition"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Simulating  bool      `json:"simulating"`
}

// Board schedules the gauge and the condition simulator. The gauge always
// runs once started; the condition only changes while simulating.
type Board struct {
	Gauge     *Gauge
	Condition *ConditionSim

	gaugeEvery time.Duration
	condEvery  time.Duration
	gaugeSched scheduler.Scheduler
	condSched  scheduler.Scheduler

	toggleMu   sync.Mutex // serializes SetSimulating transitions
	simulating atomic.Bool

	// OnChange is called after every gauge or condition step.
	OnChange func(Reading)
}

// NewBoard wires a gauge and condition simulator to their schedulers.
func NewBoard(g *Gauge, c *ConditionSim, gaugeSched, condSched scheduler.Scheduler, gaugeEvery, condEvery time.Duration) *Board {
	return &Board{
		Gauge:      g,
		Condition:  c,
		gaugeEvery: gaugeEvery,
		condEvery:  condEvery,
		gaugeSched: gaugeSched,
		condSched:  condSched,
	}
}

// Start begins the gauge walk.
func (b *Board) Start() error {
	return b.gaugeSched.Start(b.gaugeEvery, b.StepGauge)
}

// Stop halts both schedules.
func (b *Board) Stop() {
	b.gaugeSched.Stop()
	b.condSched.Stop()
}

// SetSimulating toggles the condition simulator.
func (b *Board) SetSimulating(on bool) error {
	b.toggleMu.Lock()
	defer b.toggleMu.Unlock()
	if on == b.simulating.Load() {
		return nil
	}
	if on {
		if err := b.condSched.Start(b.condEvery, b.StepCondition); err != nil {
			return err
		}
	} else {
		b.condSched.Stop()
	}
	b.simulating.Store(on)
	slog.Info("condition simulation toggled", slog.Bool("simulating", on))
	return nil
}

// StepGauge advances the gauge once.
func (b *Board) StepGauge() {
	b.Gauge.Step()
	b.notify()
}

// StepCondition draws a new condition once.
func (b *Board) StepCondition() {
	b.Condition.Step()
	b.notify()
}

// Reading returns the current widget state.
func (b *Board) Reading() Reading {
	p := b.Gauge.Value()
	c := b.Condition.Current()
	title, desc := c.Describe()
	return Reading{
		Probability: p,
		Tone:        ToneFor(p),
		Accuracy:    baseAccuracy,
		Trades:      baseTrades,
		Condition:   c,
		Title:       title,
		Description: desc,
		Simulating:  b.simulating.Load(),
	}
}

func (b *Board) notify() {
	if b.OnChange != nil {
		b.OnChange(b.Reading())
	}
}
