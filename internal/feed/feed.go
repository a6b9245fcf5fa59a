// Package feed turns a synth.Engine into a live price feed: a scheduler ticks
// the engine while the feed is Live, and every appended candle is published
// as a model.TickEvent.
package feed

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"synthfeed/internal/model"
	"synthfeed/internal/scheduler"
	"synthfeed/internal/synth"
)

// DefaultTickInterval matches the dashboard's chart refresh period.
const DefaultTickInterval = 3 * time.Second

// Config describes the simulated instrument.
type Config struct {
	Symbol       string
	BasePrice    float64
	WindowSize   int
	TickInterval time.Duration
}

func (c *Config) defaults() {
	if c.Symbol == "" {
		c.Symbol = "XAU/USD"
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
}

// Publisher receives every tick event. bus.FanOut satisfies it.
type Publisher interface {
	Publish(ev model.TickEvent)
}

// Feed owns an engine and toggles its schedule between Live and Paused.
type Feed struct {
	cfg    Config
	engine *synth.Engine
	sched  scheduler.Scheduler
	pub    Publisher
	logger *slog.Logger

	// tickMu orders tick + seq so snapshots pair a window with its seq.
	tickMu sync.Mutex
	seq    int64

	liveMu sync.Mutex // serializes SetLive transitions
	live   atomic.Bool

	// OnTick is called after each tick with the time spent ticking.
	OnTick func(ev model.TickEvent, took time.Duration)
	// OnLive is called after each Live/Paused transition.
	OnLive func(live bool)
}

// New initializes engine with cfg and returns a paused feed. pub may be nil.
func New(cfg Config, engine *synth.Engine, sched scheduler.Scheduler, pub Publisher, logger *slog.Logger) (*Feed, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := engine.Initialize(cfg.BasePrice, cfg.WindowSize); err != nil {
		return nil, fmt.Errorf("initialize feed %s: %w", cfg.Symbol, err)
	}
	return &Feed{
		cfg:    cfg,
		engine: engine,
		sched:  sched,
		pub:    pub,
		logger: logger.With(slog.String("symbol", cfg.Symbol)),
	}, nil
}

// Symbol returns the instrument label.
func (f *Feed) Symbol() string { return f.cfg.Symbol }

// Interval returns the tick period used while Live.
func (f *Feed) Interval() time.Duration { return f.cfg.TickInterval }

// SetLive starts (true) or stops (false) the tick schedule. The window is
// left untouched either way.
func (f *Feed) SetLive(live bool) error {
	f.liveMu.Lock()
	defer f.liveMu.Unlock()

	if live == f.live.Load() {
		return nil
	}
	if live {
		if err := f.sched.Start(f.cfg.TickInterval, f.scheduledTick); err != nil {
			return fmt.Errorf("start feed schedule: %w", err)
		}
	} else {
		f.sched.Stop()
	}
	f.live.Store(live)
	f.logger.Info("feed state changed", slog.Bool("live", live))
	if f.OnLive != nil {
		f.OnLive(live)
	}
	return nil
}

// Live reports whether the tick schedule is running.
func (f *Feed) Live() bool {
	return f.live.Load()
}

// TickNow advances the feed by one candle regardless of Live state.
func (f *Feed) TickNow() (model.TickEvent, error) {
	start := time.Now()

	f.tickMu.Lock()
	c, err := f.engine.Tick()
	if err != nil {
		f.tickMu.Unlock()
		return model.TickEvent{}, err
	}
	f.seq++
	ev := model.TickEvent{
		Symbol:    f.cfg.Symbol,
		Seq:       f.seq,
		Candle:    c,
		EmittedAt: time.Now().UTC(),
	}
	f.tickMu.Unlock()

	if f.pub != nil {
		f.pub.Publish(ev)
	}
	if f.OnTick != nil {
		f.OnTick(ev, time.Since(start))
	}
	return ev, nil
}

func (f *Feed) scheduledTick() {
	if _, err := f.TickNow(); err != nil {
		f.logger.Error("tick failed", slog.String("error", err.Error()))
	}
}

// Window returns a copy of the current candle window.
func (f *Feed) Window() []model.Candle {
	return f.engine.Window()
}

// Snapshot returns the window with its derived header values.
func (f *Feed) Snapshot() model.Snapshot {
	f.tickMu.Lock()
	candles := f.engine.Window()
	seq := f.seq
	f.tickMu.Unlock()

	snap := model.Snapshot{
		Symbol:  f.cfg.Symbol,
		Candles: candles,
		Live:    f.Live(),
		Seq:     seq,
	}
	if last, pct, err := synth.Derive(candles); err == nil {
		snap.LastPrice, snap.PercentChange = last, pct
	}
	return snap
}

// Close stops the schedule.
func (f *Feed) Close() {
	_ = f.SetLive(false)
}
