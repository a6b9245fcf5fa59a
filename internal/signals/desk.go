package signals

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"synthfeed/internal/indicator"
	"synthfeed/internal/model"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the signal history kept by a Desk.
const DefaultCapacity = 50

// Desk feeds every tick through an indicator.Analyzer, raises a signal
// when the decision turns to BUY or SELL, and resolves open signals
// against later candles.
type Desk struct {
	asset    string
	analyzer *indicator.Analyzer
	capacity int
	logger   *slog.Logger

	now   func() time.Time
	newID func() string

	mu   sync.RWMutex
	book []Signal // newest first
	prev indicator.Decision

	// OnSignal is called when a signal is raised and again when it closes.
	OnSignal func(Signal)
}

// NewDesk creates an empty desk for asset. capacity below 1 uses
// DefaultCapacity.
func NewDesk(asset string, analyzer *indicator.Analyzer, capacity int, logger *slog.Logger) *Desk {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Desk{
		asset:    asset,
		analyzer: analyzer,
		capacity: capacity,
		logger:   logger.With(slog.String("component", "signals"), slog.String("asset", asset)),
		now:      time.Now,
		newID:    uuid.NewString,
		prev:     indicator.Wait,
	}
}

// Seed replays a window through the analyzer. A decision that already
// holds at the end of the window does not raise a signal.
func (d *Desk) Seed(candles []model.Candle) indicator.Analysis {
	a := d.analyzer.Seed(candles)
	d.mu.Lock()
	d.prev = a.Decision
	d.mu.Unlock()
	return a
}

// Observe applies one tick. Open signals are checked against the candle
// before a new one can be raised, so a signal is never resolved by the
// candle that raised it.
func (d *Desk) Observe(ev model.TickEvent) indicator.Analysis {
	a := d.analyzer.Update(ev.Candle)

	d.mu.Lock()
	changed := d.resolve(ev.Candle)
	var raised *Signal
	if a.Decision != indicator.Wait && a.Decision != d.prev {
		s := d.raise(ev, a)
		raised = &s
	}
	d.prev = a.Decision
	d.mu.Unlock()

	for _, s := range changed {
		d.logger.Info("signal closed",
			slog.String("id", s.ID),
			slog.String("type", string(s.Type)),
			slog.String("status", string(s.Status)))
		d.notify(s)
	}
	if raised != nil {
		d.logger.Info("signal raised",
			slog.String("id", raised.ID),
			slog.String("type", string(raised.Type)),
			slog.Float64("entry", raised.Entry),
			slog.Int("confidence", raised.Confidence))
		d.notify(*raised)
	}
	return a
}

// Analysis returns the analyzer's latest result.
func (d *Desk) Analysis() indicator.Analysis {
	return d.analyzer.Analysis()
}

// Signals returns the signals passing f whose asset contains query,
// newest first.
func (d *Desk) Signals(f Filter, query string) []Signal {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Select(d.book, f, query)
}

func (d *Desk) notify(s Signal) {
	if d.OnSignal != nil {
		d.OnSignal(s)
	}
}

// raise must be called with d.mu held.
func (d *Desk) raise(ev model.TickEvent, a indicator.Analysis) Signal {
	sl, tp := levels(a.Decision, a.Price, a.BBUpper, a.BBLower)
	s := Signal{
		ID:         d.newID(),
		Asset:      d.asset,
		Type:       a.Decision,
		Entry:      a.Price,
		StopLoss:   sl,
		TakeProfit: tp,
		Confidence: confidence(a.RSI),
		Status:     Pending,
		Time:       ev.Candle.Time,
		Seq:        ev.Seq,
		CreatedAt:  d.now().UTC(),
	}
	if a.Decision == indicator.Sell {
		s.Reasoning = fmt.Sprintf("Close %.2f above upper band %.2f with RSI %.1f overbought.", a.Price, a.BBUpper, a.RSI)
		s.Indicators = []string{"RSI Overbought", "Bollinger Upper Break"}
	} else {
		s.Reasoning = fmt.Sprintf("Close %.2f below lower band %.2f with RSI %.1f oversold.", a.Price, a.BBLower, a.RSI)
		s.Indicators = []string{"RSI Oversold", "Bollinger Lower Break"}
	}

	d.book = append([]Signal{s}, d.book...)
	if len(d.book) > d.capacity {
		d.book = d.book[:d.capacity]
	}
	return s
}

// resolve activates pending signals and closes those whose stop-loss or
// take-profit lies inside c. The stop wins when a candle spans both.
// Must be called with d.mu held.
func (d *Desk) resolve(c model.Candle) []Signal {
	var closed []Signal
	for i := range d.book {
		s := &d.book[i]
		if !s.Status.Open() {
			continue
		}
		s.Status = Active

		var hitSL, hitTP bool
		if s.Type == indicator.Buy {
			hitSL, hitTP = c.Low <= s.StopLoss, c.High >= s.TakeProfit
		} else {
			hitSL, hitTP = c.High >= s.StopLoss, c.Low <= s.TakeProfit
		}
		switch {
		case hitSL:
			s.Status = HitSL
		case hitTP:
			s.Status = HitTP
		default:
			continue
		}
		at := d.now().UTC()
		s.ClosedAt = &at
		closed = append(closed, *s)
	}
	return closed
}

// levels places the stop half a band width from entry and the target a
// full band width the other way. A collapsed band falls back to 0.1% of
// entry.
func levels(dec indicator.Decision, entry, upper, lower float64) (stopLoss, takeProfit float64) {
	risk := (upper - lower) / 2
	if !(risk > 0) {
		risk = entry * 0.001
	}
	if dec == indicator.Buy {
		return entry - risk, entry + 2*risk
	}
	return entry + risk, entry - 2*risk
}

// confidence grows with RSI's distance from neutral, capped at 99.
func confidence(rsi float64) int {
	return int(math.Round(min(99, 50+math.Abs(rsi-50))))
}
