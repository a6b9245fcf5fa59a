// Package synth generates a synthetic OHLCV price series for the dashboard
// chart. An Engine owns a fixed-length window of candles; Initialize fills it
// from a base price and every Tick appends one candle and evicts the oldest.
//
// Candle derivation from the previous close p, with r drawn from the Source:
//
//	delta  = (r - 0.48) * spread
//	open   = p
//	close  = open + delta
//	high   = max(open, close) + r*pad
//	low    = min(open, close) - r*pad
//	volume = floor(r*1000) + 500
//
// The 0.48 bias gives the series a slight upward drift.
package synth

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"synthfeed/internal/model"
	"synthfeed/internal/ringbuf"
)

// ErrInvalidArgument is returned for non-positive base prices or window sizes
// and for derived reads on an engine with no window.
var ErrInvalidArgument = errors.New("invalid argument")

// DriftBias is subtracted from each uniform draw before it is scaled into a
// price delta.
const DriftBias = 0.48

const (
	minVolume   = 500
	volumeRange = 1000
)

// Shape holds the scale constants for one kind of candle derivation.
type Shape struct {
	Spread float64 // scale of the close-open delta
	Pad    float64 // max wick length above/below the body
}

var (
	// InitShape is used for the candles generated by Initialize.
	InitShape = Shape{Spread: 15, Pad: 5}
	// TickShape is used for candles appended by Tick.
	TickShape = Shape{Spread: 10, Pad: 3}
)

// Engine maintains the rolling candle window. All mutation goes through a
// single mutex, so concurrent Tick calls are serialized and readers never
// observe a half-applied tick.
type Engine struct {
	mu   sync.Mutex
	rnd  Source
	win  *ringbuf.Window
	hour int // fallback hour counter, used if the last label cannot be parsed

	initShape Shape
	tickShape Shape
}

// NewEngine creates an engine drawing randomness from rnd. A nil rnd is
// replaced with a wall-clock seeded source.
func NewEngine(rnd Source) *Engine {
	if rnd == nil {
		rnd = NewTimeSource()
	}
	return &Engine{
		rnd:       rnd,
		initShape: InitShape,
		tickShape: TickShape,
	}
}

// Initialize replaces the window with windowSize freshly generated candles,
// the first of which opens at basePrice. Arguments are validated before any
// state changes.
func (e *Engine) Initialize(basePrice float64, windowSize int) ([]model.Candle, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("%w: window size must be positive, got %d", ErrInvalidArgument, windowSize)
	}
	if !(basePrice > 0) || math.IsInf(basePrice, 1) {
		return nil, fmt.Errorf("%w: base price must be positive and finite, got %v", ErrInvalidArgument, basePrice)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	win := ringbuf.New(windowSize)
	prevClose := basePrice
	for i := 0; i < windowSize; i++ {
		c := e.derive(prevClose, i, e.initShape)
		win.Push(c)
		prevClose = c.Close
	}
	e.win = win
	e.hour = windowSize % 24
	return win.Snapshot(), nil
}

// Tick appends one candle continuing from the current last close and evicts
// the oldest candle. It returns the appended candle.
func (e *Engine) Tick() (model.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.win == nil {
		return model.Candle{}, fmt.Errorf("%w: engine not initialized", ErrInvalidArgument)
	}
	last, ok := e.win.Last()
	if !ok {
		return model.Candle{}, fmt.Errorf("%w: empty window", ErrInvalidArgument)
	}

	hour := e.hour
	if h, ok := last.Hour(); ok {
		hour = h + 1
	}
	c := e.derive(last.Close, hour, e.tickShape)
	e.win.Push(c)
	e.hour = (hour + 1) % 24
	return c, nil
}

// Window returns a copy of the current window ordered oldest to newest.
// Returns nil before Initialize.
func (e *Engine) Window() []model.Candle {
	e.mu.Lock()
	win := e.win
	e.mu.Unlock()
	if win == nil {
		return nil
	}
	return win.Snapshot()
}

// Size returns the configured window length, or 0 before Initialize.
func (e *Engine) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.win == nil {
		return 0
	}
	return e.win.Cap()
}

// Evicted returns how many candles have been pushed out of the current
// window since Initialize.
func (e *Engine) Evicted() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.win == nil {
		return 0
	}
	return e.win.Evicted()
}

// LastPrice returns the close of the newest candle.
func (e *Engine) LastPrice() (float64, error) {
	last, _, err := e.Derived()
	return last, err
}

// PercentChange returns the move from the oldest open to the newest close,
// in percent.
func (e *Engine) PercentChange() (float64, error) {
	_, pct, err := e.Derived()
	return pct, err
}

// Derived returns LastPrice and PercentChange computed from the same window
// state.
func (e *Engine) Derived() (lastPrice, percentChange float64, err error) {
	e.mu.Lock()
	win := e.win
	e.mu.Unlock()
	if win == nil {
		return 0, 0, fmt.Errorf("%w: engine not initialized", ErrInvalidArgument)
	}
	first, last, ok := win.Ends()
	if !ok {
		return 0, 0, fmt.Errorf("%w: empty window", ErrInvalidArgument)
	}
	return derivedFromEnds(first, last)
}

// Derive computes the last price and percent change of an ordered candle
// slice.
func Derive(candles []model.Candle) (lastPrice, percentChange float64, err error) {
	if len(candles) == 0 {
		return 0, 0, fmt.Errorf("%w: empty window", ErrInvalidArgument)
	}
	return derivedFromEnds(candles[0], candles[len(candles)-1])
}

func derivedFromEnds(first, last model.Candle) (float64, float64, error) {
	if first.Open == 0 {
		return last.Close, 0, fmt.Errorf("%w: first open is zero", ErrInvalidArgument)
	}
	return last.Close, (last.Close - first.Open) / first.Open * 100, nil
}

// derive builds one candle opening at open. Must be called with e.mu held.
func (e *Engine) derive(open float64, hour int, s Shape) model.Candle {
	delta := (e.rnd() - DriftBias) * s.Spread
	cl := open + delta
	high := max(open, cl) + e.rnd()*s.Pad
	low := min(open, cl) - e.rnd()*s.Pad
	vol := int64(math.Floor(e.rnd()*volumeRange)) + minVolume
	if vol >= minVolume+volumeRange {
		vol = minVolume + volumeRange - 1
	}
	return model.Candle{
		Time:   model.HourLabel(hour),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  cl,
		Volume: vol,
	}
}
