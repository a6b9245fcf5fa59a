package indicator

import (
	"sync"

	"synthfeed/internal/model"
)

// Decision is the mean-reversion call made from the latest close.
type Decision string

const (
	Buy  Decision = "BUY"
	Sell Decision = "SELL"
	Wait Decision = "WAIT"
)

// Params configures an Analyzer.
type Params struct {
	RSIPeriod  int
	EMAPeriod  int
	BBPeriod   int
	BBWidth    float64
	Overbought float64 // RSI above this plus a close above the upper band sells
	Oversold   float64 // RSI below this plus a close below the lower band buys
}

// DefaultParams returns RSI(14), EMA(50) and Bollinger(20, 2) with the
// usual 70/30 RSI thresholds.
func DefaultParams() Params {
	return Params{
		RSIPeriod:  14,
		EMAPeriod:  50,
		BBPeriod:   20,
		BBWidth:    2,
		Overbought: 70,
		Oversold:   30,
	}
}

// Analysis is the indicator state after the latest close.
type Analysis struct {
	Decision Decision `json:"decision"`
	RSI      float64  `json:"rsi"`
	EMA      float64  `json:"ema"`
	BBUpper  float64  `json:"bb_upper"`
	BBLower  float64  `json:"bb_lower"`
	Price    float64  `json:"price"`
	Closes   int      `json:"closes"` // closes consumed so far
	// Ready is false until every indicator has seen enough closes. The
	// decision only needs RSI and the bands, so it can be set earlier.
	Ready bool `json:"ready"`
}

// Decide applies the band/RSI rule. Prices outside the bands only count
// when RSI agrees; anything else waits.
func Decide(price, rsi, upper, lower float64, p Params) Decision {
	switch {
	case price > upper && rsi > p.Overbought:
		return Sell
	case price < lower && rsi < p.Oversold:
		return Buy
	default:
		return Wait
	}
}

// Analyzer streams candle closes through RSI, EMA and Bollinger Bands.
// Safe for concurrent use.
type Analyzer struct {
	params Params

	mu     sync.RWMutex
	rsi    *RSI
	ema    *EMA
	bb     *Bollinger
	closes int
	last   Analysis
}

// NewAnalyzer creates an analyzer with no history.
func NewAnalyzer(p Params) *Analyzer {
	return &Analyzer{
		params: p,
		rsi:    NewRSI(p.RSIPeriod),
		ema:    NewEMA(p.EMAPeriod),
		bb:     NewBollinger(p.BBPeriod, p.BBWidth),
		last:   Analysis{Decision: Wait},
	}
}

// Seed discards all history and replays candles oldest to newest.
func (a *Analyzer) Seed(candles []model.Candle) Analysis {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ind := range []Indicator{a.rsi, a.ema, a.bb} {
		ind.Reset()
	}
	a.closes = 0
	a.last = Analysis{Decision: Wait}
	for _, c := range candles {
		a.update(c.Close)
	}
	return a.last
}

// Update feeds one candle's close and returns the new analysis.
func (a *Analyzer) Update(c model.Candle) Analysis {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.update(c.Close)
	return a.last
}

// Analysis returns the result of the latest close.
func (a *Analyzer) Analysis() Analysis {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

// update must be called with a.mu held.
func (a *Analyzer) update(price float64) {
	a.rsi.Update(price)
	a.ema.Update(price)
	a.bb.Update(price)
	a.closes++

	upper, _, lower := a.bb.Bands()
	res := Analysis{
		Decision: Wait,
		RSI:      a.rsi.Value(),
		EMA:      a.ema.Value(),
		BBUpper:  upper,
		BBLower:  lower,
		Price:    price,
		Closes:   a.closes,
		Ready:    a.rsi.Ready() && a.ema.Ready() && a.bb.Ready(),
	}
	if a.rsi.Ready() && a.bb.Ready() {
		res.Decision = Decide(price, res.RSI, upper, lower, a.params)
	}
	a.last = res
}

// Analyze runs candles through a fresh analyzer.
func Analyze(candles []model.Candle, p Params) Analysis {
	return NewAnalyzer(p).Seed(candles)
}
