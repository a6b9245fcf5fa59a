package indicator

import (
	"math"
	"testing"

	"synthfeed/internal/model"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// 100, 102, 104, 103, 105
	// after 3: (100+102+104)/3 = 102
	// after 4: (102+104+103)/3 = 103
	// after 5: (104+103+105)/3 = 104
	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102, 103, 104}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(p)
		if sma.Ready() != ready[i] {
			t.Errorf("close %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 1e-9)
		}
	}
}

func TestSMA_StdDev(t *testing.T) {
	// 2 4 4 4 5 5 7 9: mean 5, population stddev 2
	sma := NewSMA(8)
	for _, p := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		sma.Update(p)
	}
	assertClose(t, "mean", sma.Value(), 5, 1e-9)
	assertClose(t, "stddev", sma.StdDev(), 2, 1e-9)

	sma.Reset()
	if sma.Ready() || sma.StdDev() != 0 {
		t.Error("Reset should clear the window")
	}
}

// ────────────────────────────────────────────────────────────
// EMA
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// k = 2/(3+1) = 0.5
	// seed after 3: (100+102+104)/3 = 102
	// close 4: 103*0.5 + 102*0.5 = 102.5
	// close 5: 105*0.5 + 102.5*0.5 = 103.75
	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102, 102.5, 103.75}

	for i, p := range prices {
		ema.Update(p)
		if ema.Ready() != (i >= 2) {
			t.Errorf("close %d: Ready()=%v", i, ema.Ready())
		}
		if i >= 2 {
			assertClose(t, "EMA(3)", ema.Value(), expected[i], 1e-9)
		}
	}
}

func TestEMA_Correctness_Period5(t *testing.T) {
	mult := 2.0 / 6.0
	prices := []float64{44, 44.25, 44.50, 43.75, 44.50, 44.25, 44.00}
	seed := (44.0 + 44.25 + 44.50 + 43.75 + 44.50) / 5.0

	ema := NewEMA(5)
	for _, p := range prices[:5] {
		ema.Update(p)
	}
	assertClose(t, "EMA(5) seed", ema.Value(), seed, 1e-9)

	ema.Update(prices[5])
	want6 := 44.25*mult + seed*(1-mult)
	assertClose(t, "EMA(5) close 6", ema.Value(), want6, 1e-9)

	ema.Update(prices[6])
	assertClose(t, "EMA(5) close 7", ema.Value(), 44.00*mult+want6*(1-mult), 1e-9)
}

// ────────────────────────────────────────────────────────────
// RSI (Wilder)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Deltas over the first 6 closes: +0.34 -0.25 -0.48 +0.72 +0.50
	//   avgGain = 1.56/5 = 0.312, avgLoss = 0.73/5 = 0.146
	//   RSI = 100 - 100/(1+2.13699) = 68.112
	// then Wilder smoothing for +0.27, +0.32, +0.42:
	//   72.219, 76.658, 81.509
	prices := []float64{44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}
	want := map[int]float64{5: 68.112, 6: 72.219, 7: 76.658, 8: 81.509}

	rsi := NewRSI(5)
	for i, p := range prices {
		rsi.Update(p)
		if rsi.Ready() != (i >= 5) {
			t.Errorf("close %d: Ready()=%v", i, rsi.Ready())
		}
		if w, ok := want[i]; ok {
			assertClose(t, "RSI(5)", rsi.Value(), w, 0.01)
		}
	}
}

func TestRSI_Extremes(t *testing.T) {
	up, down, flat := NewRSI(5), NewRSI(5), NewRSI(5)
	for i := 0; i < 10; i++ {
		up.Update(100 + float64(i))
		down.Update(200 - float64(i))
		flat.Update(100)
	}
	assertClose(t, "RSI all up", up.Value(), 100, 1e-9)
	assertClose(t, "RSI all down", down.Value(), 0, 1e-9)
	assertClose(t, "RSI flat", flat.Value(), 50, 1e-9)

	up.Reset()
	if up.Ready() || up.Value() != 0 {
		t.Error("Reset should clear RSI state")
	}
}

// ────────────────────────────────────────────────────────────
// Bollinger Bands
// ────────────────────────────────────────────────────────────

func TestBollinger_Bands(t *testing.T) {
	bb := NewBollinger(8, 2)
	for _, p := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		bb.Update(p)
	}
	upper, middle, lower := bb.Bands()
	assertClose(t, "upper", upper, 9, 1e-9)
	assertClose(t, "middle", middle, 5, 1e-9)
	assertClose(t, "lower", lower, 1, 1e-9)
	if !bb.Ready() || bb.Value() != middle {
		t.Errorf("ready=%v value=%v", bb.Ready(), bb.Value())
	}
}

// ────────────────────────────────────────────────────────────
// Decision rule and Analyzer
// ────────────────────────────────────────────────────────────

func TestDecide(t *testing.T) {
	p := DefaultParams()
	cases := []struct {
		name               string
		price, rsi, up, lo float64
		want               Decision
	}{
		{"overbought above band", 110, 75, 105, 95, Sell},
		{"above band, rsi neutral", 110, 60, 105, 95, Wait},
		{"overbought inside band", 100, 75, 105, 95, Wait},
		{"oversold below band", 90, 25, 105, 95, Buy},
		{"below band, rsi neutral", 90, 40, 105, 95, Wait},
		{"on the band", 105, 80, 105, 95, Wait},
	}
	for _, tc := range cases {
		if got := Decide(tc.price, tc.rsi, tc.up, tc.lo, p); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

// choppy returns n closes alternating between base and base+1.
func choppy(n int, base float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		c := base + float64(i%2)
		out[i] = model.Candle{Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func TestAnalyzer_SpikeSells(t *testing.T) {
	a := NewAnalyzer(DefaultParams())
	if got := a.Seed(choppy(30, 100)); got.Decision != Wait || got.Ready {
		t.Fatalf("choppy series: %+v", got)
	}

	res := a.Update(model.Candle{Close: 120})
	if res.Decision != Sell {
		t.Fatalf("spike: got %s (rsi=%.2f upper=%.2f)", res.Decision, res.RSI, res.BBUpper)
	}
	if res.RSI <= 70 || res.Price <= res.BBUpper {
		t.Errorf("inconsistent sell: %+v", res)
	}
	if res.Ready {
		t.Error("EMA(50) cannot be ready after 31 closes")
	}
	if res.Closes != 31 || a.Analysis() != res {
		t.Errorf("analysis not recorded: %+v", a.Analysis())
	}
}

func TestAnalyzer_DropBuys(t *testing.T) {
	a := NewAnalyzer(DefaultParams())
	a.Seed(choppy(30, 100))
	if res := a.Update(model.Candle{Close: 81}); res.Decision != Buy {
		t.Fatalf("drop: got %s (rsi=%.2f lower=%.2f)", res.Decision, res.RSI, res.BBLower)
	}
}

func TestAnalyzer_ReadyAndSeedResets(t *testing.T) {
	a := NewAnalyzer(DefaultParams())
	res := a.Seed(choppy(50, 100))
	if !res.Ready {
		t.Fatalf("50 closes should make every indicator ready: %+v", res)
	}
	assertClose(t, "EMA of choppy series", res.EMA, 100.5, 0.05)

	if res := a.Seed(choppy(5, 100)); res.Ready || res.Closes != 5 || res.RSI != 0 {
		t.Errorf("Seed should discard history: %+v", res)
	}
}

func TestAnalyze_MatchesStreaming(t *testing.T) {
	candles := append(choppy(40, 2640), model.Candle{Close: 2655}, model.Candle{Close: 2630})

	streamed := NewAnalyzer(DefaultParams())
	for _, c := range candles {
		streamed.Update(c)
	}
	if got, want := Analyze(candles, DefaultParams()), streamed.Analysis(); got != want {
		t.Errorf("Analyze = %+v, streamed = %+v", got, want)
	}
}
