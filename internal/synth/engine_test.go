package synth

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthfeed/internal/model"
)

func assertCandleBounds(t *testing.T, c model.Candle) {
	t.Helper()
	assert.LessOrEqual(t, c.Low, math.Min(c.Open, c.Close), "low above body: %+v", c)
	assert.GreaterOrEqual(t, c.High, math.Max(c.Open, c.Close), "high below body: %+v", c)
	assert.GreaterOrEqual(t, c.Volume, int64(500), "volume below range: %+v", c)
	assert.LessOrEqual(t, c.Volume, int64(1499), "volume above range: %+v", c)
}

func TestInitialize_DashboardDefaults(t *testing.T) {
	e := NewEngine(NewSource(1))

	win, err := e.Initialize(2640, 24)
	require.NoError(t, err)
	require.Len(t, win, 24)

	assert.Equal(t, 2640.0, win[0].Open)
	assert.Equal(t, "00:00", win[0].Time)
	assert.Equal(t, "23:00", win[23].Time)
	for i, c := range win {
		assertCandleBounds(t, c)
		if i > 0 {
			assert.Equal(t, win[i-1].Close, c.Open, "candle %d does not continue previous close", i)
		}
	}
	assert.Equal(t, win, e.Window())
	assert.Equal(t, 24, e.Size())
}

func TestInitialize_DerivationFormula(t *testing.T) {
	e := NewEngine(Cycle(0.5, 0.5, 0.5, 0.5))

	win, err := e.Initialize(2640, 1)
	require.NoError(t, err)
	c := win[0]

	// delta = (0.5-0.48)*15 = 0.3, pads = 0.5*5 = 2.5, volume = 500+500
	assert.InDelta(t, 2640.0, c.Open, 1e-9)
	assert.InDelta(t, 2640.3, c.Close, 1e-9)
	assert.InDelta(t, 2642.8, c.High, 1e-9)
	assert.InDelta(t, 2637.5, c.Low, 1e-9)
	assert.Equal(t, int64(1000), c.Volume)
}

func TestTick_UsesTickShape(t *testing.T) {
	e := NewEngine(Cycle(0, 0, 0, 0, 0.98, 1.0/3, 2.0/3, 0.9999))

	_, err := e.Initialize(100, 1)
	require.NoError(t, err)
	// init: delta = -0.48*15 = -7.2
	first := e.Window()[0]
	assert.InDelta(t, 92.8, first.Close, 1e-9)
	assert.InDelta(t, 100.0, first.High, 1e-9)
	assert.InDelta(t, 92.8, first.Low, 1e-9)
	assert.Equal(t, int64(500), first.Volume)

	c, err := e.Tick()
	require.NoError(t, err)
	// tick: delta = 0.5*10 = 5, high pad = 1, low pad = 2
	assert.InDelta(t, 92.8, c.Open, 1e-9)
	assert.InDelta(t, 97.8, c.Close, 1e-9)
	assert.InDelta(t, 98.8, c.High, 1e-9)
	assert.InDelta(t, 90.8, c.Low, 1e-9)
	assert.Equal(t, int64(1499), c.Volume)
	assert.Equal(t, "01:00", c.Time)
}

func TestInitialize_InvalidArguments(t *testing.T) {
	cases := []struct {
		name string
		base float64
		size int
	}{
		{"zero window", 100, 0},
		{"negative window", 100, -3},
		{"zero price", 0, 24},
		{"negative price", -1, 24},
		{"nan price", math.NaN(), 24},
		{"inf price", math.Inf(1), 24},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEngine(NewSource(1))
			_, err := e.Initialize(tc.base, tc.size)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidArgument))
			assert.Nil(t, e.Window(), "rejected initialize must not create a window")
		})
	}
}

func TestInitialize_RejectedCallKeepsExistingWindow(t *testing.T) {
	e := NewEngine(NewSource(3))
	before, err := e.Initialize(2640, 24)
	require.NoError(t, err)

	_, err = e.Initialize(-5, 24)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, before, e.Window())
}

func TestTick_BeforeInitialize(t *testing.T) {
	e := NewEngine(NewSource(1))
	_, err := e.Tick()
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = e.LastPrice()
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.PercentChange()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTick_ContinuityAndEviction(t *testing.T) {
	e := NewEngine(NewSource(7))
	_, err := e.Initialize(2640, 24)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		before := e.Window()
		c, err := e.Tick()
		require.NoError(t, err)
		after := e.Window()

		require.Len(t, after, 24)
		assert.Equal(t, before[23].Close, c.Open, "tick %d broke continuity", i)
		assert.Equal(t, before[1], after[0], "tick %d: second candle should become first", i)
		assert.Equal(t, before[1:], after[:23])
		assert.Equal(t, c, after[23])
		assertCandleBounds(t, c)
	}
	assert.Equal(t, uint64(100), e.Evicted())

	_, err = e.Initialize(2640, 24)
	require.NoError(t, err)
	assert.Zero(t, e.Evicted(), "Initialize starts a fresh window")
}

func TestTick_HourWraps(t *testing.T) {
	e := NewEngine(NewSource(11))
	win, err := e.Initialize(100, 24)
	require.NoError(t, err)
	require.Equal(t, "23:00", win[23].Time)

	c, err := e.Tick()
	require.NoError(t, err)
	assert.Equal(t, "00:00", c.Time)

	c, err = e.Tick()
	require.NoError(t, err)
	assert.Equal(t, "01:00", c.Time)
}

func TestTick_LabelsContinueAfterShortWindow(t *testing.T) {
	e := NewEngine(NewSource(5))
	win, err := e.Initialize(100, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"00:00", "01:00", "02:00"}, labels(win))

	for i := 0; i < 22; i++ {
		_, err := e.Tick()
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"22:00", "23:00", "00:00"}, labels(e.Window()))
}

func TestSingleCandleWindow(t *testing.T) {
	e := NewEngine(NewSource(9))
	win, err := e.Initialize(100, 1)
	require.NoError(t, err)
	require.Len(t, win, 1)
	assert.Equal(t, 100.0, win[0].Open)

	c, err := e.Tick()
	require.NoError(t, err)
	after := e.Window()
	require.Len(t, after, 1)
	assert.Equal(t, c, after[0])
	assert.Equal(t, win[0].Close, c.Open)
}

func TestDeterministicWithSeed(t *testing.T) {
	run := func() []model.Candle {
		e := NewEngine(NewSource(42))
		_, err := e.Initialize(2640, 24)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			_, err := e.Tick()
			require.NoError(t, err)
		}
		return e.Window()
	}
	assert.Equal(t, run(), run())
}

func TestDerived(t *testing.T) {
	e := NewEngine(NewSource(2))
	win, err := e.Initialize(2640, 24)
	require.NoError(t, err)

	last, pct, err := e.Derived()
	require.NoError(t, err)
	assert.Equal(t, win[23].Close, last)
	assert.InDelta(t, (win[23].Close-2640)/2640*100, pct, 1e-12)

	lp, err := e.LastPrice()
	require.NoError(t, err)
	assert.Equal(t, last, lp)

	l2, p2, err := Derive(win)
	require.NoError(t, err)
	assert.Equal(t, last, l2)
	assert.Equal(t, pct, p2)

	_, _, err = Derive(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWindow_IsReadOnlyCopy(t *testing.T) {
	e := NewEngine(NewSource(4))
	_, err := e.Initialize(2640, 4)
	require.NoError(t, err)

	w := e.Window()
	w[0].Open = -1
	w = append(w[:1], w[2:]...)
	assert.Len(t, e.Window(), 4)
	assert.Equal(t, 2640.0, e.Window()[0].Open)
}

func TestTick_ConcurrentCallsAreSerialized(t *testing.T) {
	e := NewEngine(NewSource(13))
	_, err := e.Initialize(2640, 24)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = e.Tick()
				_ = e.Window()
			}
		}()
	}
	wg.Wait()

	win := e.Window()
	require.Len(t, win, 24)
	for i := 1; i < len(win); i++ {
		assert.Equal(t, win[i-1].Close, win[i].Open, "continuity broken at %d", i)
		prev, _ := win[i-1].Hour()
		cur, _ := win[i].Hour()
		assert.Equal(t, (prev+1)%24, cur)
	}
}

func TestLongRunBounds(t *testing.T) {
	e := NewEngine(NewSource(99))
	_, err := e.Initialize(2640, 24)
	require.NoError(t, err)
	for i := 0; i < 2000; i++ {
		c, err := e.Tick()
		require.NoError(t, err)
		assertCandleBounds(t, c)
	}
}

func labels(cs []model.Candle) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Time
	}
	return out
}
