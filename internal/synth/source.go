package synth

import (
	"math/rand"
	"sync"
	"time"
)

// Source yields uniformly distributed floats in [0, 1). The engine draws from
// it four times per candle, in the order delta, high pad, low pad, volume.
type Source func() float64

// NewSource returns a Source backed by a seeded math/rand generator. The same
// seed always produces the same sequence. The returned Source is safe for
// concurrent use.
func NewSource(seed int64) Source {
	r := rand.New(rand.NewSource(seed))
	var mu sync.Mutex
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return r.Float64()
	}
}

// NewTimeSource returns a Source seeded from the wall clock.
func NewTimeSource() Source {
	return NewSource(time.Now().UnixNano())
}

// Cycle returns a Source that replays vals in order, starting over once they
// are exhausted. Values are used verbatim. An empty Cycle always yields 0.
func Cycle(vals ...float64) Source {
	var mu sync.Mutex
	i := 0
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		if len(vals) == 0 {
			return 0
		}
		v := vals[i%len(vals)]
		i++
		return v
	}
}
