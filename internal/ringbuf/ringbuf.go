// Package ringbuf provides a fixed-length sliding window of model.Candle.
// Once full, every Push evicts the oldest candle, so the window length stays
// constant for the rest of its life. Push is a single critical section:
// readers see either the window before the push or after it, never a
// window of length N+1 or N-1.
package ringbuf

import (
	"sync"

	"synthfeed/internal/model"
)

// Window is a thread-safe overwrite-oldest ring buffer of candles.
type Window struct {
	mu   sync.RWMutex
	buf  []model.Candle
	head int // physical index of the oldest candle
	n    int // number of candles held, <= len(buf)

	evicted uint64
}

// New creates a window holding at most capacity candles.
// Capacity below 1 is raised to 1.
func New(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]model.Candle, capacity)}
}

// Push appends c as the newest candle. When the window is already full the
// oldest candle is evicted and returned with ok=true.
func (w *Window) Push(c model.Candle) (evicted model.Candle, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.n < len(w.buf) {
		w.buf[w.index(w.n)] = c
		w.n++
		return model.Candle{}, false
	}

	evicted = w.buf[w.head]
	w.buf[w.head] = c
	w.head = (w.head + 1) % len(w.buf)
	w.evicted++
	return evicted, true
}

// Snapshot returns a copy of the window ordered oldest to newest.
func (w *Window) Snapshot() []model.Candle {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]model.Candle, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[w.index(i)]
	}
	return out
}

// Last returns the newest candle.
func (w *Window) Last() (model.Candle, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.n == 0 {
		return model.Candle{}, false
	}
	return w.buf[w.index(w.n-1)], true
}

// Ends returns the oldest and newest candle under a single read lock.
func (w *Window) Ends() (first, last model.Candle, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.n == 0 {
		return model.Candle{}, model.Candle{}, false
	}
	return w.buf[w.head], w.buf[w.index(w.n-1)], true
}

// Len returns the number of candles currently held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.n
}

// Cap returns the window capacity.
func (w *Window) Cap() int {
	return len(w.buf)
}

// Full reports whether the window holds Cap candles.
func (w *Window) Full() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.n == len(w.buf)
}

// Evicted returns the total number of candles pushed out of the window.
func (w *Window) Evicted() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.evicted
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (w *Window) index(logical int) int {
	return (w.head + logical) % len(w.buf)
}
