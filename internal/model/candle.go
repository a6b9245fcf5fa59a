package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Candle is one synthetic OHLCV observation in a price window.
type Candle struct {
	Time   string  `json:"time"` // "HH:00", hour wraps at 24
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// Valid reports whether low <= min(open, close) <= max(open, close) <= high
// and the volume is non-negative.
func (c *Candle) Valid() bool {
	return c.Low <= min(c.Open, c.Close) &&
		max(c.Open, c.Close) <= c.High &&
		c.Volume >= 0
}

// Hour parses the hour out of the time label. Returns false for labels that
// are not of the "HH:00" form.
func (c *Candle) Hour() (int, bool) {
	h, _, ok := strings.Cut(c.Time, ":")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(h)
	if err != nil || n < 0 || n > 23 {
		return 0, false
	}
	return n, true
}

// HourLabel formats an hour index as a zero-padded "HH:00" label, wrapping
// modulo 24.
func HourLabel(hour int) string {
	hour %= 24
	if hour < 0 {
		hour += 24
	}
	return fmt.Sprintf("%02d:00", hour)
}
