package model

// Snapshot is a read-only view of a feed's window plus the derived values the
// dashboard header renders.
type Snapshot struct {
	Symbol        string   `json:"symbol"`
	Candles       []Candle `json:"candles"`
	LastPrice     float64  `json:"last_price"`
	PercentChange float64  `json:"percent_change"`
	Live          bool     `json:"live"`
	Seq           int64    `json:"seq"`
	// Partial is set by relays whose window has not filled up yet.
	Partial bool `json:"partial,omitempty"`
}

// Positive reports whether the window closed at or above where it opened.
func (s *Snapshot) Positive() bool {
	return s.PercentChange >= 0
}
