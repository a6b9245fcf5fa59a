// Package signals turns indicator decisions into trade signals and tracks
// each one until price reaches its take-profit or stop-loss level.
package signals

import (
	"fmt"
	"strings"
	"time"

	"synthfeed/internal/indicator"
)

// Status is the lifecycle stage of a signal.
type Status string

const (
	Pending Status = "pending" // raised on the last candle, not yet entered
	Active  Status = "active"
	HitTP   Status = "hit_tp"
	HitSL   Status = "hit_sl"
)

// Open reports whether the signal is still waiting on price.
func (s Status) Open() bool { return s == Pending || s == Active }

// Signal is one BUY or SELL call.
type Signal struct {
	ID         string             `json:"id"`
	Asset      string             `json:"asset"`
	Type       indicator.Decision `json:"type"`
	Entry      float64            `json:"entry"`
	StopLoss   float64            `json:"stop_loss"`
	TakeProfit float64            `json:"take_profit"`
	Confidence int                `json:"confidence"`
	Status     Status             `json:"status"`
	Reasoning  string             `json:"reasoning"`
	Indicators []string           `json:"indicators"`
	Time       string             `json:"time"` // label of the candle that raised it
	Seq        int64              `json:"seq"`  // tick seq that raised it
	CreatedAt  time.Time          `json:"created_at"`
	ClosedAt   *time.Time         `json:"closed_at,omitempty"`
}

// Filter selects signals by lifecycle stage.
type Filter string

const (
	All       Filter = "all"
	OpenOnly  Filter = "active"    // pending or active
	Completed Filter = "completed" // hit_tp or hit_sl
)

// ParseFilter accepts "", "all", "active" and "completed".
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(s)); f {
	case "":
		return All, nil
	case All, OpenOnly, Completed:
		return f, nil
	default:
		return "", fmt.Errorf("unknown filter %q: want all, active or completed", s)
	}
}

// Match reports whether a signal with status st passes the filter.
func (f Filter) Match(st Status) bool {
	switch f {
	case OpenOnly:
		return st.Open()
	case Completed:
		return st == HitTP || st == HitSL
	default:
		return true
	}
}

// Select returns the signals that pass f and whose asset contains query,
// ignoring case. Order is preserved.
func Select(list []Signal, f Filter, query string) []Signal {
	q := strings.ToLower(query)
	out := make([]Signal, 0, len(list))
	for _, s := range list {
		if f.Match(s.Status) && strings.Contains(strings.ToLower(s.Asset), q) {
			out = append(out, s)
		}
	}
	return out
}
