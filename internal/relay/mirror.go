// Package relay mirrors an upstream synthfeed instance. It ingests tick
// events from the upstream websocket or redis channel, keeps a window of
// the same size, and serves it read-only through the gateway.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"synthfeed/internal/model"
	"synthfeed/internal/ringbuf"
	"synthfeed/internal/synth"
)

// ErrReadOnly is returned when a client tries to toggle a relayed feed.
var ErrReadOnly = errors.New("relay: feed is read-only")

// Ingest streams upstream tick events. WSIngest and RedisIngest satisfy it.
type Ingest interface {
	Start(ctx context.Context, out chan<- model.TickEvent) error
}

// Publisher receives every applied tick event. bus.FanOut satisfies it.
type Publisher interface {
	Publish(ev model.TickEvent)
}

// Mirror is a read-only copy of an upstream feed's window.
type Mirror struct {
	symbol string
	size   int
	logger *slog.Logger

	mu     sync.RWMutex
	win    *ringbuf.Window
	seq    int64
	live   bool
	lastAt time.Time
	gaps   int64

	// OnLoad is called with the window after each snapshot load.
	OnLoad func(candles []model.Candle)
	// OnApply is called after each applied event.
	OnApply func(ev model.TickEvent)
	// OnLive is called when the upstream reports a Live/Paused change.
	OnLive func(live bool)
}

// NewMirror creates an empty mirror holding up to size candles.
func NewMirror(symbol string, size int, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		symbol: symbol,
		size:   size,
		logger: logger.With(slog.String("component", "relay"), slog.String("symbol", symbol)),
		win:    ringbuf.New(size),
	}
}

// Load replaces the mirrored window with an upstream snapshot. Candles
// beyond the mirror's size are trimmed from the old end.
func (m *Mirror) Load(snap model.Snapshot) {
	win := ringbuf.New(m.size)
	for _, c := range snap.Candles {
		win.Push(c)
	}

	m.mu.Lock()
	m.win = win
	m.seq = snap.Seq
	m.live = snap.Live
	m.mu.Unlock()

	m.logger.Info("snapshot loaded",
		slog.Int("candles", win.Len()),
		slog.Int64("seq", snap.Seq))
	if m.OnLoad != nil {
		m.OnLoad(win.Snapshot())
	}
}

// Apply appends ev to the window. Events at or below the current seq are
// duplicates and are ignored; a jump past seq+1 is counted as a gap.
// Candles with an inconsistent OHLC shape are rejected.
func (m *Mirror) Apply(ev model.TickEvent) bool {
	if ev.Symbol != "" && ev.Symbol != m.symbol {
		return false
	}
	if !ev.Candle.Valid() {
		m.logger.Warn("rejected malformed candle",
			slog.Int64("seq", ev.Seq),
			slog.Any("candle", ev.Candle))
		return false
	}

	m.mu.Lock()
	if ev.Seq <= m.seq {
		m.mu.Unlock()
		return false
	}
	gap := m.seq > 0 && ev.Seq > m.seq+1
	if gap {
		m.gaps++
	}
	prev := m.seq
	m.win.Push(ev.Candle)
	m.seq = ev.Seq
	m.lastAt = ev.EmittedAt
	m.mu.Unlock()

	if gap {
		m.logger.Warn("gap in upstream seq",
			slog.Int64("after", prev),
			slog.Int64("got", ev.Seq))
	}
	if m.OnApply != nil {
		m.OnApply(ev)
	}
	return true
}

// SetUpstreamLive records the upstream's Live/Paused state.
func (m *Mirror) SetUpstreamLive(live bool) {
	m.mu.Lock()
	changed := m.live != live
	m.live = live
	m.mu.Unlock()
	if changed && m.OnLive != nil {
		m.OnLive(live)
	}
}

// SetLive always fails: only the upstream can toggle its schedule.
func (m *Mirror) SetLive(bool) error {
	return ErrReadOnly
}

// Snapshot returns the mirrored window and values derived from it. Until
// the window holds size candles the snapshot is marked Partial.
func (m *Mirror) Snapshot() model.Snapshot {
	m.mu.RLock()
	candles := m.win.Snapshot()
	snap := model.Snapshot{
		Symbol:  m.symbol,
		Candles: candles,
		Live:    m.live,
		Seq:     m.seq,
		Partial: !m.win.Full(),
	}
	m.mu.RUnlock()

	if last, pct, err := synth.Derive(candles); err == nil {
		snap.LastPrice = last
		snap.PercentChange = pct
	}
	return snap
}

// Seq returns the last applied upstream seq.
func (m *Mirror) Seq() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq
}

// Gaps returns how many seq jumps have been observed.
func (m *Mirror) Gaps() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gaps
}

// LastEventAt returns the upstream emit time of the last applied event.
func (m *Mirror) LastEventAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastAt
}

// Run applies events from in and forwards the applied ones to out until
// ctx is cancelled or in is closed. out may be nil.
func (m *Mirror) Run(ctx context.Context, in <-chan model.TickEvent, out Publisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if m.Apply(ev) && out != nil {
				out.Publish(ev)
			}
		}
	}
}
