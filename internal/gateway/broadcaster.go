package gateway

import (
	"strconv"
	"time"

	"synthfeed/internal/model"
	"synthfeed/internal/sentiment"
	"synthfeed/internal/signals"
)

// Broadcaster constructs envelope JSON and sends it to every client.
type Broadcaster struct {
	hub *Hub
	now func() time.Time
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub, now: time.Now}
}

// Tick sends a candle envelope for ev, records it for replay, and tracks
// the latency between the engine emitting ev and the hub sending it.
func (b *Broadcaster) Tick(ev model.TickEvent) {
	now := b.now().UTC()

	if !ev.EmittedAt.IsZero() {
		if d := now.Sub(ev.EmittedAt); d >= 0 {
			b.hub.Latency.Record(float64(d.Microseconds()) / 1000.0)
			if b.hub.OnEmit != nil {
				b.hub.OnEmit(d)
			}
		}
	}

	data := mustJSON(ev)
	buf := b.hub.emit(func(seq int64) []byte {
		return buildEnvelope(typeCandle, candleChannel(ev.Symbol), data, now, seq)
	})
	b.hub.Replay.Push(ev.Seq, buf)
}

// Live tells every client the feed switched between Live and Paused.
func (b *Broadcaster) Live(symbol string, live bool) {
	b.send(typeLive, "live:"+symbol, mustJSON(LiveState{Live: live}))
}

// Sentiment sends the current widget reading.
func (b *Broadcaster) Sentiment(r sentiment.Reading) {
	b.send(typeSentiment, channelSentiment, mustJSON(r))
}

// Signal sends a raised or closed trade signal.
func (b *Broadcaster) Signal(s signals.Signal) {
	b.send(typeSignal, "signals:"+s.Asset, mustJSON(s))
}

func (b *Broadcaster) send(typ, channel string, data []byte) {
	now := b.now().UTC()
	b.hub.emit(func(seq int64) []byte {
		return buildEnvelope(typ, channel, data, now, seq)
	})
}

func candleChannel(symbol string) string {
	return "candle:" + symbol
}

// buildEnvelope hand-crafts the envelope JSON. data must already be valid
// JSON; typ and channel must not need escaping.
func buildEnvelope(typ, channel string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(typ)+len(channel)+len(data)+96)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, typ...)
	buf = append(buf, `","channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}
