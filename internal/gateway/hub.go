package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"synthfeed/internal/indicator"
	"synthfeed/internal/logger"
	"synthfeed/internal/model"
	"synthfeed/internal/sentiment"
	"synthfeed/internal/signals"

	"github.com/gorilla/websocket"
)

// Source is the price feed a hub serves. *feed.Feed and *relay.Mirror
// satisfy it.
type Source interface {
	Snapshot() model.Snapshot
	SetLive(live bool) error
}

// Widgets is the sentiment board rendered next to the chart.
type Widgets interface {
	Reading() sentiment.Reading
	SetSimulating(on bool) error
}

// Analyst serves the indicator decision and the signal history.
// *signals.Desk satisfies it.
type Analyst interface {
	Analysis() indicator.Analysis
	Signals(f signals.Filter, query string) []signals.Signal
}

// Hub manages WebSocket clients and fans feed events out to them.
// It acts as a compositor, delegating envelope construction and client
// fan-out to the Broadcaster.
type Hub struct {
	src     Source
	widgets Widgets
	analyst Analyst
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	// Recent candle envelopes keyed by tick seq, for /api/missed.
	Replay *ReplayBuffer
	// Tick-to-emit latency in milliseconds.
	Latency *LatencyTracker

	Broadcaster *Broadcaster

	// OnClients is called with the client count after every connect and
	// disconnect.
	OnClients func(n int)
	// OnSendDrop is called when a slow client misses an envelope.
	OnSendDrop func()
	// OnEmit is called with the tick-to-emit latency of each candle.
	OnEmit func(d time.Duration)
}

// NewHub creates a hub for src. widgets may be nil, in which case the
// sentiment endpoints report 404 and no sentiment envelopes are sent.
func NewHub(src Source, widgets Widgets, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		src:     src,
		widgets: widgets,
		logger:  log,
		clients: make(map[*Client]bool),
		Replay:  NewReplayBuffer(500),
		Latency: NewLatencyTracker(10000),
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// SetAnalyst attaches the signal desk served at /api/analyze and
// /api/signals. Call before serving.
func (h *Hub) SetAnalyst(a Analyst) {
	h.analyst = a
}

// Run broadcasts every event from events until ctx is cancelled or events
// is closed.
func (h *Hub) Run(ctx context.Context, events <-chan model.TickEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcaster.Tick(ev)
		}
	}
}

// emit assigns the next envelope seq, builds the envelope and queues it on
// every client under one lock, so envelopes reach each client in seq order.
func (h *Hub) emit(build func(seq int64) []byte) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	buf := build(h.seq)
	for client := range h.clients {
		client.enqueue(buf)
	}
	return buf
}

// sendTo is emit for a single client. It is a no-op once c has been
// removed.
func (h *Hub) sendTo(c *Client, build func(seq int64) []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	h.seq++
	c.enqueue(build(h.seq))
}

// Seq returns the sequence number of the last envelope sent.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// HandleConn registers an upgraded connection and starts its pumps. The
// snapshot is queued before the client becomes visible to the broadcaster,
// so it always precedes live candles on the wire.
func (h *Hub) HandleConn(ctx context.Context, conn *websocket.Conn) *Client {
	client := newClient(h, conn, logger.RequestID(ctx))

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.sendInitialState(client)
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("ws client connected",
		slog.String("client", client.id),
		slog.Int("clients", count))
	if h.OnClients != nil {
		h.OnClients(count)
	}

	go client.writePump()
	go client.readPump()
	return client
}

// sendInitialState queues the snapshot and, when present, the sentiment
// reading. Caller holds h.mu.
func (h *Hub) sendInitialState(c *Client) {
	now := time.Now().UTC()
	snap := h.src.Snapshot()
	h.seq++
	c.enqueue(buildEnvelope(typeSnapshot, "snapshot:"+snap.Symbol, mustJSON(snap), now, h.seq))
	if h.widgets != nil {
		h.seq++
		c.enqueue(buildEnvelope(typeSentiment, channelSentiment, mustJSON(h.widgets.Reading()), now, h.seq))
	}
}

// RemoveClient removes a client from the hub. Safe to call more than once.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("ws client disconnected",
		slog.String("client", c.id),
		slog.Int("clients", count))
	if h.OnClients != nil {
		h.OnClients(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetReplayRange returns buffered candle envelopes with tick seq in
// [fromSeq, toSeq].
func (h *Hub) GetReplayRange(fromSeq, toSeq int64) [][]byte {
	entries := h.Replay.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		conn.Close()
	}
}
