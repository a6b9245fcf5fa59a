package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"synthfeed/internal/model"
	"synthfeed/internal/sentiment"

	"github.com/gorilla/websocket"
)

type fakeSource struct {
	mu      sync.Mutex
	snap    model.Snapshot
	liveErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{snap: model.Snapshot{
		Symbol:    "XAU/USD",
		Candles:   []model.Candle{{Time: "00:00", Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 600}},
		LastPrice: 100.5,
		Live:      true,
		Seq:       0,
	}}
}

func (f *fakeSource) Snapshot() model.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) SetLive(live bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.liveErr != nil {
		return f.liveErr
	}
	f.snap.Live = live
	return nil
}

type fakeWidgets struct {
	mu  sync.Mutex
	sim bool
}

func (f *fakeWidgets) Reading() sentiment.Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sentiment.Reading{Probability: 85, Condition: sentiment.Secure, Simulating: f.sim}
}

func (f *fakeWidgets) SetSimulating(on bool) error {
	f.mu.Lock()
	f.sim = on
	f.mu.Unlock()
	return nil
}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	RegisterRoutes(mux, hub, time.Now())
	srv := httptest.NewServer(RequestIDMiddleware(mux, nil))
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return srv
}

// wsReader splits coalesced frames back into envelopes.
type wsReader struct {
	conn    *websocket.Conn
	pending []Envelope
}

func dial(t *testing.T, srv *httptest.Server) *wsReader {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsReader{conn: conn}
}

func (r *wsReader) next(t *testing.T) Envelope {
	t.Helper()
	for len(r.pending) == 0 {
		r.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := r.conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		for _, line := range bytes.Split(msg, []byte{'\n'}) {
			var env Envelope
			if err := json.Unmarshal(line, &env); err != nil {
				t.Fatalf("bad envelope %q: %v", line, err)
			}
			r.pending = append(r.pending, env)
		}
	}
	env := r.pending[0]
	r.pending = r.pending[1:]
	return env
}

func (r *wsReader) send(t *testing.T, v any) {
	t.Helper()
	if err := r.conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWS_SnapshotThenCandles(t *testing.T) {
	src := newFakeSource()
	hub := NewHub(src, &fakeWidgets{}, nil)
	srv := newTestServer(t, hub)

	ws := dial(t, srv)

	first := ws.next(t)
	if first.Type != typeSnapshot {
		t.Fatalf("first envelope: got %q, want snapshot", first.Type)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(first.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Symbol != "XAU/USD" || len(snap.Candles) != 1 {
		t.Errorf("snapshot: %+v", snap)
	}
	if second := ws.next(t); second.Type != typeSentiment {
		t.Errorf("second envelope: got %q, want sentiment", second.Type)
	}

	waitFor(t, func() bool { return hub.ClientCount() == 1 })
	hub.Broadcaster.Tick(model.TickEvent{
		Symbol:    "XAU/USD",
		Seq:       1,
		Candle:    model.Candle{Time: "01:00", Open: 100.5, High: 102, Low: 100, Close: 101, Volume: 800},
		EmittedAt: time.Now().UTC(),
	})

	env := ws.next(t)
	if env.Type != typeCandle {
		t.Fatalf("got %q, want candle", env.Type)
	}
	var ev model.TickEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Seq != 1 || ev.Candle.Open != snap.LastPrice {
		t.Errorf("candle does not continue the snapshot: %+v", ev)
	}
	if env.Seq <= first.Seq {
		t.Errorf("envelope seq not increasing: %d after %d", env.Seq, first.Seq)
	}
}

func TestWS_LiveToggle(t *testing.T) {
	src := newFakeSource()
	hub := NewHub(src, nil, nil)
	srv := newTestServer(t, hub)

	ws := dial(t, srv)
	ws.next(t) // snapshot

	ws.send(t, map[string]any{"type": "live", "live": false})
	waitFor(t, func() bool { return !src.Snapshot().Live })
}

func TestWS_LiveToggleRejected(t *testing.T) {
	src := newFakeSource()
	src.liveErr = errors.New("relay is read-only")
	hub := NewHub(src, nil, nil)
	srv := newTestServer(t, hub)

	ws := dial(t, srv)
	ws.next(t)

	ws.send(t, map[string]any{"type": "live", "live": false})
	env := ws.next(t)
	if env.Type != typeError {
		t.Fatalf("got %q, want error", env.Type)
	}
	if !strings.Contains(string(env.Data), "read-only") {
		t.Errorf("error data: %s", env.Data)
	}
	if !src.Snapshot().Live {
		t.Error("rejected toggle changed state")
	}
}

func TestWS_PingPong(t *testing.T) {
	hub := NewHub(newFakeSource(), nil, nil)
	srv := newTestServer(t, hub)

	ws := dial(t, srv)
	ws.next(t)

	ws.send(t, map[string]any{"type": "ping", "ping": 12345})
	ws.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var pong pongMsg
	if err := json.Unmarshal(msg, &pong); err != nil {
		t.Fatal(err)
	}
	if pong.Type != "pong" || pong.Ping != 12345 || pong.ServerTS == 0 {
		t.Errorf("pong: %+v", pong)
	}
}

func TestWS_ConditionToggle(t *testing.T) {
	widgets := &fakeWidgets{}
	hub := NewHub(newFakeSource(), widgets, nil)
	srv := newTestServer(t, hub)

	ws := dial(t, srv)
	ws.next(t)
	ws.next(t)

	ws.send(t, map[string]any{"type": "condition", "simulating": true})
	waitFor(t, func() bool { return widgets.Reading().Simulating })
}

func TestWS_DisconnectRemovesClient(t *testing.T) {
	var counts []int
	var mu sync.Mutex
	hub := NewHub(newFakeSource(), nil, nil)
	hub.OnClients = func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	}
	srv := newTestServer(t, hub)

	ws := dial(t, srv)
	ws.next(t)
	ws.conn.Close()

	waitFor(t, func() bool { return hub.ClientCount() == 0 })
	mu.Lock()
	defer mu.Unlock()
	if len(counts) != 2 || counts[0] != 1 || counts[1] != 0 {
		t.Errorf("client counts: %v", counts)
	}
}
