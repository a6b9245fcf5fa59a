package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"synthfeed/internal/gateway"
	"synthfeed/internal/model"

	"github.com/gorilla/websocket"
)

// WSConfig configures the upstream websocket ingest.
type WSConfig struct {
	// URL of the upstream /ws endpoint, e.g. "ws://localhost:8080/ws".
	URL string

	// ReconnectDelay is the initial delay before reconnecting. Defaults to 2s.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *WSConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// WSIngest follows an upstream gateway's /ws stream. Snapshot and live
// envelopes update the mirror directly; candle envelopes go to the events
// channel passed to Start.
type WSIngest struct {
	cfg    WSConfig
	mirror *Mirror
	logger *slog.Logger

	// OnReconnect is called each time the connection drops.
	OnReconnect func()
	// OnConnect is called after each successful dial.
	OnConnect func()
}

// NewWSIngest returns an error if the URL is not a ws:// or wss:// URL.
func NewWSIngest(cfg WSConfig, mirror *Mirror, logger *slog.Logger) (*WSIngest, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("relay: parse upstream url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("relay: upstream url %q: scheme must be ws or wss", cfg.URL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSIngest{cfg: cfg, mirror: mirror, logger: logger.With(slog.String("upstream", cfg.URL))}, nil
}

// Start streams candle events into out. Blocks until ctx is cancelled and
// reconnects with exponential backoff on disconnect.
func (ing *WSIngest) Start(ctx context.Context, out chan<- model.TickEvent) error {
	delay := ing.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := ing.runOnce(ctx, out)
		if err == nil {
			return nil
		}
		if connected {
			delay = ing.cfg.ReconnectDelay
		}

		ing.logger.Warn("upstream disconnected",
			slog.Any("error", err),
			slog.Duration("retry_in", delay))
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection and reads until disconnect or ctx
// cancel. connected reports whether the dial succeeded.
func (ing *WSIngest) runOnce(ctx context.Context, out chan<- model.TickEvent) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	ing.logger.Info("connected to upstream")
	if ing.OnConnect != nil {
		ing.OnConnect()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		// The gateway coalesces queued envelopes into one frame.
		for _, line := range bytes.Split(raw, []byte{'\n'}) {
			if len(line) == 0 {
				continue
			}
			ing.handle(line, out)
		}
	}
}

func (ing *WSIngest) handle(line []byte, out chan<- model.TickEvent) {
	var env gateway.Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		ing.logger.Warn("parse error", slog.Any("error", err))
		return
	}

	switch env.Type {
	case "snapshot":
		var snap model.Snapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			ing.logger.Warn("bad snapshot", slog.Any("error", err))
			return
		}
		ing.mirror.Load(snap)

	case "candle":
		var ev model.TickEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			ing.logger.Warn("bad candle", slog.Any("error", err))
			return
		}
		select {
		case out <- ev:
		default:
			ing.logger.Warn("event channel full, dropping candle", slog.Int64("seq", ev.Seq))
		}

	case "live":
		var st gateway.LiveState
		if err := json.Unmarshal(env.Data, &st); err == nil {
			ing.mirror.SetUpstreamLive(st.Live)
		}
	}
}
