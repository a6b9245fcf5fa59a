// Package redis fans tick events out to other processes over redis pub/sub.
// Nothing is written to keys: a subscriber that is not listening simply
// misses the candle.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"synthfeed/internal/model"
)

// PublisherConfig configures the redis publisher.
type PublisherConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	Channel  string

	// PublishTimeout bounds each PUBLISH. Defaults to 500ms.
	PublishTimeout time.Duration
	// MaxFailures and ResetTimeout tune the circuit breaker.
	// Default to 5 and 10s.
	MaxFailures  int
	ResetTimeout time.Duration
}

func (c *PublisherConfig) defaults() {
	if c.PublishTimeout == 0 {
		c.PublishTimeout = 500 * time.Millisecond
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = 10 * time.Second
	}
}

// publishClient is the subset of *goredis.Client the publisher needs.
type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// Publisher publishes tick events as JSON on a single channel.
type Publisher struct {
	client  publishClient
	rdb     *goredis.Client
	channel string
	timeout time.Duration
	breaker *CircuitBreaker

	// OnPublish is called after every attempt with its duration and result.
	OnPublish func(took time.Duration, err error)
}

// NewPublisher connects to redis, pings it and returns a Publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	cfg.defaults()
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", slog.String("addr", cfg.Addr), slog.String("channel", cfg.Channel))
	p := newPublisher(rdb, cfg)
	p.rdb = rdb
	return p, nil
}

func newPublisher(client publishClient, cfg PublisherConfig) *Publisher {
	cfg.defaults()
	return &Publisher{
		client:  client,
		channel: cfg.Channel,
		timeout: cfg.PublishTimeout,
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
	}
}

// Client returns the underlying redis client for health checks. Nil for
// publishers built around a custom client.
func (p *Publisher) Client() *goredis.Client { return p.rdb }

// Breaker exposes the circuit breaker so callers can hook state changes.
func (p *Publisher) Breaker() *CircuitBreaker { return p.breaker }

// Channel returns the pub/sub channel name.
func (p *Publisher) Channel() string { return p.channel }

// Publish sends one event. Returns ErrCircuitOpen while redis is considered
// down.
func (p *Publisher) Publish(ctx context.Context, ev model.TickEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode tick %d: %w", ev.Seq, err)
	}

	start := time.Now()
	err = p.breaker.Execute(func() error {
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.client.Publish(cctx, p.channel, payload).Err()
	})
	if p.OnPublish != nil {
		p.OnPublish(time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("publish tick %d: %w", ev.Seq, err)
	}
	return nil
}

// Run publishes events until ctx is cancelled or events is closed. Failures
// are logged and the event is dropped.
func (p *Publisher) Run(ctx context.Context, events <-chan model.TickEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := p.Publish(ctx, ev); err != nil {
				slog.Warn("redis publish failed", slog.Int64("seq", ev.Seq), slog.String("error", err.Error()))
			}
		}
	}
}

// Close closes the redis connection if the publisher owns one.
func (p *Publisher) Close() error {
	if p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
