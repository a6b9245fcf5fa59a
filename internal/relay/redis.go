package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"synthfeed/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// RedisIngest follows the channel a store/redis.Publisher writes to.
// Redis carries only candles, so the mirror either loads a snapshot from
// the upstream REST API once subscribed or fills up tick by tick.
type RedisIngest struct {
	rdb     *goredis.Client
	channel string
	logger  *slog.Logger

	// OnSubscribed is called once the subscription is confirmed, before any
	// message is consumed.
	OnSubscribed func()
}

// NewRedisIngest subscribes to channel on rdb when started.
func NewRedisIngest(rdb *goredis.Client, channel string, logger *slog.Logger) *RedisIngest {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisIngest{rdb: rdb, channel: channel, logger: logger.With(slog.String("channel", channel))}
}

// Start streams tick events into out. Blocks until ctx is cancelled.
// go-redis resubscribes on its own after a dropped connection.
func (ing *RedisIngest) Start(ctx context.Context, out chan<- model.TickEvent) error {
	pubsub := ing.rdb.Subscribe(ctx, ing.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ing.logger.Info("subscribed to redis channel")
	if ing.OnSubscribed != nil {
		ing.OnSubscribed()
	}

	consume(ctx, pubsub.Channel(), out, ing.logger)
	return nil
}

// consume decodes pubsub messages into tick events until ctx is cancelled
// or msgs is closed.
func consume(ctx context.Context, msgs <-chan *goredis.Message, out chan<- model.TickEvent, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev model.TickEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("parse error", slog.Any("error", err))
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
