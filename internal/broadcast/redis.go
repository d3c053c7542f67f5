package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultRedisChannelPrefix = "huddle:"

// RedisTransport publishes messages on Redis pub/sub so every API replica
// can serve its own stream subscribers through a RedisRelay.
type RedisTransport struct {
	client *redis.Client
	prefix string
	clock  func() time.Time
}

// NewRedisTransport wraps an existing client. An empty prefix uses "huddle:".
func NewRedisTransport(client *redis.Client, prefix string, clock func() time.Time) *RedisTransport {
	if prefix == "" {
		prefix = defaultRedisChannelPrefix
	}
	if clock == nil {
		clock = time.Now
	}
	return &RedisTransport{client: client, prefix: prefix, clock: clock}
}

func (t *RedisTransport) PublishToUser(ctx context.Context, userID string, event Event) error {
	return t.publish(ctx, ToUser(userID), event)
}

func (t *RedisTransport) PublishToChannel(ctx context.Context, channelID string, event Event) error {
	return t.publish(ctx, ToChannel(channelID), event)
}

func (t *RedisTransport) publish(ctx context.Context, destination Destination, event Event) error {
	message, err := NewMessage(destination, event, t.clock())
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("broadcast: encode message: %w", err)
	}
	if err := t.client.Publish(ctx, t.prefix+message.Stream, encoded).Err(); err != nil {
		return fmt.Errorf("broadcast: redis publish %s: %w", message.Stream, err)
	}
	return nil
}

// RedisRelay forwards messages published by any replica into the local
// Dispatcher.
type RedisRelay struct {
	client     *redis.Client
	prefix     string
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewRedisRelay constructs a relay; Run starts it.
func NewRedisRelay(client *redis.Client, prefix string, dispatcher *Dispatcher, logger *zap.Logger) *RedisRelay {
	if prefix == "" {
		prefix = defaultRedisChannelPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{client: client, prefix: prefix, dispatcher: dispatcher, logger: logger}
}

// Run blocks relaying messages until ctx is cancelled. ready, when non-nil,
// is closed once the pattern subscription is confirmed.
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("broadcast: redis subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	r.logger.Info("redis relay subscribed", zap.String("pattern", r.prefix+"*"))

	incoming := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case received, ok := <-incoming:
			if !ok {
				return nil
			}
			var message Message
			if err := json.Unmarshal([]byte(received.Payload), &message); err != nil {
				r.logger.Warn("redis relay dropped malformed message",
					zap.String("channel", received.Channel), zap.Error(err))
				continue
			}
			if message.Stream == "" {
				message.Stream = strings.TrimPrefix(received.Channel, r.prefix)
			}
			r.dispatcher.Publish(message)
		}
	}
}
