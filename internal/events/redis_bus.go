package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

const redisChannelPrefix = "telehealth:session:"

// RedisBus shares session events across API instances through Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	logger *logging.Logger
}

// NewRedisBus wraps a Redis client.
func NewRedisBus(client *redis.Client, logger *logging.Logger) *RedisBus {
	if client == nil {
		panic("events: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisBus{client: client, logger: logger}
}

func redisChannel(sessionID string) string {
	return redisChannelPrefix + sessionID
}

// Publish sends evt on the session's channel.
func (b *RedisBus) Publish(ctx context.Context, evt SessionEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, redisChannel(evt.SessionID), data).Err(); err != nil {
		return fmt.Errorf("events: redis publish: %w", err)
	}
	return nil
}

// Subscribe listens on the session's channel until ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context, sessionID string) (<-chan SessionEvent, error) {
	pubsub := b.client.Subscribe(ctx, redisChannel(sessionID))
	// Wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("events: redis subscribe: %w", err)
	}

	out := make(chan SessionEvent, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt SessionEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					b.logger.Warn("events: dropping malformed redis payload", "error", err, "channel", msg.Channel)
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
