package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"timebank/internal/logging"
	"timebank/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher broadcasts events on a pub/sub channel so every API
// instance can push them to its own websocket clients.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event models.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// RedisRelay subscribes to the channel and hands each event to a local
// publisher, usually the websocket hub.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	target  Publisher
	logger  *logging.Logger
}

func NewRedisRelay(client redis.UniversalClient, channel string, target Publisher, logger *logging.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		target:  target,
		logger:  logging.OrNop(logger).Named("redis_relay"),
	}
}

// Run forwards messages until ctx is cancelled or the subscription closes.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event models.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Warn("dropping malformed event", zap.Error(err))
				continue
			}
			if err := r.target.Publish(ctx, event); err != nil {
				r.logger.Warn("relay publish failed",
					zap.String("entry_id", event.EntryID),
					zap.Error(err),
				)
			}
		}
	}
}
