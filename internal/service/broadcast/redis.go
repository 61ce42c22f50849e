package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisChannelPrefix = "support:session:"

// RedisChannel returns the pub/sub channel for a session.
func RedisChannel(sessionID string) string {
	return redisChannelPrefix + sessionID
}

// RedisPublisher publishes frames on a Redis channel per session.
type RedisPublisher struct {
	client *redis.Client
}

var _ Publisher = (*RedisPublisher)(nil)

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := p.client.Publish(ctx, RedisChannel(frame.SessionID), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// RelayRedis feeds frames from every session channel into the local hub until
// ctx is cancelled.
func RelayRedis(ctx context.Context, client *redis.Client, hub *Hub, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("redis_relay")

	pubsub := client.PSubscribe(ctx, redisChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	logger.Info("relay subscribed", zap.String("pattern", redisChannelPrefix+"*"))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			frame, err := decodeFrame([]byte(msg.Payload))
			if err != nil {
				logger.Warn("discarding malformed frame", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if frame.SessionID == "" {
				frame.SessionID = strings.TrimPrefix(msg.Channel, redisChannelPrefix)
			}
			_ = hub.Publish(ctx, frame)
		}
	}
}

func decodeFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, err
	}
	return frame, nil
}
