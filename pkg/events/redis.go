// pkg/events/redis.go
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes lifecycle events on a Redis pub/sub channel for
// dashboards and other live subscribers.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(addr, channel string) *RedisSink {
	return &RedisSink{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
	}
}

func (s *RedisSink) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return s.client.Publish(ctx, s.channel, payload).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
