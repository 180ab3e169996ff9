package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// channelPrefix namespaces broadcast topics in Redis pub/sub so the
// worker process can publish to websocket clients held by any server
// replica.
const channelPrefix = "pulse:rt:"

func channelFor(topic string) string {
	return channelPrefix + topic
}

// Publisher publishes topic-addressed events through Redis pub/sub.
// Both the API server (debounced engagement updates) and the worker
// (notification emissions) use it.
type Publisher struct {
	client *redis.Client
}

// NewPublisher creates a new realtime publisher.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish marshals the event and publishes it on the topic's channel.
func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling realtime event: %w", err)
	}
	if err := p.client.Publish(ctx, channelFor(topic), payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}
