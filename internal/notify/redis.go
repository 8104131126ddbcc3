package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel operator events are published to.
const DefaultChannel = "jobads:operator-events"

// RedisSink publishes messages to a Redis channel for async consumers.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink connects to the Redis server at url (redis://host:port/db).
func NewRedisSink(ctx context.Context, url, channel string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{client: client, channel: channel}, nil
}

func (r *RedisSink) Name() string { return "redis" }

func (r *RedisSink) Send(ctx context.Context, msg *Message) error {
	payload, err := msg.payload()
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Subscribe returns a subscription to the sink's channel.
func (r *RedisSink) Subscribe(ctx context.Context) *redis.PubSub {
	return r.client.Subscribe(ctx, r.channel)
}

// Ping checks the connection.
func (r *RedisSink) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisSink) Close() error {
	return r.client.Close()
}
