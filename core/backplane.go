package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RoomEvent is a broadcast replicated across server processes. Each process
// tags its events with its origin id and ignores its own when subscribing,
// since those were already delivered locally.
type RoomEvent struct {
	Origin  string          `json:"origin"`
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

// Backplane replicates room broadcasts across processes. Single-process
// deployments run without one.
type Backplane interface {
	Publish(ctx context.Context, e *RoomEvent) error
	// Subscribe returns a channel of events published by other processes.
	Subscribe(ctx context.Context) (<-chan *RoomEvent, error)
	Close() error
}

// RedisBackplane fans broadcasts out over a redis pub/sub channel.
type RedisBackplane struct {
	client  *redis.Client
	channel string
	origin  string
	pubsub  *redis.PubSub
}

func NewRedisBackplane(client *redis.Client, channel, origin string) *RedisBackplane {
	if channel == "" {
		channel = "livechat:events"
	}
	return &RedisBackplane{
		client:  client,
		channel: channel,
		origin:  origin,
	}
}

func (b *RedisBackplane) Publish(ctx context.Context, e *RoomEvent) error {
	e.Origin = b.origin
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal room event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (b *RedisBackplane) Subscribe(ctx context.Context) (<-chan *RoomEvent, error) {
	b.pubsub = b.client.Subscribe(ctx, b.channel)
	if _, err := b.pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan *RoomEvent, 64)
	go func() {
		defer close(out)
		for msg := range b.pubsub.Channel() {
			var e RoomEvent
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				continue
			}
			if e.Origin == b.origin {
				continue
			}
			select {
			case out <- &e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *RedisBackplane) Close() error {
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
