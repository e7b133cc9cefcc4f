// Package redis implements the storage backend on Redis. Values live under
// plain string keys; change notifications ride Redis pub/sub, one channel
// per key, so every node sharing the same Redis converges after a write.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"shopstate/internal/storage"
	apperrors "shopstate/pkg/errors"
)

const channelPrefix = "shopstate.storage."

// Backend implements storage.Backend using Redis.
type Backend struct {
	client    *redis.Client
	namespace string
}

// New creates a Redis-backed storage backend. When namespace is non-empty it
// prefixes every key and pub/sub channel, letting several client-state nodes
// with distinct sessions share one Redis.
func New(client *redis.Client, namespace string) *Backend {
	return &Backend{client: client, namespace: namespace}
}

func (b *Backend) key(key string) string {
	if b.namespace == "" {
		return key
	}
	return b.namespace + ":" + key
}

func (b *Backend) channel(key string) string {
	return channelPrefix + b.key(key)
}

// Get returns the raw value stored at key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound("storage key", key)
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Set writes the value and publishes a change notification on the key's
// channel. The publish is part of the broadcast contract, not a transaction:
// a node that misses it simply stays on its last-loaded state until the next
// notification (last-writer-wins).
func (b *Backend) Set(ctx context.Context, key string, data []byte, origin string) error {
	if err := b.client.Set(ctx, b.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	payload, err := json.Marshal(storage.Notification{Key: key, Origin: origin})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel(key), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", key, err)
	}
	return nil
}

// Watch subscribes to the key's pub/sub channel and forwards notifications
// until ctx is canceled.
func (b *Backend) Watch(ctx context.Context, key string) (<-chan storage.Notification, error) {
	sub := b.client.Subscribe(ctx, b.channel(key))

	// Force the subscription to be established before returning, so a write
	// issued right after Watch cannot be missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", key, err)
	}

	out := make(chan storage.Notification)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var n storage.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the underlying Redis client.
func (b *Backend) Close() error {
	return b.client.Close()
}
