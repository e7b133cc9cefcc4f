// Package memory implements an in-memory storage backend. It is used by
// tests and by single-node deployments that do not need durability. A single
// backend instance can be shared by several adapters to exercise the
// cross-node notification path in-process.
package memory

import (
	"context"
	"errors"
	"sync"

	"shopstate/internal/storage"
	apperrors "shopstate/pkg/errors"
)

var errClosed = errors.New("memory backend closed")

// Backend provides a map-backed implementation of storage.Backend.
type Backend struct {
	mu     sync.RWMutex
	values map[string][]byte
	subs   []chan storage.Notification
	closed bool
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{values: make(map[string][]byte)}
}

// Get returns the value stored at key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errClosed
	}
	data, ok := b.values[key]
	if !ok {
		return nil, apperrors.NotFound("storage key", key)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set stores the value and notifies all watchers, the writer's included.
func (b *Backend) Set(ctx context.Context, key string, data []byte, origin string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	b.values[key] = stored

	// Sends happen under the lock so a watcher channel cannot be closed
	// mid-send. Slow watchers drop notifications rather than block the writer.
	n := storage.Notification{Key: key, Origin: origin}
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
	return nil
}

// Watch returns a channel receiving notifications for every write. The
// channel closes when ctx is canceled or the backend is closed.
func (b *Backend) Watch(ctx context.Context, key string) (<-chan storage.Notification, error) {
	ch := make(chan storage.Notification, 16)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// Close marks the backend closed; later Get and Set calls fail. Watch
// channels are owned by their contexts, so there is nothing further to
// release.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
