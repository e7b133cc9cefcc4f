// Package file implements the storage backend on a local directory: one
// <key>.json file per key, written atomically, with fsnotify providing the
// change notification. Filesystem events carry no writer identity, so the
// backend remembers the hash of its own last write per key and suppresses
// the matching echo; notifications that survive the filter always come from
// another process sharing the directory.
package file

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"shopstate/internal/storage"
	apperrors "shopstate/pkg/errors"
)

const fileExt = ".json"

// Backend implements storage.Backend using a watched directory.
type Backend struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu        sync.Mutex
	lastWrite map[string]uint64
	subs      map[string][]chan storage.Notification
}

// New creates the data directory if needed and starts watching it.
func New(dir string, logger *slog.Logger) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch data dir: %w", err)
	}

	b := &Backend{
		dir:       dir,
		watcher:   watcher,
		logger:    logger,
		lastWrite: make(map[string]uint64),
		subs:      make(map[string][]chan storage.Notification),
	}
	go b.watchLoop()
	return b, nil
}

func (b *Backend) path(key string) string {
	return filepath.Join(b.dir, key+fileExt)
}

// Get reads the value file for key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound("storage key", key)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Set writes the value atomically via a temp file and rename. The content
// hash is recorded before the write so the watch loop can recognize the
// resulting filesystem event as our own.
func (b *Backend) Set(ctx context.Context, key string, data []byte, origin string) error {
	b.mu.Lock()
	b.lastWrite[key] = hashBytes(data)
	b.mu.Unlock()

	tmp, err := os.CreateTemp(b.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, b.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Watch registers a notification channel for key. The channel closes when
// ctx is canceled.
func (b *Backend) Watch(ctx context.Context, key string) (<-chan storage.Notification, error) {
	ch := make(chan storage.Notification, 16)

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		subs := b.subs[key]
		for i, sub := range subs {
			if sub == ch {
				b.subs[key] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

// Close stops the directory watcher.
func (b *Backend) Close() error {
	return b.watcher.Close()
}

// watchLoop turns filesystem events into key notifications. It exits when
// the watcher is closed.
func (b *Backend) watchLoop() {
	for {
		select {
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, fileExt) || strings.Contains(name, ".tmp-") {
				continue
			}
			b.dispatch(strings.TrimSuffix(name, fileExt))
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("storage watch error", slog.String("error", err.Error()))
		}
	}
}

// dispatch notifies watchers of key unless the file still holds the bytes
// this backend wrote last (an echo of our own Set).
func (b *Backend) dispatch(key string) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		// Racing a rename; the next event will carry the final content.
		return
	}
	h := hashBytes(data)

	b.mu.Lock()
	defer b.mu.Unlock()

	if own, ok := b.lastWrite[key]; ok && own == h {
		return
	}

	n := storage.Notification{Key: key}
	for _, ch := range b.subs[key] {
		select {
		case ch <- n:
		default:
		}
	}
}

func hashBytes(data []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(data)
	return h.Sum64()
}
