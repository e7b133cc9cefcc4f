package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"

	"github.com/google/uuid"
)

// Adapter reads and writes a JSON array under a fixed key and relays
// cross-process change notifications for it. Load and Save never return
// errors: a missing or unparseable value loads as the empty collection and a
// failed write is logged and absorbed, keeping the node's in-memory state
// authoritative. This matches the contract the stores expose to consumers.
type Adapter struct {
	backend Backend
	origin  string
	logger  *slog.Logger
}

// NewAdapter creates an adapter over the given backend. Each adapter gets a
// unique origin ID used to tell its own broadcasts apart from other nodes'.
func NewAdapter(backend Backend, logger *slog.Logger) *Adapter {
	return &Adapter{
		backend: backend,
		origin:  uuid.New().String(),
		logger:  logger,
	}
}

// Origin returns this adapter's origin ID.
func (a *Adapter) Origin() string {
	return a.origin
}

// Load decodes the JSON array stored at key into out, which must be a
// pointer to a slice. When the key is absent or holds invalid JSON, out is
// left untouched and the condition is logged; corrupted storage degrades to
// the empty collection rather than an error.
func (a *Adapter) Load(ctx context.Context, key string, out any) {
	data, err := a.backend.Get(ctx, key)
	if err != nil {
		a.logger.DebugContext(ctx, "no persisted state",
			slog.String("key", key),
			slog.String("reason", err.Error()),
		)
		return
	}

	// Decode into a scratch value first. Unmarshal populates the target up
	// to the point of failure, so a mid-array type error would otherwise
	// leave out holding a partial decode instead of the empty collection.
	tmp := reflect.New(reflect.TypeOf(out).Elem())
	if err := json.Unmarshal(data, tmp.Interface()); err != nil {
		a.logger.WarnContext(ctx, "discarding corrupt persisted state",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	reflect.ValueOf(out).Elem().Set(tmp.Elem())
}

// Save serializes v and writes it at key, broadcasting the change to other
// nodes. Write failures are logged and absorbed; a later successful save
// overwrites the stale value.
func (a *Adapter) Save(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		a.logger.ErrorContext(ctx, "marshal persisted state",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := a.backend.Set(ctx, key, data, a.origin); err != nil {
		a.logger.ErrorContext(ctx, "persist state",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Watch returns a channel of change notifications for key, with this
// adapter's own writes filtered out. The channel closes when ctx is
// canceled. The returned stream only ever triggers a reload path; same-node
// update propagation goes through the stores' in-process subscribers.
func (a *Adapter) Watch(ctx context.Context, key string) (<-chan Notification, error) {
	raw, err := a.backend.Watch(ctx, key)
	if err != nil {
		return nil, err
	}

	out := make(chan Notification)
	go func() {
		defer close(out)
		for n := range raw {
			if n.Origin == a.origin || (n.Key != "" && n.Key != key) {
				continue
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
