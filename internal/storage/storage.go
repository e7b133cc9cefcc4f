// Package storage implements the persistence adapter: durable storage of a
// named JSON-serializable collection plus a cross-process change
// notification. The adapter applies the client-state policy (missing or
// corrupt data loads as empty, write failures degrade instead of
// propagating); backends supply the raw key-value medium.
package storage

import "context"

// Storage keys owned by the client-state node. No component outside the
// stores may write these keys directly.
const (
	KeyCart     = "cart"
	KeyWishlist = "wishlist"
)

// Notification announces that a storage key was written. Origin identifies
// the writing node, so a node can recognize and skip its own broadcasts.
type Notification struct {
	Key    string `json:"key"`
	Origin string `json:"origin"`
}

// Backend is the raw key-value medium underneath the adapter.
type Backend interface {
	// Get returns the raw bytes stored at key, or apperrors.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes data at key and broadcasts a change notification carrying
	// the writer's origin to every watching node, including siblings of the
	// writer. Same-node echo filtering is the adapter's job.
	Set(ctx context.Context, key string, data []byte, origin string) error

	// Watch delivers notifications for writes to key until ctx is canceled.
	Watch(ctx context.Context, key string) (<-chan Notification, error)

	// Close releases the backend's resources.
	Close() error
}
