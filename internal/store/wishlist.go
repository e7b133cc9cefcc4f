package store

import (
	"context"
	"log/slog"
	"sync"

	"shopstate/internal/domain"
	"shopstate/internal/storage"
	pkglogger "shopstate/pkg/logger"
)

// Wishlist is the wishlist store for this node: a deduplicated, ordered list
// of product snapshots with the same persistence and cross-node reload
// semantics as the cart, but a smaller mutation surface.
type Wishlist struct {
	adapter *storage.Adapter
	events  Events
	logger  *slog.Logger

	mu    sync.RWMutex
	items []domain.Product

	subs subscribers
}

// NewWishlist creates the wishlist store and hydrates it from storage.
func NewWishlist(ctx context.Context, adapter *storage.Adapter, events Events, logger *slog.Logger) *Wishlist {
	w := &Wishlist{
		adapter: adapter,
		events:  events,
		logger:  logger,
		items:   []domain.Product{},
	}
	adapter.Load(ctx, storage.KeyWishlist, &w.items)
	w.items = dedupeProducts(w.items)
	return w
}

// Add appends the product unless one with the same ID is already saved.
// The duplicate add is a silent no-op and does not rewrite storage.
func (w *Wishlist) Add(ctx context.Context, p domain.Product) {
	if p.Price < 0 {
		p.Price = 0
	}

	w.mu.Lock()
	if domain.ContainsProduct(w.items, p.ID) {
		w.mu.Unlock()
		return
	}
	w.items = append(w.items, p)
	w.adapter.Save(ctx, storage.KeyWishlist, w.items)
	items := w.snapshotLocked()
	w.mu.Unlock()

	w.changed(ctx, items)

	w.logger.DebugContext(ctx, "wishlist item added", slog.String("product_id", p.ID))
}

// Remove deletes the product with the given ID; absent IDs are ignored.
func (w *Wishlist) Remove(ctx context.Context, id string) {
	w.mu.Lock()
	idx := -1
	for i := range w.items {
		if w.items[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		w.mu.Unlock()
		return
	}
	w.items = append(w.items[:idx], w.items[idx+1:]...)
	w.adapter.Save(ctx, storage.KeyWishlist, w.items)
	items := w.snapshotLocked()
	w.mu.Unlock()

	w.changed(ctx, items)

	w.logger.DebugContext(ctx, "wishlist item removed", slog.String("product_id", id))
}

// Items returns a snapshot of the saved products in insertion order.
func (w *Wishlist) Items() []domain.Product {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshotLocked()
}

// Subscribe registers an in-process change listener.
func (w *Wishlist) Subscribe() (<-chan struct{}, func()) {
	return w.subs.add()
}

// Sync consumes cross-node notifications and reloads the wishlist from
// storage for each one. Blocks until ctx is canceled.
func (w *Wishlist) Sync(ctx context.Context) {
	notes, err := w.adapter.Watch(ctx, storage.KeyWishlist)
	if err != nil {
		w.logger.ErrorContext(ctx, "wishlist cross-node sync unavailable", slog.String("error", err.Error()))
		return
	}

	for n := range notes {
		w.reload(pkglogger.WithNodeID(ctx, n.Origin))
	}
}

func (w *Wishlist) reload(ctx context.Context) {
	items := []domain.Product{}
	w.adapter.Load(ctx, storage.KeyWishlist, &items)
	items = dedupeProducts(items)

	w.mu.Lock()
	w.items = items
	w.mu.Unlock()

	w.subs.notify()
	storeReloads.WithLabelValues("wishlist").Inc()

	pkglogger.WithContext(ctx, w.logger).DebugContext(ctx, "wishlist reloaded from storage", slog.Int("items", len(items)))
}

func (w *Wishlist) snapshotLocked() []domain.Product {
	out := make([]domain.Product, len(w.items))
	copy(out, w.items)
	return out
}

func (w *Wishlist) changed(ctx context.Context, items []domain.Product) {
	w.subs.notify()
	storeChanges.WithLabelValues("wishlist").Inc()

	if w.events != nil {
		if err := w.events.PublishWishlistUpdated(ctx, items); err != nil {
			w.logger.ErrorContext(ctx, "publish wishlist.updated event", slog.String("error", err.Error()))
		}
	}
}

// dedupeProducts drops later duplicates by ID, preserving first-seen order.
func dedupeProducts(items []domain.Product) []domain.Product {
	out := make([]domain.Product, 0, len(items))
	for _, p := range items {
		if domain.ContainsProduct(out, p.ID) {
			continue
		}
		out = append(out, p)
	}
	return out
}
