// Package store holds the in-memory client state: the cart and wishlist
// stores. A store owns its items, persists every change through the storage
// adapter, fans the change out to in-process subscribers, and reloads
// wholesale when another node writes the shared storage (last-writer-wins).
//
// No mutating operation can fail in a way visible to the caller. Inputs are
// normalized defensively: unknown IDs are ignored, quantities are clamped,
// duplicate adds merge. UI-facing consumers rely on these operations never
// raising, so persistence failures degrade to logs instead of errors.
package store

import (
	"context"
	"log/slog"
	"sync"

	"shopstate/internal/domain"
	"shopstate/internal/storage"
	pkglogger "shopstate/pkg/logger"
)

// Cart operation bounds. Values beyond them are clamped, not rejected.
const (
	// MaxQuantityPerLine caps a single line's quantity.
	MaxQuantityPerLine = 100
	// MaxLinesPerCart caps the number of distinct lines; adds beyond it are
	// dropped silently.
	MaxLinesPerCart = 50
)

// AddInput holds the attributes of a product variant being added. The line
// identity is always derived from ProductID, Size, and Color; callers cannot
// supply their own line IDs.
type AddInput struct {
	ProductID string
	Title     string
	Price     int64
	Image     string
	Size      string
	Color     string
}

// Events is the outbound domain-event surface the stores publish through.
// Publishing is best-effort; implementations log their own failures.
type Events interface {
	PublishCartUpdated(ctx context.Context, items []domain.LineItem) error
	PublishCartCleared(ctx context.Context) error
	PublishWishlistUpdated(ctx context.Context, items []domain.Product) error
}

// Cart is the cart store for this node.
type Cart struct {
	adapter *storage.Adapter
	events  Events
	logger  *slog.Logger

	mu    sync.RWMutex
	items []domain.LineItem

	subs subscribers
}

// NewCart creates the cart store and hydrates it from persisted storage.
// Missing or corrupt state hydrates as the empty cart.
func NewCart(ctx context.Context, adapter *storage.Adapter, events Events, logger *slog.Logger) *Cart {
	c := &Cart{
		adapter: adapter,
		events:  events,
		logger:  logger,
		items:   []domain.LineItem{},
	}
	adapter.Load(ctx, storage.KeyCart, &c.items)
	c.items = normalizeLines(c.items)
	return c
}

// Add merges the variant into the cart: an existing line gains one unit, a
// new variant is appended with quantity 1. The change is persisted and
// broadcast before Add returns.
func (c *Cart) Add(ctx context.Context, in AddInput) {
	if in.Price < 0 {
		in.Price = 0
	}
	id := domain.LineItemID(in.ProductID, in.Size, in.Color)

	c.mu.Lock()
	if idx := domain.FindLineIndex(c.items, id); idx >= 0 {
		if c.items[idx].Quantity < MaxQuantityPerLine {
			c.items[idx].Quantity++
		}
	} else if len(c.items) < MaxLinesPerCart {
		c.items = append(c.items, domain.LineItem{
			ID:        id,
			ProductID: in.ProductID,
			Title:     in.Title,
			Price:     in.Price,
			Image:     in.Image,
			Quantity:  1,
			Size:      in.Size,
			Color:     in.Color,
		})
	}
	c.persistLocked(ctx)
	items := c.snapshotLocked()
	c.mu.Unlock()

	c.changed(ctx, items)

	c.logger.DebugContext(ctx, "cart item added",
		slog.String("line_id", id),
		slog.String("product_id", in.ProductID),
	)
}

// Remove deletes the line with the given ID. Removing an absent ID is a
// silent no-op and does not rewrite storage.
func (c *Cart) Remove(ctx context.Context, id string) {
	c.mu.Lock()
	idx := domain.FindLineIndex(c.items, id)
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	c.persistLocked(ctx)
	items := c.snapshotLocked()
	c.mu.Unlock()

	c.changed(ctx, items)

	c.logger.DebugContext(ctx, "cart item removed", slog.String("line_id", id))
}

// UpdateQuantity sets the line's quantity. A quantity below 1 behaves
// exactly as Remove; values above the cap are clamped. Unknown IDs are
// ignored.
func (c *Cart) UpdateQuantity(ctx context.Context, id string, quantity int) {
	if quantity < 1 {
		c.Remove(ctx, id)
		return
	}
	if quantity > MaxQuantityPerLine {
		quantity = MaxQuantityPerLine
	}

	c.mu.Lock()
	idx := domain.FindLineIndex(c.items, id)
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	c.items[idx].Quantity = quantity
	c.persistLocked(ctx)
	items := c.snapshotLocked()
	c.mu.Unlock()

	c.changed(ctx, items)

	c.logger.DebugContext(ctx, "cart quantity updated",
		slog.String("line_id", id),
		slog.Int("quantity", quantity),
	)
}

// Clear empties the cart.
func (c *Cart) Clear(ctx context.Context) {
	c.mu.Lock()
	c.items = []domain.LineItem{}
	c.persistLocked(ctx)
	c.mu.Unlock()

	c.subs.notify()
	storeChanges.WithLabelValues("cart").Inc()

	if c.events != nil {
		if err := c.events.PublishCartCleared(ctx); err != nil {
			c.logger.ErrorContext(ctx, "publish cart.cleared event", slog.String("error", err.Error()))
		}
	}

	c.logger.DebugContext(ctx, "cart cleared")
}

// Items returns a snapshot of the lines in insertion order.
func (c *Cart) Items() []domain.LineItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Count returns the sum of quantities across all lines. It is derived from
// the items on every call and can never be observed stale.
func (c *Cart) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ItemCount(c.items)
}

// Total returns the cart total in minor currency units, derived on read.
func (c *Cart) Total() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.TotalAmount(c.items)
}

// Subscribe registers an in-process change listener. The returned channel
// receives a tick after every state change; cancel unregisters it.
func (c *Cart) Subscribe() (<-chan struct{}, func()) {
	return c.subs.add()
}

// Sync consumes cross-node change notifications and reloads the cart from
// storage for each one, replacing the in-memory state wholesale. It blocks
// until ctx is canceled; the composition root runs it as a goroutine.
func (c *Cart) Sync(ctx context.Context) {
	notes, err := c.adapter.Watch(ctx, storage.KeyCart)
	if err != nil {
		// Degraded mode: this node keeps working but will not observe
		// writes from sibling nodes until restart.
		c.logger.ErrorContext(ctx, "cart cross-node sync unavailable", slog.String("error", err.Error()))
		return
	}

	for n := range notes {
		c.reload(pkglogger.WithNodeID(ctx, n.Origin))
	}
}

// reload replaces the in-memory items from storage (last-writer-wins) and
// notifies in-process subscribers. Reloads never republish domain events.
func (c *Cart) reload(ctx context.Context) {
	items := []domain.LineItem{}
	c.adapter.Load(ctx, storage.KeyCart, &items)
	items = normalizeLines(items)

	c.mu.Lock()
	c.items = items
	c.mu.Unlock()

	c.subs.notify()
	storeReloads.WithLabelValues("cart").Inc()

	pkglogger.WithContext(ctx, c.logger).DebugContext(ctx, "cart reloaded from storage", slog.Int("lines", len(items)))
}

func (c *Cart) persistLocked(ctx context.Context) {
	c.adapter.Save(ctx, storage.KeyCart, c.items)
}

func (c *Cart) snapshotLocked() []domain.LineItem {
	out := make([]domain.LineItem, len(c.items))
	copy(out, c.items)
	return out
}

// changed runs the post-mutation side effects shared by Add, Remove, and
// UpdateQuantity: subscriber fan-out, metrics, and the best-effort event.
func (c *Cart) changed(ctx context.Context, items []domain.LineItem) {
	c.subs.notify()
	storeChanges.WithLabelValues("cart").Inc()

	if c.events != nil {
		if err := c.events.PublishCartUpdated(ctx, items); err != nil {
			c.logger.ErrorContext(ctx, "publish cart.updated event", slog.String("error", err.Error()))
		}
	}
}

// normalizeLines re-derives line identities and enforces the cart
// invariants on data read from storage: quantities below 1 drop the line,
// quantities above the cap are clamped, and lines whose derived identity
// collides are merged. Carts persisted by older writers with ad-hoc IDs are
// thereby migrated on load.
func normalizeLines(items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			continue
		}
		if item.Quantity > MaxQuantityPerLine {
			item.Quantity = MaxQuantityPerLine
		}
		if item.Price < 0 {
			item.Price = 0
		}
		item.ID = domain.LineItemID(item.ProductID, item.Size, item.Color)

		if idx := domain.FindLineIndex(out, item.ID); idx >= 0 {
			merged := out[idx].Quantity + item.Quantity
			if merged > MaxQuantityPerLine {
				merged = MaxQuantityPerLine
			}
			out[idx].Quantity = merged
			continue
		}
		out = append(out, item)
	}
	return out
}
