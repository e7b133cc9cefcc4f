package event

import (
	"context"
	"fmt"
	"log/slog"

	"shopstate/internal/domain"
	pkgkafka "shopstate/pkg/kafka"
)

// Event types for client-state domain events.
const (
	EventCartUpdated     = "cart.updated"
	EventCartCleared     = "cart.cleared"
	EventWishlistUpdated = "wishlist.updated"
)

// Kafka topics, namespaced by the shared topic prefix.
var (
	TopicCartUpdated     = pkgkafka.Topic("cart", "updated")
	TopicCartCleared     = pkgkafka.Topic("cart", "cleared")
	TopicWishlistUpdated = pkgkafka.Topic("wishlist", "updated")
)

// Aggregate type constants.
const (
	AggregateTypeCart     = "cart"
	AggregateTypeWishlist = "wishlist"
)

// Source identifier for events originating from this service.
const SourceClientState = "shopstate"

// CartUpdatedData is the payload for a cart.updated event. Count and total
// are derived from the items at publish time.
type CartUpdatedData struct {
	Node  string            `json:"node"`
	Items []domain.LineItem `json:"items"`
	Count int               `json:"count"`
	Total int64             `json:"total"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	Node string `json:"node"`
}

// WishlistUpdatedData is the payload for a wishlist.updated event.
type WishlistUpdatedData struct {
	Node  string           `json:"node"`
	Items []domain.Product `json:"items"`
}

// Producer publishes client-state domain events to Kafka. Downstream
// collaborators (order submission, analytics) consume these; the stores treat
// publishing as best-effort.
type Producer struct {
	kafka  *pkgkafka.Producer
	node   string
	logger *slog.Logger
}

// NewProducer creates a new event producer. node identifies this
// client-state node in event payloads and partition keys.
func NewProducer(kafka *pkgkafka.Producer, node string, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		node:   node,
		logger: logger,
	}
}

// PublishCartUpdated publishes a cart.updated event with the full snapshot.
func (p *Producer) PublishCartUpdated(ctx context.Context, items []domain.LineItem) error {
	data := CartUpdatedData{
		Node:  p.node,
		Items: items,
		Count: domain.ItemCount(items),
		Total: domain.TotalAmount(items),
	}

	ev, err := pkgkafka.NewEvent(EventCartUpdated, p.node, AggregateTypeCart, SourceClientState, data)
	if err != nil {
		return fmt.Errorf("create cart.updated event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicCartUpdated, ev); err != nil {
		return fmt.Errorf("publish cart.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("node", p.node),
		slog.Int("count", data.Count),
	)

	return nil
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context) error {
	ev, err := pkgkafka.NewEvent(EventCartCleared, p.node, AggregateTypeCart, SourceClientState, CartClearedData{Node: p.node})
	if err != nil {
		return fmt.Errorf("create cart.cleared event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicCartCleared, ev); err != nil {
		return fmt.Errorf("publish cart.cleared event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.cleared event",
		slog.String("node", p.node),
	)

	return nil
}

// PublishWishlistUpdated publishes a wishlist.updated event.
func (p *Producer) PublishWishlistUpdated(ctx context.Context, items []domain.Product) error {
	data := WishlistUpdatedData{Node: p.node, Items: items}

	ev, err := pkgkafka.NewEvent(EventWishlistUpdated, p.node, AggregateTypeWishlist, SourceClientState, data)
	if err != nil {
		return fmt.Errorf("create wishlist.updated event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicWishlistUpdated, ev); err != nil {
		return fmt.Errorf("publish wishlist.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published wishlist.updated event",
		slog.String("node", p.node),
		slog.Int("items", len(items)),
	)

	return nil
}
