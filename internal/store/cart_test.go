package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"shopstate/internal/domain"
	"shopstate/internal/storage"
	"shopstate/internal/storage/memory"
)

// --- Mock Events ---

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) PublishCartUpdated(ctx context.Context, items []domain.LineItem) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

func (m *mockEvents) PublishCartCleared(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockEvents) PublishWishlistUpdated(ctx context.Context, items []domain.Product) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestCart(t *testing.T) (*Cart, *memory.Backend) {
	t.Helper()
	backend := memory.New()
	adapter := storage.NewAdapter(backend, newTestLogger())
	return NewCart(context.Background(), adapter, nil, newTestLogger()), backend
}

func sampleAdd() AddInput {
	return AddInput{
		ProductID: "prod-7",
		Title:     "Crewneck Tee",
		Price:     10000,
		Image:     "https://img.example.com/tee.jpg",
		Size:      "M",
		Color:     "red",
	}
}

// --- Add ---

func TestCart_Add_NewLine(t *testing.T) {
	cart, _ := newTestCart(t)
	ctx := context.Background()

	cart.Add(ctx, sampleAdd())

	items := cart.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "prod-7-M-red", items[0].ID)
	assert.Equal(t, 1, items[0].Quantity)
	assert.Equal(t, 1, cart.Count())
	assert.Equal(t, int64(10000), cart.Total())
}

func TestCart_Add_MergesSameVariant(t *testing.T) {
	cart, _ := newTestCart(t)
	ctx := context.Background()

	cart.Add(ctx, sampleAdd())
	cart.Add(ctx, sampleAdd())

	items := cart.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, 2, cart.Count())
	assert.Equal(t, int64(20000), cart.Total())
}

func TestCart_Add_DistinctSizesAreDistinctLines(t *testing.T) {
	cart, _ := newTestCart(t)
	ctx := context.Background()

	in := sampleAdd()
	cart.Add(ctx, in)
	in.Size = "L"
	cart.Add(ctx, in)

	items := cart.Items()
	require.Len(t, items, 2)
	assert.NotEqual(t, items[0].ID, items[1].ID)
	assert.Equal(t, 2, cart.Count())
}

func TestCart_Add_NegativePriceClampedToZero(t *testing.T) {
	cart, _ := newTestCart(t)

	in := sampleAdd()
	in.Price = -500
	cart.Add(context.Background(), in)

	items := cart.Items()
	require.Len(t, items, 1)
	assert.Equal(t, int64(0), items[0].Price)
	assert.Equal(t, int64(0), cart.Total())
}

func TestCart_Add_QuantityCapped(t *testing.T) {
	cart, _ := newTestCart(t)
	ctx := context.Background()

	for i := 0; i < MaxQuantityPerLine+10; i++ {
		cart.Add(ctx, sampleAdd())
	}

	items := cart.Items()
	require.Len(t, items, 1)
	assert.Equal(t, MaxQuantityPerLine, items[0].Quantity)
}

func TestCart_Add_LineCapDropsOverflow(t *testing.T) {
	cart, _ := newTestCart(t)
	ctx := context.Background()

	for i := 0; i < MaxLinesPerCart+5; i++ {
		in := sampleAdd()
		in.ProductID = fmt.Sprintf("prod-%d", i)
		cart.Add(ctx, in)
	}

	// Adds past the cap are silent no-ops; existing lines are untouched.
	items := cart.Items()
	require.Len(t, items, MaxLinesPerCart)
	assert.Equal(t, "prod-0-M-red", items[0].ID)
	assert.Equal(t, MaxLinesPerCart, cart.Count())
}

// --- UpdateQuantity ---

func TestCart_UpdateQuantity_SetsValue(t *testing.T) {
	cart, _ := newTestCart(t)
	ctx := context.Background()

	cart.Add(ctx, sampleAdd())
	cart.UpdateQuantity(ctx, "prod-7-M-red", 5)

	items := cart.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
	assert.Equal(t, 5, cart.Count())
	assert.Equal(t, int64(50000), cart.Total())
}

func TestCart_UpdateQuantity_BelowOneRemovesLine(t *testing.T) {
	cart, _ := newTestCart(t)
	ctx := context.Background()

	cart.Add(ctx, sampleAdd())

	cart.UpdateQuantity(ctx, "prod-7-M-red", 0)

	assert.Empty(t, cart.Items())
	assert.Equal(t, 0, cart.Count())

	cart.Add(ctx, sampleAdd())
	cart.UpdateQuantity(ctx, "prod-7-M-red", -3)

	assert.Empty(t, cart.Items())
}

func TestCart_UpdateQuantity_UnknownIDIgnored(t *testing.T) {
	cart, _ := newTestCart(t)
	ctx := context.Background()

	cart.Add(ctx, sampleAdd())
	before := cart.Items()

	cart.UpdateQuantity(ctx, "no-such-line", 9)

	assert.Equal(t, before, cart.Items())
}

func TestCart_UpdateQuantity_ClampsAboveCap(t *testing.T) {
	cart, _ := newTestCart(t)
	ctx := context.Background()

	cart.Add(ctx, sampleAdd())
	cart.UpdateQuantity(ctx, "prod-7-M-red", 10_000)

	items := cart.Items()
	require.Len(t, items, 1)
	assert.Equal(t, MaxQuantityPerLine, items[0].Quantity)
}

// --- Remove ---

func TestCart_Remove_DeletesLine(t *testing.T) {
	cart, _ := newTestCart(t)
	ctx := context.Background()

	cart.Add(ctx, sampleAdd())
	cart.Remove(ctx, "prod-7-M-red")

	assert.Empty(t, cart.Items())
	assert.Equal(t, 0, cart.Count())
	assert.Equal(t, int64(0), cart.Total())
}

func TestCart_Remove_AbsentIDIsNoop(t *testing.T) {
	cart, _ := newTestCart(t)
	ctx := context.Background()

	cart.Add(ctx, sampleAdd())
	in := sampleAdd()
	in.Size = "L"
	cart.Add(ctx, in)
	before := cart.Items()

	cart.Remove(ctx, "prod-99--")

	// Same length, same items, same order.
	assert.Equal(t, before, cart.Items())
}

// --- Clear ---

func TestCart_Clear_EmptiesAndPersists(t *testing.T) {
	cart, backend := newTestCart(t)
	ctx := context.Background()

	cart.Add(ctx, sampleAdd())
	cart.Clear(ctx)

	assert.Empty(t, cart.Items())
	assert.Equal(t, 0, cart.Count())

	raw, err := backend.Get(ctx, storage.KeyCart)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

// --- Derivation invariant ---

func TestCart_CountNeverStale(t *testing.T) {
	cart, _ := newTestCart(t)
	ctx := context.Background()

	check := func() {
		t.Helper()
		var sum int
		for _, it := range cart.Items() {
			sum += it.Quantity
		}
		assert.Equal(t, sum, cart.Count())
	}

	cart.Add(ctx, sampleAdd())
	check()
	in := sampleAdd()
	in.Size = "L"
	cart.Add(ctx, in)
	check()
	cart.UpdateQuantity(ctx, "prod-7-M-red", 7)
	check()
	cart.Remove(ctx, "prod-7-L-red")
	check()
	cart.Clear(ctx)
	check()
}

// --- Persistence ---

func TestCart_PersistenceRoundTrip(t *testing.T) {
	backend := memory.New()
	adapter := storage.NewAdapter(backend, newTestLogger())
	ctx := context.Background()

	cart := NewCart(ctx, adapter, nil, newTestLogger())
	cart.Add(ctx, sampleAdd())
	in := sampleAdd()
	in.Size = "L"
	cart.Add(ctx, in)
	cart.UpdateQuantity(ctx, "prod-7-M-red", 3)

	// A fresh store over the same storage reproduces the exact lines.
	reborn := NewCart(ctx, storage.NewAdapter(backend, newTestLogger()), nil, newTestLogger())
	assert.Equal(t, cart.Items(), reborn.Items())
	assert.Equal(t, cart.Count(), reborn.Count())
	assert.Equal(t, cart.Total(), reborn.Total())
}

func TestCart_HydrateFromCorruptStorage(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, storage.KeyCart, []byte("{{not-valid-json"), "someone"))

	cart := NewCart(ctx, storage.NewAdapter(backend, newTestLogger()), nil, newTestLogger())

	assert.Empty(t, cart.Items())
	assert.Equal(t, 0, cart.Count())
}

func TestCart_HydrateFromMixedTypeStorage(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	// Valid JSON, but not every element is a line item. The whole value is
	// discarded; no partially decoded lines survive.
	raw := `["oops",{"id":"x","product_id":"p","quantity":2}]`
	require.NoError(t, backend.Set(ctx, storage.KeyCart, []byte(raw), "someone"))

	cart := NewCart(ctx, storage.NewAdapter(backend, newTestLogger()), nil, newTestLogger())

	assert.Empty(t, cart.Items())
	assert.Equal(t, 0, cart.Count())
}

func TestCart_HydrateNormalizesLegacyLines(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	// Persisted by an older writer: ad-hoc IDs, a zero quantity, and two
	// lines that collapse to the same derived identity.
	legacy := `[
		{"id":"7","product_id":"prod-7","title":"Tee","price":10000,"quantity":2,"size":"M","color":"red"},
		{"id":"weird","product_id":"prod-7","title":"Tee","price":10000,"quantity":1,"size":"M","color":"red"},
		{"id":"8","product_id":"prod-8","title":"Mug","price":900,"quantity":0}
	]`
	require.NoError(t, backend.Set(ctx, storage.KeyCart, []byte(legacy), "someone"))

	cart := NewCart(ctx, storage.NewAdapter(backend, newTestLogger()), nil, newTestLogger())

	items := cart.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "prod-7-M-red", items[0].ID)
	assert.Equal(t, 3, items[0].Quantity)
}

// --- Cross-node sync ---

func TestCart_SyncConvergesAcrossNodes(t *testing.T) {
	backend := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeA := NewCart(ctx, storage.NewAdapter(backend, newTestLogger()), nil, newTestLogger())
	nodeB := NewCart(ctx, storage.NewAdapter(backend, newTestLogger()), nil, newTestLogger())
	go nodeB.Sync(ctx)

	// Let the watcher attach before writing.
	time.Sleep(50 * time.Millisecond)

	nodeA.Add(ctx, sampleAdd())

	assert.Eventually(t, func() bool {
		items := nodeB.Items()
		return len(items) == 1 && items[0].ID == "prod-7-M-red"
	}, 2*time.Second, 10*time.Millisecond, "node B should converge to node A's cart")
}

func TestCart_SyncLastWriterWins(t *testing.T) {
	backend := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeA := NewCart(ctx, storage.NewAdapter(backend, newTestLogger()), nil, newTestLogger())
	nodeB := NewCart(ctx, storage.NewAdapter(backend, newTestLogger()), nil, newTestLogger())
	go nodeA.Sync(ctx)
	go nodeB.Sync(ctx)
	time.Sleep(50 * time.Millisecond)

	// Both nodes mutate; node B writes last, so its full state wins
	// everywhere. No merge.
	nodeA.Add(ctx, sampleAdd())
	in := sampleAdd()
	in.ProductID = "prod-9"
	nodeB.Add(ctx, in)

	assert.Eventually(t, func() bool {
		a, b := nodeA.Items(), nodeB.Items()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "nodes should converge on the last write")
}

// --- Subscribers ---

func TestCart_Subscribe_TicksOnMutation(t *testing.T) {
	cart, _ := newTestCart(t)
	ctx := context.Background()

	ch, cancel := cart.Subscribe()
	defer cancel()

	cart.Add(ctx, sampleAdd())

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a subscriber tick after Add")
	}
}

func TestCart_Subscribe_CancelStopsTicks(t *testing.T) {
	cart, _ := newTestCart(t)

	ch, cancel := cart.Subscribe()
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after cancel")
}

// --- Events ---

func TestCart_Add_PublishesCartUpdated(t *testing.T) {
	backend := memory.New()
	events := new(mockEvents)
	ctx := context.Background()

	events.On("PublishCartUpdated", mock.Anything, mock.Anything).Return(nil)

	cart := NewCart(ctx, storage.NewAdapter(backend, newTestLogger()), events, newTestLogger())
	cart.Add(ctx, sampleAdd())

	events.AssertCalled(t, "PublishCartUpdated", mock.Anything, mock.MatchedBy(func(items []domain.LineItem) bool {
		return len(items) == 1 && items[0].ID == "prod-7-M-red"
	}))
}

func TestCart_Clear_PublishFailureIsSwallowed(t *testing.T) {
	backend := memory.New()
	events := new(mockEvents)
	ctx := context.Background()

	events.On("PublishCartUpdated", mock.Anything, mock.Anything).Return(nil)
	events.On("PublishCartCleared", mock.Anything).Return(assert.AnError)

	cart := NewCart(ctx, storage.NewAdapter(backend, newTestLogger()), events, newTestLogger())
	cart.Add(ctx, sampleAdd())

	// Must not panic or surface the error to the caller.
	cart.Clear(ctx)
	assert.Empty(t, cart.Items())
}

// --- End-to-end walkthrough ---

func TestCart_ExampleScenario(t *testing.T) {
	cart, _ := newTestCart(t)
	ctx := context.Background()

	cart.Add(ctx, sampleAdd())
	assert.Equal(t, 1, cart.Count())
	assert.Equal(t, int64(10000), cart.Total())

	cart.Add(ctx, sampleAdd())
	require.Len(t, cart.Items(), 1)
	assert.Equal(t, 2, cart.Count())
	assert.Equal(t, int64(20000), cart.Total())

	cart.UpdateQuantity(ctx, "prod-7-M-red", 5)
	assert.Equal(t, int64(50000), cart.Total())

	cart.Remove(ctx, "prod-7-M-red")
	assert.Empty(t, cart.Items())
	assert.Equal(t, 0, cart.Count())
	assert.Equal(t, int64(0), cart.Total())
}
