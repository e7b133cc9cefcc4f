package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopstate/internal/domain"
	"shopstate/internal/storage"
	"shopstate/internal/storage/memory"
	"shopstate/internal/store"
)

// ============================================================================
// Test helpers
// ============================================================================

func newTestWishlist(t *testing.T) *store.Wishlist {
	t.Helper()
	backend := memory.New()
	t.Cleanup(func() { _ = backend.Close() })
	adapter := storage.NewAdapter(backend, testLogger())
	return store.NewWishlist(context.Background(), adapter, nil, testLogger())
}

func setupWishlistRouter(wishlist *store.Wishlist) *chi.Mux {
	handler := NewWishlistHandler(wishlist, testLogger())
	r := chi.NewRouter()
	r.Route("/api/v1/wishlist", func(r chi.Router) {
		r.Get("/watch", handler.Watch)

		r.Group(func(r chi.Router) {
			r.Use(ContentTypeJSON)

			r.Get("/", handler.Get)
			r.Post("/items", handler.AddItem)
			r.Delete("/items/{id}", handler.RemoveItem)
		})
	})
	return r
}

func decodeWishlistSnapshot(t *testing.T, rec *httptest.ResponseRecorder) WishlistSnapshot {
	t.Helper()
	var resp struct {
		Data WishlistSnapshot `json:"data"`
	}
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	return resp.Data
}

func postProduct(t *testing.T, router *chi.Mux, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wishlist/items", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func validAddProductJSON() []byte {
	b, _ := json.Marshal(AddProductRequest{
		ID:    "prod-7",
		Title: "Saved Gadget",
		Price: 2500,
		Image: "https://img.example.com/gadget.jpg",
	})
	return b
}

// ============================================================================
// GET /api/v1/wishlist - Get
// ============================================================================

func TestGetWishlist_Empty(t *testing.T) {
	router := setupWishlistRouter(newTestWishlist(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wishlist", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	snap := decodeWishlistSnapshot(t, rec)
	assert.Empty(t, snap.Items)
}

// ============================================================================
// POST /api/v1/wishlist/items - AddItem
// ============================================================================

func TestWishlistAddItem_Success(t *testing.T) {
	router := setupWishlistRouter(newTestWishlist(t))

	rec := postProduct(t, router, validAddProductJSON())

	assert.Equal(t, http.StatusOK, rec.Code)
	snap := decodeWishlistSnapshot(t, rec)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "prod-7", snap.Items[0].ID)
	assert.Equal(t, int64(2500), snap.Items[0].Price)
}

func TestWishlistAddItem_DuplicateIsIdempotent(t *testing.T) {
	router := setupWishlistRouter(newTestWishlist(t))

	postProduct(t, router, validAddProductJSON())
	rec := postProduct(t, router, validAddProductJSON())

	assert.Equal(t, http.StatusOK, rec.Code)
	snap := decodeWishlistSnapshot(t, rec)
	assert.Len(t, snap.Items, 1)
}

func TestWishlistAddItem_MissingID_ValidationError(t *testing.T) {
	router := setupWishlistRouter(newTestWishlist(t))

	b, _ := json.Marshal(AddProductRequest{Title: "No ID", Price: 100})
	rec := postProduct(t, router, b)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Contains(t, resp.Error.Fields, "id")
}

func TestWishlistAddItem_InvalidJSON(t *testing.T) {
	router := setupWishlistRouter(newTestWishlist(t))

	rec := postProduct(t, router, []byte(`{broken`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
}

// ============================================================================
// DELETE /api/v1/wishlist/items/{id} - RemoveItem
// ============================================================================

func TestWishlistRemoveItem_Success(t *testing.T) {
	router := setupWishlistRouter(newTestWishlist(t))
	postProduct(t, router, validAddProductJSON())

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/wishlist/items/prod-7", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	snap := decodeWishlistSnapshot(t, rec)
	assert.Empty(t, snap.Items)
}

func TestWishlistRemoveItem_Absent_NoOp(t *testing.T) {
	router := setupWishlistRouter(newTestWishlist(t))
	postProduct(t, router, validAddProductJSON())

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/wishlist/items/never-saved", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	snap := decodeWishlistSnapshot(t, rec)
	assert.Len(t, snap.Items, 1)
}

// ============================================================================
// GET /api/v1/wishlist/watch - Watch (server-sent events)
// ============================================================================

func TestWishlistWatch_StreamsSnapshots(t *testing.T) {
	wishlist := newTestWishlist(t)
	router := setupWishlistRouter(wishlist)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pr, pw := newPipeRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wishlist/watch", nil).WithContext(ctx)

	go func() {
		defer pw.close()
		router.ServeHTTP(pw, req)
	}()

	first := pr.nextEvent(t)
	var snap WishlistSnapshot
	require.NoError(t, json.Unmarshal(first, &snap))
	assert.Empty(t, snap.Items)

	wishlist.Add(context.Background(), domain.Product{ID: "prod-3", Title: "Lamp", Price: 900})

	second := pr.nextEvent(t)
	require.NoError(t, json.Unmarshal(second, &snap))
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "prod-3", snap.Items[0].ID)
}
