package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shopstate/internal/domain"
	"shopstate/internal/store"
	"shopstate/pkg/validator"
)

// WishlistHandler handles HTTP requests for wishlist endpoints.
type WishlistHandler struct {
	wishlist *store.Wishlist
	logger   *slog.Logger
}

// NewWishlistHandler creates a new wishlist HTTP handler.
func NewWishlistHandler(wishlist *store.Wishlist, logger *slog.Logger) *WishlistHandler {
	return &WishlistHandler{
		wishlist: wishlist,
		logger:   logger,
	}
}

// AddProductRequest is the JSON request body for saving a product.
type AddProductRequest struct {
	ID    string `json:"id" validate:"required"`
	Title string `json:"title"`
	Price int64  `json:"price" validate:"gte=0"`
	Image string `json:"image"`
}

// WishlistSnapshot is the consumer-facing view of the wishlist.
type WishlistSnapshot struct {
	Items []domain.Product `json:"items"`
}

func (h *WishlistHandler) snapshot() WishlistSnapshot {
	return WishlistSnapshot{Items: h.wishlist.Items()}
}

// Get handles GET /api/v1/wishlist
func (h *WishlistHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Data: h.snapshot()})
}

// AddItem handles POST /api/v1/wishlist/items
func (h *WishlistHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		writeValidationError(w, err)
		return
	}

	h.wishlist.Add(r.Context(), domain.Product{
		ID:    req.ID,
		Title: req.Title,
		Price: req.Price,
		Image: req.Image,
	})

	writeJSON(w, http.StatusOK, response{Data: h.snapshot()})
}

// RemoveItem handles DELETE /api/v1/wishlist/items/{id}
func (h *WishlistHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.wishlist.Remove(r.Context(), id)

	writeJSON(w, http.StatusOK, response{Data: h.snapshot()})
}

// Watch handles GET /api/v1/wishlist/watch with a server-sent-event stream.
func (h *WishlistHandler) Watch(w http.ResponseWriter, r *http.Request) {
	serveWatch(w, r, h.logger, h.wishlist.Subscribe, func() any { return h.snapshot() })
}
