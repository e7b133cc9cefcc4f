package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shopstate/internal/domain"
	"shopstate/internal/store"
	"shopstate/pkg/validator"
)

// CartHandler handles HTTP requests for cart endpoints. Store mutations
// cannot fail, so mutation endpoints always answer 200 with the new
// snapshot; 4xx arises only from malformed request bodies.
type CartHandler struct {
	cart   *store.Cart
	logger *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(cart *store.Cart, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		cart:   cart,
		logger: logger,
	}
}

// --- Request DTOs ---

// AddItemRequest is the JSON request body for adding a product variant.
// There is no id field: the line identity is derived server-side, and no
// quantity field: an add always contributes one unit.
type AddItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Title     string `json:"title" validate:"required,min=1,max=500"`
	Price     int64  `json:"price" validate:"gte=0"`
	Image     string `json:"image"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

// UpdateQuantityRequest is the JSON request body for setting a line's
// quantity. Any integer is accepted; values below 1 remove the line.
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// --- Response envelope ---

type response struct {
	Data  any            `json:"data,omitempty"`
	Error *errorResponse `json:"error,omitempty"`
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// CartSnapshot is the consumer-facing view of the cart: the lines plus the
// derived count and total.
type CartSnapshot struct {
	Items []domain.LineItem `json:"items"`
	Count int               `json:"count"`
	Total int64             `json:"total"`
}

func (h *CartHandler) snapshot() CartSnapshot {
	return CartSnapshot{
		Items: h.cart.Items(),
		Count: h.cart.Count(),
		Total: h.cart.Total(),
	}
}

// --- Handlers ---

// Get handles GET /api/v1/cart
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Data: h.snapshot()})
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
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

	h.cart.Add(r.Context(), store.AddInput{
		ProductID: req.ProductID,
		Title:     req.Title,
		Price:     req.Price,
		Image:     req.Image,
		Size:      req.Size,
		Color:     req.Color,
	})

	writeJSON(w, http.StatusOK, response{Data: h.snapshot()})
}

// UpdateQuantity handles PUT /api/v1/cart/items/{id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	h.cart.UpdateQuantity(r.Context(), id, req.Quantity)

	writeJSON(w, http.StatusOK, response{Data: h.snapshot()})
}

// RemoveItem handles DELETE /api/v1/cart/items/{id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.cart.Remove(r.Context(), id)

	writeJSON(w, http.StatusOK, response{Data: h.snapshot()})
}

// Clear handles DELETE /api/v1/cart
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.cart.Clear(r.Context())

	writeJSON(w, http.StatusOK, response{Data: h.snapshot()})
}

// Watch handles GET /api/v1/cart/watch with a server-sent-event stream: an
// initial snapshot, then one snapshot per state change (local mutations and
// cross-node reloads alike).
func (h *CartHandler) Watch(w http.ResponseWriter, r *http.Request) {
	serveWatch(w, r, h.logger, h.cart.Subscribe, func() any { return h.snapshot() })
}

// --- Helpers ---

func writeValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "request validation failed",
				Fields:  valErr.Fields(),
			},
		})
		return
	}

	writeJSON(w, http.StatusBadRequest, response{
		Error: &errorResponse{Code: "INVALID_INPUT", Message: err.Error()},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}
