package domain

import "strings"

// LineItem represents one row in the cart: a product variant with its own
// quantity. The ID is derived from the product and variant attributes, so the
// same product in two sizes occupies two distinct lines.
type LineItem struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Price     int64  `json:"price"`
	Image     string `json:"image,omitempty"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
}

// LineItemID derives the canonical line identity from the product and its
// variant attributes. Size and color may be empty. The store always derives
// IDs through this function; caller-supplied IDs are never accepted.
func LineItemID(productID, size, color string) string {
	return strings.Join([]string{productID, size, color}, "-")
}

// TotalAmount calculates the cart total in minor currency units. It is
// computed on read and never stored, so it cannot drift from the items.
func TotalAmount(items []LineItem) int64 {
	var total int64
	for _, item := range items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

// ItemCount returns the sum of quantities across all lines.
func ItemCount(items []LineItem) int {
	var count int
	for _, item := range items {
		count += item.Quantity
	}
	return count
}

// FindLineIndex returns the index of the line with the given ID, or -1.
func FindLineIndex(items []LineItem, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
