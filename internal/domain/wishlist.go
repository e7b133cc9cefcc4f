package domain

// Product is the snapshot of a catalog product saved in the wishlist. Only
// the ID participates in identity; the remaining fields are display data
// captured at the time of saving.
type Product struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Price int64  `json:"price"`
	Image string `json:"image,omitempty"`
}

// ContainsProduct reports whether a product with the given ID is present.
func ContainsProduct(items []Product, id string) bool {
	for i := range items {
		if items[i].ID == id {
			return true
		}
	}
	return false
}
