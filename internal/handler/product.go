package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain/product"
)

type productResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	ProductNo      string  `json:"productNo"`
	Description    string  `json:"description"`
	Category       string  `json:"category"`
	Image          string  `json:"image"`
	Price          float64 `json:"price"`
	Quantity       int     `json:"quantity"`
	PurchasedCount int     `json:"purchasedCount"`
}

func toProductResponse(p *product.Product) productResponse {
	return productResponse{
		ID:             p.ID,
		Name:           p.Name,
		ProductNo:      p.ProductNo,
		Description:    p.Description,
		Category:       p.Category,
		Image:          p.Image,
		Price:          p.Price.InexactFloat64(),
		Quantity:       p.Quantity,
		PurchasedCount: p.PurchasedCount,
	}
}

// ListProducts returns the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}

	out := make([]productResponse, len(products))
	for i := range products {
		out[i] = toProductResponse(&products[i])
	}
	writeJSON(w, r, http.StatusOK, out)
}

// GetProduct returns a single catalog item.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "product not found")
			return
		}
		internalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toProductResponse(p))
}
