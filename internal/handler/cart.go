package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
)

type cartLineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
}

type cartResponse struct {
	UserID string            `json:"userId"`
	Lines  []cartLineRequest `json:"lines"`
}

// GetCart returns the caller's cart. A user with no cart gets an empty one.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, r, http.StatusUnauthorized, "user identity required")
		return
	}

	c, err := h.carts.Get(r.Context(), uid)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			writeJSON(w, r, http.StatusOK, cartResponse{UserID: uid, Lines: []cartLineRequest{}})
			return
		}
		internalError(w, r, err)
		return
	}

	lines := make([]cartLineRequest, len(c.Lines))
	for i, l := range c.Lines {
		lines[i] = cartLineRequest{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Size:      l.Size,
			Color:     l.Color,
		}
	}
	writeJSON(w, r, http.StatusOK, cartResponse{UserID: uid, Lines: lines})
}

// AddCartLine adds a product to the caller's cart, merging quantities when
// the same product, size, and color are already present.
func (h *Handler) AddCartLine(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, r, http.StatusUnauthorized, "user identity required")
		return
	}

	var req cartLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity <= 0 {
		writeError(w, r, http.StatusUnprocessableEntity, "quantity must be greater than 0")
		return
	}

	if _, err := h.products.GetByID(r.Context(), req.ProductID); err != nil {
		if errors.Is(err, product.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "product not found")
			return
		}
		internalError(w, r, err)
		return
	}

	err := h.carts.AddLine(r.Context(), uid, cart.Line{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Size:      req.Size,
		Color:     req.Color,
	})
	if err != nil {
		internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCart empties the caller's cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, r, http.StatusUnauthorized, "user identity required")
		return
	}

	if err := h.carts.Clear(r.Context(), uid); err != nil {
		internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
