package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain/checkout"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
	"github.com/xenking/kart-fulfillment/internal/gateway"
)

type checkoutRequest struct {
	Type    string          `json:"type"`
	Product *checkoutLine   `json:"product,omitempty"`
	Contact contactRequest  `json:"contact"`
}

type checkoutLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
}

type contactRequest struct {
	Name    string          `json:"name"`
	Email   string          `json:"email"`
	Address json.RawMessage `json:"address"`
}

type checkoutResponse struct {
	Order checkoutOrder `json:"order"`
}

type checkoutOrder struct {
	ID       string `json:"id"`
	IntentID string `json:"intentId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// BeginCheckout prices the request server-side, opens a payment intent, and
// returns the intent for the browser SDK.
func (h *Handler) BeginCheckout(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, r, http.StatusUnauthorized, "user identity required")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	domainReq := checkout.Request{
		Type: checkout.OrderType(req.Type),
		Contact: checkout.Contact{
			Name:    req.Contact.Name,
			Email:   req.Contact.Email,
			Address: req.Contact.Address,
		},
	}
	if req.Product != nil {
		domainReq.ProductID = req.Product.ProductID
		domainReq.Quantity = req.Product.Quantity
		domainReq.Size = req.Product.Size
		domainReq.Color = req.Product.Color
	}

	result, err := h.checkout.BeginCheckout(r.Context(), uid, domainReq)
	if err != nil {
		h.mapCheckoutError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, checkoutResponse{Order: checkoutOrder{
		ID:       result.OrderID,
		IntentID: result.IntentID,
		Amount:   result.AmountMinor,
		Currency: result.Currency,
	}})
}

func (h *Handler) mapCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		iqErr  *checkout.InvalidQuantityError
		oosErr *checkout.OutOfStockError
	)
	switch {
	case errors.Is(err, checkout.ErrInvalidType),
		errors.Is(err, checkout.ErrContactRequired):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.As(err, &iqErr):
		writeError(w, r, http.StatusUnprocessableEntity, iqErr.Error())
	case errors.Is(err, product.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "product not found")
	case errors.Is(err, checkout.ErrEmptyCart):
		writeError(w, r, http.StatusNotFound, "no products found in your cart")
	case errors.As(err, &oosErr):
		writeError(w, r, http.StatusConflict, oosErr.Error())
	case errors.Is(err, gateway.ErrUnavailable):
		writeError(w, r, http.StatusBadGateway, "payment gateway unavailable, try again")
	default:
		internalError(w, r, err)
	}
}

// GetGatewayKey exposes the vendor's public key id for SDK initialization.
func (h *Handler) GetGatewayKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"key": h.gatewayKey})
}
