// Package handler exposes the fulfillment core over a thin JSON HTTP surface.
package handler

import (
	"net/http"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/checkout"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
	"github.com/xenking/kart-fulfillment/internal/domain/settlement"
)

// Handler wires the domain services to HTTP routes.
type Handler struct {
	products   product.Repository
	carts      cart.Repository
	checkout   *checkout.Service
	saga       *settlement.Saga
	orders     *settlement.Service
	security   *SecurityHandler
	gatewayKey string
}

// NewHandler constructs a Handler with the required domain dependencies.
// gatewayKey is the vendor's public key id, exposed for the browser SDK.
func NewHandler(
	products product.Repository,
	carts cart.Repository,
	checkoutSvc *checkout.Service,
	saga *settlement.Saga,
	orders *settlement.Service,
	security *SecurityHandler,
	gatewayKey string,
) *Handler {
	return &Handler{
		products:   products,
		carts:      carts,
		checkout:   checkoutSvc,
		saga:       saga,
		orders:     orders,
		security:   security,
		gatewayKey: gatewayKey,
	}
}

// Register mounts all API routes on the mux. The payment verification route
// serves both the gateway webhook and the browser redirect: the two delivery
// paths are intentionally the same handler.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)

	mux.HandleFunc("GET /api/cart", h.GetCart)
	mux.HandleFunc("POST /api/cart/items", h.AddCartLine)
	mux.HandleFunc("DELETE /api/cart", h.ClearCart)

	mux.HandleFunc("POST /api/checkout", h.BeginCheckout)
	mux.HandleFunc("POST /api/payment/verify", h.VerifyPayment)
	mux.HandleFunc("GET /api/payment/key", h.GetGatewayKey)

	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("GET /api/orders/user/{userID}", h.ListUserOrders)
	mux.HandleFunc("GET /api/orders", h.security.RequireScope(auth.ScopeAdmin, h.ListOrders))
	mux.HandleFunc("PUT /api/orders/{id}/status", h.security.RequireScope(auth.ScopeAdmin, h.UpdateOrderStatus))
}
