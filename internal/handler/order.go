package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain/checkout"
	"github.com/xenking/kart-fulfillment/internal/domain/settlement"
)

type orderResponse struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	Type             string          `json:"type"`
	Lines            []checkout.Line `json:"lines"`
	Total            float64         `json:"total"`
	Contact          contactRequest  `json:"contact"`
	PaymentID        string          `json:"paymentId"`
	OrderStatus      string          `json:"orderStatus"`
	ExpectedDelivery time.Time       `json:"expectedDelivery"`
	SettledAt        time.Time       `json:"settledAt"`
}

func toOrderResponse(o *settlement.SettledOrder) orderResponse {
	return orderResponse{
		ID:     o.ID,
		UserID: o.UserID,
		Type:   string(o.Type),
		Lines:  o.Lines,
		Total:  o.Total.InexactFloat64(),
		Contact: contactRequest{
			Name:    o.Contact.Name,
			Email:   o.Contact.Email,
			Address: o.Contact.Address,
		},
		PaymentID:        o.PaymentID,
		OrderStatus:      string(o.Status),
		ExpectedDelivery: o.ExpectedDelivery,
		SettledAt:        o.SettledAt,
	}
}

// GetOrder returns a settled order by id.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, settlement.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "order not found")
			return
		}
		internalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toOrderResponse(o))
}

// ListUserOrders returns the caller's settled orders, newest first.
func (h *Handler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("userID")
	if uid := userID(r); uid == "" || uid != target {
		writeError(w, r, http.StatusForbidden, "cannot list another user's orders")
		return
	}

	orders, err := h.orders.ListByUser(r.Context(), target)
	if err != nil {
		internalError(w, r, err)
		return
	}

	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	writeJSON(w, r, http.StatusOK, out)
}

// ListOrders returns settled orders for the admin view, with optional status
// filter, sorting, and pagination.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := settlement.ListOptions{Sort: q.Get("sort")}

	if s := q.Get("status"); s != "" {
		status, err := settlement.ParseStatus(s)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid status filter")
			return
		}
		opts.Status = status
	}
	if p, err := strconv.Atoi(q.Get("page")); err == nil {
		opts.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = l
	}

	orders, err := h.orders.List(r.Context(), opts)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if len(orders) == 0 {
		writeError(w, r, http.StatusNotFound, "no orders found")
		return
	}

	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	writeJSON(w, r, http.StatusOK, out)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus advances an order's fulfillment status.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, r, http.StatusBadRequest, "status is required")
		return
	}

	next, err := settlement.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid status")
		return
	}

	o, err := h.orders.AdvanceStatus(r.Context(), r.PathValue("id"), next)
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "order not found")
		case errors.Is(err, settlement.ErrStatusFinal):
			writeError(w, r, http.StatusConflict, "order status is final")
		default:
			internalError(w, r, err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, toOrderResponse(o))
}
