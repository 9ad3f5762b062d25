package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain/checkout"
	"github.com/xenking/kart-fulfillment/internal/domain/settlement"
)

// maxConfirmationBody bounds the webhook payload we are willing to retain.
const maxConfirmationBody = 64 << 10

type verifyRequest struct {
	IntentID  string `json:"intentId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

type verifyResponse struct {
	Success        bool   `json:"success"`
	OrderID        string `json:"orderId,omitempty"`
	AlreadyClaimed bool   `json:"alreadyClaimed,omitempty"`
}

// VerifyPayment handles the gateway's payment confirmation, delivered either
// as a webhook or as the browser redirect. Duplicate deliveries are
// acknowledged as success so the gateway stops retrying a confirmation that
// already settled. A partially failed settlement is still acknowledged: the
// claim committed and repair is forward-only.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxConfirmationBody))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unreadable request body")
		return
	}

	var req verifyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.saga.ConfirmPayment(r.Context(), settlement.Confirmation{
		IntentID:  req.IntentID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
		Raw:       raw,
	})
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrBadConfirmation):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, settlement.ErrSignature):
			writeJSON(w, r, http.StatusBadRequest, map[string]bool{
				"success":          false,
				"signatureIsValid": false,
			})
		case errors.Is(err, checkout.ErrIntentNotFound):
			writeError(w, r, http.StatusBadRequest, "session timeout")
		default:
			internalError(w, r, err)
		}
		return
	}

	writeJSON(w, r, http.StatusOK, verifyResponse{
		Success:        true,
		OrderID:        result.OrderID,
		AlreadyClaimed: result.AlreadyClaimed,
	})
}
