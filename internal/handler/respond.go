package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// errorResponse is the JSON error envelope for all API errors.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zctx.From(r.Context()).Debug("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, errorResponse{Code: status, Message: message})
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("request failed", zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "internal server error")
}

// userID returns the authenticated user's id. User authentication happens at
// the fronting proxy; the proxy-verified identity arrives as a header.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}
