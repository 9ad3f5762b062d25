package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
)

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API keys
// carried in the api_key header.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// authenticate computes the HMAC-SHA256 of the presented API key, looks it up,
// and performs a constant-time comparison against the stored hash.
func (s *SecurityHandler) authenticate(r *http.Request) (*auth.APIKeyInfo, error) {
	key := r.Header.Get("api_key")
	if key == "" {
		return nil, errors.New("missing api key")
	}

	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := s.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
	if err != nil {
		return nil, errors.New("unauthorized")
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, errors.New("unauthorized")
	}
	if subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, errors.New("unauthorized")
	}
	return info, nil
}

// RequireScope guards a handler behind API-key authentication with the given
// scope.
func (s *SecurityHandler) RequireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := s.authenticate(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !info.HasScope(scope) {
			writeError(w, r, http.StatusForbidden, "insufficient scope")
			return
		}
		next(w, r)
	}
}
