// Package gateway wraps the external payment vendor's REST API in a typed
// client and owns the confirmation signature check.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
)

// ErrUnavailable is returned when the vendor cannot be reached or responds
// with a server error. It is retryable: nothing has been persisted when the
// caller sees it.
var ErrUnavailable = errors.New("payment gateway unavailable")

// Intent is a vendor-issued payment intent. Amount echoes what the vendor
// accepted, in minor currency units.
type Intent struct {
	ID          string
	AmountMinor int64
	Currency    string
}

// Client opens payment intents against the vendor.
type Client interface {
	OpenIntent(ctx context.Context, amountMinor int64, currency, receipt string) (*Intent, error)
}

// Verifier validates inbound payment confirmations.
type Verifier interface {
	// VerifyConfirmation recomputes the HMAC-SHA256 of "intentID|paymentID"
	// with the shared secret and compares it against signature in constant
	// time. It reports false on any mismatch or malformed signature.
	VerifyConfirmation(intentID, paymentID, signature string) bool
}

// Config holds the vendor credentials and endpoint for an HTTPClient.
type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// HTTPClient implements Client and Verifier against the vendor's REST API.
// Credentials are injected at construction; nothing is read from the process
// environment.
type HTTPClient struct {
	base   string
	keyID  string
	secret []byte
	http   *http.Client
}

var (
	_ Client   = (*HTTPClient)(nil)
	_ Verifier = (*HTTPClient)(nil)
)

// NewHTTPClient constructs a gateway client. A zero timeout defaults to 10s.
func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		base:   cfg.BaseURL,
		keyID:  cfg.KeyID,
		secret: []byte(cfg.KeySecret),
		http:   &http.Client{Timeout: timeout},
	}
}

// KeyID returns the public key identifier for browser SDK initialization.
func (c *HTTPClient) KeyID() string {
	return c.keyID
}

type createIntentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type createIntentResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// OpenIntent creates a payment intent for the given amount. Transport
// failures, timeouts, and vendor 5xx responses surface as ErrUnavailable.
// A success without a vendor-issued intent id is treated as a failure.
func (c *HTTPClient) OpenIntent(ctx context.Context, amountMinor int64, currency, receipt string) (*Intent, error) {
	body, err := json.Marshal(createIntentRequest{
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receipt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal intent request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build intent request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, string(c.secret))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, errors.Wrapf(ErrUnavailable, "vendor returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Errorf("create intent rejected: %d: %s", resp.StatusCode, raw)
	}

	var out createIntentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(ErrUnavailable, "decode intent response")
	}
	if out.ID == "" {
		return nil, errors.Wrap(ErrUnavailable, "vendor response missing intent id")
	}

	intent := &Intent{ID: out.ID, AmountMinor: out.Amount, Currency: out.Currency}
	if intent.Currency == "" {
		intent.Currency = currency
	}
	return intent, nil
}

// VerifyConfirmation implements Verifier. The signed payload is
// "intentID|paymentID", matching what the vendor signs on its side.
func (c *HTTPClient) VerifyConfirmation(intentID, paymentID, signature string) bool {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(intentID + "|" + paymentID))
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expected, provided) == 1
}
