package checkout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// OrderType is the closed variant of what is being purchased. It is decided
// at intent-creation time and carried unchanged through settlement.
type OrderType string

const (
	// TypeSingle is a direct purchase of one product.
	TypeSingle OrderType = "single"
	// TypeCart is a purchase of the user's whole cart.
	TypeCart OrderType = "cart"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t == TypeSingle || t == TypeCart
}

// Line is an order line with the unit price locked in at checkout time.
// The price stored here, not anything in the later confirmation callback,
// is authoritative during settlement.
type Line struct {
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	Image     string          `json:"image,omitempty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
}

// Contact is the buyer's contact and shipping snapshot taken at checkout.
// Address is stored as-is; its shape belongs to the storefront.
type Contact struct {
	Name    string          `json:"name"`
	Email   string          `json:"email"`
	Address json.RawMessage `json:"address"`
}

// PendingOrder is a tentative order awaiting payment confirmation, tied 1:1
// to a gateway-issued intent id. It is immutable once created; its sole valid
// terminal transition is deletion-by-claim during settlement.
type PendingOrder struct {
	ID          string
	IntentID    string
	UserID      string
	Type        OrderType
	Lines       []Line
	Total       decimal.Decimal
	AmountMinor int64
	Contact     Contact
	CreatedAt   time.Time
}

// ErrIntentNotFound is returned by Claim when no pending order exists for the
// intent id: either it was never created or it has already been claimed.
var ErrIntentNotFound = errors.New("pending order not found for intent")

// IntentRepository persists pending orders keyed by gateway intent id.
type IntentRepository interface {
	Create(ctx context.Context, o *PendingOrder) error

	// Claim atomically removes and returns the pending order for intentID in
	// a single round trip. Under concurrent claims of the same intent exactly
	// one caller receives the order; the rest get ErrIntentNotFound.
	Claim(ctx context.Context, intentID string) (*PendingOrder, error)
}
