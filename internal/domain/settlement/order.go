package settlement

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/checkout"
)

// Status is the fulfillment state of a settled order. It is mutated by staff
// after settlement; delivered and cancelled are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// ErrInvalidStatus is returned when a status string is not recognized.
var ErrInvalidStatus = errors.New("invalid order status")

// ParseStatus normalizes and validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(s)); st {
	case StatusPending, StatusProcessing, StatusDelivered, StatusCancelled:
		return st, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Effect names a settlement side effect that is still outstanding. Inventory
// effects carry the product id so a partially applied batch is repaired per
// line rather than re-decrementing lines that already went through.
type Effect string

const (
	// EffectHistory is the purchase-history set-union append.
	EffectHistory Effect = "history"
	// EffectCart is the cart deletion for cart-type orders.
	EffectCart Effect = "cart"

	inventoryPrefix = "inventory:"
)

// InventoryEffect builds the per-line inventory effect name.
func InventoryEffect(productID string) Effect {
	return Effect(inventoryPrefix + productID)
}

// InventoryProduct returns the product id for an inventory effect, or ""
// when e is not an inventory effect.
func (e Effect) InventoryProduct() string {
	return strings.TrimPrefix(string(e), inventoryPrefix)
}

// IsInventory reports whether e is a per-line inventory effect.
func (e Effect) IsInventory() bool {
	return strings.HasPrefix(string(e), inventoryPrefix)
}

// SettledOrder is the durable record of a paid order. It is created exactly
// once from a claimed pending order and never deleted. PendingEffects lists
// the compensating writes that have not yet been applied; an empty list means
// the settlement is fully complete.
type SettledOrder struct {
	ID               string
	IntentID         string
	UserID           string
	Type             checkout.OrderType
	Lines            []checkout.Line
	Total            decimal.Decimal
	AmountMinor      int64
	Contact          checkout.Contact
	PaymentID        string
	Confirmation     []byte
	Status           Status
	PendingEffects   []Effect
	ExpectedDelivery time.Time
	SettledAt        time.Time
}

var (
	// ErrNotFound is returned when a settled order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrStatusFinal is returned when advancing a delivered or cancelled order.
	ErrStatusFinal = errors.New("order status is final")
)

// ListOptions filters and paginates the administrative order listing.
type ListOptions struct {
	Status Status
	Sort   string // newest (default), oldest, price-asc, price-desc
	Page   int
	Limit  int
}

// InventoryOutcome reports how an atomic inventory application ended.
type InventoryOutcome int

const (
	// InventoryApplied means the stock decrement went through and the
	// pending effect was retired in the same atomic unit.
	InventoryApplied InventoryOutcome = iota
	// InventoryAlreadyApplied means the effect was no longer pending, so
	// nothing was decremented: an earlier application already went through.
	InventoryAlreadyApplied
	// InventoryInsufficient means stock could not cover the line. Nothing
	// was mutated and the effect stays pending.
	InventoryInsufficient
)

// Repository defines persistence operations for settled orders.
type Repository interface {
	Create(ctx context.Context, o *SettledOrder) error
	GetByID(ctx context.Context, id string) (*SettledOrder, error)
	GetByIntentID(ctx context.Context, intentID string) (*SettledOrder, error)
	ListByUser(ctx context.Context, userID string) ([]SettledOrder, error)
	List(ctx context.Context, opts ListOptions) ([]SettledOrder, error)

	// UpdateStatus advances the status in one conditional write that refuses
	// terminal states. Returns ErrStatusFinal when the order exists but is
	// already delivered or cancelled.
	UpdateStatus(ctx context.Context, id string, next Status) (*SettledOrder, error)

	// ApplyInventory decrements stock for one order line and retires its
	// pending inventory effect as a single atomic unit. The decrement is
	// conditional (it refuses amounts the current stock cannot cover) and
	// only happens while the effect is still pending, so a line is never
	// charged against stock twice no matter how often it is re-driven.
	ApplyInventory(ctx context.Context, orderID, productID string, quantity int) (InventoryOutcome, error)

	// ClearEffects removes the given effects from the order's pending set.
	ClearEffects(ctx context.Context, id string, effects []Effect) error

	// ListPendingEffects returns orders with outstanding effects, oldest
	// first, for the reconciliation pass.
	ListPendingEffects(ctx context.Context, limit int) ([]SettledOrder, error)
}

// HistoryRepository appends to a user's purchased-product set. The append is
// set-union: duplicates are silently ignored, so it is safe to re-run.
type HistoryRepository interface {
	AddPurchases(ctx context.Context, userID string, productIDs []string) error
}
