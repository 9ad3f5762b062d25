package cart

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a user has no cart lines.
var ErrNotFound = errors.New("cart not found")

// Line is a single product entry in a user's cart.
type Line struct {
	ProductID string
	Size      string
	Color     string
	Quantity  int
}

// Cart holds all lines for one user. A user has at most one cart.
type Cart struct {
	UserID string
	Lines  []Line
}

// Repository defines persistence operations for carts.
//
// Clear is delete-if-exists: clearing an absent cart is a no-op, which keeps
// the settlement compensations safe to re-run.
type Repository interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	AddLine(ctx context.Context, userID string, line Line) error
	Clear(ctx context.Context, userID string) error
}
