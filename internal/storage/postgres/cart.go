package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-fulfillment/internal/domain/cart"
)

const (
	getCartSQL = `SELECT product_id, size, color, quantity
		FROM cart_lines WHERE user_id = $1 ORDER BY added_at`

	addCartLineSQL = `INSERT INTO cart_lines (user_id, product_id, size, color, quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, product_id, size, color)
		DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity`

	clearCartSQL = `DELETE FROM cart_lines WHERE user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the user's cart. A user with no lines has no cart.
func (r *CartRepository) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	rows, err := r.pool.Query(ctx, getCartSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "getting cart for user %q", userID)
	}

	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.ProductID, &l.Size, &l.Color, &l.Quantity)
		return l, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scanning cart for user %q", userID)
	}
	if len(lines) == 0 {
		return nil, cart.ErrNotFound
	}

	return &cart.Cart{UserID: userID, Lines: lines}, nil
}

// AddLine inserts a cart line, merging quantities when the same
// product/size/color combination is already present.
func (r *CartRepository) AddLine(ctx context.Context, userID string, line cart.Line) error {
	_, err := r.pool.Exec(ctx, addCartLineSQL,
		userID, line.ProductID, line.Size, line.Color, line.Quantity,
	)
	if err != nil {
		return errors.Wrapf(err, "adding cart line for user %q", userID)
	}
	return nil
}

// Clear deletes all of the user's cart lines. Clearing an absent cart is a
// no-op, never an error.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, clearCartSQL, userID); err != nil {
		return errors.Wrapf(err, "clearing cart for user %q", userID)
	}
	return nil
}
