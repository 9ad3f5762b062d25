package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-fulfillment/internal/domain/checkout"
	"github.com/xenking/kart-fulfillment/internal/domain/settlement"
)

const (
	orderColumns = `id, intent_id, user_id, order_type, lines, total, amount_minor,
		contact, payment_id, confirmation, order_status, pending_effects,
		expected_delivery, settled_at`

	createOrderSQL = `INSERT INTO orders
		(id, intent_id, user_id, order_type, lines, total, amount_minor,
		 contact, payment_id, confirmation, order_status, pending_effects,
		 expected_delivery, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByIntentSQL = `SELECT ` + orderColumns + ` FROM orders WHERE intent_id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY settled_at DESC`

	// Refusing terminal states in the WHERE clause makes the transition a
	// single conditional write: a delivered or cancelled order never matches.
	updateStatusSQL = `UPDATE orders SET order_status = $2
		WHERE id = $1 AND order_status NOT IN ('delivered', 'cancelled')
		RETURNING ` + orderColumns

	getStatusSQL = `SELECT order_status FROM orders WHERE id = $1`

	// The conditional decrement is the oversell guard: quantity and
	// purchased_count move together in one statement, and the WHERE clause
	// refuses decrements the current stock cannot cover.
	decrementStockSQL = `UPDATE products
		SET quantity = quantity - $2, purchased_count = purchased_count + $2
		WHERE id = $1 AND quantity >= $2
		RETURNING quantity`

	retireEffectSQL = `UPDATE orders SET pending_effects = array_remove(pending_effects, $2)
		WHERE id = $1 AND $2 = ANY(pending_effects)`

	clearEffectsSQL = `UPDATE orders SET pending_effects = (
			SELECT COALESCE(array_agg(e), '{}')
			FROM unnest(pending_effects) AS e
			WHERE e <> ALL($2::text[])
		) WHERE id = $1`

	listPendingEffectsSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE pending_effects <> '{}' ORDER BY settled_at LIMIT $1`
)

var _ settlement.Repository = (*OrderRepository)(nil)

// OrderRepository implements settlement.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a settled order. The intent_id unique constraint backs the
// at-most-one-settlement invariant even if a claim were ever replayed.
func (r *OrderRepository) Create(ctx context.Context, o *settlement.SettledOrder) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return errors.Wrap(err, "marshaling order lines")
	}
	contactJSON, err := json.Marshal(o.Contact)
	if err != nil {
		return errors.Wrap(err, "marshaling order contact")
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.IntentID, o.UserID, string(o.Type),
		linesJSON, o.Total, o.AmountMinor, contactJSON,
		o.PaymentID, o.Confirmation, string(o.Status), effectStrings(o.PendingEffects),
		o.ExpectedDelivery, o.SettledAt,
	)
	if err != nil {
		return errors.Wrapf(err, "creating order %q", o.ID)
	}
	return nil
}

// GetByID returns a settled order by its identifier.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*settlement.SettledOrder, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByIntentID returns the settled order created from the given intent.
func (r *OrderRepository) GetByIntentID(ctx context.Context, intentID string) (*settlement.SettledOrder, error) {
	return r.getOne(ctx, getOrderByIntentSQL, intentID)
}

func (r *OrderRepository) getOne(ctx context.Context, sql, arg string) (*settlement.SettledOrder, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrapf(err, "getting order %q", arg)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanSettledOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settlement.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting order %q", arg)
	}
	return &o, nil
}

// ListByUser returns a user's settled orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]settlement.SettledOrder, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "listing orders for user %q", userID)
	}
	return pgx.CollectRows(rows, scanSettledOrder)
}

// List returns settled orders filtered and sorted for the admin view. The
// ORDER BY clause is chosen from a fixed set; nothing user-supplied is
// interpolated into the SQL.
func (r *OrderRepository) List(ctx context.Context, opts settlement.ListOptions) ([]settlement.SettledOrder, error) {
	var orderBy string
	switch opts.Sort {
	case "oldest":
		orderBy = "settled_at ASC"
	case "price-asc":
		orderBy = "total ASC"
	case "price-desc":
		orderBy = "total DESC"
	default:
		orderBy = "settled_at DESC"
	}

	where := ""
	args := []any{opts.Limit, (opts.Page - 1) * opts.Limit}
	if opts.Status != "" {
		where = "WHERE order_status = $3"
		args = append(args, string(opts.Status))
	}

	sql := fmt.Sprintf(`SELECT %s FROM orders %s ORDER BY %s LIMIT $1 OFFSET $2`,
		orderColumns, where, orderBy)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing orders")
	}
	return pgx.CollectRows(rows, scanSettledOrder)
}

// UpdateStatus advances the order status unless it is already terminal.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, next settlement.Status) (*settlement.SettledOrder, error) {
	rows, err := r.pool.Query(ctx, updateStatusSQL, id, string(next))
	if err != nil {
		return nil, errors.Wrapf(err, "updating status of order %q", id)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanSettledOrder)
	if err == nil {
		return &o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(err, "updating status of order %q", id)
	}

	// No row matched: distinguish a missing order from a terminal one.
	var current string
	err = r.pool.QueryRow(ctx, getStatusSQL, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, settlement.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "checking status of order %q", id)
	}
	return nil, settlement.ErrStatusFinal
}

// ApplyInventory retires the order's pending inventory effect and applies
// the conditional stock decrement in one transaction. The effect update
// locks the order row, so concurrent appliers (a confirmation delivery and a
// reconciliation pass, say) serialize: the loser re-reads the row after
// commit, finds the effect gone, and decrements nothing. A decrement the
// stock cannot cover rolls the transaction back, leaving the effect pending.
func (r *OrderRepository) ApplyInventory(ctx context.Context, orderID, productID string, quantity int) (settlement.InventoryOutcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "begin inventory transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, retireEffectSQL, orderID, string(settlement.InventoryEffect(productID)))
	if err != nil {
		return 0, errors.Wrapf(err, "retiring inventory effect of order %q", orderID)
	}
	if tag.RowsAffected() == 0 {
		return settlement.InventoryAlreadyApplied, nil
	}

	var newQuantity int
	if err := tx.QueryRow(ctx, decrementStockSQL, productID, quantity).Scan(&newQuantity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settlement.InventoryInsufficient, nil
		}
		return 0, errors.Wrapf(err, "decrementing product %q", productID)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit inventory transaction")
	}
	return settlement.InventoryApplied, nil
}

// ClearEffects removes the given effects from the order's pending set.
func (r *OrderRepository) ClearEffects(ctx context.Context, id string, effects []settlement.Effect) error {
	if len(effects) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, clearEffectsSQL, id, effectStrings(effects))
	if err != nil {
		return errors.Wrapf(err, "clearing effects of order %q", id)
	}
	return nil
}

// ListPendingEffects returns orders with outstanding effects, oldest first.
func (r *OrderRepository) ListPendingEffects(ctx context.Context, limit int) ([]settlement.SettledOrder, error) {
	rows, err := r.pool.Query(ctx, listPendingEffectsSQL, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing orders with pending effects")
	}
	return pgx.CollectRows(rows, scanSettledOrder)
}

func effectStrings(effects []settlement.Effect) []string {
	out := make([]string, len(effects))
	for i, e := range effects {
		out[i] = string(e)
	}
	return out
}

func scanSettledOrder(row pgx.CollectableRow) (settlement.SettledOrder, error) {
	var (
		o           settlement.SettledOrder
		orderType   string
		status      string
		linesJSON   []byte
		contactJSON []byte
		effects     []string
	)
	err := row.Scan(
		&o.ID, &o.IntentID, &o.UserID, &orderType,
		&linesJSON, &o.Total, &o.AmountMinor, &contactJSON,
		&o.PaymentID, &o.Confirmation, &status, &effects,
		&o.ExpectedDelivery, &o.SettledAt,
	)
	if err != nil {
		return o, err
	}

	o.Type = checkout.OrderType(orderType)
	o.Status = settlement.Status(status)
	o.PendingEffects = make([]settlement.Effect, len(effects))
	for i, e := range effects {
		o.PendingEffects[i] = settlement.Effect(e)
	}
	if len(o.PendingEffects) == 0 {
		o.PendingEffects = nil
	}
	if err := json.Unmarshal(linesJSON, &o.Lines); err != nil {
		return o, errors.Wrap(err, "unmarshaling order lines")
	}
	if err := json.Unmarshal(contactJSON, &o.Contact); err != nil {
		return o, errors.Wrap(err, "unmarshaling order contact")
	}
	return o, nil
}
