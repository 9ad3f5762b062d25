package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-fulfillment/internal/domain/checkout"
)

const (
	createPendingOrderSQL = `INSERT INTO pending_orders
		(intent_id, id, user_id, order_type, lines, total, amount_minor, contact, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	// The DELETE ... RETURNING is the settlement's exactly-once gate: it is
	// atomic at the store, so of N concurrent claims for one intent exactly
	// one sees the row.
	claimPendingOrderSQL = `DELETE FROM pending_orders WHERE intent_id = $1
		RETURNING intent_id, id, user_id, order_type, lines, total, amount_minor, contact, created_at`
)

var _ checkout.IntentRepository = (*IntentRepository)(nil)

// IntentRepository implements checkout.IntentRepository backed by PostgreSQL.
type IntentRepository struct {
	pool *pgxpool.Pool
}

// NewIntentRepository returns an IntentRepository that uses the given pool.
func NewIntentRepository(pool *pgxpool.Pool) *IntentRepository {
	return &IntentRepository{pool: pool}
}

// Create persists a pending order keyed by its gateway intent id. Lines and
// the contact snapshot are serialized to JSONB.
func (r *IntentRepository) Create(ctx context.Context, o *checkout.PendingOrder) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return errors.Wrap(err, "marshaling pending order lines")
	}
	contactJSON, err := json.Marshal(o.Contact)
	if err != nil {
		return errors.Wrap(err, "marshaling pending order contact")
	}

	_, err = r.pool.Exec(ctx, createPendingOrderSQL,
		o.IntentID, o.ID, o.UserID, string(o.Type),
		linesJSON, o.Total, o.AmountMinor, contactJSON, o.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "creating pending order for intent %q", o.IntentID)
	}
	return nil
}

// Claim atomically removes and returns the pending order for the intent id.
func (r *IntentRepository) Claim(ctx context.Context, intentID string) (*checkout.PendingOrder, error) {
	rows, err := r.pool.Query(ctx, claimPendingOrderSQL, intentID)
	if err != nil {
		return nil, errors.Wrapf(err, "claiming intent %q", intentID)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanPendingOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkout.ErrIntentNotFound
		}
		return nil, errors.Wrapf(err, "claiming intent %q", intentID)
	}
	return &o, nil
}

func scanPendingOrder(row pgx.CollectableRow) (checkout.PendingOrder, error) {
	var (
		o           checkout.PendingOrder
		orderType   string
		linesJSON   []byte
		contactJSON []byte
	)
	err := row.Scan(
		&o.IntentID, &o.ID, &o.UserID, &orderType,
		&linesJSON, &o.Total, &o.AmountMinor, &contactJSON, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}

	o.Type = checkout.OrderType(orderType)
	if err := json.Unmarshal(linesJSON, &o.Lines); err != nil {
		return o, errors.Wrap(err, "unmarshaling pending order lines")
	}
	if err := json.Unmarshal(contactJSON, &o.Contact); err != nil {
		return o, errors.Wrap(err, "unmarshaling pending order contact")
	}
	return o, nil
}
