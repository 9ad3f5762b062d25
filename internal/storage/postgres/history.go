package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-fulfillment/internal/domain/settlement"
)

// ON CONFLICT DO NOTHING gives the append set semantics: re-adding a product
// a user already purchased changes nothing.
const addPurchasesSQL = `INSERT INTO purchase_history (user_id, product_id)
	SELECT $1, unnest($2::text[])
	ON CONFLICT DO NOTHING`

const listPurchasesSQL = `SELECT product_id FROM purchase_history
	WHERE user_id = $1 ORDER BY added_at`

var _ settlement.HistoryRepository = (*HistoryRepository)(nil)

// HistoryRepository implements settlement.HistoryRepository backed by
// PostgreSQL.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository returns a HistoryRepository that uses the given pool.
func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

// AddPurchases appends product ids to the user's purchased set.
func (r *HistoryRepository) AddPurchases(ctx context.Context, userID string, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, addPurchasesSQL, userID, productIDs); err != nil {
		return errors.Wrapf(err, "adding purchases for user %q", userID)
	}
	return nil
}

// ListPurchases returns the user's purchased product ids in insertion order.
func (r *HistoryRepository) ListPurchases(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, listPurchasesSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "listing purchases for user %q", userID)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning purchase")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
