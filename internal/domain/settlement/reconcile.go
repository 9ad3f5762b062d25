package settlement

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/cart"
)

// Reconciler forward-repairs partially failed settlements. It re-drives only
// the effects still recorded as pending on each settled order; repeated
// passes are safe because an inventory decrement retires its pending effect
// atomically and the remaining effects are idempotent.
type Reconciler struct {
	orders  Repository
	effects effectRunner
	lg      *zap.Logger
	batch   int
}

// NewReconciler creates a Reconciler processing up to batch orders per pass.
func NewReconciler(
	orders Repository,
	history HistoryRepository,
	carts cart.Repository,
	lg *zap.Logger,
	batch int,
) *Reconciler {
	if batch <= 0 {
		batch = 50
	}
	return &Reconciler{
		orders:  orders,
		effects: effectRunner{orders: orders, history: history, carts: carts, lg: lg},
		lg:      lg,
		batch:   batch,
	}
}

// Run performs one reconciliation pass and returns how many orders were fully
// repaired. Effects that still fail stay pending for the next pass.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	pending, err := r.orders.ListPendingEffects(ctx, r.batch)
	if err != nil {
		return 0, errors.Wrap(err, "list orders with pending effects")
	}

	repaired := 0
	for i := range pending {
		o := &pending[i]

		done, failed := r.effects.run(ctx, o, o.PendingEffects)
		if len(done) > 0 {
			if err := r.orders.ClearEffects(ctx, o.ID, done); err != nil {
				r.lg.Error("clearing reconciled effects failed",
					zap.String("order_id", o.ID), zap.Error(err))
				continue
			}
		}
		if len(failed) == 0 {
			repaired++
			r.lg.Info("settlement repaired",
				zap.String("order_id", o.ID),
				zap.Int("effects", len(done)))
		}
	}
	return repaired, nil
}
