package settlement

import (
	"context"

	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/checkout"
)

// allEffects lists every effect a fresh settlement must apply.
func allEffects(o *SettledOrder) []Effect {
	effects := make([]Effect, 0, len(o.Lines)+2)
	for _, l := range o.Lines {
		effects = append(effects, InventoryEffect(l.ProductID))
	}
	effects = append(effects, EffectHistory)
	if o.Type == checkout.TypeCart {
		effects = append(effects, EffectCart)
	}
	return effects
}

// effectRunner drives the compensating writes of a settlement. Re-running
// the pending subset is safe: an inventory decrement retires its pending
// effect in the same atomic write, the history append is a set-union, and
// the cart delete is a no-op when absent.
type effectRunner struct {
	orders  Repository
	history HistoryRepository
	carts   cart.Repository
	lg      *zap.Logger
}

// run applies the pending effects for o and returns the ones that completed
// and the ones still outstanding. It never aborts early: a failed effect does
// not prevent the remaining ones from being attempted. Completed inventory
// effects are already retired in the store when run returns; passing them to
// ClearEffects again is a no-op.
func (r *effectRunner) run(ctx context.Context, o *SettledOrder, pending []Effect) (done, failed []Effect) {
	lineByProduct := make(map[string]checkout.Line, len(o.Lines))
	for _, l := range o.Lines {
		lineByProduct[l.ProductID] = l
	}

	for _, e := range pending {
		if !e.IsInventory() {
			continue
		}
		l, ok := lineByProduct[e.InventoryProduct()]
		if !ok {
			// Effect references a product the order does not carry; nothing
			// to apply, treat as complete.
			done = append(done, e)
			continue
		}

		outcome, err := r.orders.ApplyInventory(ctx, o.ID, l.ProductID, l.Quantity)
		switch {
		case err != nil:
			r.lg.Error("inventory decrement failed",
				zap.String("order_id", o.ID),
				zap.String("product_id", l.ProductID),
				zap.Error(err))
			failed = append(failed, e)
		case outcome == InventoryInsufficient:
			r.lg.Error("inventory decrement rejected",
				zap.String("order_id", o.ID),
				zap.String("product_id", l.ProductID),
				zap.Int("requested", l.Quantity))
			failed = append(failed, e)
		default:
			// Applied now, or already applied by an earlier run.
			done = append(done, e)
		}
	}

	for _, e := range pending {
		switch e {
		case EffectHistory:
			ids := make([]string, len(o.Lines))
			for i, l := range o.Lines {
				ids[i] = l.ProductID
			}
			if err := r.history.AddPurchases(ctx, o.UserID, ids); err != nil {
				r.lg.Error("purchase history append failed",
					zap.String("order_id", o.ID), zap.Error(err))
				failed = append(failed, EffectHistory)
				continue
			}
			done = append(done, EffectHistory)
		case EffectCart:
			if err := r.carts.Clear(ctx, o.UserID); err != nil {
				r.lg.Error("cart clear failed",
					zap.String("order_id", o.ID), zap.Error(err))
				failed = append(failed, EffectCart)
				continue
			}
			done = append(done, EffectCart)
		}
	}

	return done, failed
}
