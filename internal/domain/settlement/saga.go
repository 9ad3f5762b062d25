package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/checkout"
	"github.com/xenking/kart-fulfillment/internal/gateway"
	"github.com/xenking/kart-fulfillment/internal/notify"
)

// deliveryWindow is added to the settlement time to derive the expected
// delivery date shown to the customer.
const deliveryWindow = 5 * 24 * time.Hour

var (
	// ErrSignature is returned when the confirmation signature does not match.
	// Nothing is mutated.
	ErrSignature = errors.New("confirmation signature mismatch")
	// ErrBadConfirmation is returned when the confirmation is missing fields.
	ErrBadConfirmation = errors.New("confirmation requires intent id, payment id, and signature")
)

// Confirmation is an inbound payment confirmation from the gateway, delivered
// via webhook or browser redirect; both paths are handled identically.
// Raw is the full callback payload and is retained on the settled order.
type Confirmation struct {
	IntentID  string
	PaymentID string
	Signature string
	Raw       []byte
}

// Result is the outcome of a confirmation.
//
// AlreadyClaimed means a previous delivery of the same confirmation won the
// claim; the caller must acknowledge it as success, since the payment itself
// genuinely succeeded.
type Result struct {
	OrderID        string
	AlreadyClaimed bool
	FailedEffects  []Effect
}

// Saga drives a payment confirmation through verification, the exactly-once
// claim of the pending order, settled-order creation, and the compensating
// inventory, purchase-history, and cart writes.
//
// The saga holds no state between calls; concurrent and duplicate deliveries
// are serialized entirely by the claim, which is a single atomic round trip
// to the store.
type Saga struct {
	verifier gateway.Verifier
	intents  checkout.IntentRepository
	orders   Repository
	effects  effectRunner
	notifier notify.Dispatcher
	lg       *zap.Logger
	now      func() time.Time
}

// NewSaga creates a settlement Saga.
func NewSaga(
	verifier gateway.Verifier,
	intents checkout.IntentRepository,
	orders Repository,
	history HistoryRepository,
	carts cart.Repository,
	notifier notify.Dispatcher,
	lg *zap.Logger,
) *Saga {
	return &Saga{
		verifier: verifier,
		intents:  intents,
		orders:   orders,
		effects:  effectRunner{orders: orders, history: history, carts: carts, lg: lg},
		notifier: notifier,
		lg:       lg,
		now:      time.Now,
	}
}

// ConfirmPayment settles the order for a verified confirmation.
//
// The claim is the exactly-once gate: of N concurrent deliveries for one
// intent, exactly one caller receives the pending order; the rest observe an
// existing settled order and return AlreadyClaimed without side effects.
// Once the settled order is written, failures in the compensating writes are
// recorded on the order and alerted, never rolled back: the customer has paid.
func (s *Saga) ConfirmPayment(ctx context.Context, conf Confirmation) (*Result, error) {
	if conf.IntentID == "" || conf.PaymentID == "" || conf.Signature == "" {
		return nil, ErrBadConfirmation
	}

	if !s.verifier.VerifyConfirmation(conf.IntentID, conf.PaymentID, conf.Signature) {
		return nil, ErrSignature
	}

	claimed, err := s.intents.Claim(ctx, conf.IntentID)
	if err != nil {
		if !errors.Is(err, checkout.ErrIntentNotFound) {
			return nil, errors.Wrap(err, "claim pending order")
		}

		existing, lookupErr := s.orders.GetByIntentID(ctx, conf.IntentID)
		if lookupErr == nil {
			return &Result{OrderID: existing.ID, AlreadyClaimed: true}, nil
		}
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, errors.Wrap(lookupErr, "lookup settled order")
		}
		return nil, checkout.ErrIntentNotFound
	}

	settledAt := s.now()
	o := &SettledOrder{
		ID:               claimed.ID,
		IntentID:         claimed.IntentID,
		UserID:           claimed.UserID,
		Type:             claimed.Type,
		Lines:            claimed.Lines,
		Total:            claimed.Total,
		AmountMinor:      claimed.AmountMinor,
		Contact:          claimed.Contact,
		PaymentID:        conf.PaymentID,
		Confirmation:     confirmationPayload(conf),
		Status:           StatusPending,
		PendingEffects:   nil,
		ExpectedDelivery: settledAt.Add(deliveryWindow),
		SettledAt:        settledAt,
	}
	o.PendingEffects = allEffects(o)

	if err := s.orders.Create(ctx, o); err != nil {
		// The claim is consumed but the settled order is not recorded: the
		// payment exists with no order. This needs operator attention.
		s.lg.Error("settled order write failed after claim",
			zap.String("intent_id", conf.IntentID),
			zap.String("order_id", claimed.ID),
			zap.Error(err))
		return nil, errors.Wrap(err, "create settled order")
	}

	done, failed := s.effects.run(ctx, o, o.PendingEffects)
	if len(done) > 0 {
		if err := s.orders.ClearEffects(ctx, o.ID, done); err != nil {
			// Bookkeeping write failed. Inventory effects were retired
			// together with their decrement, so only the idempotent history
			// and cart effects stay pending for the reconciler.
			s.lg.Error("clearing completed effects failed",
				zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	if len(failed) > 0 {
		s.lg.Error("settlement partially failed",
			zap.String("order_id", o.ID),
			zap.String("intent_id", o.IntentID),
			zap.Any("failed_effects", failed))
	}

	s.dispatchConfirmation(ctx, o)

	return &Result{OrderID: o.ID, FailedEffects: failed}, nil
}

// dispatchConfirmation notifies the buyer without blocking the caller's
// acknowledgment to the gateway.
func (s *Saga) dispatchConfirmation(ctx context.Context, o *SettledOrder) {
	bg := context.WithoutCancel(ctx)
	go s.notifier.Send(bg, o.Contact.Email, "Order Confirmation", orderBody(o))
}

// confirmationPayload returns the raw callback payload when it is valid JSON,
// or a minimal synthesized document otherwise, so the stored column is always
// well-formed.
func confirmationPayload(conf Confirmation) []byte {
	if len(conf.Raw) > 0 {
		d := jx.DecodeBytes(conf.Raw)
		if err := d.Skip(); err == nil {
			return conf.Raw
		}
	}
	raw, _ := json.Marshal(map[string]string{
		"intentId":  conf.IntentID,
		"paymentId": conf.PaymentID,
	})
	return raw
}

// orderBody is the plain notification body; real email rendering happens in
// the external mail pipeline.
func orderBody(o *SettledOrder) string {
	return fmt.Sprintf(
		"<p>Order %s is confirmed. Total: %s. Expected delivery: %s.</p>",
		o.ID, o.Total.StringFixed(2), o.ExpectedDelivery.Format("02 Jan 2006"),
	)
}
