package settlement

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/notify"
)

// Service exposes settled-order queries and the administrative status
// workflow.
type Service struct {
	orders   Repository
	notifier notify.Dispatcher
	lg       *zap.Logger
}

// NewService creates a settlement Service.
func NewService(orders Repository, notifier notify.Dispatcher, lg *zap.Logger) *Service {
	return &Service{orders: orders, notifier: notifier, lg: lg}
}

// GetByID returns a settled order.
func (s *Service) GetByID(ctx context.Context, id string) (*SettledOrder, error) {
	return s.orders.GetByID(ctx, id)
}

// ListByUser returns a user's settled orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]SettledOrder, error) {
	return s.orders.ListByUser(ctx, userID)
}

// List returns settled orders for the admin view.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]SettledOrder, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Page <= 0 {
		opts.Page = 1
	}
	return s.orders.List(ctx, opts)
}

// AdvanceStatus moves an order to the next fulfillment status. Terminal
// states (delivered, cancelled) are refused by a conditional write, so a
// finished order can never move back. Each successful transition dispatches
// an order notification without blocking the caller.
func (s *Service) AdvanceStatus(ctx context.Context, orderID string, next Status) (*SettledOrder, error) {
	o, err := s.orders.UpdateStatus(ctx, orderID, next)
	if err != nil {
		return nil, errors.Wrapf(err, "advance order %s", orderID)
	}

	bg := context.WithoutCancel(ctx)
	subject := fmt.Sprintf("Order %s: %s", o.ID, o.Status)
	go s.notifier.Send(bg, o.Contact.Email, subject, orderBody(o))

	return o, nil
}
