package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
	"github.com/xenking/kart-fulfillment/internal/gateway"
)

// Sentinel errors for checkout validation.
var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidType     = errors.New("order type must be single or cart")
	ErrContactRequired = errors.New("contact name and email are required")
)

// InvalidQuantityError indicates a non-positive requested quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// OutOfStockError indicates available stock does not cover a requested line.
type OutOfStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %s out of stock: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Request holds the input for beginning a checkout. For TypeSingle the
// ProductID/Quantity pair identifies the purchase; for TypeCart the user's
// current cart is priced.
type Request struct {
	Type      OrderType
	ProductID string
	Quantity  int
	Size      string
	Color     string
	Contact   Contact
}

// Result is returned to the storefront so it can hand the intent to the
// vendor's browser SDK.
type Result struct {
	OrderID     string
	IntentID    string
	AmountMinor int64
	Currency    string
}

// Service prices checkout requests, opens payment intents, and persists the
// resulting pending orders. Pricing is optimistic: availability is checked
// but stock is not reserved; the settlement-time conditional decrement is the
// enforcement point.
type Service struct {
	products product.Repository
	carts    cart.Repository
	gw       gateway.Client
	intents  IntentRepository

	currency string
	feeBps   int64
	now      func() time.Time
}

// NewService creates a checkout Service. feeBps is the platform fee in basis
// points applied on top of the order total on the gateway amount only.
func NewService(
	products product.Repository,
	carts cart.Repository,
	gw gateway.Client,
	intents IntentRepository,
	currency string,
	feeBps int64,
) *Service {
	return &Service{
		products: products,
		carts:    carts,
		gw:       gw,
		intents:  intents,
		currency: currency,
		feeBps:   feeBps,
		now:      time.Now,
	}
}

// BeginCheckout resolves prices server-side, computes the total, opens a
// payment intent, and persists a pending order keyed by the returned intent
// id. Nothing is persisted when the gateway call fails.
func (s *Service) BeginCheckout(ctx context.Context, userID string, req Request) (*Result, error) {
	if !req.Type.Valid() {
		return nil, ErrInvalidType
	}
	if req.Contact.Name == "" || req.Contact.Email == "" {
		return nil, ErrContactRequired
	}

	var (
		lines []Line
		err   error
	)
	switch req.Type {
	case TypeSingle:
		lines, err = s.resolveSingle(ctx, req)
	case TypeCart:
		lines, err = s.resolveCart(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	total = total.Round(2)
	amountMinor := s.amountWithFee(total)

	receipt := uuid.New().String()
	intent, err := s.gw.OpenIntent(ctx, amountMinor, s.currency, receipt)
	if err != nil {
		return nil, errors.Wrap(err, "open payment intent")
	}

	o := &PendingOrder{
		ID:          uuid.New().String(),
		IntentID:    intent.ID,
		UserID:      userID,
		Type:        req.Type,
		Lines:       lines,
		Total:       total,
		AmountMinor: amountMinor,
		Contact:     req.Contact,
		CreatedAt:   s.now(),
	}
	if err := s.intents.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "persist pending order")
	}

	return &Result{
		OrderID:     o.ID,
		IntentID:    intent.ID,
		AmountMinor: amountMinor,
		Currency:    s.currency,
	}, nil
}

func (s *Service) resolveSingle(ctx context.Context, req Request) ([]Line, error) {
	if req.Quantity <= 0 {
		return nil, &InvalidQuantityError{ProductID: req.ProductID}
	}

	p, err := s.products.GetByID(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %s", req.ProductID)
	}
	if p.Quantity < req.Quantity {
		return nil, &OutOfStockError{ProductID: p.ID, Requested: req.Quantity, Available: p.Quantity}
	}

	return []Line{{
		ProductID: p.ID,
		Title:     p.Name,
		Image:     p.Image,
		UnitPrice: p.Price,
		Quantity:  req.Quantity,
		Size:      req.Size,
		Color:     req.Color,
	}}, nil
}

func (s *Service) resolveCart(ctx context.Context, userID string) ([]Line, error) {
	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			return nil, ErrEmptyCart
		}
		return nil, errors.Wrap(err, "get cart")
	}
	if len(c.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		if l.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: l.ProductID}
		}
		ids[i] = l.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get cart products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	lines := make([]Line, 0, len(c.Lines))
	for _, l := range c.Lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, product.ErrNotFound
		}
		if p.Quantity < l.Quantity {
			return nil, &OutOfStockError{ProductID: p.ID, Requested: l.Quantity, Available: p.Quantity}
		}
		lines = append(lines, Line{
			ProductID: p.ID,
			Title:     p.Name,
			Image:     p.Image,
			UnitPrice: p.Price,
			Quantity:  l.Quantity,
			Size:      l.Size,
			Color:     l.Color,
		})
	}
	return lines, nil
}

// amountWithFee converts the decimal total into integer minor units and adds
// the platform fee. The fee is the only derived amount and always rounds up,
// so the charged amount is deterministic for a given total.
func (s *Service) amountWithFee(total decimal.Decimal) int64 {
	base := total.Shift(2).IntPart()
	if s.feeBps <= 0 {
		return base
	}
	fee := (base*s.feeBps + 9_999) / 10_000
	return base + fee
}
