package settlement

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/checkout"
)

// --- Mock implementations ---

// hmacVerifier signs and verifies like the real gateway client, so tests can
// produce both valid and tampered signatures.
type hmacVerifier struct {
	secret []byte
}

func (v hmacVerifier) sign(intentID, paymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(intentID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (v hmacVerifier) VerifyConfirmation(intentID, paymentID, signature string) bool {
	return hmac.Equal([]byte(v.sign(intentID, paymentID)), []byte(signature))
}

type mockIntentRepo struct {
	mu      sync.Mutex
	pending map[string]*checkout.PendingOrder
}

func newMockIntentRepo(orders ...*checkout.PendingOrder) *mockIntentRepo {
	pending := make(map[string]*checkout.PendingOrder, len(orders))
	for _, o := range orders {
		pending[o.IntentID] = o
	}
	return &mockIntentRepo{pending: pending}
}

func (m *mockIntentRepo) Create(_ context.Context, o *checkout.PendingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[o.IntentID] = o
	return nil
}

func (m *mockIntentRepo) Claim(_ context.Context, intentID string) (*checkout.PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.pending[intentID]
	if !ok {
		return nil, checkout.ErrIntentNotFound
	}
	delete(m.pending, intentID)
	return o, nil
}

func (m *mockIntentRepo) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// mockOrderRepo keeps settled orders and product stock together so its
// ApplyInventory can mirror the store's atomicity: the decrement and the
// effect retirement happen under one lock, and neither happens alone.
type mockOrderRepo struct {
	mu             sync.Mutex
	orders         map[string]*SettledOrder
	stock          map[string]int
	createErr      error
	clearErr       error
	applyErr       error
	listPendingErr error
}

func newMockOrderRepo(stock map[string]int) *mockOrderRepo {
	if stock == nil {
		stock = map[string]int{}
	}
	return &mockOrderRepo{orders: map[string]*SettledOrder{}, stock: stock}
}

func (m *mockOrderRepo) Create(_ context.Context, o *SettledOrder) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	cp.PendingEffects = append([]Effect(nil), o.PendingEffects...)
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*SettledOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) GetByIntentID(_ context.Context, intentID string) (*SettledOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.IntentID == intentID {
			return o, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockOrderRepo) ListByUser(_ context.Context, userID string) ([]SettledOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SettledOrder
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) List(_ context.Context, _ ListOptions) ([]SettledOrder, error) {
	return nil, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, next Status) (*SettledOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status.Terminal() {
		return nil, ErrStatusFinal
	}
	o.Status = next
	return o, nil
}

func (m *mockOrderRepo) ApplyInventory(_ context.Context, orderID, productID string, quantity int) (InventoryOutcome, error) {
	if m.applyErr != nil {
		return 0, m.applyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return 0, ErrNotFound
	}
	idx := -1
	for i, e := range o.PendingEffects {
		if e == InventoryEffect(productID) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return InventoryAlreadyApplied, nil
	}
	if m.stock[productID] < quantity {
		return InventoryInsufficient, nil
	}
	m.stock[productID] -= quantity
	o.PendingEffects = append(o.PendingEffects[:idx:idx], o.PendingEffects[idx+1:]...)
	return InventoryApplied, nil
}

func (m *mockOrderRepo) quantity(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[productID]
}

func (m *mockOrderRepo) ClearEffects(_ context.Context, id string, effects []Effect) error {
	if m.clearErr != nil {
		return m.clearErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	remove := make(map[Effect]bool, len(effects))
	for _, e := range effects {
		remove[e] = true
	}
	var kept []Effect
	for _, e := range o.PendingEffects {
		if !remove[e] {
			kept = append(kept, e)
		}
	}
	o.PendingEffects = kept
	return nil
}

func (m *mockOrderRepo) ListPendingEffects(_ context.Context, limit int) ([]SettledOrder, error) {
	if m.listPendingErr != nil {
		return nil, m.listPendingErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SettledOrder
	for _, o := range m.orders {
		if len(o.PendingEffects) > 0 {
			cp := *o
			cp.PendingEffects = append([]Effect(nil), o.PendingEffects...)
			out = append(out, cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type mockHistoryRepo struct {
	mu        sync.Mutex
	purchases map[string]map[string]bool
	err       error
}

func newMockHistoryRepo() *mockHistoryRepo {
	return &mockHistoryRepo{purchases: map[string]map[string]bool{}}
}

func (m *mockHistoryRepo) AddPurchases(_ context.Context, userID string, productIDs []string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.purchases[userID]
	if !ok {
		set = map[string]bool{}
		m.purchases[userID] = set
	}
	for _, id := range productIDs {
		set[id] = true
	}
	return nil
}

func (m *mockHistoryRepo) has(userID, productID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purchases[userID][productID]
}

type mockCartRepo struct {
	mu      sync.Mutex
	cleared []string
	err     error
}

func (m *mockCartRepo) Get(_ context.Context, _ string) (*cart.Cart, error) {
	return nil, cart.ErrNotFound
}

func (m *mockCartRepo) AddLine(_ context.Context, _ string, _ cart.Line) error { return nil }

func (m *mockCartRepo) Clear(_ context.Context, userID string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, userID)
	return nil
}

func (m *mockCartRepo) clearedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cleared)
}

type nopDispatcher struct{}

func (nopDispatcher) Send(_ context.Context, _, _, _ string) {}

// --- Helpers ---

type sagaFixture struct {
	saga     *Saga
	verifier hmacVerifier
	intents  *mockIntentRepo
	orders   *mockOrderRepo
	history  *mockHistoryRepo
	carts    *mockCartRepo
}

func newSagaFixture(t *testing.T, stock map[string]int, pending ...*checkout.PendingOrder) *sagaFixture {
	t.Helper()
	f := &sagaFixture{
		verifier: hmacVerifier{secret: []byte("test-secret")},
		intents:  newMockIntentRepo(pending...),
		orders:   newMockOrderRepo(stock),
		history:  newMockHistoryRepo(),
		carts:    &mockCartRepo{},
	}
	f.saga = NewSaga(
		f.verifier, f.intents, f.orders,
		f.history, f.carts,
		nopDispatcher{}, zap.NewNop(),
	)
	return f
}

func (f *sagaFixture) confirmation(intentID, paymentID string) Confirmation {
	return Confirmation{
		IntentID:  intentID,
		PaymentID: paymentID,
		Signature: f.verifier.sign(intentID, paymentID),
	}
}

func pendingOrder(intentID string, typ checkout.OrderType, lines ...checkout.Line) *checkout.PendingOrder {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return &checkout.PendingOrder{
		ID:          "order-" + intentID,
		IntentID:    intentID,
		UserID:      "u1",
		Type:        typ,
		Lines:       lines,
		Total:       total,
		AmountMinor: total.Shift(2).IntPart(),
		Contact:     checkout.Contact{Name: "Ada", Email: "ada@example.com"},
		CreatedAt:   time.Now(),
	}
}

func line(productID string, price string, qty int) checkout.Line {
	return checkout.Line{
		ProductID: productID,
		Title:     productID,
		UnitPrice: decimal.RequireFromString(price),
		Quantity:  qty,
	}
}

// --- Tests ---

func TestConfirmPayment_MissingFields(t *testing.T) {
	f := newSagaFixture(t, map[string]int{})

	_, err := f.saga.ConfirmPayment(context.Background(), Confirmation{IntentID: "i1"})
	require.ErrorIs(t, err, ErrBadConfirmation)
}

func TestConfirmPayment_TamperedSignature(t *testing.T) {
	po := pendingOrder("i1", checkout.TypeSingle, line("p1", "89.90", 2))
	f := newSagaFixture(t, map[string]int{"p1": 10}, po)

	conf := f.confirmation("i1", "pay-1")
	conf.Signature = f.verifier.sign("i1", "pay-other")

	_, err := f.saga.ConfirmPayment(context.Background(), conf)
	require.ErrorIs(t, err, ErrSignature)

	// Nothing was mutated.
	assert.Equal(t, 1, f.intents.size())
	assert.Equal(t, 10, f.orders.quantity("p1"))
	assert.Empty(t, f.orders.orders)
}

func TestConfirmPayment_UnknownIntent(t *testing.T) {
	f := newSagaFixture(t, map[string]int{})

	_, err := f.saga.ConfirmPayment(context.Background(), f.confirmation("ghost", "pay-1"))
	require.ErrorIs(t, err, checkout.ErrIntentNotFound)
}

func TestConfirmPayment_SettlesSingle(t *testing.T) {
	po := pendingOrder("i1", checkout.TypeSingle, line("p1", "89.90", 2))
	f := newSagaFixture(t, map[string]int{"p1": 10}, po)

	before := time.Now()
	result, err := f.saga.ConfirmPayment(context.Background(), f.confirmation("i1", "pay-1"))

	require.NoError(t, err)
	assert.False(t, result.AlreadyClaimed)
	assert.Empty(t, result.FailedEffects)
	assert.Equal(t, po.ID, result.OrderID)

	o, err := f.orders.GetByID(context.Background(), po.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "pay-1", o.PaymentID)
	assert.Empty(t, o.PendingEffects, "all effects must be cleared on a clean settlement")
	assert.WithinRange(t, o.ExpectedDelivery,
		before.Add(5*24*time.Hour), time.Now().Add(5*24*time.Hour))

	assert.Equal(t, 8, f.orders.quantity("p1"))
	assert.True(t, f.history.has("u1", "p1"))
	assert.Equal(t, 0, f.carts.clearedCount(), "single purchase must not touch the cart")
}

func TestConfirmPayment_SettlesCart(t *testing.T) {
	po := pendingOrder("i1", checkout.TypeCart,
		line("p1", "100.00", 1),
		line("p2", "50.00", 3),
	)
	f := newSagaFixture(t, map[string]int{"p1": 5, "p2": 5}, po)

	result, err := f.saga.ConfirmPayment(context.Background(), f.confirmation("i1", "pay-1"))

	require.NoError(t, err)
	assert.Empty(t, result.FailedEffects)
	assert.Equal(t, 4, f.orders.quantity("p1"))
	assert.Equal(t, 2, f.orders.quantity("p2"))
	assert.True(t, f.history.has("u1", "p1"))
	assert.True(t, f.history.has("u1", "p2"))
	assert.Equal(t, 1, f.carts.clearedCount())

	o, err := f.orders.GetByID(context.Background(), po.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("250.00").Equal(o.Total))
}

func TestConfirmPayment_DuplicateDelivery(t *testing.T) {
	po := pendingOrder("i1", checkout.TypeSingle, line("p1", "89.90", 1))
	f := newSagaFixture(t, map[string]int{"p1": 10}, po)
	conf := f.confirmation("i1", "pay-1")

	first, err := f.saga.ConfirmPayment(context.Background(), conf)
	require.NoError(t, err)
	require.False(t, first.AlreadyClaimed)

	second, err := f.saga.ConfirmPayment(context.Background(), conf)
	require.NoError(t, err)
	assert.True(t, second.AlreadyClaimed)
	assert.Equal(t, first.OrderID, second.OrderID)

	// The duplicate applied no side effects.
	assert.Equal(t, 9, f.orders.quantity("p1"))
}

func TestConfirmPayment_ConcurrentDeliveries(t *testing.T) {
	po := pendingOrder("i1", checkout.TypeSingle, line("p1", "89.90", 1))
	f := newSagaFixture(t, map[string]int{"p1": 10}, po)
	conf := f.confirmation("i1", "pay-1")

	const n = 16
	results := make([]*Result, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.saga.ConfirmPayment(context.Background(), conf)
		}()
	}
	wg.Wait()

	settled := 0
	for i := range n {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, po.ID, results[i].OrderID)
		if !results[i].AlreadyClaimed {
			settled++
		}
	}
	assert.Equal(t, 1, settled, "exactly one delivery may win the claim")
	assert.Equal(t, 9, f.orders.quantity("p1"), "inventory must be decremented exactly once")
}

func TestConfirmPayment_OversellIsPartialFailure(t *testing.T) {
	// Two paid orders compete for the last unit. Both settle, but only one
	// inventory decrement applies; quantity stops at zero.
	poA := pendingOrder("iA", checkout.TypeSingle, line("p1", "89.90", 1))
	poB := pendingOrder("iB", checkout.TypeSingle, line("p1", "89.90", 1))
	f := newSagaFixture(t, map[string]int{"p1": 1}, poA, poB)

	resA, err := f.saga.ConfirmPayment(context.Background(), f.confirmation("iA", "pay-a"))
	require.NoError(t, err)
	resB, err := f.saga.ConfirmPayment(context.Background(), f.confirmation("iB", "pay-b"))
	require.NoError(t, err)

	assert.Equal(t, 0, f.orders.quantity("p1"), "stock must never go negative")
	assert.Empty(t, resA.FailedEffects)
	require.Len(t, resB.FailedEffects, 1)
	assert.Equal(t, InventoryEffect("p1"), resB.FailedEffects[0])

	// The losing order still exists: the customer paid. Its inventory effect
	// stays pending for reconciliation; history went through.
	oB, err := f.orders.GetByID(context.Background(), poB.ID)
	require.NoError(t, err)
	assert.Equal(t, []Effect{InventoryEffect("p1")}, oB.PendingEffects)
	assert.True(t, f.history.has("u1", "p1"))
}

func TestConfirmPayment_HistoryFailureStaysPending(t *testing.T) {
	po := pendingOrder("i1", checkout.TypeSingle, line("p1", "89.90", 1))
	f := newSagaFixture(t, map[string]int{"p1": 10}, po)
	f.history.err = errors.New("history store down")

	result, err := f.saga.ConfirmPayment(context.Background(), f.confirmation("i1", "pay-1"))

	require.NoError(t, err)
	require.Len(t, result.FailedEffects, 1)
	assert.Equal(t, EffectHistory, result.FailedEffects[0])

	// The inventory effect completed and was cleared; only history remains.
	assert.Equal(t, 9, f.orders.quantity("p1"))
	o, err := f.orders.GetByID(context.Background(), po.ID)
	require.NoError(t, err)
	assert.Equal(t, []Effect{EffectHistory}, o.PendingEffects)
}

func TestConfirmPayment_OrderWriteFailureAfterClaim(t *testing.T) {
	po := pendingOrder("i1", checkout.TypeSingle, line("p1", "89.90", 1))
	f := newSagaFixture(t, map[string]int{"p1": 10}, po)
	f.orders.createErr = errors.New("orders store down")

	_, err := f.saga.ConfirmPayment(context.Background(), f.confirmation("i1", "pay-1"))

	require.Error(t, err)
	// The claim is consumed, and no effects ran.
	assert.Equal(t, 0, f.intents.size())
	assert.Equal(t, 10, f.orders.quantity("p1"))
}
