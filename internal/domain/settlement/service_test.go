package settlement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/checkout"
)

func seededOrderRepo(orders ...*SettledOrder) *mockOrderRepo {
	repo := newMockOrderRepo(nil)
	for _, o := range orders {
		_ = repo.Create(context.Background(), o)
	}
	return repo
}

func TestAdvanceStatus(t *testing.T) {
	repo := seededOrderRepo(&SettledOrder{
		ID:      "o1",
		Status:  StatusPending,
		Contact: checkout.Contact{Email: "ada@example.com"},
	})
	svc := NewService(repo, nopDispatcher{}, zap.NewNop())

	o, err := svc.AdvanceStatus(context.Background(), "o1", StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, o.Status)
}

func TestAdvanceStatus_TerminalRefused(t *testing.T) {
	repo := seededOrderRepo(&SettledOrder{ID: "o1", Status: StatusDelivered})
	svc := NewService(repo, nopDispatcher{}, zap.NewNop())

	_, err := svc.AdvanceStatus(context.Background(), "o1", StatusProcessing)
	require.ErrorIs(t, err, ErrStatusFinal)
}

func TestAdvanceStatus_NotFound(t *testing.T) {
	svc := NewService(newMockOrderRepo(nil), nopDispatcher{}, zap.NewNop())

	_, err := svc.AdvanceStatus(context.Background(), "ghost", StatusProcessing)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"pending", StatusPending, false},
		{"Processing", StatusProcessing, false},
		{"DELIVERED", StatusDelivered, false},
		{"cancelled", StatusCancelled, false},
		{"shipped", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidStatus)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEffectHelpers(t *testing.T) {
	e := InventoryEffect("p1")
	assert.True(t, e.IsInventory())
	assert.Equal(t, "p1", e.InventoryProduct())

	assert.False(t, EffectHistory.IsInventory())
	assert.False(t, EffectCart.IsInventory())
}

func TestAllEffects(t *testing.T) {
	single := &SettledOrder{
		Type:  checkout.TypeSingle,
		Lines: []checkout.Line{{ProductID: "p1"}},
	}
	assert.Equal(t, []Effect{InventoryEffect("p1"), EffectHistory}, allEffects(single))

	cartOrder := &SettledOrder{
		Type:  checkout.TypeCart,
		Lines: []checkout.Line{{ProductID: "p1"}, {ProductID: "p2"}},
	}
	assert.Equal(t,
		[]Effect{InventoryEffect("p1"), InventoryEffect("p2"), EffectHistory, EffectCart},
		allEffects(cartOrder))
}
