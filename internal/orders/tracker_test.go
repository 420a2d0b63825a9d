package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptotrader/internal/model"
)

type memStore struct {
	saved   []model.Order
	failErr error
}

func (m *memStore) SaveOrder(_ context.Context, o model.Order) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.saved = append(m.saved, o)
	return nil
}

func (m *memStore) LoadOrders(context.Context) ([]model.Order, error) {
	latest := map[string]model.Order{}
	var ids []string
	for _, o := range m.saved {
		if _, ok := latest[o.ID]; !ok {
			ids = append(ids, o.ID)
		}
		latest[o.ID] = o
	}
	out := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, latest[id])
	}
	return out, nil
}

type eventLog struct{ events []string }

func (e *eventLog) OrderEvent(side, status string) { e.events = append(e.events, side+":"+status) }

func order(id, symbol string, side model.Side, qty, price string) model.Order {
	return model.Order{
		ID:       id,
		Symbol:   symbol,
		Side:     side,
		Quantity: decimal.RequireFromString(qty),
		Price:    decimal.RequireFromString(price),
	}
}

func fixedClock() func() time.Time {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func TestTracker_SubmitAndGet(t *testing.T) {
	tr := NewTracker(WithClock(fixedClock()))
	ctx := context.Background()

	_, err := tr.Submit(ctx, order("1", "BTCUSD", model.SideBuy, "1", "100"))
	require.NoError(t, err)

	got, err := tr.Get("1")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSD", got.Symbol)
	assert.Equal(t, model.OrderPending, got.Status)
	assert.Equal(t, fixedClock()(), got.CreatedAt)
	assert.True(t, got.Notional().Equal(decimal.NewFromInt(100)))
}

func TestTracker_UpdateStatus(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()
	_, err := tr.Submit(ctx, order("2", "ETHUSD", model.SideSell, "2", "50"))
	require.NoError(t, err)

	updated, err := tr.UpdateStatus(ctx, "2", model.OrderFilled)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, updated.Status)

	got, _ := tr.Get("2")
	assert.Equal(t, model.OrderFilled, got.Status)
}

func TestTracker_Errors(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()
	_, err := tr.Submit(ctx, order("dup", "BTCUSD", model.SideBuy, "1", "100"))
	require.NoError(t, err)

	_, err = tr.Submit(ctx, order("dup", "BTCUSD", model.SideBuy, "1", "100"))
	assert.ErrorIs(t, err, ErrDuplicateOrder)

	_, err = tr.Get("missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = tr.UpdateStatus(ctx, "missing", model.OrderFilled)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = tr.UpdateStatus(ctx, "dup", "exploded")
	assert.ErrorIs(t, err, ErrInvalidOrder)

	for _, bad := range []model.Order{
		order("", "BTCUSD", "hold", "1", "1"),
		order("", "BTCUSD", model.SideBuy, "0", "1"),
		order("", "BTCUSD", model.SideBuy, "-1", "1"),
		order("", "", model.SideBuy, "1", "1"),
		order("", "BTCUSD", model.SideBuy, "1", "-5"),
	} {
		_, err := tr.Submit(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidOrder, "%+v", bad)
	}
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_GeneratesUUID(t *testing.T) {
	tr := NewTracker()
	o, err := tr.Submit(context.Background(), order("", "SOLUSD", model.SideBuy, "0.5", "150.25"))
	require.NoError(t, err)
	_, err = uuid.Parse(o.ID)
	assert.NoError(t, err)
}

func TestTracker_ListPreservesSubmissionOrder(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		_, err := tr.Submit(ctx, order(id, "BTCUSD", model.SideBuy, "1", "1"))
		require.NoError(t, err)
	}
	var ids []string
	for _, o := range tr.List() {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestTracker_PersistsAndLoads(t *testing.T) {
	store := &memStore{}
	events := &eventLog{}
	ctx := context.Background()

	tr := NewTracker(WithStore(store), WithObserver(events))
	_, err := tr.Submit(ctx, order("1", "BTCUSD", model.SideBuy, "1", "100"))
	require.NoError(t, err)
	_, err = tr.Submit(ctx, order("2", "ETHUSD", model.SideSell, "3", "10"))
	require.NoError(t, err)
	_, err = tr.UpdateStatus(ctx, "1", model.OrderCancelled)
	require.NoError(t, err)

	assert.Len(t, store.saved, 3)
	assert.Equal(t, []string{"buy:pending", "sell:pending", "buy:cancelled"}, events.events)

	restored := NewTracker(WithStore(store))
	n, err := restored.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	got, err := restored.Get("1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, got.Status)
}

func TestTracker_StoreFailureLeavesStateUnchanged(t *testing.T) {
	store := &memStore{failErr: errors.New("disk full")}
	tr := NewTracker(WithStore(store))
	_, err := tr.Submit(context.Background(), order("1", "BTCUSD", model.SideBuy, "1", "100"))
	assert.Error(t, err)
	assert.Equal(t, 0, tr.Len())
}
