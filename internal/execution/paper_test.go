package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptotrader/internal/model"
	"cryptotrader/internal/orders"
	"cryptotrader/internal/strategy"
)

func signal(a strategy.Action, price string) strategy.Signal {
	return strategy.Signal{
		StrategyName: "test",
		Action:       a,
		Symbol:       "BTC/USDT",
		Qty:          decimal.NewFromInt(1),
		Price:        decimal.RequireFromString(price),
		TS:           time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPaperExecutor_FillPrice(t *testing.T) {
	p := NewPaperExecutor(orders.NewTracker(), 10)
	assert.Equal(t, "100.1", p.FillPrice(signal(strategy.ActionBuy, "100")).String())
	assert.Equal(t, "99.9", p.FillPrice(signal(strategy.ActionSell, "100")).String())

	p = NewPaperExecutor(orders.NewTracker(), 0)
	assert.Equal(t, "100", p.FillPrice(signal(strategy.ActionBuy, "100")).String())
}

func TestPaperExecutor_ExecuteFillsOrder(t *testing.T) {
	tracker := orders.NewTracker()
	p := NewPaperExecutor(tracker, 0)

	o, err := p.Execute(context.Background(), signal(strategy.ActionSell, "250.5"))
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, model.SideSell, o.Side)
	assert.Equal(t, model.OrderFilled, o.Status)

	stored, err := tracker.Get(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, stored.Status)
	assert.True(t, stored.Price.Equal(decimal.RequireFromString("250.5")))
}

func TestPaperExecutor_RejectsInvalid(t *testing.T) {
	p := NewPaperExecutor(orders.NewTracker(), 0)
	sig := signal(strategy.ActionBuy, "1")
	sig.Qty = decimal.Zero
	_, err := p.Execute(context.Background(), sig)
	assert.ErrorIs(t, err, orders.ErrInvalidOrder)
}

func TestRun_ForwardsResults(t *testing.T) {
	p := NewPaperExecutor(orders.NewTracker(), 0)
	sigs := make(chan strategy.Signal, 2)
	results := make(chan OrderResult, 2)
	sigs <- signal(strategy.ActionBuy, "10")
	sigs <- signal(strategy.ActionSell, "11")
	close(sigs)

	Run(context.Background(), p, sigs, results)

	require.Len(t, results, 2)
	r := <-results
	assert.NoError(t, r.Err)
	assert.Equal(t, model.SideBuy, r.Order.Side)
}
