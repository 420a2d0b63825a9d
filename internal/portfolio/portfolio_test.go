package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptotrader/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestApply_WeightedAverageAndRealized(t *testing.T) {
	pf := New()
	pf.Apply(Trade{Symbol: "BTC/USDT", Side: model.SideBuy, Qty: d("1"), Price: d("100")})
	pf.Apply(Trade{Symbol: "BTC/USDT", Side: model.SideBuy, Qty: d("3"), Price: d("200")})

	pos := pf.Position("BTC/USDT")
	assert.True(t, pos.Qty.Equal(d("4")))
	assert.True(t, pos.AvgPrice.Equal(d("175")), "avg %s", pos.AvgPrice)

	tr := pf.Apply(Trade{Symbol: "BTC/USDT", Side: model.SideSell, Qty: d("1.5"), Price: d("195")})
	assert.True(t, tr.Realized.Equal(d("30")), "realized %s", tr.Realized)
	assert.True(t, pf.Position("BTC/USDT").Qty.Equal(d("2.5")))
	assert.True(t, pf.RealizedPnL().Equal(d("30")))
}

func TestApply_SellCappedAtHolding(t *testing.T) {
	pf := New()
	pf.Apply(Trade{Symbol: "ETH/USDT", Side: model.SideBuy, Qty: d("1"), Price: d("10")})
	tr := pf.Apply(Trade{Symbol: "ETH/USDT", Side: model.SideSell, Qty: d("5"), Price: d("8")})

	assert.True(t, tr.ClosedQty.Equal(d("1")))
	assert.True(t, tr.Realized.Equal(d("-2")))
	pos := pf.Position("ETH/USDT")
	assert.True(t, pos.Flat())
	assert.True(t, pos.AvgPrice.IsZero())
	assert.Empty(t, pf.Positions())

	// Selling while flat closes nothing.
	tr = pf.Apply(Trade{Symbol: "ETH/USDT", Side: model.SideSell, Qty: d("1"), Price: d("9")})
	assert.True(t, tr.ClosedQty.IsZero())
	assert.True(t, tr.Realized.IsZero())
}

func TestSummary(t *testing.T) {
	pf := New()
	pf.Apply(Trade{Symbol: "BTC/USDT", Side: model.SideBuy, Qty: d("1"), Price: d("100")})
	pf.Apply(Trade{Symbol: "BTC/USDT", Side: model.SideSell, Qty: d("1"), Price: d("110")})
	pf.Apply(Trade{Symbol: "BTC/USDT", Side: model.SideBuy, Qty: d("1"), Price: d("120")})
	pf.Apply(Trade{Symbol: "BTC/USDT", Side: model.SideSell, Qty: d("1"), Price: d("115")})
	pf.Apply(Trade{Symbol: "ETH/USDT", Side: model.SideBuy, Qty: d("2"), Price: d("10")})
	pf.UpdatePrice(model.Candle{Symbol: "ETH/USDT", Close: 12.5})
	pf.UpdatePrice(model.Candle{Symbol: "SOL/USDT", Close: 1})

	s := pf.Summary()
	assert.True(t, s.RealizedPnL.Equal(d("5")))
	assert.True(t, s.UnrealizedPnL.Equal(d("5")))
	assert.True(t, s.TotalPnL.Equal(d("10")))
	assert.Equal(t, 5, s.TotalTrades)
	assert.Equal(t, 2, s.ClosingTrades)
	assert.Equal(t, 1, s.Wins)
	assert.InDelta(t, 0.5, s.WinRate, 1e-12)
	assert.Equal(t, 1, s.OpenPositions)
	assert.True(t, pf.TotalUnrealizedPnL().Equal(d("5")))
	require.Len(t, pf.Trades(), 5)
}

func TestRiskManager(t *testing.T) {
	pf := New()
	rm := NewRiskManager(RiskLimits{MaxPositionQty: d("2"), MaxOpenPositions: 1, MaxDrawdownPct: 10}, pf, d("1000"))

	ok, _ := rm.CanTrade("BTC/USDT", model.SideBuy, d("2"))
	assert.True(t, ok)
	ok, reason := rm.CanTrade("BTC/USDT", model.SideBuy, d("3"))
	assert.False(t, ok)
	assert.Equal(t, "position size exceeds limit", reason)

	pf.Apply(Trade{Symbol: "BTC/USDT", Side: model.SideBuy, Qty: d("1"), Price: d("100")})
	ok, reason = rm.CanTrade("ETH/USDT", model.SideBuy, d("1"))
	assert.False(t, ok)
	assert.Equal(t, "max open positions reached", reason)

	rm.RecordPnL(d("200"))
	rm.RecordPnL(d("-240"))
	st := rm.Status()
	assert.True(t, st.PeakEquity.Equal(d("1200")))
	assert.True(t, st.Equity.Equal(d("960")))
	assert.InDelta(t, 20, st.DrawdownPct, 1e-9)

	ok, reason = rm.CanTrade("BTC/USDT", model.SideBuy, d("0.1"))
	assert.False(t, ok)
	assert.Equal(t, "max drawdown exceeded", reason)

	ok, _ = rm.CanTrade("BTC/USDT", model.SideSell, d("100"))
	assert.True(t, ok, "sells are always allowed")
}
