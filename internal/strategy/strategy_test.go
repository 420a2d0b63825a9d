package strategy_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptotrader/internal/execution"
	"cryptotrader/internal/indicator"
	"cryptotrader/internal/model"
	"cryptotrader/internal/orders"
	"cryptotrader/internal/portfolio"
	"cryptotrader/internal/strategy"
)

// closes produces a golden cross at index 4, death cross at 6, golden at 8
// and death at 12 for a 2/3 SMA crossover.
var closes = []float64{10, 10, 10, 10, 13, 13, 7, 7, 20, 40, 60, 45, 30}

func series(prices []float64) []model.Candle {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Candle, len(prices))
	for i, p := range prices {
		out[i] = model.Candle{
			Symbol: "BTC/USDT", Exchange: "BINANCE", TF: 60,
			TS:   base.Add(time.Duration(i) * time.Minute),
			Open: p, High: p, Low: p, Close: p, Volume: 1,
		}
	}
	return out
}

func TestSMACrossover_Signals(t *testing.T) {
	s := strategy.NewSMACrossover(2, 3, decimal.NewFromInt(1), 0)

	var got []strategy.Signal
	var at []int
	for i, c := range series(closes) {
		if sig := s.OnCandle(c); sig != nil {
			got = append(got, *sig)
			at = append(at, i)
		}
	}

	require.Len(t, got, 4)
	assert.Equal(t, []int{4, 6, 8, 12}, at)
	assert.Equal(t, strategy.ActionBuy, got[0].Action)
	assert.Equal(t, strategy.ActionSell, got[1].Action)
	assert.True(t, got[0].Price.Equal(decimal.NewFromInt(13)))
	assert.Equal(t, "BTC/USDT", got[0].Symbol)
	assert.Equal(t, model.SideSell, got[3].Action.Side())
}

func TestSMACrossover_RSIFilter(t *testing.T) {
	filtered := strategy.NewSMACrossover(2, 3, decimal.NewFromInt(1), 2)
	plain := strategy.NewSMACrossover(2, 3, decimal.NewFromInt(1), 0)

	candles := series(closes)
	for i := 0; i < 5; i++ {
		a := filtered.OnCandle(candles[i])
		b := plain.OnCandle(candles[i])
		if i == 4 {
			assert.NotNil(t, b, "plain strategy should buy the golden cross")
			assert.Nil(t, a, "golden cross with RSI 100 should be filtered")
		}
	}
}

func TestEngine_RoutesClosedCandles(t *testing.T) {
	e := strategy.NewEngine(10)
	e.Register(strategy.NewSMACrossover(2, 3, decimal.NewFromInt(1), 0))

	in := make(chan model.Candle, len(closes)+1)
	for _, c := range series(closes) {
		in <- c
	}
	in <- model.Candle{Symbol: "BTC/USDT", Close: 1000, Forming: true}
	close(in)

	e.Run(context.Background(), in)

	var n int
	for range e.Signals() {
		n++
	}
	assert.Equal(t, 4, n)
}

func TestPerInstrument_KeepsSeparateState(t *testing.T) {
	s := strategy.NewPerInstrument(func() strategy.Strategy {
		return strategy.NewSMACrossover(2, 3, decimal.NewFromInt(1), 0)
	})
	assert.Equal(t, "SMA_Crossover", s.Name())

	btc := series(closes)
	eth := series(closes)
	signals := map[string]int{}
	for i := range btc {
		eth[i].Symbol = "ETH/USDT"
		for _, c := range []model.Candle{btc[i], eth[i]} {
			if sig := s.OnCandle(c); sig != nil {
				signals[sig.Symbol]++
			}
		}
	}
	assert.Equal(t, map[string]int{"BTC/USDT": 4, "ETH/USDT": 4}, signals)
}

func TestBacktest_Run(t *testing.T) {
	tracker := orders.NewTracker()
	bt := &strategy.Backtest{
		Strategy: strategy.NewSMACrossover(2, 3, decimal.NewFromInt(1), 0),
		Executor: execution.NewPaperExecutor(tracker, 0),
	}

	sum, err := bt.Run(context.Background(), series(closes))
	require.NoError(t, err)

	assert.Equal(t, "SMA_Crossover", sum.Strategy)
	assert.Equal(t, len(closes), sum.Candles)
	assert.Equal(t, 4, sum.Signals)
	assert.Equal(t, 4, sum.Orders)
	// (7-13) + (30-20)
	assert.True(t, sum.RealizedPnL.Equal(decimal.NewFromInt(4)), "realized %s", sum.RealizedPnL)
	assert.Equal(t, 2, sum.ClosingTrades)
	assert.Equal(t, 1, sum.Wins)
	assert.InDelta(t, 0.5, sum.WinRate, 1e-12)
	assert.Empty(t, sum.Positions)

	require.Equal(t, 4, tracker.Len())
	for _, o := range tracker.List() {
		assert.Equal(t, model.OrderFilled, o.Status)
	}
}

func TestBacktest_OpenPositionAtEnd(t *testing.T) {
	bt := &strategy.Backtest{
		Strategy: strategy.NewSMACrossover(2, 3, decimal.NewFromInt(2), 0),
		Executor: execution.NewPaperExecutor(orders.NewTracker(), 0),
	}

	sum, err := bt.Run(context.Background(), series(closes[:11]))
	require.NoError(t, err)

	require.Len(t, sum.Positions, 1)
	pos := sum.Positions[0]
	assert.True(t, pos.Qty.Equal(decimal.NewFromInt(2)))
	assert.True(t, pos.AvgPrice.Equal(decimal.NewFromInt(20)))
	// last close 60
	assert.True(t, sum.UnrealizedPnL.Equal(decimal.NewFromInt(80)), "unrealized %s", sum.UnrealizedPnL)
}

func TestBacktest_RiskRejectsBuys(t *testing.T) {
	pf := portfolio.New()
	limits := portfolio.RiskLimits{MaxPositionQty: decimal.RequireFromString("0.5")}
	bt := &strategy.Backtest{
		Strategy:  strategy.NewSMACrossover(2, 3, decimal.NewFromInt(1), 0),
		Executor:  execution.NewPaperExecutor(orders.NewTracker(), 0),
		Portfolio: pf,
		Risk:      portfolio.NewRiskManager(limits, pf, decimal.NewFromInt(1000)),
	}

	sum, err := bt.Run(context.Background(), series(closes))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Rejected)
	assert.Equal(t, 2, sum.Orders)
	assert.True(t, sum.RealizedPnL.IsZero())
	assert.Equal(t, 0, sum.ClosingTrades)
}

func TestBacktest_RequiresExecutor(t *testing.T) {
	_, err := (&strategy.Backtest{Strategy: strategy.NewSMACrossover(2, 3, decimal.NewFromInt(1), 0)}).Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestValidateCrossover(t *testing.T) {
	assert.NoError(t, strategy.ValidateCrossover(9, 21, 0))
	assert.NoError(t, strategy.ValidateCrossover(9, 21, 14))
	for _, tc := range [][3]int{
		{0, 21, 0},
		{21, 21, 0},
		{9, 21, -1},
		{9, math.MaxInt, 0},
		{9, 21, indicator.MaxPeriod + 1},
	} {
		assert.ErrorIs(t, strategy.ValidateCrossover(tc[0], tc[1], tc[2]), indicator.ErrInvalidPeriod, "%v", tc)
	}
}
