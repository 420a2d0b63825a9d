package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/model"
	"cryptotrader/internal/portfolio"
)

// Executor turns a signal into a filled order.
type Executor interface {
	Execute(ctx context.Context, sig Signal) (model.Order, error)
}

// Backtest replays candles through a strategy, executes its signals and
// tracks the resulting positions.
type Backtest struct {
	Strategy  Strategy
	Executor  Executor
	Portfolio *portfolio.Portfolio    // created by Run when nil
	Risk      *portfolio.RiskManager // optional
	Logger    *slog.Logger
}

// Summary is the outcome of a backtest run.
type Summary struct {
	Strategy      string           `json:"strategy"`
	Candles       int              `json:"candles"`
	Signals       int              `json:"signals"`
	Orders        int              `json:"orders"`
	Rejected      int              `json:"rejected"` // blocked by risk limits
	RealizedPnL   decimal.Decimal  `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal  `json:"unrealized_pnl"`
	ClosingTrades int              `json:"closing_trades"`
	Wins          int              `json:"wins"`
	WinRate       float64          `json:"win_rate"`
	Positions     []model.Position `json:"positions"`
}

// Run feeds closed candles to the strategy in order. Each signal is executed
// at the candle close and applied to the portfolio.
func (b *Backtest) Run(ctx context.Context, candles []model.Candle) (Summary, error) {
	if b.Strategy == nil || b.Executor == nil {
		return Summary{}, fmt.Errorf("backtest needs a strategy and an executor")
	}
	if b.Portfolio == nil {
		b.Portfolio = portfolio.New()
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sum := Summary{Strategy: b.Strategy.Name()}
	for _, c := range candles {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if c.Forming {
			continue
		}
		sum.Candles++
		b.Portfolio.UpdatePrice(c)

		sig := b.Strategy.OnCandle(c)
		if sig == nil {
			continue
		}
		sum.Signals++

		if b.Risk != nil {
			if ok, reason := b.Risk.CanTrade(sig.Symbol, sig.Action.Side(), sig.Qty); !ok {
				sum.Rejected++
				logger.Info("signal rejected", "symbol", sig.Symbol, "action", sig.Action, "reason", reason)
				continue
			}
		}

		o, err := b.Executor.Execute(ctx, *sig)
		if err != nil {
			return sum, fmt.Errorf("execute signal at %v: %w", c.TS, err)
		}
		sum.Orders++

		tr := b.Portfolio.Apply(portfolio.Trade{
			OrderID:   o.ID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Qty:       o.Quantity,
			Price:     o.Price,
			Timestamp: c.TS,
		})
		if b.Risk != nil && tr.Side == model.SideSell {
			b.Risk.RecordPnL(tr.Realized)
		}
	}

	ps := b.Portfolio.Summary()
	sum.RealizedPnL = ps.RealizedPnL
	sum.UnrealizedPnL = ps.UnrealizedPnL
	sum.ClosingTrades = ps.ClosingTrades
	sum.Wins = ps.Wins
	sum.WinRate = ps.WinRate
	sum.Positions = b.Portfolio.Positions()

	logger.Info("backtest complete",
		"strategy", sum.Strategy,
		"candles", sum.Candles,
		"signals", sum.Signals,
		"realized_pnl", sum.RealizedPnL.String(),
		"win_rate", sum.WinRate,
	)
	return sum, nil
}
