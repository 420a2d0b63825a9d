package execution

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/model"
	"cryptotrader/internal/orders"
	"cryptotrader/internal/strategy"
)

// PaperExecutor simulates order execution without exchange calls.
// Every signal becomes a tracked order that is filled at once at the
// signal price adjusted by slippage.
type PaperExecutor struct {
	tracker *orders.Tracker

	// basis points of slippage (e.g., 5 = 0.05%)
	slippageBps decimal.Decimal
}

// NewPaperExecutor creates a paper trading executor on top of tracker.
func NewPaperExecutor(tracker *orders.Tracker, slippageBps int64) *PaperExecutor {
	return &PaperExecutor{
		tracker:     tracker,
		slippageBps: decimal.NewFromInt(slippageBps),
	}
}

// FillPrice applies slippage against the trader: buys fill higher and sells lower.
func (p *PaperExecutor) FillPrice(sig strategy.Signal) decimal.Decimal {
	if p.slippageBps.IsZero() {
		return sig.Price
	}
	slip := sig.Price.Mul(p.slippageBps).Div(decimal.NewFromInt(10000))
	if sig.Action == strategy.ActionBuy {
		return sig.Price.Add(slip)
	}
	return sig.Price.Sub(slip)
}

// Execute submits sig as an order and marks it filled.
func (p *PaperExecutor) Execute(ctx context.Context, sig strategy.Signal) (model.Order, error) {
	price := p.FillPrice(sig)
	o, err := p.tracker.Submit(ctx, model.Order{
		Symbol:    sig.Symbol,
		Side:      sig.Action.Side(),
		Quantity:  sig.Qty,
		Price:     price,
		CreatedAt: sig.TS,
	})
	if err != nil {
		return model.Order{}, fmt.Errorf("submit %s %s: %w", sig.Action, sig.Symbol, err)
	}
	filled, err := p.tracker.UpdateStatus(ctx, o.ID, model.OrderFilled)
	if err != nil {
		return o, fmt.Errorf("fill %s: %w", o.ID, err)
	}

	log.Printf("[paper] %s %s %s qty=%s price=%s order=%s reason=%s",
		sig.Action, sig.StrategyName, sig.Symbol, sig.Qty, price, o.ID, sig.Reason)
	return filled, nil
}
