package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/model"
)

// Trade represents a fill applied to the portfolio.
type Trade struct {
	OrderID   string          `json:"order_id,omitempty"`
	Symbol    string          `json:"symbol"`
	Side      model.Side      `json:"side"`
	Qty       decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`

	// Set by Apply for sells: the quantity that actually closed a position
	// and the P&L it realized.
	ClosedQty decimal.Decimal `json:"closed_qty"`
	Realized  decimal.Decimal `json:"realized"`
}

// Apply records a fill and updates the position and realized P&L.
// Buys average into the position. Sells close at most the held quantity;
// the positions are long-only so any excess is ignored.
func (pf *Portfolio) Apply(trade Trade) Trade {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	pos, ok := pf.positions[trade.Symbol]
	if !ok {
		pos = &model.Position{Symbol: trade.Symbol}
		pf.positions[trade.Symbol] = pos
	}
	pos.LastPrice = trade.Price

	if trade.Side == model.SideBuy {
		if pos.Flat() {
			pos.Qty = trade.Qty
			pos.AvgPrice = trade.Price
		} else {
			// Weighted average price
			totalCost := pos.AvgPrice.Mul(pos.Qty).Add(trade.Price.Mul(trade.Qty))
			pos.Qty = pos.Qty.Add(trade.Qty)
			pos.AvgPrice = totalCost.Div(pos.Qty)
		}
	} else {
		sellQty := decimal.Min(trade.Qty, pos.Qty)
		trade.ClosedQty = sellQty
		trade.Realized = trade.Price.Sub(pos.AvgPrice).Mul(sellQty)
		pos.Qty = pos.Qty.Sub(sellQty)
		pos.RealizedPnL = pos.RealizedPnL.Add(trade.Realized)
		if pos.Flat() {
			pos.AvgPrice = decimal.Zero
		}
		pf.realized = pf.realized.Add(trade.Realized)
	}

	pf.trades = append(pf.trades, trade)
	return trade
}

// RealizedPnL returns total realized P&L.
func (pf *Portfolio) RealizedPnL() decimal.Decimal {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return pf.realized
}

// Trades returns a snapshot of all applied trades.
func (pf *Portfolio) Trades() []Trade {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	cp := make([]Trade, len(pf.trades))
	copy(cp, pf.trades)
	return cp
}

// PnLSummary aggregates the trade log.
type PnLSummary struct {
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	TotalTrades   int             `json:"total_trades"`
	ClosingTrades int             `json:"closing_trades"`
	Wins          int             `json:"wins"`
	WinRate       float64         `json:"win_rate"` // wins / closing trades, 0 when none
	OpenPositions int             `json:"open_positions"`
}

// Summary returns the current P&L summary.
func (pf *Portfolio) Summary() PnLSummary {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	s := PnLSummary{
		RealizedPnL:   pf.realized,
		UnrealizedPnL: decimal.Zero,
		TotalTrades:   len(pf.trades),
	}
	for _, p := range pf.positions {
		if p.Flat() {
			continue
		}
		s.OpenPositions++
		s.UnrealizedPnL = s.UnrealizedPnL.Add(p.UnrealizedPnL())
	}
	for _, t := range pf.trades {
		if t.Side != model.SideSell || !t.ClosedQty.IsPositive() {
			continue
		}
		s.ClosingTrades++
		if t.Realized.IsPositive() {
			s.Wins++
		}
	}
	if s.ClosingTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.ClosingTrades)
	}
	s.TotalPnL = s.RealizedPnL.Add(s.UnrealizedPnL)
	return s
}
