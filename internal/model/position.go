package model

import "github.com/shopspring/decimal"

// Position represents a tracked long position in one symbol.
type Position struct {
	Symbol      string          `json:"symbol"`
	Qty         decimal.Decimal `json:"qty"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	LastPrice   decimal.Decimal `json:"last_price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// UnrealizedPnL computes (last - avg) * qty.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.LastPrice.Sub(p.AvgPrice).Mul(p.Qty)
}

// Flat reports whether the position holds no quantity.
func (p *Position) Flat() bool { return p.Qty.IsZero() }
