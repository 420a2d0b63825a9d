// Package portfolio tracks positions, P&L, and portfolio-level risk.
//
// It maintains a view of all long positions, calculates unrealized P&L from
// the latest candle closes, and records realized P&L from fills.
package portfolio

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/model"
)

// Portfolio tracks all positions and the trade log.
type Portfolio struct {
	mu        sync.RWMutex
	positions map[string]*model.Position // key = symbol
	trades    []Trade
	realized  decimal.Decimal
}

// New creates a new empty Portfolio.
func New() *Portfolio {
	return &Portfolio{
		positions: make(map[string]*model.Position),
	}
}

// UpdatePrice updates the last price for a held symbol.
func (pf *Portfolio) UpdatePrice(candle model.Candle) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if pos, ok := pf.positions[candle.Symbol]; ok {
		pos.LastPrice = decimal.NewFromFloat(candle.Close)
	}
}

// Position returns the position for symbol, flat if none is held.
func (pf *Portfolio) Position(symbol string) model.Position {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	if p, ok := pf.positions[symbol]; ok {
		return *p
	}
	return model.Position{Symbol: symbol}
}

// Positions returns a snapshot of all non-flat positions sorted by symbol.
func (pf *Portfolio) Positions() []model.Position {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	out := make([]model.Position, 0, len(pf.positions))
	for _, p := range pf.positions {
		if !p.Flat() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// TotalUnrealizedPnL returns the total unrealized P&L across all positions.
func (pf *Portfolio) TotalUnrealizedPnL() decimal.Decimal {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	total := decimal.Zero
	for _, p := range pf.positions {
		total = total.Add(p.UnrealizedPnL())
	}
	return total
}
