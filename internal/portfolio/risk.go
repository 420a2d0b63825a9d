package portfolio

import (
	"log"
	"sync"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/model"
)

// RiskLimits defines configurable risk management thresholds.
// Zero values disable the corresponding check.
type RiskLimits struct {
	MaxPositionQty   decimal.Decimal `json:"max_position_qty"`   // max qty held per symbol
	MaxOpenPositions int             `json:"max_open_positions"` // max number of concurrent positions
	MaxDrawdownPct   float64         `json:"max_drawdown_pct"`   // max drawdown percentage (0-100)
}

// DefaultRiskLimits returns conservative default limits.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionQty:   decimal.NewFromInt(10),
		MaxOpenPositions: 5,
		MaxDrawdownPct:   20,
	}
}

// RiskManager validates buys against risk limits and tracks equity.
// Sells are always allowed since they only reduce exposure.
type RiskManager struct {
	mu        sync.RWMutex
	limits    RiskLimits
	portfolio *Portfolio

	equity     decimal.Decimal
	peakEquity decimal.Decimal
}

// NewRiskManager creates a RiskManager with the given limits, portfolio, and starting equity.
func NewRiskManager(limits RiskLimits, pf *Portfolio, initialEquity decimal.Decimal) *RiskManager {
	return &RiskManager{
		limits:     limits,
		portfolio:  pf,
		equity:     initialEquity,
		peakEquity: initialEquity,
	}
}

// CanTrade checks if a new trade would violate any risk limits.
// Returns true if the trade is allowed, false with a reason if not.
func (rm *RiskManager) CanTrade(symbol string, side model.Side, qty decimal.Decimal) (bool, string) {
	if side == model.SideSell {
		return true, ""
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	held := rm.portfolio.Position(symbol)
	if held.Flat() && rm.limits.MaxOpenPositions > 0 && len(rm.portfolio.Positions()) >= rm.limits.MaxOpenPositions {
		return false, "max open positions reached"
	}

	if rm.limits.MaxPositionQty.IsPositive() && held.Qty.Add(qty).GreaterThan(rm.limits.MaxPositionQty) {
		return false, "position size exceeds limit"
	}

	if rm.limits.MaxDrawdownPct > 0 {
		if dd := rm.drawdownPct(); dd > rm.limits.MaxDrawdownPct {
			return false, "max drawdown exceeded"
		}
	}

	return true, ""
}

// RecordPnL updates equity tracking with a realized P&L amount.
func (rm *RiskManager) RecordPnL(pnl decimal.Decimal) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.equity = rm.equity.Add(pnl)
	if rm.equity.GreaterThan(rm.peakEquity) {
		rm.peakEquity = rm.equity
	}

	log.Printf("[risk] pnl: %s, equity: %s, peak: %s", pnl, rm.equity, rm.peakEquity)
}

func (rm *RiskManager) drawdownPct() float64 {
	if !rm.peakEquity.IsPositive() {
		return 0
	}
	return rm.peakEquity.Sub(rm.equity).Div(rm.peakEquity).InexactFloat64() * 100
}

// RiskStatus is a point-in-time view of equity and limits.
type RiskStatus struct {
	Equity      decimal.Decimal `json:"equity"`
	PeakEquity  decimal.Decimal `json:"peak_equity"`
	DrawdownPct float64         `json:"drawdown_pct"`
	Limits      RiskLimits      `json:"limits"`
}

// Status returns current risk status.
func (rm *RiskManager) Status() RiskStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return RiskStatus{
		Equity:      rm.equity,
		PeakEquity:  rm.peakEquity,
		DrawdownPct: rm.drawdownPct(),
		Limits:      rm.limits,
	}
}
