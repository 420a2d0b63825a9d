package strategy

import (
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/indicator"
	"cryptotrader/internal/model"
)

// RSI thresholds for the crossover filter.
const (
	rsiOverbought = 70
	rsiOversold   = 30
)

// SMACrossover implements a simple SMA crossover strategy.
//
// Buy signal: fast SMA crosses above slow SMA (golden cross)
// Sell signal: fast SMA crosses below slow SMA (death cross)
//
// Optional RSI filter prevents buying when overbought (>70)
// or selling when oversold (<30).
type SMACrossover struct {
	name string
	qty  decimal.Decimal

	fast *indicator.SMA
	slow *indicator.SMA
	rsi  *indicator.RSI // nil when the filter is off

	// Previous SMA values for crossover detection
	prevFast float64
	prevSlow float64
	ready    bool
}

// ValidateCrossover checks crossover periods: 0 < fast < slow, rsiPeriod >= 0
// (0 disables the filter), and every period within indicator.MaxPeriod.
func ValidateCrossover(fast, slow, rsiPeriod int) error {
	if fast <= 0 || slow <= fast || slow > indicator.MaxPeriod || rsiPeriod < 0 || rsiPeriod > indicator.MaxPeriod {
		return fmt.Errorf("crossover fast=%d slow=%d rsi=%d: need 0 < fast < slow <= %d and 0 <= rsi <= %d: %w",
			fast, slow, rsiPeriod, indicator.MaxPeriod, indicator.MaxPeriod, indicator.ErrInvalidPeriod)
	}
	return nil
}

// NewSMACrossover creates a new SMA crossover strategy.
// fastPeriod < slowPeriod (e.g., 9 and 21). qty is the base quantity per trade.
// rsiPeriod > 0 enables the RSI filter.
func NewSMACrossover(fastPeriod, slowPeriod int, qty decimal.Decimal, rsiPeriod int) *SMACrossover {
	s := &SMACrossover{
		name: "SMA_Crossover",
		qty:  qty,
		fast: indicator.NewSMA(fastPeriod),
		slow: indicator.NewSMA(slowPeriod),
	}
	if rsiPeriod > 0 {
		s.rsi = indicator.NewRSI(rsiPeriod)
	}
	return s
}

func (s *SMACrossover) Name() string {
	return s.name
}

func (s *SMACrossover) OnCandle(candle model.Candle) *Signal {
	s.fast.Update(candle)
	s.slow.Update(candle)
	if s.rsi != nil {
		s.rsi.Update(candle)
	}

	if !s.slow.Ready() || !s.fast.Ready() {
		return nil
	}

	fastSMA := s.fast.Value()
	slowSMA := s.slow.Value()

	defer func() {
		s.prevFast = fastSMA
		s.prevSlow = slowSMA
		s.ready = true
	}()

	if !s.ready {
		return nil
	}

	// Golden cross: fast crosses above slow
	if s.prevFast <= s.prevSlow && fastSMA > slowSMA {
		if rsi, ok := s.rsiValue(); ok && rsi > rsiOverbought {
			log.Printf("[strategy] %s: golden cross filtered by RSI %.1f > %d", s.name, rsi, rsiOverbought)
			return nil
		}
		return s.signal(candle, ActionBuy, "SMA golden cross (fast > slow)")
	}

	// Death cross: fast crosses below slow
	if s.prevFast >= s.prevSlow && fastSMA < slowSMA {
		if rsi, ok := s.rsiValue(); ok && rsi < rsiOversold {
			log.Printf("[strategy] %s: death cross filtered by RSI %.1f < %d", s.name, rsi, rsiOversold)
			return nil
		}
		return s.signal(candle, ActionSell, "SMA death cross (fast < slow)")
	}

	return nil
}

func (s *SMACrossover) rsiValue() (float64, bool) {
	if s.rsi == nil || !s.rsi.Ready() {
		return 0, false
	}
	return s.rsi.Value(), true
}

func (s *SMACrossover) signal(c model.Candle, a Action, reason string) *Signal {
	return &Signal{
		StrategyName: s.name,
		Action:       a,
		Symbol:       c.Symbol,
		Exchange:     c.Exchange,
		Qty:          s.qty,
		Price:        decimal.NewFromFloat(c.Close),
		Reason:       reason,
		TS:           c.TS,
	}
}
