// Package strategy provides the strategy engine for running trading strategies.
//
// A Strategy receives closed candles and emits trading signals (BUY/SELL).
// The Engine manages strategy lifecycle: registration, data routing, and signal collection.
package strategy

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/model"
)

// Signal represents a trading signal emitted by a strategy.
type Signal struct {
	StrategyName string          `json:"strategy_name"`
	Action       Action          `json:"action"`
	Symbol       string          `json:"symbol"`
	Exchange     string          `json:"exchange"`
	Qty          decimal.Decimal `json:"qty"`
	Price        decimal.Decimal `json:"price"` // close of the triggering candle
	Reason       string          `json:"reason"`
	TS           time.Time       `json:"ts"`
}

// Action represents a trading action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Side maps the action onto an order side.
func (a Action) Side() model.Side {
	if a == ActionSell {
		return model.SideSell
	}
	return model.SideBuy
}

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// OnCandle is called for each closed candle.
	// Return a Signal if the strategy wants to act, or nil to skip.
	OnCandle(candle model.Candle) *Signal
}

// Engine manages registered strategies and routes market data to them.
type Engine struct {
	strategies []Strategy
	signalCh   chan Signal
}

// NewEngine creates a new strategy engine.
func NewEngine(signalBufferSize int) *Engine {
	return &Engine{
		signalCh: make(chan Signal, signalBufferSize),
	}
}

// Register adds a strategy to the engine.
func (e *Engine) Register(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// Signals returns the channel of signals emitted by strategies.
func (e *Engine) Signals() <-chan Signal {
	return e.signalCh
}

// Run consumes candles and routes closed ones to all registered strategies.
// Blocks until ctx is cancelled or candleCh is closed; the signal channel is
// closed on return.
func (e *Engine) Run(ctx context.Context, candleCh <-chan model.Candle) {
	defer close(e.signalCh)
	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candleCh:
			if !ok {
				return
			}
			if candle.Forming {
				continue
			}
			for _, s := range e.strategies {
				if sig := s.OnCandle(candle); sig != nil {
					select {
					case e.signalCh <- *sig:
					default:
						log.Printf("[strategy] signal channel full, dropping %s %s from %s", sig.Action, sig.Symbol, sig.StrategyName)
					}
				}
			}
		}
	}
}

// PerInstrument keeps a separate strategy instance per exchange:symbol, for
// stateful strategies fed a multi-instrument stream. Not safe for concurrent use.
type PerInstrument struct {
	name    string
	factory func() Strategy
	byKey   map[string]Strategy
}

// NewPerInstrument creates instances with factory on first sight of an instrument.
func NewPerInstrument(factory func() Strategy) *PerInstrument {
	return &PerInstrument{name: factory().Name(), factory: factory, byKey: make(map[string]Strategy)}
}

func (p *PerInstrument) Name() string { return p.name }

func (p *PerInstrument) OnCandle(candle model.Candle) *Signal {
	key := candle.Key()
	s, ok := p.byKey[key]
	if !ok {
		s = p.factory()
		p.byKey[key] = s
	}
	return s.OnCandle(candle)
}
