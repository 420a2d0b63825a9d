package main

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"cryptotrader/internal/execution"
	"cryptotrader/internal/indengine"
	"cryptotrader/internal/model"
	"cryptotrader/internal/orders"
	"cryptotrader/internal/strategy"
)

// paperTap forwards engine candles to the next sink and copies closed
// candles of one timeframe to the strategy input. The copy never blocks.
type paperTap struct {
	next indengine.CandleSink
	tf   int
	out  chan<- model.Candle
	log  *slog.Logger
}

func (p *paperTap) PublishCandle(c model.Candle) {
	p.next.PublishCandle(c)
	if c.Forming || c.TF != p.tf {
		return
	}
	select {
	case p.out <- c:
	default:
		p.log.Warn("paper strategy input full, dropping candle", slog.String("key", c.Key()))
	}
}

// paperTrader runs the SMA crossover per instrument on live candles and fills its signals
// against the live order tracker.
type paperTrader struct {
	engine   *strategy.Engine
	executor *execution.PaperExecutor
	in       chan model.Candle
	log      *slog.Logger
}

func newPaperTrader(fast, slow int, qty decimal.Decimal, tracker *orders.Tracker, log *slog.Logger) *paperTrader {
	e := strategy.NewEngine(256)
	e.Register(strategy.NewPerInstrument(func() strategy.Strategy {
		return strategy.NewSMACrossover(fast, slow, qty, 0)
	}))
	return &paperTrader{
		engine:   e,
		executor: execution.NewPaperExecutor(tracker, 0),
		in:       make(chan model.Candle, 1024),
		log:      log,
	}
}

func (p *paperTrader) tap(next indengine.CandleSink, tf int) *paperTap {
	return &paperTap{next: next, tf: tf, out: p.in, log: p.log}
}

// Run routes candles to the strategy and executes its signals until ctx ends.
func (p *paperTrader) Run(ctx context.Context) {
	go p.engine.Run(ctx, p.in)
	for sig := range p.engine.Signals() {
		o, err := p.executor.Execute(ctx, sig)
		if err != nil {
			p.log.Warn("paper order failed", slog.String("symbol", sig.Symbol), slog.Any("error", err))
			continue
		}
		p.log.Info("paper order filled",
			slog.String("id", o.ID),
			slog.String("side", string(o.Side)),
			slog.String("symbol", o.Symbol),
			slog.String("price", o.Price.String()),
			slog.String("reason", sig.Reason))
	}
}
