// Package execution turns strategy signals into tracked orders.
//
// The Executor receives signals from the strategy engine and records them
// as orders. PaperExecutor fills them immediately at a simulated price.
package execution

import (
	"context"
	"log"

	"cryptotrader/internal/model"
	"cryptotrader/internal/strategy"
)

// OrderResult represents the outcome of executing a signal.
type OrderResult struct {
	Order  model.Order     `json:"order"`
	Signal strategy.Signal `json:"signal"`
	Err    error           `json:"-"`
}

// Executor places orders based on strategy signals.
type Executor = strategy.Executor

// Run consumes signals, executes each with ex and forwards the outcome to
// results. Blocks until ctx is cancelled or signalCh is closed.
func Run(ctx context.Context, ex Executor, signalCh <-chan strategy.Signal, results chan<- OrderResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signalCh:
			if !ok {
				return
			}
			o, err := ex.Execute(ctx, sig)
			if err != nil {
				log.Printf("[executor] %s %s failed: %v", sig.Action, sig.Symbol, err)
			}
			select {
			case results <- OrderResult{Order: o, Signal: sig, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}
