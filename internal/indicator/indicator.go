// Package indicator provides technical indicator calculations over candle data.
//
// Every indicator is a streaming state machine implementing Indicator: feed
// candles with Update and read Value once Ready. The batch helpers in
// series.go replay the same streaming indicators over a whole input list, so a
// batch result is always identical to what the streaming engine produced.
package indicator

import (
	"errors"

	"cryptotrader/internal/model"
)

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator type (e.g., "SMA", "MACD").
	Name() string

	// Update feeds a new closed candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current primary value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Peek computes what Value() would be if candle were added next,
	// WITHOUT mutating internal state. Used for forming candles.
	Peek(candle model.Candle) float64
}

// Multi is implemented by indicators that produce more than one line.
type Multi interface {
	Indicator

	// Components returns the secondary lines that currently have a value,
	// keyed by line name ("signal", "upper", "d", ...).
	Components() map[string]float64
}

var (
	// ErrInvalidPeriod is returned for non-positive periods or inconsistent parameters.
	ErrInvalidPeriod = errors.New("indicator: invalid period")

	// ErrInsufficientData is returned when a batch input is shorter than the warm-up.
	ErrInsufficientData = errors.New("indicator: insufficient data")

	// ErrUnknownType is returned for indicator types this package does not implement.
	ErrUnknownType = errors.New("indicator: unknown type")
)
