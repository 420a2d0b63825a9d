package indicator

import (
	"fmt"
	"math"

	"cryptotrader/internal/model"
)

// ATR computes the Average True Range: Wilder smoothing (SMMA) of the true range.
// The first candle has no previous close, so its true range is High-Low.
type ATR struct {
	period    int
	count     int
	prevClose float64
	tr        *SMMA
}

// NewATR creates an ATR indicator with the given period (typically 14).
func NewATR(period int) *ATR {
	return &ATR{period: period, tr: NewSMMA(period)}
}

func (a *ATR) Name() string { return TypeATR }

func (a *ATR) Update(candle model.Candle) {
	tr := a.trueRange(candle)
	a.prevClose = candle.Close
	a.count++
	a.tr.add(tr)
}

func (a *ATR) trueRange(c model.Candle) float64 {
	tr := c.High - c.Low
	if a.count == 0 {
		return tr
	}
	return math.Max(tr, math.Max(math.Abs(c.High-a.prevClose), math.Abs(c.Low-a.prevClose)))
}

func (a *ATR) Value() float64 { return a.tr.Value() }
func (a *ATR) Ready() bool    { return a.tr.Ready() }

// Peek computes what ATR would be after candle without mutating state.
func (a *ATR) Peek(candle model.Candle) float64 {
	return a.tr.peek(a.trueRange(candle))
}

// Snapshot serializes the ATR state for checkpoint persistence.
func (a *ATR) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:      TypeATR,
		Period:    a.period,
		Count:     a.count,
		PrevClose: a.prevClose,
		Current:   a.tr.Value(),
		Children:  map[string]IndicatorSnapshot{"tr": a.tr.Snapshot()},
	}
}

// RestoreFromSnapshot restores ATR state from a checkpoint.
func (a *ATR) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Type != TypeATR {
		return fmt.Errorf("restore ATR from %q snapshot", snap.Type)
	}
	if err := checkShape(snap, a.period); err != nil {
		return err
	}
	child, ok := snap.Children["tr"]
	if !ok {
		return fmt.Errorf("restore ATR: missing true-range state")
	}
	if err := a.tr.RestoreFromSnapshot(child); err != nil {
		return fmt.Errorf("restore ATR: %w", err)
	}
	a.count = snap.Count
	a.prevClose = snap.PrevClose
	return nil
}
