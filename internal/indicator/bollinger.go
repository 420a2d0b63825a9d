package indicator

import (
	"fmt"
	"math"

	"cryptotrader/internal/model"
)

// Bollinger computes Bollinger Bands: an SMA middle band with upper and lower
// bands k population standard deviations away.
type Bollinger struct {
	period int
	k      float64
	win    window
	sum    float64

	middle float64
	upper  float64
	lower  float64
}

// NewBollinger creates Bollinger Bands over period closes with a k-sigma width (typically 20, 2).
func NewBollinger(period int, k float64) *Bollinger {
	return &Bollinger{
		period: period,
		k:      k,
		win:    newWindow(period),
	}
}

func (b *Bollinger) Name() string { return TypeBollinger }

func (b *Bollinger) Update(candle model.Candle) {
	v := candle.Close
	if evicted, ok := b.win.push(v); ok {
		b.sum -= evicted
	}
	b.sum += v
	if !b.win.full() {
		return
	}

	n := float64(b.period)
	mean := b.sum / n
	// Variance is recomputed from the window so rounding in the running sum
	// never feeds into the band width.
	var sq float64
	for _, x := range b.win.buf {
		d := x - mean
		sq += d * d
	}
	sd := math.Sqrt(math.Max(sq/n, 0))

	b.middle = mean
	b.upper = mean + b.k*sd
	b.lower = mean - b.k*sd
}

// Value returns the middle band.
func (b *Bollinger) Value() float64 { return b.middle }
func (b *Bollinger) Ready() bool    { return b.win.full() }

// Components returns the three bands once the window is full.
func (b *Bollinger) Components() map[string]float64 {
	if !b.Ready() {
		return nil
	}
	return map[string]float64{
		"upper":  b.upper,
		"middle": b.middle,
		"lower":  b.lower,
	}
}

// Peek returns the middle band as it would be after candle.
func (b *Bollinger) Peek(candle model.Candle) float64 {
	if !b.win.full() {
		return (b.sum + candle.Close) / float64(b.win.count+1)
	}
	return (b.sum - b.win.oldest() + candle.Close) / float64(b.period)
}

// Snapshot serializes the band state for checkpoint persistence.
func (b *Bollinger) Snapshot() IndicatorSnapshot {
	snap := b.win.snapshot()
	snap.Type = TypeBollinger
	snap.Period = b.period
	snap.K = b.k
	snap.Sum = b.sum
	snap.Current = b.middle
	snap.Upper = b.upper
	snap.Lower = b.lower
	return snap
}

// RestoreFromSnapshot restores band state from a checkpoint.
func (b *Bollinger) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Type != TypeBollinger {
		return fmt.Errorf("restore BB from %q snapshot", snap.Type)
	}
	if err := checkShape(snap, b.period); err != nil {
		return err
	}
	if err := b.win.restore(snap, b.period); err != nil {
		return fmt.Errorf("restore BB: %w", err)
	}
	b.k = snap.K
	b.sum = snap.Sum
	b.middle = snap.Current
	b.upper = snap.Upper
	b.lower = snap.Lower
	return nil
}
