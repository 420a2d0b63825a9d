package indicator

import (
	"fmt"

	"cryptotrader/internal/model"
)

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	period  int
	win     window
	sum     float64
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		win:    newWindow(period),
	}
}

func (s *SMA) Name() string { return TypeSMA }

func (s *SMA) Update(candle model.Candle) { s.add(candle.Close) }

// add pushes a raw value. Other indicators reuse SMA over derived series.
func (s *SMA) add(v float64) {
	if evicted, ok := s.win.push(v); ok {
		s.sum -= evicted
	}
	s.sum += v
	if s.win.full() {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.win.full() }

// Peek computes what Value() would be with an additional candle without mutating state.
func (s *SMA) Peek(candle model.Candle) float64 { return s.peek(candle.Close) }

func (s *SMA) peek(v float64) float64 {
	if !s.win.full() {
		// Not fully ready, partial average including this value
		return (s.sum + v) / float64(s.win.count+1)
	}
	return (s.sum - s.win.oldest() + v) / float64(s.period)
}

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.win.reset()
	s.sum = 0
	s.current = 0
}

func (s *SMA) clone() *SMA {
	cp := *s
	cp.win = s.win.clone()
	return &cp
}

// Snapshot serializes the SMA state for checkpoint persistence.
func (s *SMA) Snapshot() IndicatorSnapshot {
	snap := s.win.snapshot()
	snap.Type = TypeSMA
	snap.Period = s.period
	snap.Sum = s.sum
	snap.Current = s.current
	return snap
}

// RestoreFromSnapshot restores SMA state from a checkpoint.
func (s *SMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Type != TypeSMA {
		return fmt.Errorf("restore SMA from %q snapshot", snap.Type)
	}
	if err := checkShape(snap, s.period); err != nil {
		return err
	}
	if err := s.win.restore(snap, s.period); err != nil {
		return fmt.Errorf("restore SMA: %w", err)
	}
	s.sum = snap.Sum
	s.current = snap.Current
	return nil
}
