package indicator

import (
	"fmt"

	"cryptotrader/internal/model"
)

// Stochastic computes the stochastic oscillator.
//
//	%K = 100 * (close - lowestLow) / (highestHigh - lowestLow) over kPeriod candles
//	%D = SMA(dPeriod) of %K
//
// A window with no range (highestHigh == lowestLow) reports the neutral 50.
type Stochastic struct {
	kPeriod int
	highs   window
	lows    window
	d       *SMA
	k       float64
}

// NewStochastic creates a stochastic oscillator (typically 14, 3).
func NewStochastic(kPeriod, dPeriod int) *Stochastic {
	return &Stochastic{
		kPeriod: kPeriod,
		highs:   newWindow(kPeriod),
		lows:    newWindow(kPeriod),
		d:       NewSMA(dPeriod),
	}
}

func (s *Stochastic) Name() string { return TypeStochastic }

func (s *Stochastic) Update(candle model.Candle) {
	s.highs.push(candle.High)
	s.lows.push(candle.Low)
	if !s.highs.full() {
		return
	}
	s.k = percentK(candle.Close, s.highs.max(), s.lows.min())
	s.d.add(s.k)
}

func percentK(close, hh, ll float64) float64 {
	if hh == ll {
		return 50.0
	}
	return 100.0 * (close - ll) / (hh - ll)
}

// Value returns %K.
func (s *Stochastic) Value() float64 { return s.k }
func (s *Stochastic) Ready() bool    { return s.d.Ready() }

// Components returns "k" once the window is full and "d" once it is smoothed.
func (s *Stochastic) Components() map[string]float64 {
	out := make(map[string]float64, 2)
	if s.highs.full() {
		out["k"] = s.k
	}
	if s.d.Ready() {
		out["d"] = s.d.Value()
	}
	return out
}

// Peek returns %K as it would be after candle.
func (s *Stochastic) Peek(candle model.Candle) float64 {
	if s.highs.count+1 < s.kPeriod {
		return 0
	}
	cp := s.clone()
	cp.Update(candle)
	return cp.k
}

func (s *Stochastic) clone() *Stochastic {
	return &Stochastic{
		kPeriod: s.kPeriod,
		highs:   s.highs.clone(),
		lows:    s.lows.clone(),
		d:       s.d.clone(),
		k:       s.k,
	}
}

// Snapshot serializes the oscillator state for checkpoint persistence.
func (s *Stochastic) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:    TypeStochastic,
		Period:  s.kPeriod,
		DPeriod: s.d.period,
		Current: s.k,
		Children: map[string]IndicatorSnapshot{
			"highs": s.highs.snapshot(),
			"lows":  s.lows.snapshot(),
			"d":     s.d.Snapshot(),
		},
	}
}

// RestoreFromSnapshot restores oscillator state from a checkpoint.
func (s *Stochastic) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Type != TypeStochastic {
		return fmt.Errorf("restore STOCH from %q snapshot", snap.Type)
	}
	if err := checkShape(snap, s.kPeriod); err != nil {
		return err
	}
	highs, okH := snap.Children["highs"]
	lows, okL := snap.Children["lows"]
	d, okD := snap.Children["d"]
	if !okH || !okL || !okD {
		return fmt.Errorf("restore STOCH: incomplete snapshot")
	}
	if err := s.d.RestoreFromSnapshot(d); err != nil {
		return fmt.Errorf("restore STOCH %%D: %w", err)
	}
	if err := s.highs.restore(highs, s.kPeriod); err != nil {
		return fmt.Errorf("restore STOCH highs: %w", err)
	}
	if err := s.lows.restore(lows, s.kPeriod); err != nil {
		return fmt.Errorf("restore STOCH lows: %w", err)
	}
	s.k = snap.Current
	return nil
}
