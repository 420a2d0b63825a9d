package indicator

import (
	"fmt"

	"cryptotrader/internal/model"
)

// MACD tracks the difference between a fast and a slow EMA of closes, plus an
// EMA of that difference (the signal line).
//
// The MACD line is defined once the slow EMA is seeded; Ready reports true
// once the signal line is seeded as well.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	line   float64
}

// NewMACD creates a MACD indicator. fast must be shorter than slow (e.g. 12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

func (m *MACD) Name() string { return TypeMACD }

func (m *MACD) Update(candle model.Candle) {
	m.fast.add(candle.Close)
	m.slow.add(candle.Close)
	if !m.slow.Ready() {
		return
	}
	m.line = m.fast.Value() - m.slow.Value()
	m.signal.add(m.line)
}

// Value returns the MACD line.
func (m *MACD) Value() float64 { return m.line }
func (m *MACD) Ready() bool    { return m.signal.Ready() }

// Components returns "macd", and once seeded "signal" and "histogram".
func (m *MACD) Components() map[string]float64 {
	out := make(map[string]float64, 3)
	if m.slow.Ready() {
		out["macd"] = m.line
	}
	if m.signal.Ready() {
		sig := m.signal.Value()
		out["signal"] = sig
		out["histogram"] = m.line - sig
	}
	return out
}

// Peek returns the MACD line as it would be after candle, or 0 if the slow
// EMA would still be unseeded.
func (m *MACD) Peek(candle model.Candle) float64 {
	if m.slow.count+1 < m.slow.period {
		return 0
	}
	return m.fast.peek(candle.Close) - m.slow.peek(candle.Close)
}

// Snapshot serializes the MACD state for checkpoint persistence.
func (m *MACD) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:    TypeMACD,
		Period:  m.slow.period,
		Current: m.line,
		Children: map[string]IndicatorSnapshot{
			"fast":   m.fast.Snapshot(),
			"slow":   m.slow.Snapshot(),
			"signal": m.signal.Snapshot(),
		},
	}
}

// RestoreFromSnapshot restores MACD state from a checkpoint.
func (m *MACD) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if snap.Type != TypeMACD {
		return fmt.Errorf("restore MACD from %q snapshot", snap.Type)
	}
	for name, ema := range map[string]*EMA{"fast": m.fast, "slow": m.slow, "signal": m.signal} {
		child, ok := snap.Children[name]
		if !ok {
			return fmt.Errorf("restore MACD: missing %s line", name)
		}
		if err := ema.RestoreFromSnapshot(child); err != nil {
			return fmt.Errorf("restore MACD %s: %w", name, err)
		}
	}
	m.line = snap.Current
	return nil
}
