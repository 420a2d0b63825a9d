package indicator

import (
	"fmt"
	"log"
	"strings"
)

// Snapshottable is implemented by indicators that support state serialization.
type Snapshottable interface {
	Indicator
	Snapshot() IndicatorSnapshot
	RestoreFromSnapshot(snap IndicatorSnapshot) error
}

// checkShape rejects a snapshot taken from an indicator with a different
// period, or one carrying a negative count.
func checkShape(snap IndicatorSnapshot, period int) error {
	if snap.Period != period {
		return fmt.Errorf("%s snapshot period %d, want %d", snap.Type, snap.Period, period)
	}
	if snap.Count < 0 {
		return fmt.Errorf("%s snapshot count %d", snap.Type, snap.Count)
	}
	return nil
}

// IndicatorSnapshot holds the serialized state of a single indicator instance.
// Composite indicators (MACD, ATR, STOCH, VOLRATIO) nest their parts in Children.
type IndicatorSnapshot struct {
	Type   string `json:"type"`
	Period int    `json:"period"`
	Key    string `json:"key,omitempty"` // Config.Key() of the owning indicator

	// window fields
	Buf     []float64 `json:"buf,omitempty"`
	Idx     int       `json:"idx,omitempty"`
	Count   int       `json:"count"`
	Sum     float64   `json:"sum,omitempty"`
	Current float64   `json:"current"`

	// EMA
	Multiplier float64 `json:"multiplier,omitempty"`

	// RSI / ATR
	PrevClose float64 `json:"prev_close,omitempty"`
	AvgGain   float64 `json:"avg_gain,omitempty"`
	AvgLoss   float64 `json:"avg_loss,omitempty"`

	// Bollinger
	K     float64 `json:"k,omitempty"`
	Upper float64 `json:"upper,omitempty"`
	Lower float64 `json:"lower,omitempty"`

	// Stochastic
	DPeriod int `json:"d_period,omitempty"`

	Children map[string]IndicatorSnapshot `json:"children,omitempty"`
}

// SymbolSnapshot holds indicator snapshots for a single instrument within a TF.
type SymbolSnapshot struct {
	Symbol     string              `json:"symbol"`
	Exchange   string              `json:"exchange"`
	TF         int                 `json:"tf"`
	LastTS     int64               `json:"last_ts,omitempty"` // unix seconds of the last closed candle
	Indicators []IndicatorSnapshot `json:"indicators"`
}

// EngineSnapshot holds the full state of the indicator engine.
type EngineSnapshot struct {
	Checkpoint string           `json:"checkpoint"` // caller-defined marker (e.g. "periodic", "shutdown")
	Symbols    []SymbolSnapshot `json:"symbols"`
	Version    int              `json:"version"` // schema version for forward compat
}

// snapshotVersion is bumped when IndicatorSnapshot changes incompatibly.
const snapshotVersion = 2

// SnapshotEngine captures the full state of an indicator Engine.
func SnapshotEngine(e *Engine, checkpoint string) (*EngineSnapshot, error) {
	snap := &EngineSnapshot{
		Checkpoint: checkpoint,
		Version:    snapshotVersion,
	}

	for tfIdx, cfg := range e.configs {
		for key, si := range e.state[tfIdx] {
			ss := SymbolSnapshot{
				TF:         cfg.TF,
				LastTS:     si.lastTS,
				Indicators: make([]IndicatorSnapshot, 0, len(si.indicators)),
			}
			ss.Exchange, ss.Symbol = splitKey(key)

			for i, ind := range si.indicators {
				s, ok := ind.(Snapshottable)
				if !ok {
					return nil, fmt.Errorf("indicator %s does not implement Snapshottable", ind.Name())
				}
				is := s.Snapshot()
				is.Key = si.configs[i].Key()
				ss.Indicators = append(ss.Indicators, is)
			}
			snap.Symbols = append(snap.Symbols, ss)
		}
	}

	return snap, nil
}

// splitKey splits "exchange:symbol". Symbols such as "BTC/USD" never contain ':'.
func splitKey(key string) (exchange, symbol string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}

// joinKey mirrors model.Candle.Key.
func joinKey(exchange, symbol string) string {
	return exchange + ":" + symbol
}

// RestoreEngine rebuilds an indicator Engine from a snapshot.
// It is tolerant of config changes: indicators are matched by Config.Key()
// rather than by index. Matching indicators get their state restored; new
// indicators start cold. Removed indicators are silently skipped.
func RestoreEngine(configs []TFConfig, snap *EngineSnapshot) (*Engine, error) {
	e, err := NewEngine(configs)
	if err != nil {
		return nil, err
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snap.Version, snapshotVersion)
	}

	for _, ss := range snap.Symbols {
		tfIdx, ok := e.tfIndex[ss.TF]
		if !ok {
			continue // TF no longer configured
		}

		si := e.createSymbolIndicators(tfIdx)
		si.lastTS = ss.LastTS

		byKey := make(map[string]IndicatorSnapshot, len(ss.Indicators))
		for _, is := range ss.Indicators {
			byKey[is.Key] = is
		}

		restored, cold := 0, 0
		for i, ind := range si.indicators {
			is, found := byKey[si.configs[i].Key()]
			if !found {
				cold++
				continue
			}
			s, ok := ind.(Snapshottable)
			if !ok {
				cold++
				continue
			}
			if err := s.RestoreFromSnapshot(is); err != nil {
				// Restore may have partially applied; start over from a fresh instance.
				si.indicators[i] = mustNew(si.configs[i])
				cold++
				continue
			}
			restored++
		}

		if cold > 0 {
			log.Printf("[restorer] TF=%d %s:%s: restored %d, cold-started %d indicators",
				ss.TF, ss.Exchange, ss.Symbol, restored, cold)
		}

		e.state[tfIdx][joinKey(ss.Exchange, ss.Symbol)] = si
	}

	return e, nil
}
