package indicator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"cryptotrader/internal/model"
)

// Series is an indicator output aligned with its input. Positions without
// enough data are NaN, which encodes to JSON null.
type Series []float64

// Absent reports whether position i has no value.
func (s Series) Absent(i int) bool { return math.IsNaN(s[i]) }

// Last returns the final value and whether it is present.
func (s Series) Last() (float64, bool) {
	if len(s) == 0 || math.IsNaN(s[len(s)-1]) {
		return 0, false
	}
	return s[len(s)-1], true
}

// Present returns the number of non-absent values.
func (s Series) Present() int {
	n := 0
	for _, v := range s {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// MarshalJSON encodes absent values as null.
func (s Series) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	vals := make([]*float64, len(s))
	for i := range s {
		if !math.IsNaN(s[i]) {
			vals[i] = &s[i]
		}
	}
	return json.Marshal(vals)
}

// UnmarshalJSON decodes null entries back to NaN.
func (s *Series) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}
	var vals []*float64
	if err := json.Unmarshal(data, &vals); err != nil {
		return err
	}
	out := make(Series, len(vals))
	for i, v := range vals {
		if v == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *v
		}
	}
	*s = out
	return nil
}

func newSeries(n int) Series {
	s := make(Series, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// ValueKey is the map key of the primary line returned by Compute.
const ValueKey = "value"

// Compute runs the indicator described by cfg over candles and returns every
// line it produces: ValueKey for the primary value plus one entry per
// component ("signal", "histogram", "upper", "lower", "d", ...).
// cfg is used as given; zero parameters are not replaced with defaults.
func Compute(cfg Config, candles []model.Candle) (map[string]Series, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if need := cfg.Warmup(); len(candles) < need {
		return nil, fmt.Errorf("%s needs %d candles, got %d: %w", cfg.Key(), need, len(candles), ErrInsufficientData)
	}
	ind, err := New(cfg)
	if err != nil {
		return nil, err
	}

	out := map[string]Series{ValueKey: newSeries(len(candles))}
	multi, isMulti := ind.(Multi)
	for i, c := range candles {
		ind.Update(c)
		if isMulti {
			for name, v := range multi.Components() {
				line, ok := out[name]
				if !ok {
					line = newSeries(len(candles))
					out[name] = line
				}
				line[i] = v
			}
		}
		if ind.Ready() {
			out[ValueKey][i] = ind.Value()
		}
	}
	return out, nil
}

func closes(values []float64) []model.Candle {
	candles := make([]model.Candle, len(values))
	for i, v := range values {
		candles[i] = model.ClosePrice(v)
	}
	return candles
}

func single(cfg Config, candles []model.Candle) (Series, error) {
	lines, err := Compute(cfg, candles)
	if err != nil {
		return nil, err
	}
	return lines[ValueKey], nil
}

// ComputeSMA returns the simple moving average of values over period.
func ComputeSMA(values []float64, period int) (Series, error) {
	return single(Config{Type: TypeSMA, Period: period}, closes(values))
}

// ComputeEMA returns the exponential moving average of values, seeded with the SMA of the first period values.
func ComputeEMA(values []float64, period int) (Series, error) {
	return single(Config{Type: TypeEMA, Period: period}, closes(values))
}

// ComputeSMMA returns Wilder's smoothed moving average of values.
func ComputeSMMA(values []float64, period int) (Series, error) {
	return single(Config{Type: TypeSMMA, Period: period}, closes(values))
}

// ComputeRSI returns the Wilder RSI of values. The first value appears at index period.
func ComputeRSI(values []float64, period int) (Series, error) {
	return single(Config{Type: TypeRSI, Period: period}, closes(values))
}

// MACDSeries holds the three MACD lines.
type MACDSeries struct {
	MACD      Series `json:"macd"`
	Signal    Series `json:"signal"`
	Histogram Series `json:"histogram"`
}

// ComputeMACD returns the MACD, signal and histogram lines of values.
// The MACD line starts at index slow-1, signal and histogram at slow+signal-2.
func ComputeMACD(values []float64, fast, slow, signal int) (MACDSeries, error) {
	lines, err := Compute(Config{Type: TypeMACD, Fast: fast, Slow: slow, Signal: signal}, closes(values))
	if err != nil {
		return MACDSeries{}, err
	}
	return MACDSeries{
		MACD:      lines["macd"],
		Signal:    lines["signal"],
		Histogram: lines["histogram"],
	}, nil
}

// BandSeries holds Bollinger Band lines.
type BandSeries struct {
	Upper  Series `json:"upper"`
	Middle Series `json:"middle"`
	Lower  Series `json:"lower"`
}

// ComputeBollinger returns Bollinger Bands of values with a k-sigma width.
func ComputeBollinger(values []float64, period int, k float64) (BandSeries, error) {
	lines, err := Compute(Config{Type: TypeBollinger, Period: period, K: k}, closes(values))
	if err != nil {
		return BandSeries{}, err
	}
	return BandSeries{
		Upper:  lines["upper"],
		Middle: lines["middle"],
		Lower:  lines["lower"],
	}, nil
}

// ComputeATR returns the average true range of candles.
func ComputeATR(candles []model.Candle, period int) (Series, error) {
	return single(Config{Type: TypeATR, Period: period}, candles)
}

// StochSeries holds the stochastic %K and %D lines.
type StochSeries struct {
	K Series `json:"k"`
	D Series `json:"d"`
}

// ComputeStochastic returns %K and %D of candles.
func ComputeStochastic(candles []model.Candle, kPeriod, dPeriod int) (StochSeries, error) {
	lines, err := Compute(Config{Type: TypeStochastic, Period: kPeriod, DPeriod: dPeriod}, candles)
	if err != nil {
		return StochSeries{}, err
	}
	return StochSeries{K: lines["k"], D: lines["d"]}, nil
}

// ComputeVolumeRatio returns each volume divided by the mean of the preceding period volumes.
func ComputeVolumeRatio(volumes []float64, period int) (Series, error) {
	candles := make([]model.Candle, len(volumes))
	for i, v := range volumes {
		candles[i] = model.Candle{Volume: v}
	}
	return single(Config{Type: TypeVolumeRatio, Period: period}, candles)
}
