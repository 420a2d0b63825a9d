package indicator

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
)

// Indicator type identifiers, used in Config.Type, snapshots and result names.
const (
	TypeSMA         = "SMA"
	TypeEMA         = "EMA"
	TypeSMMA        = "SMMA"
	TypeRSI         = "RSI"
	TypeMACD        = "MACD"
	TypeBollinger   = "BB"
	TypeATR         = "ATR"
	TypeStochastic  = "STOCH"
	TypeVolumeRatio = "VOLRATIO"
)

// Config specifies a single indicator to compute.
//
// Period is the main window for every type except MACD, which uses
// Fast/Slow/Signal. Bollinger reads K as the band width in standard
// deviations; Stochastic reads Period as the %K window and DPeriod as the
// %D smoothing.
type Config struct {
	Type    string  `json:"type" yaml:"type"`
	Period  int     `json:"period,omitempty" yaml:"period,omitempty"`
	Fast    int     `json:"fast,omitempty" yaml:"fast,omitempty"`
	Slow    int     `json:"slow,omitempty" yaml:"slow,omitempty"`
	Signal  int     `json:"signal,omitempty" yaml:"signal,omitempty"`
	K       float64 `json:"k,omitempty" yaml:"k,omitempty"`
	DPeriod int     `json:"d_period,omitempty" yaml:"d_period,omitempty"`
}

// TFConfig groups indicator configs for a specific timeframe.
type TFConfig struct {
	TF         int      `json:"tf" yaml:"tf"` // timeframe in seconds
	Indicators []Config `json:"indicators" yaml:"indicators"`
}

// Normalize upper-cases the type and fills unset parameters with the
// conventional defaults (MACD 12/26/9, BB 20/2, STOCH 14/3, ...).
func (c Config) Normalize() Config {
	c.Type = strings.ToUpper(strings.TrimSpace(c.Type))
	switch c.Type {
	case TypeSMA, TypeEMA, TypeVolumeRatio:
		c.Period = orDefault(c.Period, 20)
	case TypeSMMA, TypeRSI, TypeATR:
		c.Period = orDefault(c.Period, 14)
	case TypeMACD:
		c.Fast = orDefault(c.Fast, 12)
		c.Slow = orDefault(c.Slow, 26)
		c.Signal = orDefault(c.Signal, 9)
	case TypeBollinger:
		c.Period = orDefault(c.Period, 20)
		if c.K == 0 {
			c.K = 2
		}
	case TypeStochastic:
		c.Period = orDefault(c.Period, 14)
		c.DPeriod = orDefault(c.DPeriod, 3)
	}
	return c
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Key returns the canonical result name, e.g. "SMA_20", "MACD_12_26_9", "BB_20_2".
// The config is expected to be normalized.
func (c Config) Key() string {
	switch c.Type {
	case TypeMACD:
		return c.Type + "_" + strconv.Itoa(c.Fast) + "_" + strconv.Itoa(c.Slow) + "_" + strconv.Itoa(c.Signal)
	case TypeBollinger:
		return c.Type + "_" + strconv.Itoa(c.Period) + "_" + strconv.FormatFloat(c.K, 'f', -1, 64)
	case TypeStochastic:
		return c.Type + "_" + strconv.Itoa(c.Period) + "_" + strconv.Itoa(c.DPeriod)
	}
	return c.Type + "_" + strconv.Itoa(c.Period)
}

// MaxPeriod bounds every window parameter so warm-up arithmetic and window
// allocation stay in range.
const MaxPeriod = 1 << 20

func periodOK(p int) bool { return p > 0 && p <= MaxPeriod }

// Validate checks the parameters of a normalized config.
func (c Config) Validate() error {
	switch c.Type {
	case TypeSMA, TypeEMA, TypeSMMA, TypeRSI, TypeATR, TypeVolumeRatio:
		if !periodOK(c.Period) {
			return fmt.Errorf("%s period=%d: %w", c.Type, c.Period, ErrInvalidPeriod)
		}
	case TypeMACD:
		if !periodOK(c.Fast) || !periodOK(c.Slow) || !periodOK(c.Signal) || c.Fast >= c.Slow {
			return fmt.Errorf("MACD %d/%d/%d: %w", c.Fast, c.Slow, c.Signal, ErrInvalidPeriod)
		}
	case TypeBollinger:
		if !periodOK(c.Period) || !(c.K > 0) || math.IsInf(c.K, 0) {
			return fmt.Errorf("BB period=%d k=%g: %w", c.Period, c.K, ErrInvalidPeriod)
		}
	case TypeStochastic:
		if !periodOK(c.Period) || !periodOK(c.DPeriod) {
			return fmt.Errorf("STOCH %d/%d: %w", c.Period, c.DPeriod, ErrInvalidPeriod)
		}
	default:
		return fmt.Errorf("%q: %w", c.Type, ErrUnknownType)
	}
	return nil
}

// Warmup returns how many candles the indicator needs before its first value.
func (c Config) Warmup() int {
	switch c.Type {
	case TypeRSI, TypeVolumeRatio:
		return c.Period + 1
	case TypeMACD:
		return c.Slow + c.Signal - 1
	case TypeStochastic:
		return c.Period + c.DPeriod - 1
	}
	return c.Period
}

// New creates a fresh indicator instance for cfg.
func New(cfg Config) (Indicator, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeSMA:
		return NewSMA(cfg.Period), nil
	case TypeEMA:
		return NewEMA(cfg.Period), nil
	case TypeSMMA:
		return NewSMMA(cfg.Period), nil
	case TypeRSI:
		return NewRSI(cfg.Period), nil
	case TypeMACD:
		return NewMACD(cfg.Fast, cfg.Slow, cfg.Signal), nil
	case TypeBollinger:
		return NewBollinger(cfg.Period, cfg.K), nil
	case TypeATR:
		return NewATR(cfg.Period), nil
	case TypeStochastic:
		return NewStochastic(cfg.Period, cfg.DPeriod), nil
	case TypeVolumeRatio:
		return NewVolumeRatio(cfg.Period), nil
	}
	return nil, fmt.Errorf("%q: %w", cfg.Type, ErrUnknownType)
}

// DefaultConfigs is the indicator set used when nothing is configured.
func DefaultConfigs() []Config {
	return []Config{
		{Type: TypeSMA, Period: 9},
		{Type: TypeSMA, Period: 20},
		{Type: TypeSMA, Period: 50},
		{Type: TypeEMA, Period: 9},
		{Type: TypeEMA, Period: 21},
		{Type: TypeRSI, Period: 14},
		{Type: TypeMACD, Fast: 12, Slow: 26, Signal: 9},
		{Type: TypeBollinger, Period: 20, K: 2},
		{Type: TypeATR, Period: 14},
		{Type: TypeStochastic, Period: 14, DPeriod: 3},
		{Type: TypeVolumeRatio, Period: 20},
	}
}

// ParseSpecs parses "TYPE:P1[:P2[:P3]],..." into configs.
// Example: "SMA:9,EMA:21,RSI:14,MACD:12:26:9,BB:20:2,STOCH:14:3".
// A bare type ("MACD") takes its defaults. Invalid entries are skipped;
// an empty or fully invalid string yields DefaultConfigs.
func ParseSpecs(s string) []Config {
	if strings.TrimSpace(s) == "" {
		return DefaultConfigs()
	}

	var configs []Config
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		cfg, err := ParseSpec(part)
		if err != nil {
			log.Printf("[indicator] skipping invalid indicator spec %q: %v", part, err)
			continue
		}
		configs = append(configs, cfg)
	}
	if len(configs) == 0 {
		log.Println("[indicator] WARNING: no valid indicators parsed, using defaults")
		return DefaultConfigs()
	}
	return configs
}

// ParseSpec parses a single "TYPE:P1[:P2[:P3]]" entry into a normalized, valid config.
func ParseSpec(spec string) (Config, error) {
	tokens := strings.Split(spec, ":")
	cfg := Config{Type: strings.ToUpper(strings.TrimSpace(tokens[0]))}
	params := tokens[1:]

	ints := make([]int, 0, len(params))
	for i, p := range params {
		p = strings.TrimSpace(p)
		if cfg.Type == TypeBollinger && i == 1 {
			k, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return Config{}, fmt.Errorf("bad band width %q: %w", p, err)
			}
			cfg.K = k
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Config{}, fmt.Errorf("bad parameter %q: %w", p, err)
		}
		ints = append(ints, n)
	}

	switch cfg.Type {
	case TypeMACD:
		if len(ints) > 3 {
			return Config{}, fmt.Errorf("MACD takes at most 3 parameters")
		}
		dst := []*int{&cfg.Fast, &cfg.Slow, &cfg.Signal}
		for i, n := range ints {
			*dst[i] = n
		}
	case TypeStochastic:
		if len(ints) > 2 {
			return Config{}, fmt.Errorf("STOCH takes at most 2 parameters")
		}
		if len(ints) > 0 {
			cfg.Period = ints[0]
		}
		if len(ints) > 1 {
			cfg.DPeriod = ints[1]
		}
	default:
		if len(ints) > 1 {
			return Config{}, fmt.Errorf("%s takes a single period", cfg.Type)
		}
		if len(ints) == 1 {
			cfg.Period = ints[0]
		}
	}

	// An explicit zero would otherwise be replaced by the default.
	for _, n := range ints {
		if n <= 0 {
			return Config{}, fmt.Errorf("%s: %w", spec, ErrInvalidPeriod)
		}
	}

	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BuildTFConfigs applies the same indicator set to every timeframe.
func BuildTFConfigs(tfs []int, indicators []Config) []TFConfig {
	configs := make([]TFConfig, len(tfs))
	for i, tf := range tfs {
		configs[i] = TFConfig{TF: tf, Indicators: indicators}
	}
	return configs
}

// ValidateConfigs checks a set of TFConfigs for errors.
func ValidateConfigs(configs []TFConfig) error {
	seen := make(map[int]bool)
	for _, cfg := range configs {
		if cfg.TF <= 0 {
			return fmt.Errorf("invalid TF=%d: must be positive", cfg.TF)
		}
		if seen[cfg.TF] {
			return fmt.Errorf("duplicate TF=%d", cfg.TF)
		}
		seen[cfg.TF] = true

		keys := make(map[string]bool, len(cfg.Indicators))
		for _, ind := range cfg.Indicators {
			ind = ind.Normalize()
			if err := ind.Validate(); err != nil {
				return fmt.Errorf("TF=%d: %w", cfg.TF, err)
			}
			if keys[ind.Key()] {
				return fmt.Errorf("TF=%d: duplicate indicator %s", cfg.TF, ind.Key())
			}
			keys[ind.Key()] = true
		}
	}
	return nil
}
