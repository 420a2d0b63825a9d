package indicator

import (
	"fmt"

	"cryptotrader/internal/model"
)

// symbolIndicators holds live indicator instances for one instrument within a TF.
type symbolIndicators struct {
	indicators []Indicator
	configs    []Config
	lastTS     int64 // unix seconds of the last closed candle processed
}

// Engine computes multiple indicators across multiple TFs for multiple instruments.
// Designed for single-goroutine usage, no locks needed.
type Engine struct {
	configs []TFConfig
	tfIndex map[int]int // TF seconds → index into configs/state

	// state[tfIdx][exchange:symbol] → *symbolIndicators
	state []map[string]*symbolIndicators
}

// NewEngine creates an indicator engine with the given per-TF indicator configs.
// Configs are normalized and validated up front so Process never has to fail.
func NewEngine(configs []TFConfig) (*Engine, error) {
	configs = normalizeTFConfigs(configs)
	if err := ValidateConfigs(configs); err != nil {
		return nil, err
	}
	e := &Engine{}
	e.setConfigs(configs, make([]map[string]*symbolIndicators, len(configs)))
	for i := range e.state {
		e.state[i] = make(map[string]*symbolIndicators, 64)
	}
	return e, nil
}

func normalizeTFConfigs(configs []TFConfig) []TFConfig {
	out := make([]TFConfig, len(configs))
	for i, cfg := range configs {
		inds := make([]Config, len(cfg.Indicators))
		for j, ic := range cfg.Indicators {
			inds[j] = ic.Normalize()
		}
		out[i] = TFConfig{TF: cfg.TF, Indicators: inds}
	}
	return out
}

func (e *Engine) setConfigs(configs []TFConfig, state []map[string]*symbolIndicators) {
	e.configs = configs
	e.state = state
	e.tfIndex = make(map[int]int, len(configs))
	for i, cfg := range configs {
		e.tfIndex[cfg.TF] = i
	}
}

// Configs returns the active per-TF configuration.
func (e *Engine) Configs() []TFConfig { return e.configs }

// Symbols returns the number of tracked instrument/TF pairs.
func (e *Engine) Symbols() int {
	n := 0
	for _, m := range e.state {
		n += len(m)
	}
	return n
}

// Process takes a closed candle and computes all indicators for that TF + instrument.
// Returns indicator results (may include not-ready indicators with Ready=false).
func (e *Engine) Process(c model.Candle) []model.IndicatorResult {
	tfIdx, ok := e.tfIndex[c.TF]
	if !ok {
		return nil // TF not configured for indicators
	}

	key := c.Key()
	si, exists := e.state[tfIdx][key]
	if !exists {
		si = e.createSymbolIndicators(tfIdx)
		e.state[tfIdx][key] = si
	}

	si.lastTS = c.TS.Unix()
	results := make([]model.IndicatorResult, 0, len(si.indicators))
	for i, ind := range si.indicators {
		ind.Update(c)
		results = append(results, e.result(c, si.configs[i], ind, ind.Value(), false))
	}
	return results
}

// LastTS returns the unix time of the last closed candle processed for the
// instrument key ("exchange:symbol") on tf, and whether it has state at all.
func (e *Engine) LastTS(tf int, key string) (int64, bool) {
	tfIdx, ok := e.tfIndex[tf]
	if !ok {
		return 0, false
	}
	si, ok := e.state[tfIdx][key]
	if !ok {
		return 0, false
	}
	return si.lastTS, true
}

// ProcessPeek computes live indicator values for a forming candle using Peek().
// Does NOT mutate indicator state, so it is safe for streaming updates.
// Returns nil if the instrument hasn't been seen before (need at least one Process first).
func (e *Engine) ProcessPeek(c model.Candle) []model.IndicatorResult {
	tfIdx, ok := e.tfIndex[c.TF]
	if !ok {
		return nil
	}
	si, exists := e.state[tfIdx][c.Key()]
	if !exists {
		return nil
	}

	results := make([]model.IndicatorResult, 0, len(si.indicators))
	for i, ind := range si.indicators {
		results = append(results, e.result(c, si.configs[i], ind, ind.Peek(c), true))
	}
	return results
}

func (e *Engine) result(c model.Candle, cfg Config, ind Indicator, value float64, live bool) model.IndicatorResult {
	r := model.IndicatorResult{
		Name:     cfg.Key(),
		Symbol:   c.Symbol,
		Exchange: c.Exchange,
		TF:       c.TF,
		Value:    value,
		TS:       c.TS,
		Ready:    ind.Ready(),
		Live:     live,
	}
	if m, ok := ind.(Multi); ok && !live {
		r.Components = m.Components()
	}
	return r
}

// createSymbolIndicators creates fresh indicator instances for a TF config.
// Configs were validated in NewEngine/ReloadConfigs, so New cannot fail here.
func (e *Engine) createSymbolIndicators(tfIdx int) *symbolIndicators {
	cfg := e.configs[tfIdx]
	inds := make([]Indicator, len(cfg.Indicators))
	for i, ic := range cfg.Indicators {
		inds[i] = mustNew(ic)
	}
	return &symbolIndicators{
		indicators: inds,
		configs:    cfg.Indicators,
	}
}

func mustNew(cfg Config) Indicator {
	ind, err := New(cfg)
	if err != nil {
		panic(fmt.Sprintf("indicator: unvalidated config %s: %v", cfg.Key(), err))
	}
	return ind
}
