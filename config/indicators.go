package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"cryptotrader/internal/indicator"
)

// IndicatorFile is the YAML layout of an indicator set file:
//
//	timeframes: [60, 300]
//	indicators:
//	  - {type: SMA, period: 20}
//	  - {type: MACD, fast: 12, slow: 26, signal: 9}
//	overrides:
//	  - tf: 3600
//	    indicators:
//	      - {type: RSI, period: 21}
type IndicatorFile struct {
	Timeframes []int                `yaml:"timeframes"`
	Indicators []indicator.Config   `yaml:"indicators"`
	Overrides  []indicator.TFConfig `yaml:"overrides"`
}

// LoadIndicatorFile reads a YAML indicator set, expanding ${VAR} references
// from the environment. Timeframes fall back to defaultTFs when the file
// lists none. Overrides replace the shared set for their TF, or add the TF.
func LoadIndicatorFile(path string, defaultTFs []int) ([]indicator.TFConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read indicator file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var f IndicatorFile
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("parse indicator yaml: %w", err)
	}
	return f.Resolve(defaultTFs)
}

// Resolve expands the file into validated per-TF sets, sorted by TF.
func (f IndicatorFile) Resolve(defaultTFs []int) ([]indicator.TFConfig, error) {
	tfs := f.Timeframes
	if len(tfs) == 0 {
		tfs = defaultTFs
	}
	shared := f.Indicators
	if len(shared) == 0 {
		shared = indicator.DefaultConfigs()
	}

	byTF := make(map[int][]indicator.Config, len(tfs)+len(f.Overrides))
	for _, tf := range tfs {
		byTF[tf] = shared
	}
	for _, o := range f.Overrides {
		byTF[o.TF] = o.Indicators
	}

	out := make([]indicator.TFConfig, 0, len(byTF))
	for tf, inds := range byTF {
		norm := make([]indicator.Config, len(inds))
		for i, c := range inds {
			norm[i] = c.Normalize()
		}
		out = append(out, indicator.TFConfig{TF: tf, Indicators: norm})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TF < out[j].TF })

	if err := indicator.ValidateConfigs(out); err != nil {
		return nil, fmt.Errorf("validate indicator file: %w", err)
	}
	return out, nil
}
