package indengine

import (
	"time"

	"cryptotrader/config"
	"cryptotrader/internal/indicator"
)

const (
	defaultBufferSize       = 5000
	defaultSnapshotInterval = 30 * time.Second
	defaultConfigChannel    = "config:indicators"
)

// Config holds the engine service settings.
type Config struct {
	Indicators       []indicator.TFConfig
	SnapshotInterval time.Duration // 0 uses the default, negative disables periodic checkpoints
	LivePeek         bool          // compute previews for forming candles
	BufferSize       int           // capacity of the internal candle channels
	ConfigChannel    string        // Redis channel for indicator spec updates
	StaleTolerance   time.Duration // resampler staleness tolerance, 0 disables
}

// FromConfig derives the service settings from the application config.
func FromConfig(c *config.Config) Config {
	return Config{
		Indicators:       c.Indicators,
		SnapshotInterval: c.SnapshotInterval,
		LivePeek:         c.LivePeek,
		ConfigChannel:    c.ConfigChannel,
		StaleTolerance:   c.StaleTolerance,
	}
}

func (c Config) withDefaults() Config {
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = defaultSnapshotInterval
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.ConfigChannel == "" {
		c.ConfigChannel = defaultConfigChannel
	}
	return c
}

// configTFs returns the timeframes of a set of indicator configs.
func configTFs(configs []indicator.TFConfig) []int {
	tfs := make([]int, len(configs))
	for i, c := range configs {
		tfs[i] = c.TF
	}
	return tfs
}

// addedTFs returns the configs in next whose TF is absent from prev.
func addedTFs(prev, next []indicator.TFConfig) []indicator.TFConfig {
	seen := make(map[int]bool, len(prev))
	for _, c := range prev {
		seen[c.TF] = true
	}
	var out []indicator.TFConfig
	for _, c := range next {
		if !seen[c.TF] {
			out = append(out, c)
		}
	}
	return out
}
