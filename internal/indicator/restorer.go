package indicator

import (
	"log/slog"

	"cryptotrader/internal/model"
)

// Restorer orchestrates indicator engine state restoration on startup.
// The caller tries snapshot sources in priority order (Redis, then SQLite);
// a nil snapshot means cold start.
type Restorer struct {
	configs []TFConfig
	log     *slog.Logger
}

// NewRestorer creates a new Restorer for the given indicator configs.
func NewRestorer(configs []TFConfig, logger *slog.Logger) *Restorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Restorer{configs: configs, log: logger.With(slog.String("component", "restorer"))}
}

// RestoreFromSnap restores an engine from snap, falling back to a fresh
// engine when snap is nil or unusable. An error is only returned for
// invalid configs.
func (r *Restorer) RestoreFromSnap(snap *EngineSnapshot) (*Engine, error) {
	if snap == nil {
		r.log.Info("no snapshot found, cold starting indicator engine")
		return NewEngine(r.configs)
	}

	r.log.Info("restoring from snapshot",
		slog.Int("version", snap.Version),
		slog.String("checkpoint", snap.Checkpoint),
		slog.Int("symbols", len(snap.Symbols)))

	engine, err := RestoreEngine(r.configs, snap)
	if err != nil {
		r.log.Warn("snapshot restore failed, falling back to cold start", slog.Any("error", err))
		return NewEngine(r.configs)
	}
	r.log.Info("restored indicator engine from snapshot", slog.Int("symbols", engine.Symbols()))
	return engine, nil
}

// MaxWarmup returns the largest warm-up requirement across all configs.
func (r *Restorer) MaxWarmup() int {
	maxWarmup := 0
	for _, cfg := range r.configs {
		for _, ind := range cfg.Indicators {
			if w := ind.Normalize().Warmup(); w > maxWarmup {
				maxWarmup = w
			}
		}
	}
	return maxWarmup
}

// Backfill reads stored candles and feeds them into the engine. Call it
// after restore and before consuming live candles.
//
// Instruments restored from a snapshot only replay candles newer than their
// last processed candle. Cold instruments replay their most recent MaxWarmup
// candles. If onResults is non-nil, it receives the indicator results for
// each candle so history can be republished.
func (r *Restorer) Backfill(engine *Engine, reader model.CandleReader, onResults func([]model.IndicatorResult)) int {
	if reader == nil {
		return 0
	}
	maxWarmup := r.MaxWarmup()
	if maxWarmup == 0 {
		return 0
	}

	total := 0
	for _, cfg := range r.configs {
		candles, err := reader.ReadAllCandles(cfg.TF, 0)
		if err != nil {
			r.log.Warn("backfill read failed", slog.Int("tf", cfg.TF), slog.Any("error", err))
			continue
		}

		fed := 0
		for _, c := range r.pending(engine, cfg.TF, candles, maxWarmup) {
			c.Forming = false
			c.TF = cfg.TF
			results := engine.Process(c)
			if onResults != nil && len(results) > 0 {
				onResults(results)
			}
			fed++
		}
		total += fed
		if fed > 0 {
			r.log.Info("backfilled candles", slog.Int("tf", cfg.TF), slog.Int("candles", fed))
		}
	}
	return total
}

// pending selects the candles each instrument still needs: the delta after
// its last processed candle when warm, otherwise the warm-up tail.
func (r *Restorer) pending(engine *Engine, tf int, candles []model.Candle, maxWarmup int) []model.Candle {
	var cold []model.Candle
	out := make([]model.Candle, 0, len(candles))
	for _, c := range candles {
		last, warm := engine.LastTS(tf, c.Key())
		switch {
		case !warm || last == 0:
			cold = append(cold, c)
		case c.TS.Unix() > last:
			out = append(out, c)
		}
	}
	return append(out, tailPerInstrument(cold, maxWarmup)...)
}

// tailPerInstrument keeps the last n candles of each instrument, preserving input order.
func tailPerInstrument(candles []model.Candle, n int) []model.Candle {
	counts := make(map[string]int)
	for i := range candles {
		counts[candles[i].Key()]++
	}
	out := make([]model.Candle, 0, len(candles))
	seen := make(map[string]int)
	for _, c := range candles {
		k := c.Key()
		seen[k]++
		if counts[k]-seen[k] < n {
			out = append(out, c)
		}
	}
	return out
}
