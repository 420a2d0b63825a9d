package indengine

import (
	"context"
	"log/slog"
	"time"

	"cryptotrader/internal/marketdata/bus"
	"cryptotrader/internal/model"
)

const monitorInterval = 5 * time.Second

// processLoop computes indicators for every resampled candle until in is
// closed or ctx is cancelled. Closed candles go through Process, forming
// candles through the live preview path.
func (svc *Service) processLoop(ctx context.Context, in <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-in:
			if !ok {
				return
			}
			svc.handle(ctx, c)
		}
	}
}

func (svc *Service) handle(ctx context.Context, c model.Candle) {
	if c.Forming {
		svc.peek(ctx, c)
		return
	}

	start := time.Now()
	svc.mu.Lock()
	results := svc.engine.Process(c)
	svc.mu.Unlock()
	elapsed := time.Since(start)

	svc.candles.Add(1)
	svc.lastCandle.Store(c.TS.Unix())
	if svc.prom != nil {
		svc.prom.CandlesTotal.Inc()
		svc.prom.IndicatorComputeDur.Observe(elapsed.Seconds())
		svc.prom.IndicatorsTotal.Add(float64(len(results)))
	}
	if svc.health != nil {
		svc.health.SetLastCandleTime(c.TS)
	}

	if svc.sink != nil {
		svc.sink.PublishCandle(c)
	}
	svc.publish(ctx, results)
}

// publish hands results to every publisher. A failing publisher does not
// stop the others.
func (svc *Service) publish(ctx context.Context, results []model.IndicatorResult) {
	if len(results) == 0 {
		return
	}
	for _, p := range svc.publishers {
		if err := p.PublishBatch(ctx, results); err != nil {
			if svc.prom != nil {
				svc.prom.PublishErrors.Inc()
			}
			svc.log.Warn("publish failed", slog.Int("results", len(results)), slog.Any("error", err))
		}
	}
}

// monitorLoop reports channel fill levels.
func (svc *Service) monitorLoop(ctx context.Context, fan *bus.FanOut, tfCh chan model.Candle) {
	if svc.prom == nil {
		return
	}
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := append(fan.ChannelStats(), bus.ChannelStat{Name: "resampled", Len: len(tfCh), Cap: cap(tfCh)})
			for _, st := range stats {
				svc.prom.ChannelSaturationPct.WithLabelValues(st.Name).Set(st.SaturationPct())
			}
		}
	}
}
