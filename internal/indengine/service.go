// Package indengine runs the streaming indicator engine as a service: it
// restores engine state from a checkpoint, catches up from stored candles,
// resamples live candles into the configured timeframes and publishes the
// resulting indicator values.
package indengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cryptotrader/internal/indicator"
	"cryptotrader/internal/marketdata/bus"
	"cryptotrader/internal/marketdata/tfbuilder"
	"cryptotrader/internal/metrics"
	"cryptotrader/internal/model"
	"cryptotrader/internal/notification"
)

// CandleSink receives every candle the engine sees, forming previews included.
type CandleSink interface {
	PublishCandle(c model.Candle)
}

// Alerter receives operational alerts.
type Alerter interface {
	Notify(level notification.AlertLevel, source, title, message string)
}

type namedStore struct {
	name  string
	store model.SnapshotStore
}

// Service owns the indicator engine and its inputs and outputs.
//
// The engine itself is single-threaded; every access goes through mu so the
// HTTP reload path and the config subscriber can run next to the process loop.
type Service struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	engine *indicator.Engine

	reader     model.CandleReader
	writer     model.CandleWriter
	publishers []model.IndicatorPublisher
	snapshots  []namedStore
	sink       CandleSink
	prom       *metrics.Metrics
	health     *metrics.HealthStatus
	alerts     Alerter

	tfUpdates chan []int

	candles      atomic.Int64
	lastCandle   atomic.Int64 // unix seconds
	lastSnapshot atomic.Int64 // unix seconds
}

// Option configures a Service.
type Option func(*Service)

// WithCandleReader sets the store used for catch-up backfill.
func WithCandleReader(r model.CandleReader) Option { return func(s *Service) { s.reader = r } }

// WithCandleWriter persists closed candles.
func WithCandleWriter(w model.CandleWriter) Option { return func(s *Service) { s.writer = w } }

// WithPublisher adds an indicator result publisher.
func WithPublisher(p model.IndicatorPublisher) Option {
	return func(s *Service) { s.publishers = append(s.publishers, p) }
}

// WithSnapshotStore adds a checkpoint store. Stores are read in the order
// they are added; the first usable snapshot wins. All stores are written.
func WithSnapshotStore(name string, st model.SnapshotStore) Option {
	return func(s *Service) { s.snapshots = append(s.snapshots, namedStore{name: name, store: st}) }
}

// WithCandleSink forwards candles, e.g. to the WebSocket hub.
func WithCandleSink(sink CandleSink) Option { return func(s *Service) { s.sink = sink } }

// WithMetrics reports engine activity to m.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.prom = m } }

// WithHealth updates h with engine state.
func WithHealth(h *metrics.HealthStatus) Option { return func(s *Service) { s.health = h } }

// WithAlerts reports failed checkpoints to a.
func WithAlerts(a Alerter) Option { return func(s *Service) { s.alerts = a } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// New validates the indicator configs and creates a cold engine. Run
// restores the engine from the configured snapshot stores.
func New(cfg Config, opts ...Option) (*Service, error) {
	cfg = cfg.withDefaults()
	engine, err := indicator.NewEngine(cfg.Indicators)
	if err != nil {
		return nil, fmt.Errorf("indengine: %w", err)
	}
	svc := &Service{
		cfg:       cfg,
		log:       slog.Default(),
		engine:    engine,
		tfUpdates: make(chan []int, 1),
	}
	for _, o := range opts {
		o(svc)
	}
	svc.log = svc.log.With(slog.String("component", "indengine"))
	return svc, nil
}

// Run restores and warms the engine, then processes candles from in until
// ctx is cancelled or in is closed. A final checkpoint is written on return.
func (svc *Service) Run(ctx context.Context, in <-chan model.Candle) error {
	if err := svc.Restore(ctx); err != nil {
		return err
	}
	svc.CatchUp(ctx)

	configs := svc.Configs()
	if svc.health != nil {
		svc.health.SetIndicatorOK(true)
		svc.health.SetEnabledTFs(configTFs(configs))
	}

	builder := tfbuilder.New(configTFs(configs))
	builder.StaleTolerance = svc.cfg.StaleTolerance
	builder.OnStaleCandle = func() {
		svc.log.Debug("stale candle rejected by resampler")
	}

	tfCh := make(chan model.Candle, svc.cfg.BufferSize)
	fan := bus.New(svc.cfg.BufferSize)
	fan.OnDrop = func(name string) {
		if svc.prom != nil {
			svc.prom.FanoutDropsTotal.WithLabelValues(name).Inc()
		}
	}
	engineCh := fan.Subscribe("engine")
	var storeCh <-chan model.Candle
	if svc.writer != nil {
		storeCh = fan.SubscribeClosed("store")
	}

	var wg sync.WaitGroup
	spawn := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	spawn(func() { svc.resampleLoop(ctx, builder, in, tfCh) })
	spawn(func() { fan.Run(ctx, tfCh) })
	if storeCh != nil {
		spawn(func() { svc.writer.Run(ctx, storeCh) })
	}
	loopCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()
	spawn(func() { svc.monitorLoop(loopCtx, fan, tfCh) })
	spawn(func() { svc.snapshotLoop(loopCtx) })

	svc.log.Info("indicator engine running",
		slog.Any("tfs", configTFs(configs)),
		slog.Bool("live_peek", svc.cfg.LivePeek),
		slog.Int("publishers", len(svc.publishers)),
		slog.Int("snapshot_stores", len(svc.snapshots)))

	// The process loop ends when the fan-out closes its outputs, which
	// happens after the resampler has flushed.
	svc.processLoop(ctx, engineCh)
	stopLoops()
	svc.shutdown(&wg)
	return nil
}

// resampleLoop feeds base candles through the resampler. Timeframe changes
// from Reload are applied between candles.
func (svc *Service) resampleLoop(ctx context.Context, b *tfbuilder.Builder, in <-chan model.Candle, out chan<- model.Candle) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			b.Flush(out)
			return
		case tfs := <-svc.tfUpdates:
			b.UpdateTFs(tfs, out)
			svc.log.Info("resampler timeframes updated", slog.Any("tfs", tfs))
		case c, ok := <-in:
			if !ok {
				b.Flush(out)
				return
			}
			b.Process(c, out)
		}
	}
}

// shutdown waits for the pipeline to drain and writes a final checkpoint.
// Stores stay open; their lifecycle belongs to the caller.
func (svc *Service) shutdown(wg *sync.WaitGroup) {
	svc.log.Info("shutting down, saving final snapshot")
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := svc.Snapshot(ctx, "shutdown"); err != nil {
		svc.log.Error("final snapshot failed", slog.Any("error", err))
	}
	svc.log.Info("shutdown complete")
}

// Configs returns the active indicator configs.
func (svc *Service) Configs() []indicator.TFConfig {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.engine.Configs()
}

// Status is a point-in-time view of the service.
type Status struct {
	Timeframes   []int     `json:"timeframes"`
	Instruments  int       `json:"instruments"`
	Candles      int64     `json:"candles"`
	LastCandle   time.Time `json:"last_candle,omitempty"`
	LastSnapshot time.Time `json:"last_snapshot,omitempty"`
	LivePeek     bool      `json:"live_peek"`
}

// Status reports engine counters.
func (svc *Service) Status() Status {
	svc.mu.Lock()
	tfs := configTFs(svc.engine.Configs())
	instruments := svc.engine.Symbols()
	svc.mu.Unlock()

	st := Status{
		Timeframes:  tfs,
		Instruments: instruments,
		Candles:     svc.candles.Load(),
		LivePeek:    svc.cfg.LivePeek,
	}
	if ts := svc.lastCandle.Load(); ts > 0 {
		st.LastCandle = time.Unix(ts, 0).UTC()
	}
	if ts := svc.lastSnapshot.Load(); ts > 0 {
		st.LastSnapshot = time.Unix(ts, 0).UTC()
	}
	return st
}
