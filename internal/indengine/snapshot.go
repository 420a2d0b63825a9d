package indengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cryptotrader/internal/indicator"
	"cryptotrader/internal/model"
	"cryptotrader/internal/notification"
)

// Restore replaces the engine with one restored from the first snapshot
// store that holds a usable checkpoint. Without one the engine starts cold.
func (svc *Service) Restore(ctx context.Context) error {
	snap := svc.readSnapshot(ctx)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	restorer := indicator.NewRestorer(svc.engine.Configs(), svc.log)
	engine, err := restorer.RestoreFromSnap(snap)
	if err != nil {
		return fmt.Errorf("restore engine: %w", err)
	}
	svc.engine = engine
	return nil
}

func (svc *Service) readSnapshot(ctx context.Context) *indicator.EngineSnapshot {
	for _, ns := range svc.snapshots {
		data, err := ns.store.ReadLatestSnapshotJSON(ctx)
		if err != nil {
			svc.log.Warn("snapshot read failed", slog.String("store", ns.name), slog.Any("error", err))
			continue
		}
		if data == nil {
			continue
		}
		var snap indicator.EngineSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			svc.log.Warn("snapshot decode failed", slog.String("store", ns.name), slog.Any("error", err))
			continue
		}
		svc.log.Info("snapshot loaded", slog.String("store", ns.name), slog.String("checkpoint", snap.Checkpoint))
		return &snap
	}
	return nil
}

// CatchUp feeds stored candles into the engine: the delta after each
// instrument's checkpoint, or the warm-up tail for instruments without one.
// Results are published so downstream consumers see the recovered values.
func (svc *Service) CatchUp(ctx context.Context) int {
	if svc.reader == nil {
		return 0
	}
	svc.mu.Lock()
	restorer := indicator.NewRestorer(svc.engine.Configs(), svc.log)
	n := svc.backfill(ctx, restorer)
	svc.mu.Unlock()

	if n > 0 {
		svc.log.Info("caught up from stored candles", slog.Int("candles", n))
	}
	return n
}

// backfill runs r against the engine. Callers hold mu.
func (svc *Service) backfill(ctx context.Context, r *indicator.Restorer) int {
	return r.Backfill(svc.engine, svc.reader, func(results []model.IndicatorResult) {
		svc.publish(ctx, results)
	})
}

// Snapshot captures the engine and writes it to every snapshot store. The
// error joins the failures of individual stores.
func (svc *Service) Snapshot(ctx context.Context, checkpoint string) error {
	if len(svc.snapshots) == 0 {
		return nil
	}

	svc.mu.Lock()
	snap, err := indicator.SnapshotEngine(svc.engine, checkpoint)
	svc.mu.Unlock()
	if err != nil {
		return fmt.Errorf("snapshot engine: %w", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	var errs []error
	for _, ns := range svc.snapshots {
		result := "ok"
		if err := ns.store.SaveSnapshotJSON(ctx, data); err != nil {
			result = "error"
			errs = append(errs, fmt.Errorf("%s: %w", ns.name, err))
		}
		if svc.prom != nil {
			svc.prom.SnapshotsTotal.WithLabelValues(ns.name, result).Inc()
		}
	}
	if len(errs) < len(svc.snapshots) {
		svc.lastSnapshot.Store(time.Now().Unix())
	}
	if len(errs) > 0 && svc.alerts != nil {
		level := notification.AlertWarning
		if len(errs) == len(svc.snapshots) {
			level = notification.AlertCritical
		}
		svc.alerts.Notify(level, "indengine", "checkpoint failed", errors.Join(errs...).Error())
	}
	svc.log.Debug("checkpoint saved",
		slog.String("checkpoint", checkpoint),
		slog.Int("symbols", len(snap.Symbols)),
		slog.Int("bytes", len(data)))
	return errors.Join(errs...)
}

// snapshotLoop checkpoints the engine every SnapshotInterval.
func (svc *Service) snapshotLoop(ctx context.Context) {
	if svc.cfg.SnapshotInterval < 0 || len(svc.snapshots) == 0 {
		return
	}
	ticker := time.NewTicker(svc.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.Snapshot(ctx, "periodic"); err != nil {
				svc.log.Warn("periodic snapshot failed", slog.Any("error", err))
			}
		}
	}
}
