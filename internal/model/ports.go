package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the engine service from concrete storage
// (Redis, SQLite). Each implementation satisfies one or more of them.

// CandleWriter persists closed candles.
type CandleWriter interface {
	// Run reads candles from candleCh and writes them.
	// Blocks until ctx is cancelled or candleCh is closed.
	Run(ctx context.Context, candleCh <-chan Candle)

	// Close releases underlying resources.
	Close() error
}

// CandleReader reads candles for backfill.
type CandleReader interface {
	// ReadCandles reads candles for a specific instrument and TF after afterTS (unix seconds).
	ReadCandles(exchange, symbol string, tf int, afterTS int64) ([]Candle, error)

	// ReadAllCandles reads all candles for a given timeframe.
	ReadAllCandles(tf int, afterTS int64) ([]Candle, error)
}

// IndicatorPublisher fans indicator results out to downstream consumers.
type IndicatorPublisher interface {
	// PublishBatch publishes multiple indicator results in a single round trip.
	PublishBatch(ctx context.Context, results []IndicatorResult) error
}

// SnapshotStore reads and writes indicator engine snapshots as raw JSON.
// Using []byte avoids a model→indicator→model import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded engine snapshot.
	SaveSnapshotJSON(ctx context.Context, data []byte) error

	// ReadLatestSnapshotJSON loads the most recent snapshot as raw JSON.
	// Returns nil, nil if no snapshot exists.
	ReadLatestSnapshotJSON(ctx context.Context) ([]byte, error)
}
