// Package replay emits historical candles at a configurable speed, either
// from the candle store or from an in-memory dataset.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"cryptotrader/internal/model"
)

// maxGap caps a single simulated sleep.
const maxGap = 5 * time.Second

// Replayer replays historical candles at a configurable speed multiplier.
type Replayer struct {
	reader model.CandleReader
}

// New creates a Replayer backed by a candle store.
func New(reader model.CandleReader) *Replayer {
	return &Replayer{reader: reader}
}

// Run replays all stored candles for the given TFs, emitting them into outCh.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
// afterTS filters candles to those after this Unix timestamp (0 = all).
func (r *Replayer) Run(ctx context.Context, tfs []int, afterTS int64, speed float64, outCh chan<- model.Candle) (int, error) {
	var all []model.Candle
	for _, tf := range tfs {
		candles, err := r.reader.ReadAllCandles(tf, afterTS)
		if err != nil {
			return 0, err
		}
		all = append(all, candles...)
	}
	if len(all) == 0 {
		log.Println("[replay] no candles found in store")
		return 0, nil
	}
	log.Printf("[replay] loaded %d candles across %d TFs, speed=%.1fx", len(all), len(tfs), speed)
	return Candles(ctx, all, speed, outCh)
}

// Candles sorts candles by timestamp and sends them to outCh as closed
// candles, sleeping between them according to speed. It returns the
// number of candles emitted.
func Candles(ctx context.Context, candles []model.Candle, speed float64, outCh chan<- model.Candle) (int, error) {
	sorted := append([]model.Candle(nil), candles...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS.Before(sorted[j].TS) })

	var prevTS time.Time
	emitted := 0
	for _, c := range sorted {
		if err := ctx.Err(); err != nil {
			log.Printf("[replay] cancelled after %d candles", emitted)
			return emitted, err
		}

		if speed > 0 && !prevTS.IsZero() {
			if gap := c.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = c.TS

		c.Forming = false
		select {
		case outCh <- c:
			emitted++
		case <-ctx.Done():
			return emitted, ctx.Err()
		}
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return emitted, nil
}
