// Package tfbuilder provides an incremental timeframe resampler.
// It consumes closed base candles (e.g. 1m) and maintains "forming" candle
// states for each higher timeframe, updated in O(1) per candle per TF.
// A TF candle is finalized as soon as the last base candle of its bucket
// arrives, or when a candle for a later bucket shows up.
package tfbuilder

import (
	"log"
	"sort"
	"time"

	"cryptotrader/internal/model"
)

// tfState holds the forming candle state for one (instrument, TF) pair.
type tfState struct {
	bucket int64 // bucket start = ts - ts%tf (Unix seconds)
	candle model.Candle
}

// Builder resamples base candles into multiple timeframes.
// Not goroutine-safe: designed to run in a single goroutine (single consumer).
type Builder struct {
	tfs []int // enabled TF durations in seconds

	// Per-TF per-instrument state.
	// Key structure: states[tfIdx][instrumentKey] → *tfState
	states []map[string]*tfState

	// Staleness validation: reject candles whose bucket is behind the forming
	// bucket by more than StaleTolerance. Set to 0 to disable.
	StaleTolerance time.Duration

	// Metrics hooks
	OnTFCandle    func(c model.Candle) // called on finalized TF candle (optional)
	OnStaleCandle func()               // called when a stale candle is rejected (optional)
}

// New creates a TF builder with the given timeframes (in seconds).
func New(tfs []int) *Builder {
	sorted := append([]int(nil), tfs...)
	sort.Ints(sorted)
	states := make([]map[string]*tfState, len(sorted))
	for i := range states {
		states[i] = make(map[string]*tfState, 16)
	}
	return &Builder{
		tfs:            sorted,
		states:         states,
		StaleTolerance: 0,
	}
}

// TFs returns the current list of enabled timeframes.
func (b *Builder) TFs() []int {
	return b.tfs
}

// UpdateTFs dynamically updates the enabled timeframes.
// Forming candles for removed TFs are finalized and emitted.
func (b *Builder) UpdateTFs(newTFs []int, outCh chan<- model.Candle) {
	newSet := make(map[int]bool, len(newTFs))
	for _, tf := range newTFs {
		newSet[tf] = true
	}

	for i, tf := range b.tfs {
		if !newSet[tf] {
			for _, st := range b.states[i] {
				b.finalize(st, outCh)
			}
		}
	}

	oldStates := make(map[int]map[string]*tfState, len(b.tfs))
	for i, tf := range b.tfs {
		oldStates[tf] = b.states[i]
	}

	sorted := append([]int(nil), newTFs...)
	sort.Ints(sorted)
	b.tfs = sorted
	b.states = make([]map[string]*tfState, len(sorted))
	for i, tf := range sorted {
		if old, ok := oldStates[tf]; ok {
			b.states[i] = old
		} else {
			b.states[i] = make(map[string]*tfState, 16)
		}
	}
}

// Process handles a single closed base candle against all enabled TFs.
// Forming input candles are ignored. TFs finer than the input's TF are skipped.
func (b *Builder) Process(c model.Candle, outCh chan<- model.Candle) {
	if c.Forming {
		return
	}
	ts := c.TS.Unix()
	key := c.Key()

	for i, tf := range b.tfs {
		if c.TF > 0 && tf < c.TF {
			continue
		}
		if tf == c.TF {
			emit(outCh, c)
			if b.OnTFCandle != nil {
				b.OnTFCandle(c)
			}
			continue
		}

		tf64 := int64(tf)
		bucket := ts - (ts % tf64) // align to TF boundary

		st, exists := b.states[i][key]

		if b.StaleTolerance > 0 && exists && bucket < st.bucket {
			lag := time.Duration(st.bucket-bucket) * time.Second
			if lag > b.StaleTolerance {
				if b.OnStaleCandle != nil {
					b.OnStaleCandle()
				}
				continue // skip this TF for the stale candle
			}
		}

		if exists && bucket > st.bucket {
			// New bucket: finalize the forming candle
			b.finalize(st, outCh)
			delete(b.states[i], key)
			exists = false
		}

		if !exists {
			st = &tfState{
				bucket: bucket,
				candle: model.Candle{
					Symbol:   c.Symbol,
					Exchange: c.Exchange,
					TF:       tf,
					TS:       time.Unix(bucket, 0).UTC(),
					Open:     c.Open,
					High:     c.High,
					Low:      c.Low,
					Close:    c.Close,
					Volume:   c.Volume,
					Forming:  true,
				},
			}
			b.states[i][key] = st
		} else {
			// Same bucket: merge OHLCV (O(1))
			fc := &st.candle
			if c.High > fc.High {
				fc.High = c.High
			}
			if c.Low < fc.Low {
				fc.Low = c.Low
			}
			fc.Close = c.Close
			fc.Volume += c.Volume
		}

		// The last base candle of the bucket closes it immediately.
		if c.TF > 0 && ts+int64(c.TF) >= bucket+tf64 {
			b.finalize(st, outCh)
			delete(b.states[i], key)
			continue
		}

		// Emit a forming snapshot so the live-preview pipeline can peek.
		emit(outCh, st.candle)
	}
}

func (b *Builder) finalize(st *tfState, outCh chan<- model.Candle) {
	st.candle.Forming = false
	emit(outCh, st.candle)
	if b.OnTFCandle != nil {
		b.OnTFCandle(st.candle)
	}
}

// Flush finalizes and emits all forming candles.
func (b *Builder) Flush(outCh chan<- model.Candle) {
	for i := range b.tfs {
		for key, st := range b.states[i] {
			b.finalize(st, outCh)
			delete(b.states[i], key)
		}
	}
}

// emit sends a candle to the output channel. Non-blocking to avoid deadlocks.
func emit(outCh chan<- model.Candle, c model.Candle) {
	select {
	case outCh <- c:
	default:
		log.Printf("[tfbuilder] outCh full, dropping candle %s tf=%d ts=%v", c.Key(), c.TF, c.TS)
	}
}

// Resample converts closed base candles into closed candles of timeframe tf,
// in time order. A trailing partial bucket is included.
func Resample(candles []model.Candle, tf int) []model.Candle {
	b := New([]int{tf})
	out := make(chan model.Candle, len(candles)+1)
	var closed []model.Candle
	drain := func() {
		for {
			select {
			case c := <-out:
				if !c.Forming {
					closed = append(closed, c)
				}
			default:
				return
			}
		}
	}
	for _, c := range candles {
		b.Process(c, out)
		drain()
	}
	b.Flush(out)
	drain()
	return closed
}
