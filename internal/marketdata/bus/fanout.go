// Package bus fans one candle stream out to several consumers.
package bus

import (
	"context"
	"log"
	"sync"

	"cryptotrader/internal/model"
)

// FanOut broadcasts candles from a single input channel to N output channels.
// If an output channel is full, the candle is dropped for that consumer to
// prevent a slow consumer from blocking the pipeline.
type FanOut struct {
	mu      sync.RWMutex
	subs    []subscriber
	bufSize int

	// OnDrop is called with the subscriber name when a candle is dropped.
	OnDrop func(name string)
}

type subscriber struct {
	name       string
	closedOnly bool
	ch         chan model.Candle
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel receiving every candle.
func (f *FanOut) Subscribe(name string) <-chan model.Candle {
	return f.subscribe(name, false)
}

// SubscribeClosed returns a channel that only receives closed candles.
func (f *FanOut) SubscribeClosed(name string) <-chan model.Candle {
	return f.subscribe(name, true)
}

func (f *FanOut) subscribe(name string, closedOnly bool) <-chan model.Candle {
	ch := make(chan model.Candle, f.bufSize)
	f.mu.Lock()
	f.subs = append(f.subs, subscriber{name: name, closedOnly: closedOnly, ch: ch})
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed; output channels are
// closed on return.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Candle) {
	defer func() {
		f.mu.RLock()
		for _, s := range f.subs {
			close(s.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for _, s := range f.subs {
				if s.closedOnly && candle.Forming {
					continue
				}
				select {
				case s.ch <- candle:
				default:
					if f.OnDrop != nil {
						f.OnDrop(s.name)
					} else {
						log.Printf("[bus] subscriber %s full, dropping candle %s", s.name, candle.Key())
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// SaturationPct returns Len/Cap as a percentage.
func (s ChannelStat) SaturationPct() float64 {
	if s.Cap == 0 {
		return 0
	}
	return float64(s.Len) / float64(s.Cap) * 100
}

func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.subs))
	for i, s := range f.subs {
		stats[i] = ChannelStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)}
	}
	return stats
}
