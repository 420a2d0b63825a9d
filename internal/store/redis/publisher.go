package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"

	"cryptotrader/internal/model"
)

const defaultLatestTTL = 30 * time.Minute

// PublisherConfig configures the result publisher.
type PublisherConfig struct {
	LatestTTL   time.Duration // lifetime of the "<channel>:latest" keys
	MaxBuffered int           // confirmed results held while the breaker is open (default 10000)
	MaxFailures uint32        // consecutive failures before the breaker opens (default 5)
	Cooldown    time.Duration // open duration before a probe (default 10s)

	OnStateChange func(state string)
}

// Publisher writes indicator results to Redis through a circuit breaker.
//
// Confirmed results are appended to a per-indicator stream, stored under a
// "latest" key and published on "pub:<channel>". Live previews are only
// published. While the breaker is open, confirmed results are buffered
// locally (oldest dropped first) and replayed ahead of the next batch that
// goes through.
type Publisher struct {
	client  goredis.Cmdable
	cfg     PublisherConfig
	breaker *gobreaker.CircuitBreaker

	mu      sync.Mutex
	pending []model.IndicatorResult
}

// NewPublisher wraps client. Connection lifecycle stays with the caller.
func NewPublisher(client goredis.Cmdable, cfg PublisherConfig) *Publisher {
	if cfg.LatestTTL == 0 {
		cfg.LatestTTL = defaultLatestTTL
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = 10000
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 10 * time.Second
	}
	p := &Publisher{client: client, cfg: cfg}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-publish",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[redis] breaker %s: %s → %s", name, from, to)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(to.String())
			}
		},
	})
	return p
}

// StreamMaxLen keeps roughly three hours of results for a timeframe.
func StreamMaxLen(tf int) int64 {
	if tf <= 0 {
		return 200
	}
	n := int64(10800/tf) + 100
	if n < 200 {
		n = 200
	}
	return n
}

// PublishBatch writes results in a single pipeline. Results that are neither
// ready nor live are skipped.
func (p *Publisher) PublishBatch(ctx context.Context, results []model.IndicatorResult) error {
	p.mu.Lock()
	batch := make([]model.IndicatorResult, 0, len(p.pending)+len(results))
	batch = append(batch, p.pending...)
	p.pending = p.pending[:0]
	p.mu.Unlock()

	for _, r := range results {
		if r.Ready || r.Live {
			batch = append(batch, r)
		}
	}
	if len(batch) == 0 {
		return nil
	}

	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.exec(ctx, batch)
	})
	if err != nil {
		p.buffer(batch)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil
		}
		return fmt.Errorf("redis publish %d results: %w", len(batch), err)
	}
	return nil
}

func (p *Publisher) exec(ctx context.Context, batch []model.IndicatorResult) error {
	pipe := p.client.Pipeline()
	for i := range batch {
		r := &batch[i]
		data := string(r.JSON())
		ch := r.Channel()

		if r.Live {
			pipe.Publish(ctx, "pub:"+ch, data)
			continue
		}
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: ch,
			MaxLen: StreamMaxLen(r.TF),
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Set(ctx, ch+":latest", data, p.cfg.LatestTTL)
		pipe.Publish(ctx, "pub:"+ch, data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// buffer keeps confirmed results for replay. Live previews are stale by the
// time the breaker closes and are dropped.
func (p *Publisher) buffer(batch []model.IndicatorResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range batch {
		if r.Live {
			continue
		}
		if len(p.pending) >= p.cfg.MaxBuffered {
			p.pending = p.pending[1:]
		}
		p.pending = append(p.pending, r)
	}
}

// PendingCount returns the number of buffered results waiting to be replayed.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// BreakerState reports the breaker state ("closed", "open", "half-open").
func (p *Publisher) BreakerState() string { return p.breaker.State().String() }

// Latest reads the most recent confirmed result JSON for a channel.
// Returns nil, nil when the key is missing or expired.
func (p *Publisher) Latest(ctx context.Context, channel string) ([]byte, error) {
	b, err := p.client.Get(ctx, channel+":latest").Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get latest %s: %w", channel, err)
	}
	return b, nil
}
