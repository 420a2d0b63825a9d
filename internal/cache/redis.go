package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"
)

// RedisConfig holds the settings for the shared Redis tier.
type RedisConfig struct {
	Prefix string        // key prefix, e.g. "ind:cache:"
	TTL    time.Duration // entry lifetime; 0 means no expiry

	// Breaker: open after MaxFailures consecutive errors, probe after Cooldown.
	MaxFailures uint32
	Cooldown    time.Duration

	// OnStateChange, if set, receives the new breaker state name.
	OnStateChange func(state string)
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Prefix == "" {
		c.Prefix = "ind:cache:"
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.Cooldown == 0 {
		c.Cooldown = 10 * time.Second
	}
	return c
}

// RedisStore is a byte-value cache in Redis guarded by a circuit breaker, so
// a Redis outage degrades to cache misses instead of slow requests.
type RedisStore struct {
	client  redis.Cmdable
	cfg     RedisConfig
	breaker *gobreaker.CircuitBreaker
}

// NewRedisStore wraps client. Connection lifecycle stays with the caller.
func NewRedisStore(client redis.Cmdable, cfg RedisConfig) *RedisStore {
	cfg = cfg.withDefaults()
	st := gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[cache] breaker %s: %s → %s", name, from, to)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(to.String())
			}
		},
	}
	return &RedisStore{client: client, cfg: cfg, breaker: gobreaker.NewCircuitBreaker(st)}
}

func (s *RedisStore) key(k string) string { return s.cfg.Prefix + k }

// Get returns the value for key. A missing key is (nil, false, nil).
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.breaker.Execute(func() (interface{}, error) {
		b, err := s.client.Get(ctx, s.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("redis cache get: %w", err)
	}
	b, _ := v.([]byte)
	if b == nil {
		return nil, false, nil
	}
	return b, true, nil
}

// Set stores value under key with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, s.key(key), value, s.cfg.TTL).Err()
	})
	if err != nil {
		return fmt.Errorf("redis cache set: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, s.key(key)).Err()
	})
	if err != nil {
		return fmt.Errorf("redis cache delete: %w", err)
	}
	return nil
}

// BreakerState reports the breaker state ("closed", "open", "half-open").
func (s *RedisStore) BreakerState() string { return s.breaker.State().String() }

// Ping checks connectivity, bypassing the breaker. Used by health probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
