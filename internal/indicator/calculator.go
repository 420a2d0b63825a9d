package indicator

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"cryptotrader/internal/cache"
	"cryptotrader/internal/model"
)

// Request asks the Calculator for one indicator over either a close series
// (Values) or full candles (Candles). Candles take precedence when both are set.
type Request struct {
	Config  Config         `json:"config"`
	Values  []float64      `json:"values,omitempty"`
	Candles []model.Candle `json:"candles,omitempty"`
}

func (r Request) candles() []model.Candle {
	if len(r.Candles) > 0 {
		return r.Candles
	}
	return closes(r.Values)
}

// Result is a computed indicator keyed by line name (ValueKey, "signal", ...).
// Series may be shared with the cache and must not be modified.
type Result struct {
	Name   string            `json:"name"`
	Series map[string]Series `json:"series"`
	Cached bool              `json:"cached"`
}

// RemoteCache is a shared second-level cache (e.g. Redis). A miss returns
// (nil, false, nil).
type RemoteCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Observer receives cache and compute events, typically Prometheus metrics.
type Observer interface {
	CacheHit(tier string)
	CacheMiss(tier string)
	CacheEviction()
	ComputeDuration(indicator string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string)                       {}
func (nopObserver) CacheMiss(string)                      {}
func (nopObserver) CacheEviction()                        {}
func (nopObserver) ComputeDuration(string, time.Duration) {}

// Calculator computes indicator series with an in-process LRU in front and
// an optional RemoteCache behind it. Safe for concurrent use.
type Calculator struct {
	lru      *cache.LRU[string, map[string]Series]
	remote   RemoteCache
	observer Observer
	log      *slog.Logger
}

// CalculatorOption configures a Calculator.
type CalculatorOption func(*Calculator)

// WithRemote adds a second-level cache.
func WithRemote(rc RemoteCache) CalculatorOption {
	return func(c *Calculator) { c.remote = rc }
}

// WithObserver reports cache hits, misses and compute latency.
func WithObserver(o Observer) CalculatorOption {
	return func(c *Calculator) { c.observer = o }
}

// WithLogger sets the logger used for remote cache failures.
func WithLogger(l *slog.Logger) CalculatorOption {
	return func(c *Calculator) { c.log = l }
}

// NewCalculator creates a Calculator whose LRU holds up to capacity results.
func NewCalculator(capacity int, opts ...CalculatorOption) (*Calculator, error) {
	lru, err := cache.NewLRU[string, map[string]Series](capacity)
	if err != nil {
		return nil, err
	}
	c := &Calculator{lru: lru, observer: nopObserver{}, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Compute returns the series for req, consulting the LRU, then the remote
// cache, and computing only on a double miss.
func (c *Calculator) Compute(ctx context.Context, req Request) (Result, error) {
	cfg := req.Config.Normalize()
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	candles := req.candles()
	name := cfg.Key()
	key := CacheKey(cfg, candles)

	if lines, ok := c.lru.Get(key); ok {
		c.observer.CacheHit("l1")
		return Result{Name: name, Series: lines, Cached: true}, nil
	}
	c.observer.CacheMiss("l1")

	if c.remote != nil {
		if lines, ok := c.fromRemote(ctx, key); ok {
			c.observer.CacheHit("l2")
			c.store(key, lines)
			return Result{Name: name, Series: lines, Cached: true}, nil
		}
		c.observer.CacheMiss("l2")
	}

	start := time.Now()
	lines, err := Compute(cfg, candles)
	if err != nil {
		return Result{}, err
	}
	c.observer.ComputeDuration(cfg.Type, time.Since(start))

	c.store(key, lines)
	if c.remote != nil {
		c.toRemote(ctx, key, lines)
	}
	return Result{Name: name, Series: lines}, nil
}

func (c *Calculator) store(key string, lines map[string]Series) {
	if c.lru.Add(key, lines) {
		c.observer.CacheEviction()
	}
}

func (c *Calculator) fromRemote(ctx context.Context, key string) (map[string]Series, bool) {
	data, ok, err := c.remote.Get(ctx, key)
	if err != nil {
		c.log.Warn("remote cache get failed", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var lines map[string]Series
	if err := json.Unmarshal(data, &lines); err != nil {
		c.log.Warn("remote cache entry corrupt", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	return lines, true
}

func (c *Calculator) toRemote(ctx context.Context, key string, lines map[string]Series) {
	data, err := json.Marshal(lines)
	if err != nil {
		c.log.Warn("remote cache encode failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := c.remote.Set(ctx, key, data); err != nil {
		c.log.Warn("remote cache set failed", slog.String("key", key), slog.Any("error", err))
	}
}

// Stats returns the LRU counters.
func (c *Calculator) Stats() cache.Stats { return c.lru.Stats() }

// Len returns the number of cached results.
func (c *Calculator) Len() int { return c.lru.Len() }

// Purge drops every cached result from the LRU. The remote tier expires by TTL.
func (c *Calculator) Purge() { c.lru.Purge() }

// CacheKey identifies cfg applied to candles: "<Key()>:<xxhash of OHLCV>".
func CacheKey(cfg Config, candles []model.Candle) string {
	d := xxhash.New()
	var buf [8]byte
	write := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = d.Write(buf[:])
	}
	for _, c := range candles {
		write(c.Open)
		write(c.High)
		write(c.Low)
		write(c.Close)
		write(c.Volume)
	}
	return cfg.Key() + ":" + strconv.Itoa(len(candles)) + ":" + fmt.Sprintf("%016x", d.Sum64())
}
