package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for cryptotrader.
type Metrics struct {
	// Indicator cache (labels: tier=l1|l2)
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions prometheus.Counter
	ComputeDur     *prometheus.HistogramVec // labels: indicator

	// Streaming engine
	CandlesTotal        prometheus.Counter
	IndicatorsTotal     prometheus.Counter
	IndicatorComputeDur prometheus.Histogram
	SnapshotsTotal      *prometheus.CounterVec // labels: store, result
	PublishErrors       prometheus.Counter

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open

	// Orders (labels: side, status)
	OrdersTotal *prometheus.CounterVec

	// API
	HTTPRequests     *prometheus.CounterVec // labels: route, code
	RateLimited      prometheus.Counter
	StreamClients    prometheus.Gauge
	StreamDropsTotal prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptotrader_cache_hits_total",
			Help: "Indicator cache hits by tier",
		}, []string{"tier"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptotrader_cache_misses_total",
			Help: "Indicator cache misses by tier",
		}, []string{"tier"}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cryptotrader_cache_evictions_total",
			Help: "Entries evicted from the in-process LRU",
		}),
		ComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cryptotrader_indicator_batch_duration_seconds",
			Help:    "Batch indicator compute latency on cache miss",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"indicator"}),

		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cryptotrader_engine_candles_total",
			Help: "Closed candles processed by the indicator engine",
		}),
		IndicatorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cryptotrader_engine_indicators_total",
			Help: "Total indicator values computed by the engine",
		}),
		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cryptotrader_engine_compute_duration_seconds",
			Help:    "Indicator engine compute latency per candle",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptotrader_engine_snapshots_total",
			Help: "Engine checkpoints written, by store and result",
		}, []string{"store", "result"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cryptotrader_engine_publish_errors_total",
			Help: "Failed indicator result publishes",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptotrader_fanout_drops_total",
			Help: "Candles dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cryptotrader_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cryptotrader_redis_circuit_breaker_state",
			Help: "Redis cache circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),

		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptotrader_orders_total",
			Help: "Order events by side and status",
		}, []string{"side", "status"}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptotrader_http_requests_total",
			Help: "API requests by route and status code",
		}, []string{"route", "code"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cryptotrader_http_rate_limited_total",
			Help: "Requests rejected by the compute rate limiter",
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cryptotrader_stream_clients",
			Help: "Connected WebSocket stream clients",
		}),
		StreamDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cryptotrader_stream_drops_total",
			Help: "Messages dropped for slow WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.CacheHits,
		m.CacheMisses,
		m.CacheEvictions,
		m.ComputeDur,
		m.CandlesTotal,
		m.IndicatorsTotal,
		m.IndicatorComputeDur,
		m.SnapshotsTotal,
		m.PublishErrors,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.RedisCircuitBreakerState,
		m.OrdersTotal,
		m.HTTPRequests,
		m.RateLimited,
		m.StreamClients,
		m.StreamDropsTotal,
	)

	return m
}

// CacheHit implements indicator.Observer.
func (m *Metrics) CacheHit(tier string) { m.CacheHits.WithLabelValues(tier).Inc() }

// CacheMiss implements indicator.Observer.
func (m *Metrics) CacheMiss(tier string) { m.CacheMisses.WithLabelValues(tier).Inc() }

// CacheEviction implements indicator.Observer.
func (m *Metrics) CacheEviction() { m.CacheEvictions.Inc() }

// ComputeDuration implements indicator.Observer.
func (m *Metrics) ComputeDuration(indicator string, d time.Duration) {
	m.ComputeDur.WithLabelValues(indicator).Observe(d.Seconds())
}

// OrderEvent implements orders.Observer.
func (m *Metrics) OrderEvent(side, status string) {
	m.OrdersTotal.WithLabelValues(side, status).Inc()
}

// BreakerState maps a gobreaker state name onto the gauge.
func (m *Metrics) BreakerState(state string) {
	switch state {
	case "open":
		m.RedisCircuitBreakerState.Set(1)
	case "half-open":
		m.RedisCircuitBreakerState.Set(2)
	default:
		m.RedisCircuitBreakerState.Set(0)
	}
}

// Request records one API response.
func (m *Metrics) Request(route string, code int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// ClientCount implements gateway.Observer.
func (m *Metrics) ClientCount(n int) { m.StreamClients.Set(float64(n)) }

// StreamDropped implements gateway.Observer.
func (m *Metrics) StreamDropped() { m.StreamDropsTotal.Inc() }

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool  `json:"redis_enabled"`
	RedisConnected bool  `json:"redis_connected"`
	SQLiteOK       bool  `json:"sqlite_ok"`
	IndicatorOK    bool  `json:"indicator_ok"`
	EnabledTFs     []int `json:"enabled_tfs"`

	LastCandleTime time.Time `json:"last_candle_time"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetIndicatorOK(v bool) {
	h.mu.Lock()
	h.IndicatorOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetEnabledTFs(tfs []int) {
	h.mu.Lock()
	h.EnabledTFs = tfs
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb goredis.Cmdable) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either dependency may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb goredis.Cmdable, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisOK := !h.RedisEnabled || h.RedisConnected
	if !redisOK || !h.SQLiteOK || !h.IndicatorOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.IndicatorOK && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		IndicatorOK     bool    `json:"indicator_ok"`
		EnabledTFs      []int   `json:"enabled_tfs"`
		CandleAge       string  `json:"candle_age"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		IndicatorOK:     h.IndicatorOK,
		EnabledTFs:      h.EnabledTFs,
		CandleAge:       candleAge,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server over the given gatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
