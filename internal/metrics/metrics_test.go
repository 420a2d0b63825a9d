package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserverCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.CacheHit("l1")
	m.CacheHit("l1")
	m.CacheMiss("l2")
	m.CacheEviction()
	m.ComputeDuration("RSI", 2*time.Millisecond)
	m.OrderEvent("buy", "filled")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("l1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues("l2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheEvictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersTotal.WithLabelValues("buy", "filled")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ComputeDur))
}

func TestMetrics_BreakerState(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.BreakerState("open")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RedisCircuitBreakerState))
	m.BreakerState("half-open")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RedisCircuitBreakerState))
	m.BreakerState("closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RedisCircuitBreakerState))
}

func TestHealthStatus_ServeHTTP(t *testing.T) {
	h := NewHealthStatus()
	h.SetSQLiteOK(true)
	h.SetIndicatorOK(true)
	h.SetEnabledTFs([]int{60, 300})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	// Redis enabled but not connected degrades the service.
	h.SetRedisEnabled(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}

func TestServer_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.CandlesTotal.Add(3)

	srv := NewServer(":0", NewHealthStatus(), reg)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "cryptotrader_engine_candles_total 3"))
}
