package api

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptotrader/internal/flags"
	"cryptotrader/internal/gateway"
	"cryptotrader/internal/indengine"
	"cryptotrader/internal/indicator"
	"cryptotrader/internal/metrics"
	"cryptotrader/internal/model"
	"cryptotrader/internal/orders"
)

const testSecret = "JBSWY3DPEHPK3PXP"

type fixture struct {
	srv     *Server
	h       http.Handler
	metrics *metrics.Metrics
	hub     *gateway.Hub
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	calc, err := indicator.NewCalculator(16, indicator.WithObserver(m))
	require.NoError(t, err)
	engine, err := indengine.New(indengine.Config{Indicators: indicator.BuildTFConfigs([]int{60}, indicator.ParseSpecs("SMA:3"))})
	require.NoError(t, err)
	hub := gateway.NewHub()
	t.Cleanup(hub.Close)

	srv := NewServer(opts, Deps{
		Calculator: calc,
		Orders:     orders.NewTracker(),
		Engine:     engine,
		Hub:        hub,
		Flags:      flags.New(map[string]bool{"redis_cache": true}),
		Metrics:    m,
	})
	return &fixture{srv: srv, h: srv.Handler(), metrics: m, hub: hub}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthAndNotFound(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = f.do(t, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues("/api/v1/health", "200")))
}

func TestCompute_CachesResults(t *testing.T) {
	f := newFixture(t, Options{})
	body := map[string]any{"config": map[string]any{"type": "SMA", "period": 3}, "values": []float64{1, 2, 3, 4, 5}}

	rr := f.do(t, http.MethodPost, "/api/v1/indicators/compute", body, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	first := decode[struct {
		Name   string                `json:"name"`
		Series map[string][]*float64 `json:"series"`
		Cached bool                  `json:"cached"`
	}](t, rr)
	assert.Equal(t, "SMA_3", first.Name)
	assert.False(t, first.Cached)
	values := first.Series[indicator.ValueKey]
	require.Len(t, values, 5)
	assert.Nil(t, values[0], "warm-up positions are absent")
	assert.InDelta(t, 4.0, *values[4], 1e-9)

	rr = f.do(t, http.MethodPost, "/api/v1/indicators/compute", body, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"cached":true`)

	stats := decode[map[string]any](t, f.do(t, http.MethodGet, "/api/v1/cache/stats", nil, nil))
	assert.Equal(t, 0.5, stats["hit_ratio"])
}

func TestCompute_Errors(t *testing.T) {
	f := newFixture(t, Options{})
	cases := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"bad period", `{"config":{"type":"SMA","period":-1},"values":[1,2,3]}`, http.StatusBadRequest},
		{"unknown type", `{"config":{"type":"FOO","period":3},"values":[1,2,3]}`, http.StatusBadRequest},
		{"oversized period", `{"config":{"type":"STOCH","period":9223372036854775807,"d_period":2},"values":[1,2,3]}`, http.StatusBadRequest},
		{"too short", `{"config":{"type":"SMA","period":10},"values":[1,2,3]}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/api/v1/indicators/compute", tc.body, nil)
			assert.Equal(t, tc.code, rr.Code, rr.Body.String())
		})
	}
}

func TestCompute_RateLimited(t *testing.T) {
	f := newFixture(t, Options{ComputeRPS: 0.001, ComputeBurst: 1})
	body := `{"config":{"type":"SMA","period":2},"values":[1,2,3]}`

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/indicators/compute", body, nil).Code)
	rr := f.do(t, http.MethodPost, "/api/v1/indicators/compute", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RateLimited))

	// Other routes are not limited.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/flags", nil, nil).Code)
}

func TestAdminRoutesRequireTOTP(t *testing.T) {
	f := newFixture(t, Options{AdminTOTPSecret: testSecret})

	rr := f.do(t, http.MethodDelete, "/api/v1/cache", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, http.MethodDelete, "/api/v1/cache", nil, http.Header{"X-Otp": {"000000"}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	code, err := totp.GenerateCode(testSecret, time.Now())
	require.NoError(t, err)
	rr = f.do(t, http.MethodDelete, "/api/v1/cache", nil, http.Header{"X-Otp": {code}})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/engine/reload", `{"specs":"SMA:3,EMA:9"}`, http.Header{"X-Otp": {code}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[indengine.ReloadResult](t, rr)
	assert.Equal(t, []int{60}, res.Timeframes)

	cfgs := decode[[]indicator.TFConfig](t, f.do(t, http.MethodGet, "/api/v1/engine/configs", nil, nil))
	require.Len(t, cfgs, 1)
	assert.Len(t, cfgs[0].Indicators, 2)
}

func TestOrdersLifecycle(t *testing.T) {
	f := newFixture(t, Options{})

	rr := f.do(t, http.MethodPost, "/api/v1/orders", `{"symbol":"BTC/USDT","side":"buy","quantity":"0.5","price":"30000"}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[model.Order](t, rr)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.OrderPending, created.Status)

	rr = f.do(t, http.MethodPost, "/api/v1/orders", `{"id":"`+created.ID+`","symbol":"BTC/USDT","side":"buy","quantity":"1"}`, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/orders", `{"symbol":"BTC/USDT","side":"hold","quantity":"1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPut, "/api/v1/orders/"+created.ID+"/status", `{"status":"filled"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, model.OrderFilled, decode[model.Order](t, rr).Status)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/orders/missing", nil, nil).Code)

	list := decode[[]model.Order](t, f.do(t, http.MethodGet, "/api/v1/orders", nil, nil))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
}

func TestBacktestEndpoint(t *testing.T) {
	f := newFixture(t, Options{})
	closes := []float64{10, 10, 10, 10, 13, 13, 7, 7, 20, 40, 60, 45, 30}
	candles := make([]model.Candle, len(closes))
	for i, c := range closes {
		candles[i] = model.Candle{Symbol: "BTC/USDT", Exchange: "BINANCE", TF: 60,
			TS: time.Unix(1700000000+int64(i)*60, 0).UTC(), Open: c, High: c, Low: c, Close: c}
	}

	rr := f.do(t, http.MethodPost, "/api/v1/backtest", map[string]any{"candles": candles, "fast": 2, "slow": 3, "qty": "1"}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sum := decode[map[string]any](t, rr)
	assert.Equal(t, float64(len(closes)), sum["candles"])
	assert.Equal(t, "4", sum["realized_pnl"])
	assert.Empty(t, f.srv.deps.Orders.List(), "simulated orders stay out of the live tracker")

	rr = f.do(t, http.MethodPost, "/api/v1/backtest", map[string]any{"candles": candles, "fast": 5, "slow": 3}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/backtest", map[string]any{"candles": candles, "fast": 2, "slow": math.MaxInt}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(t, http.MethodPost, "/api/v1/backtest", map[string]any{"candles": candles, "fast": 2, "slow": 3, "rsi_period": math.MaxInt}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFlagsAndDiag(t *testing.T) {
	f := newFixture(t, Options{})
	fl := decode[map[string]bool](t, f.do(t, http.MethodGet, "/api/v1/flags", nil, nil))
	assert.True(t, fl["redis_cache"])

	diag := decode[map[string]any](t, f.do(t, http.MethodGet, "/api/v1/diag", nil, nil))
	for _, k := range []string{"generated_at", "runtime", "platform", "build"} {
		assert.Contains(t, diag, k)
	}
}

func TestStreamReplayAndWebSocket(t *testing.T) {
	f := newFixture(t, Options{})
	ch := "ind:SMA_3:60s:BINANCE:BTC/USDT"
	for i := 1; i <= 3; i++ {
		f.hub.Broadcast(ch, []byte(`{"value":`+string(rune('0'+i))+`}`))
	}

	chans := decode[map[string]int64](t, f.do(t, http.MethodGet, "/api/v1/stream/channels", nil, nil))
	assert.Equal(t, int64(3), chans[ch])

	rr := f.do(t, http.MethodGet, "/api/v1/stream/replay?channel="+ch+"&from=2", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	replay := decode[struct {
		Messages []map[string]any `json:"messages"`
	}](t, rr)
	require.Len(t, replay.Messages, 2)
	assert.Equal(t, float64(2), replay.Messages[0]["channel_seq"])

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/stream/replay", nil, nil).Code)

	ts := httptest.NewServer(f.h)
	defer ts.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ch, msg["channel"])
}
