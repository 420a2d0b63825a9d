// Package api serves the cryptotrader HTTP API: batch indicator compute,
// cache and engine administration, orders, backtests and the live
// indicator stream.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"cryptotrader/internal/flags"
	"cryptotrader/internal/gateway"
	"cryptotrader/internal/indengine"
	"cryptotrader/internal/indicator"
	"cryptotrader/internal/metrics"
	"cryptotrader/internal/orders"
)

// Options configures the HTTP surface.
type Options struct {
	Addr            string
	CORSOrigins     []string
	ComputeRPS      float64 // per client IP; 0 disables limiting
	ComputeBurst    int
	AdminTOTPSecret string // when set, admin routes require a TOTP code in X-OTP
}

// Deps are the components the API exposes. Calculator and Orders are
// required; the rest are optional and their routes answer 503 when absent.
type Deps struct {
	Calculator *indicator.Calculator
	Orders     *orders.Tracker
	Engine     *indengine.Service
	Hub        *gateway.Hub
	Flags      flags.Flags
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Server is the API HTTP server.
type Server struct {
	opts    Options
	deps    Deps
	log     *slog.Logger
	router  *mux.Router
	limiter *ipLimiter
	srv     *http.Server
}

// NewServer builds the router.
func NewServer(opts Options, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts:    opts,
		deps:    deps,
		log:     logger.With(slog.String("component", "api")),
		router:  mux.NewRouter(),
		limiter: newIPLimiter(opts.ComputeRPS, opts.ComputeBurst),
	}
	s.routes()
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.requestID, s.logRequests)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	limited := v1.NewRoute().Subrouter()
	limited.Use(s.rateLimit)
	limited.HandleFunc("/indicators/compute", s.handleCompute).Methods(http.MethodPost)
	limited.HandleFunc("/backtest", s.handleBacktest).Methods(http.MethodPost)

	v1.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	v1.HandleFunc("/engine/status", s.withEngine(func(e *indengine.Service) http.HandlerFunc { return e.HandleStatus })).Methods(http.MethodGet)
	v1.HandleFunc("/engine/configs", s.withEngine(func(e *indengine.Service) http.HandlerFunc { return e.HandleConfigs })).Methods(http.MethodGet)

	v1.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	v1.HandleFunc("/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	v1.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)

	v1.HandleFunc("/flags", s.handleFlags).Methods(http.MethodGet)
	v1.HandleFunc("/diag", s.handleDiag).Methods(http.MethodGet)

	v1.HandleFunc("/stream", s.handleStream)
	v1.HandleFunc("/stream/channels", s.handleChannels).Methods(http.MethodGet)
	v1.HandleFunc("/stream/replay", s.handleReplay).Methods(http.MethodGet)

	admin := v1.NewRoute().Subrouter()
	admin.Use(s.requireTOTP)
	admin.HandleFunc("/cache", s.handlePurgeCache).Methods(http.MethodDelete)
	admin.HandleFunc("/engine/reload", s.withEngine(func(e *indengine.Service) http.HandlerFunc { return e.HandleReload })).Methods(http.MethodPost)
	admin.HandleFunc("/engine/snapshot", s.withEngine(func(e *indengine.Service) http.HandlerFunc { return e.HandleSnapshot })).Methods(http.MethodPost)
	admin.HandleFunc("/orders/{id}/status", s.handleUpdateOrderStatus).Methods(http.MethodPut)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-OTP", "X-Request-ID"},
	}).Handler(s.router)
}

// Start serves until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	s.log.Info("api listening", slog.String("addr", s.opts.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) withEngine(h func(*indengine.Service) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Engine == nil {
			writeError(w, http.StatusServiceUnavailable, "indicator engine not running")
			return
		}
		h(s.deps.Engine)(w, r)
	}
}
