package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cryptotrader/config"
	"cryptotrader/internal/api"
	"cryptotrader/internal/cache"
	"cryptotrader/internal/flags"
	"cryptotrader/internal/gateway"
	"cryptotrader/internal/indengine"
	"cryptotrader/internal/indicator"
	"cryptotrader/internal/logger"
	"cryptotrader/internal/marketdata"
	"cryptotrader/internal/marketdata/replay"
	"cryptotrader/internal/metrics"
	"cryptotrader/internal/model"
	"cryptotrader/internal/notification"
	"cryptotrader/internal/orders"
	redisstore "cryptotrader/internal/store/redis"
	sqlitestore "cryptotrader/internal/store/sqlite"
	"cryptotrader/internal/strategy"
)

type serveOptions struct {
	dataset     string
	speed       float64
	gatewayOnly bool

	paper     bool
	paperFast int
	paperSlow int
	paperQty  string
	paperTF   int
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the streaming indicator engine and the metrics server",
		Long: `serve runs the indicator engine on a candle stream and exposes the API.

Candles come from --dataset (replayed at --speed) or, when REDIS_ADDR is set,
from the pub:candle:* channels. With --gateway-only no engine runs in this
process and the stream hub relays results published by other instances.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load("")
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.dataset, "dataset", "", "CSV dataset replayed as the candle source")
	cmd.Flags().Float64Var(&opts.speed, "speed", 0, "replay speed multiplier (0 = as fast as possible, 1 = real time)")
	cmd.Flags().BoolVar(&opts.gatewayOnly, "gateway-only", false, "serve the API and relay Redis results without a local engine")
	cmd.Flags().BoolVar(&opts.paper, "paper", false, "paper trade the SMA crossover on live candles into the order book")
	cmd.Flags().IntVar(&opts.paperFast, "paper-fast", 9, "fast SMA period for --paper")
	cmd.Flags().IntVar(&opts.paperSlow, "paper-slow", 21, "slow SMA period for --paper")
	cmd.Flags().StringVar(&opts.paperQty, "paper-qty", "0.01", "order quantity for --paper")
	cmd.Flags().IntVar(&opts.paperTF, "paper-tf", 60, "timeframe in seconds the --paper strategy trades")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, opts serveOptions) error {
	log := logger.Configure(logger.DefaultConfig("cryptotrader"))
	slog.SetDefault(log)
	fl := flags.FromEnv()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()
	alerts := notification.NewDispatcher(
		notification.Build(cfg.AlertWebhookURL, cfg.TelegramBotToken, cfg.TelegramChatID, cfg.AlertCooldown, logger.Component(log, "alerts")),
		64, log)

	store, err := sqlitestore.Open(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer store.Close()
	health.SetSQLiteOK(true)

	var rdb *goredis.Client
	if cfg.RedisEnabled() {
		health.SetRedisEnabled(true)
		rdb, err = redisstore.Connect(ctx, redisstore.ClientConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		health.SetRedisConnected(true)
	} else if opts.gatewayOnly {
		return errors.New("--gateway-only needs REDIS_ADDR")
	}

	tracker := orders.NewTracker(
		orders.WithStore(store),
		orders.WithObserver(m),
		orders.WithLogger(logger.Component(log, "orders")),
	)
	if n, err := tracker.Load(ctx); err != nil {
		return fmt.Errorf("load orders: %w", err)
	} else if n > 0 {
		log.Info("orders loaded", slog.Int("count", n))
	}

	calcOpts := []indicator.CalculatorOption{
		indicator.WithObserver(m),
		indicator.WithLogger(logger.Component(log, "calculator")),
	}
	if rdb != nil && fl.Enabled(flags.RedisCache, true) {
		calcOpts = append(calcOpts, indicator.WithRemote(cache.NewRedisStore(rdb, cache.RedisConfig{
			Prefix:        cfg.CachePrefix,
			TTL:           cfg.CacheTTL,
			OnStateChange: breakerHook("redis-cache", m, alerts),
		})))
	}
	calc, err := indicator.NewCalculator(cfg.CacheCapacity, calcOpts...)
	if err != nil {
		return err
	}

	hub := gateway.NewHub(gateway.WithObserver(m), gateway.WithCheckOrigin(gateway.AllowOrigins(cfg.CORSOrigins)))
	defer hub.Close()

	var sink indengine.CandleSink = hub
	var paper *paperTrader
	if opts.paper && !opts.gatewayOnly {
		qty, err := decimal.NewFromString(opts.paperQty)
		if err != nil || !qty.IsPositive() {
			return errors.New("--paper needs a positive --paper-qty")
		}
		if err := strategy.ValidateCrossover(opts.paperFast, opts.paperSlow, 0); err != nil {
			return fmt.Errorf("--paper: %w", err)
		}
		paper = newPaperTrader(opts.paperFast, opts.paperSlow, qty, tracker, logger.Component(log, "paper"))
		sink = paper.tap(hub, opts.paperTF)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		alerts.Run(ctx)
		return nil
	})

	var engine *indengine.Service
	if !opts.gatewayOnly {
		engine, err = newEngine(cfg, fl, log, m, health, alerts, store, rdb, hub, sink)
		if err != nil {
			return err
		}
		in := make(chan model.Candle, 1024)
		g.Go(func() error { return feedCandles(ctx, log, opts, rdb, in) })
		g.Go(func() error { return engine.Run(ctx, in) })
		if paper != nil {
			g.Go(func() error {
				paper.Run(ctx)
				return nil
			})
		}
		if rdb != nil {
			g.Go(func() error {
				engine.RunConfigSubscriber(ctx, rdb)
				return nil
			})
		}
	} else {
		g.Go(func() error {
			hub.RunRedisRelay(ctx, rdb)
			return nil
		})
	}

	if rdb != nil {
		health.StartLivenessChecker(ctx, rdb, store.DB(), 15*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 15*time.Second)
	}

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, reg)
	metricsSrv.Start()

	srv := api.NewServer(api.Options{
		Addr:            cfg.HTTPAddr,
		CORSOrigins:     cfg.CORSOrigins,
		ComputeRPS:      cfg.ComputeRPS,
		ComputeBurst:    cfg.ComputeBurst,
		AdminTOTPSecret: cfg.AdminTOTPSecret,
	}, api.Deps{
		Calculator: calc,
		Orders:     tracker,
		Engine:     engine,
		Hub:        hub,
		Flags:      fl,
		Metrics:    m,
		Logger:     log,
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Stop(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("cryptotrader started",
		slog.String("env", cfg.Environment),
		slog.String("http", cfg.HTTPAddr),
		slog.Bool("redis", rdb != nil),
		slog.Bool("engine", engine != nil))

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("cryptotrader stopped")
	return err
}

// newEngine wires the engine to its stores. Snapshots are read from Redis
// first when it is configured, then from SQLite, and written to both.
func newEngine(cfg *config.Config, fl flags.Flags, log *slog.Logger, m *metrics.Metrics, health *metrics.HealthStatus,
	alerts *notification.Dispatcher, store *sqlitestore.Store, rdb *goredis.Client, hub *gateway.Hub, sink indengine.CandleSink) (*indengine.Service, error) {
	ecfg := indengine.FromConfig(cfg)
	ecfg.LivePeek = fl.Enabled(flags.LivePeek, ecfg.LivePeek)

	opts := []indengine.Option{
		indengine.WithLogger(logger.Component(log, "indengine")),
		indengine.WithMetrics(m),
		indengine.WithHealth(health),
		indengine.WithAlerts(alerts),
		indengine.WithCandleReader(store),
		indengine.WithCandleWriter(store),
		indengine.WithPublisher(hub),
		indengine.WithCandleSink(sink),
	}
	if rdb != nil {
		opts = append(opts,
			indengine.WithSnapshotStore("redis", redisstore.NewSnapshotStore(rdb, cfg.SnapshotKey)),
			indengine.WithPublisher(redisstore.NewPublisher(rdb, redisstore.PublisherConfig{OnStateChange: breakerHook("redis-publisher", m, alerts)})),
		)
	}
	opts = append(opts, indengine.WithSnapshotStore("sqlite", store))
	return indengine.New(ecfg, opts...)
}

// breakerHook records breaker transitions and alerts when one trips or recovers.
func breakerHook(source string, m *metrics.Metrics, alerts *notification.Dispatcher) func(string) {
	return func(state string) {
		m.BreakerState(state)
		switch state {
		case "open":
			alerts.Notify(notification.AlertCritical, source, "circuit breaker open", "Redis calls are failing; degrading to local operation")
		case "closed":
			alerts.Notify(notification.AlertInfo, source, "circuit breaker closed", "Redis calls recovered")
		}
	}
}

// feedCandles fills in from the dataset or the Redis candle channels and
// closes it when the source is exhausted or ctx ends.
func feedCandles(ctx context.Context, log *slog.Logger, opts serveOptions, rdb *goredis.Client, in chan<- model.Candle) error {
	defer close(in)
	switch {
	case opts.dataset != "":
		candles, err := marketdata.Dataset{Path: opts.dataset}.Load()
		if err != nil {
			return err
		}
		n, err := replay.Candles(ctx, candles, opts.speed, in)
		log.Info("dataset replay finished", slog.String("path", opts.dataset), slog.Int("candles", n))
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case rdb != nil:
		return redisstore.SubscribeCandles(ctx, rdb, in)
	default:
		log.Warn("no candle source configured; engine idle until shutdown")
		<-ctx.Done()
		return nil
	}
}
