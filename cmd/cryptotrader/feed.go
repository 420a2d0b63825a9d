package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cryptotrader/config"
	"cryptotrader/internal/marketdata"
	"cryptotrader/internal/marketdata/replay"
	"cryptotrader/internal/model"
	redisstore "cryptotrader/internal/store/redis"
	sqlitestore "cryptotrader/internal/store/sqlite"
)

func newFeedCmd() *cobra.Command {
	var (
		dataset string
		dbPath  string
		tfs     string
		fromTS  int64
		speed   float64
	)
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Publish historical candles to the Redis candle channels",
		Long: `feed replays candles from a CSV or Parquet dataset or from the SQLite candle store
onto pub:candle:* so that running engines consume them like a live feed.`,
		Example: `  cryptotrader feed --dataset=BINANCE_BTCUSDT_20240501_20240503_ohlcv_1min.csv --speed=60
  cryptotrader feed --db=data/cryptotrader.db --tfs=60 --from=1714521600`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (dataset == "") == (dbPath == "") {
				return errors.New("set exactly one of --dataset or --db")
			}
			cfg, err := config.Load("")
			if err != nil {
				return err
			}
			if !cfg.RedisEnabled() {
				return errors.New("feed needs REDIS_ADDR")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rdb, err := redisstore.Connect(ctx, redisstore.ClientConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
			if err != nil {
				return err
			}
			defer rdb.Close()

			ch := make(chan model.Candle, 256)
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				defer close(ch)
				if dataset != "" {
					candles, err := marketdata.Dataset{Path: dataset}.Load()
					if err != nil {
						return err
					}
					_, err = replay.Candles(ctx, candles, speed, ch)
					return err
				}
				store, err := sqlitestore.Open(sqlitestore.Config{DBPath: dbPath})
				if err != nil {
					return err
				}
				defer store.Close()
				_, err = replay.New(store).Run(ctx, config.ParseTFs(tfs), fromTS, speed, ch)
				return err
			})

			published := 0
			g.Go(func() error {
				for c := range ch {
					if err := redisstore.PublishCandle(ctx, rdb, c); err != nil {
						return fmt.Errorf("publish %s: %w", c.StreamKey(), err)
					}
					published++
				}
				return nil
			})

			err = g.Wait()
			fmt.Fprintf(cmd.OutOrStdout(), "published %d candles\n", published)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "CSV or Parquet dataset to publish")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite candle store to publish from")
	cmd.Flags().StringVar(&tfs, "tfs", "60", "timeframes read from --db")
	cmd.Flags().Int64Var(&fromTS, "from", 0, "only candles after this Unix timestamp (--db)")
	cmd.Flags().Float64Var(&speed, "speed", 0, "replay speed multiplier (0 = as fast as possible)")
	return cmd
}
