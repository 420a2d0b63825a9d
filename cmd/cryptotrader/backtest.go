package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"cryptotrader/internal/execution"
	"cryptotrader/internal/logger"
	"cryptotrader/internal/orders"
	"cryptotrader/internal/portfolio"
	sqlitestore "cryptotrader/internal/store/sqlite"
	"cryptotrader/internal/strategy"
)

func newBacktestCmd() *cobra.Command {
	var (
		ds          datasetFlags
		fast, slow  int
		rsiPeriod   int
		qty         string
		equity      string
		slippageBps int64
		useRisk     bool
		dbPath      string
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run the SMA crossover strategy over a dataset with paper fills",
		Example: `  cryptotrader backtest --dataset=BINANCE_BTCUSDT_20240501_20240503_ohlcv_1h.csv --fast=9 --slow=21
  cryptotrader backtest --dataset=btc.csv --rsi=14 --risk --equity=5000 --db=data/backtest.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := strategy.ValidateCrossover(fast, slow, rsiPeriod); err != nil {
				return err
			}
			size, err := decimal.NewFromString(qty)
			if err != nil || !size.IsPositive() {
				return fmt.Errorf("--qty must be a positive decimal, got %q", qty)
			}
			candles, err := ds.dataset().Load()
			if err != nil {
				return err
			}

			lcfg := logger.DefaultConfig("cryptotrader-backtest")
			lcfg.Output = cmd.ErrOrStderr()
			log := logger.Configure(lcfg)
			trackerOpts := []orders.Option{orders.WithLogger(log)}
			if dbPath != "" {
				store, err := sqlitestore.Open(sqlitestore.Config{DBPath: dbPath})
				if err != nil {
					return err
				}
				defer store.Close()
				trackerOpts = append(trackerOpts, orders.WithStore(store))
			}
			tracker := orders.NewTracker(trackerOpts...)

			bt := &strategy.Backtest{
				Strategy:  strategy.NewSMACrossover(fast, slow, size, rsiPeriod),
				Executor:  execution.NewPaperExecutor(tracker, slippageBps),
				Portfolio: portfolio.New(),
				Logger:    log,
			}
			if useRisk {
				start, err := decimal.NewFromString(equity)
				if err != nil || !start.IsPositive() {
					return fmt.Errorf("--equity must be a positive decimal, got %q", equity)
				}
				bt.Risk = portfolio.NewRiskManager(portfolio.DefaultRiskLimits(), bt.Portfolio, start)
			}

			sum, err := bt.Run(cmd.Context(), candles)
			if err != nil {
				return err
			}
			log.Info("backtest complete",
				slog.Int("candles", sum.Candles),
				slog.Int("orders", sum.Orders),
				slog.String("realized_pnl", sum.RealizedPnL.String()))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	}
	ds.register(cmd)
	cmd.Flags().IntVar(&fast, "fast", 9, "fast SMA period")
	cmd.Flags().IntVar(&slow, "slow", 21, "slow SMA period")
	cmd.Flags().IntVar(&rsiPeriod, "rsi", 0, "RSI filter period (0 disables the filter)")
	cmd.Flags().StringVar(&qty, "qty", "1", "order quantity")
	cmd.Flags().Int64Var(&slippageBps, "slippage-bps", 0, "adverse slippage applied to paper fills, in basis points")
	cmd.Flags().BoolVar(&useRisk, "risk", false, "apply the default risk limits")
	cmd.Flags().StringVar(&equity, "equity", "10000", "starting equity for risk limits")
	cmd.Flags().StringVar(&dbPath, "db", "", "persist simulated orders to this SQLite database")
	return cmd
}
