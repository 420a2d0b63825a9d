// Command cryptotrader runs the indicator service and its offline tools.
//
// Usage:
//
//	cryptotrader serve --dataset=data/BINANCE_BTCUSDT_20240501_20240503_ohlcv_1min.csv --speed=60
//	cryptotrader compute --dataset=data/BINANCE_BTCUSDT_20240501_20240503_ohlcv_1min.csv --indicator=MACD:12:26:9
//	cryptotrader backtest --dataset=data/BINANCE_BTCUSDT_20240501_20240503_ohlcv_1min.csv --fast=9 --slow=21
//	cryptotrader inspect --dataset=data/BINANCE_BTCUSDT_20240501_20240503_ohlcv_1min.csv --rows=5
//	cryptotrader diag
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"cryptotrader/config"
)

var envFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cryptotrader",
		Short: "Streaming technical indicators for crypto candles",
		Long: `cryptotrader computes technical indicators over OHLCV candles, both in
batch through a cached calculator and incrementally on a live candle stream.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional KEY=VALUE file loaded before the environment is read")

	root.AddCommand(
		newServeCmd(),
		newComputeCmd(),
		newBacktestCmd(),
		newInspectCmd(),
		newDiagCmd(),
		newFeedCmd(),
	)
	return root
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
