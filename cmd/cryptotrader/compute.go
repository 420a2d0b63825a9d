package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cryptotrader/internal/indicator"
	"cryptotrader/internal/marketdata"
)

type datasetFlags struct {
	path     string
	symbol   string
	exchange string
	tf       int
}

func (d *datasetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.path, "dataset", "", "CSV or Parquet file of OHLCV rows")
	cmd.Flags().StringVar(&d.symbol, "symbol", "", "symbol override (default: from the file name)")
	cmd.Flags().StringVar(&d.exchange, "exchange", "", "exchange override (default: from the file name)")
	cmd.Flags().IntVar(&d.tf, "tf", 0, "timeframe in seconds (default: from the file name)")
	_ = cmd.MarkFlagRequired("dataset")
}

func (d *datasetFlags) dataset() marketdata.Dataset {
	return marketdata.Dataset{Path: d.path, Symbol: d.symbol, Exchange: d.exchange, TF: d.tf}
}

type computeOutput struct {
	Indicator string                      `json:"indicator"`
	Symbol    string                      `json:"symbol"`
	Candles   int                         `json:"candles"`
	Times     []time.Time                 `json:"times"`
	Series    map[string]indicator.Series `json:"series"`
}

func newComputeCmd() *cobra.Command {
	var (
		ds   datasetFlags
		spec string
		tail int
	)
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute one indicator over a dataset and print it as JSON",
		Example: `  cryptotrader compute --dataset=BINANCE_BTCUSDT_20240501_20240503_ohlcv_1min.csv --indicator=RSI:14
  cryptotrader compute --dataset=btc.csv --symbol=BTC/USDT --indicator=BB:20:2 --tail=10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := indicator.ParseSpec(spec)
			if err != nil {
				return fmt.Errorf("--indicator: %w", err)
			}
			candles, err := ds.dataset().Load()
			if err != nil {
				return err
			}
			calc, err := indicator.NewCalculator(1)
			if err != nil {
				return err
			}
			res, err := calc.Compute(cmd.Context(), indicator.Request{Config: cfg, Candles: candles})
			if err != nil {
				return err
			}

			out := computeOutput{Indicator: res.Name, Candles: len(candles), Series: res.Series}
			if len(candles) > 0 {
				out.Symbol = candles[0].Symbol
			}
			from := 0
			if tail > 0 && tail < len(candles) {
				from = len(candles) - tail
			}
			for _, c := range candles[from:] {
				out.Times = append(out.Times, c.TS)
			}
			if from > 0 {
				trimmed := make(map[string]indicator.Series, len(res.Series))
				for k, s := range res.Series {
					trimmed[k] = s[from:]
				}
				out.Series = trimmed
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	ds.register(cmd)
	cmd.Flags().StringVar(&spec, "indicator", "SMA:20", "indicator spec TYPE[:P1[:P2[:P3]]]")
	cmd.Flags().IntVar(&tail, "tail", 0, "print only the last N positions (0 = all)")
	return cmd
}
