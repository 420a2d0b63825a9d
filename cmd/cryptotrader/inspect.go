package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cryptotrader/internal/marketdata"
)

func newInspectCmd() *cobra.Command {
	var (
		ds   datasetFlags
		rows int
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show what a dataset file contains",
		RunE: func(cmd *cobra.Command, args []string) error {
			candles, err := ds.dataset().Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if info, err := marketdata.ParseFilename(ds.path); err == nil {
				fmt.Fprintf(out, "file:      %s (exchange=%s asset=%s tf=%s)\n", filepath.Base(ds.path), info.Exchange, info.Asset, info.Timeframe)
			} else {
				fmt.Fprintf(out, "file:      %s\n", filepath.Base(ds.path))
			}
			fmt.Fprintf(out, "candles:   %d\n", len(candles))
			if len(candles) == 0 {
				return nil
			}
			first, last := candles[0], candles[len(candles)-1]
			fmt.Fprintf(out, "symbol:    %s\n", first.Symbol)
			fmt.Fprintf(out, "range:     %s .. %s\n\n", first.TS.Format(time.RFC3339), last.TS.Format(time.RFC3339))

			if rows > len(candles) {
				rows = len(candles)
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "time\topen\thigh\tlow\tclose\tvolume\t")
			for _, c := range candles[:rows] {
				fmt.Fprintf(tw, "%s\t%g\t%g\t%g\t%g\t%g\t\n", c.TS.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
			}
			return tw.Flush()
		},
	}
	ds.register(cmd)
	cmd.Flags().IntVar(&rows, "rows", 5, "number of leading rows to print")
	return cmd
}
