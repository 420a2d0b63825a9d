package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"cryptotrader/internal/diagnostics"
	"cryptotrader/internal/flags"
)

func newDiagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diag",
		Short: "Print runtime diagnostics and feature flags as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			report := diagnostics.Collect().Map()
			report["flags"] = flags.FromEnv().All()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
