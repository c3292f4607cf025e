package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "partshift",
	Short: "Partshift converts live tables to partitioned tables without downtime.",
	Long: `Partshift converts live tables to partitioned tables without downtime.

It plans the conversion, builds a partitioned replacement alongside the
original, keeps the two in sync, and swaps them with a compensated rename
protocol.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
