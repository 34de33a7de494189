package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Risk-gated trade admission service",
	Long: `Gatekeeper sits between trading strategies and the exchange and decides,
under concurrent load, which trade proposals may proceed.

It provides:
  - A risk ledger with reserve/commit/release accounting
  - An ordered validation rule engine (size, exposure, loss limits)
  - Exactly-once decisions per correlation id
  - Emergency stop, blocked symbols and daily loss circuit breakers
  - A durable SQLite journal of every decision and ledger mutation`,
}

var verbose bool

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cobra.OnInitialize(func() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	})
}
