package main

import (
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "posdb",
	Short: "Offline position-count database for chess archives",
	Long: `posdb ingests PGN and BCGN game archives into a fixed-layout,
read-optimized database of chess positions and answers how many recorded
games reached a position, at what level and result, and what continuations
were played.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
}
