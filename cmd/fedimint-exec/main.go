// Command fedimint-exec is a small demonstration binary wiring a bbolt
// store, notifier, module registry, and executor together and driving
// sample pingpong/deposit operations end to end.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fedimint-exec",
	Short:   "Drive the persistent state-machine executor",
	Version: Version,
}

var (
	flagConfig      string
	flagDataDir     string
	flagLogLevel    string
	flagLogJSON     bool
	flagConcurrency int
	flagMetricsAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override the store's data directory")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "emit logs as JSON")
	rootCmd.PersistentFlags().IntVar(&flagConcurrency, "concurrency", 0, "global driver concurrency cap (0 = unbounded)")
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (empty = disabled)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(inspectOpCmd)
}
