// Package main implements the ecosim CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ecosim/internal/logging"
)

var (
	// Global flags
	configPath string
	workspace  string
	verbose    bool

	// Process logger, distinct from the category file logs under the
	// workspace. Stdout noise stays here; diagnostics go to the files.
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ecosim",
	Short: "ecosim - bounded model governance for a turn-based ecosystem",
	Long: `ecosim runs the per-turn governance pass of an ecosystem simulation:
it scores entities, partitions them into review tiers, dispatches bounded
generation calls, validates every reply field against hard clamps, and
publishes the result as a modifier store the simulation reads from.

The model proposes; the pipeline disposes. A missing, late or malformed
reply degrades to neutral defaults and the simulation never stalls.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		return logging.Initialize(workspace, logging.Settings{DebugMode: verbose})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (defaults used when empty)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory for logs and data")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
