package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose        bool
	lexiconOverlay string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "precedent",
	Short: "precedent - case-law retrieval for Indian legal fact scenarios",
	Long: `precedent answers natural-language fact scenarios with ranked Supreme Court
and High Court judgments.

A scenario is profiled into statutory hooks, compiled into a proposition
checklist, expanded into phased query variants, retrieved under a global
attempt budget, then verified and gated so that only judgments actually
evidencing the proposition reach the exact tiers. Every request returns
something: live results, a stale prior answer, or a clearly marked advisory.

Configuration is environment-driven; see the serve command for the HTTP
surface.`,
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
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&lexiconOverlay, "lexicon", "", "YAML lexicon overlay merged onto the built-in tables")

	// Serve flags
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides HTTP_ADDR)")

	// Search flags
	searchCmd.Flags().IntVar(&searchMaxResults, "max-results", 0, "Total result cap across tiers (0 uses the default)")
	searchCmd.Flags().BoolVar(&searchDebug, "debug", false, "Keep per-attempt records in the pipeline trace")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Print the full response as JSON")

	// Plan flags
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print the full plan as JSON")

	// Health flags
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", defaultHealthTimeout, "Probe timeout")

	// Add commands to root
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
